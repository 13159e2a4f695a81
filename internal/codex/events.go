package codex

import (
	"encoding/json"
	"strings"

	"github.com/grovetools/remote-panel/internal/activity"
)

// Event is one line of the agent CLI's --json output.
type Event struct {
	Type     string     `json:"type"`
	ThreadID string     `json:"thread_id"`
	Item     *EventItem `json:"item,omitempty"`
}

// EventItem is the payload of an item.* event.
type EventItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseEvent decodes a JSON event line. Blank and non-JSON lines report
// false.
func ParseEvent(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return Event{}, false
	}
	var e Event
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return Event{}, false
	}
	return e, true
}

// ExtractThreadID returns the thread id from the first thread.started
// event in lines.
func ExtractThreadID(lines []string) string {
	for _, line := range lines {
		e, ok := ParseEvent(line)
		if ok && e.Type == "thread.started" && e.ThreadID != "" {
			return e.ThreadID
		}
	}
	return ""
}

// Translator turns agent CLI events into activity events. Reasoning is
// reported once per translator.
type Translator struct {
	reasoningSeen bool
	messages      []string
}

// Translate maps e to an activity event, or false when e is not surfaced.
func (t *Translator) Translate(e Event) (activity.Event, bool) {
	switch e.Type {
	case "turn.started":
		return activity.Event{Type: "thinking", State: activity.StateThinking, Message: "Codex is thinking."}, true
	case "turn.completed":
		return activity.Event{Type: "turn_complete", State: activity.StateWorking, Message: "Codex completed a turn."}, true
	case "item.completed":
		if e.Item == nil {
			return activity.Event{}, false
		}
		switch e.Item.Type {
		case "reasoning":
			if t.reasoningSeen {
				return activity.Event{}, false
			}
			t.reasoningSeen = true
			return activity.Event{Type: "thinking", State: activity.StateThinking, Message: "Codex is reasoning through the request."}, true
		case "agent_message":
			if text := strings.TrimSpace(e.Item.Text); text != "" {
				t.messages = append(t.messages, text)
			}
			return activity.Event{Type: "assistant_message", State: activity.StateWorking, Message: "Codex produced a response draft."}, true
		}
	}
	return activity.Event{}, false
}

// Messages returns the agent message texts seen so far.
func (t *Translator) Messages() []string {
	return append([]string(nil), t.messages...)
}
