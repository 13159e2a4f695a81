package activity

import (
	"context"
	"io"
	stdlog "log"

	"github.com/hpcloud/tail"
)

// Follow tails the log file from its current end and calls fn for every
// event appended afterwards, including lines written by other processes.
// It returns when ctx is done.
func (l *Log) Follow(ctx context.Context, fn func(Event)) error {
	t, err := tail.TailFile(l.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return err
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				l.logger.WithError(line.Err).Debug("Activity tail error")
				continue
			}
			if e, ok := ParseLine([]byte(line.Text)); ok {
				fn(e)
			}
		}
	}
}
