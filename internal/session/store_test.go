package session

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T, opts Options) (*Store, *clock) {
	t.Helper()
	if opts.Secret == "" {
		opts.Secret = testSecret
	}
	s := NewStore(opts)
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func TestCreateAndVerify(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	sess, cookie := s.Create("192.168.1.10")
	require.NotNil(t, sess)
	assert.Len(t, sess.ID, 32, "24 random bytes in unpadded base64url")
	assert.NotEmpty(t, sess.CSRFToken)
	assert.NotEqual(t, sess.ID, sess.CSRFToken)
	assert.True(t, strings.HasPrefix(cookie, sess.ID+"."))

	got := s.Verify(cookie, "192.168.1.10")
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, sess.CSRFToken, got.CSRFToken)
}

func TestVerifyRejectsEveryByteMutation(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	_, cookie := s.Create("127.0.0.1")

	for i := 0; i < len(cookie); i++ {
		mutated := []byte(cookie)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		assert.Nil(t, s.Verify(string(mutated), "127.0.0.1"), "mutation at byte %d verified", i)
	}

	assert.Nil(t, s.Verify("", "127.0.0.1"))
	assert.Nil(t, s.Verify("no-dot", "127.0.0.1"))
	assert.Nil(t, s.Verify(cookie+"x", "127.0.0.1"))
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	a, _ := newTestStore(t, Options{})
	b, _ := newTestStore(t, Options{Secret: "another-secret-of-sufficient-len"})
	sess, _ := a.Create("127.0.0.1")
	b.sessions[sess.ID] = sess

	assert.Nil(t, b.Verify(a.Cookie(sess.ID), "127.0.0.1"))
}

func TestVerifyBindsIP(t *testing.T) {
	bound, _ := newTestStore(t, Options{BindIP: true})
	_, cookie := bound.Create("10.0.0.2")
	assert.Nil(t, bound.Verify(cookie, "10.0.0.3"))
	assert.NotNil(t, bound.Verify(cookie, "10.0.0.2"))

	loose, _ := newTestStore(t, Options{BindIP: false})
	_, cookie = loose.Create("10.0.0.2")
	assert.NotNil(t, loose.Verify(cookie, "10.0.0.3"))
}

func TestVerifyExpiresAndTouches(t *testing.T) {
	s, c := newTestStore(t, Options{TTL: time.Hour})
	sess, cookie := s.Create("127.0.0.1")

	c.advance(50 * time.Minute)
	got := s.Verify(cookie, "127.0.0.1")
	require.NotNil(t, got)
	assert.Equal(t, c.t.Add(time.Hour), got.ExpiresAt)
	assert.True(t, got.ExpiresAt.After(sess.ExpiresAt))

	c.advance(61 * time.Minute)
	assert.Nil(t, s.Verify(cookie, "127.0.0.1"))
	assert.Equal(t, 0, s.Len(), "expired sessions are deleted on access")
}

func TestDeleteAndSweep(t *testing.T) {
	s, c := newTestStore(t, Options{TTL: time.Minute})
	a, cookieA := s.Create("127.0.0.1")
	s.Create("127.0.0.1")

	s.Delete(a.ID)
	assert.Nil(t, s.Verify(cookieA, "127.0.0.1"))
	assert.Equal(t, 1, s.Len())

	c.advance(2 * time.Minute)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 0, s.Len())
}

func TestPersistenceRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "remote", "panel-sessions.json")
	s, c := newTestStore(t, Options{File: file})
	sess, cookie := s.Create("192.168.1.20")

	data, err := os.ReadFile(file)
	require.NoError(t, err, "create flushes immediately")

	var doc persistedStore
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Sessions, 1)
	assert.Equal(t, sess.ID, doc.Sessions[0].ID)
	assert.Equal(t, sess.ExpiresAt.UnixMilli(), doc.Sessions[0].ExpiresAt)

	reloaded, _ := newTestStore(t, Options{File: file})
	reloaded.now = c.now
	n, err := reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotNil(t, reloaded.Verify(cookie, "192.168.1.20"))
}

func TestLoadDropsExpiredAndMalformed(t *testing.T) {
	file := filepath.Join(t.TempDir(), "panel-sessions.json")
	s, c := newTestStore(t, Options{File: file, PersistDelay: 10 * time.Millisecond})

	doc := persistedStore{Sessions: []persistedSession{
		{ID: "live", CSRFToken: "t1", CreatedAt: c.t.UnixMilli(), ExpiresAt: c.t.Add(time.Hour).UnixMilli()},
		{ID: "old", CSRFToken: "t2", CreatedAt: c.t.UnixMilli(), ExpiresAt: c.t.Add(-time.Hour).UnixMilli()},
		{ID: "", CSRFToken: "t3", ExpiresAt: c.t.Add(time.Hour).UnixMilli()},
	}}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, data, 0600))

	n, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The pruned table is written back after the debounce delay.
	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(file)
		if err != nil {
			return false
		}
		var got persistedStore
		return json.Unmarshal(raw, &got) == nil && len(got.Sessions) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLoadMissingFile(t *testing.T) {
	s, _ := newTestStore(t, Options{File: filepath.Join(t.TempDir(), "absent.json")})
	n, err := s.Load()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCookieHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	SetCookie(rec, "abc.def", 12*time.Hour, true)
	header := rec.Header().Get("Set-Cookie")
	assert.Contains(t, header, "rc_session=abc.def")
	assert.Contains(t, header, "Path=/")
	assert.Contains(t, header, "Max-Age=43200")
	assert.Contains(t, header, "HttpOnly")
	assert.Contains(t, header, "SameSite=Strict")
	assert.Contains(t, header, "Secure")

	rec = httptest.NewRecorder()
	ClearCookie(rec, false)
	header = rec.Header().Get("Set-Cookie")
	assert.Contains(t, header, "Max-Age=0")
	assert.NotContains(t, header, "Secure")

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Cookie", "rc_session=v1.sig")
	assert.Equal(t, "v1.sig", FromRequest(req))
}
