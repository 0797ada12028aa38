package collector

import (
	"errors"
	"regexp"
	"strconv"
	"sync"
	"time"

	"relaybot/internal/schedule"
)

var (
	// ErrBadTime reports a malformed or out-of-range H:MM / HH:MM token.
	ErrBadTime = errors.New("invalid time, expected HH:MM")
	// ErrNotCollecting reports an end command with no open collection window.
	ErrNotCollecting = errors.New("no collection in progress")
)

var clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ResolveClock parses an H:MM / HH:MM token and anchors it relative to now:
// a time still ahead today resolves to today, a time at or before now rolls
// forward to the same time tomorrow (exactly one day, never more).
func ResolveClock(raw string, now time.Time) (time.Time, error) {
	m := clockRe.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, ErrBadTime
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if hh > 23 || mm > 59 {
		return time.Time{}, ErrBadTime
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}

// Session is the single in-memory collection window.
//
// Exactly one session exists per process. It is deliberately not persisted:
// a restart while collecting discards the buffer.
type Session struct {
	mu        sync.Mutex
	active    bool
	deliverAt time.Time
	buffer    []schedule.ContentItem
}

func NewSession() *Session { return &Session{} }

// Begin opens a collection window targeting the resolved delivery time.
// Beginning while already collecting restarts the window and discards any
// previously buffered content (preserved legacy behavior).
func (s *Session) Begin(raw string, now time.Time) (time.Time, error) {
	at, err := ResolveClock(raw, now)
	if err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	s.active = true
	s.deliverAt = at
	s.buffer = nil
	s.mu.Unlock()
	return at, nil
}

// Capture appends item to the buffer. Returns false (and drops the item)
// when no window is open.
func (s *Session) Capture(item schedule.ContentItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.buffer = append(s.buffer, item)
	return true
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// End produces the schedule entry for the open window without closing it;
// the caller closes with Commit once the entry is durably stored. Keeping
// the window open until then means a failed store write can be retried with
// another /end instead of losing the batch.
//
// The end token is validated with the same rules as Begin, but the entry's
// delivery key always derives from the Begin time: that is what the operator
// was told on /send, and the original behavior schedules on it too.
func (s *Session) End(raw string, now time.Time) (schedule.Entry, error) {
	if _, err := ResolveClock(raw, now); err != nil {
		return schedule.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return schedule.Entry{}, ErrNotCollecting
	}
	return schedule.Entry{
		Key:      schedule.FormatKey(s.deliverAt),
		Contents: append([]schedule.ContentItem(nil), s.buffer...),
	}, nil
}

// Commit closes the window and discards the buffer.
func (s *Session) Commit() {
	s.mu.Lock()
	s.active = false
	s.deliverAt = time.Time{}
	s.buffer = nil
	s.mu.Unlock()
}
