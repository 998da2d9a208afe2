// Package session tracks search sessions: their state machine, progress
// counters, cards and log, plus the registries that hold them.
package session

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/platter/internal/model"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

var (
	// ErrInvalidTransition is returned for a status change the state
	// machine does not allow.
	ErrInvalidTransition = eris.New("session: invalid status transition")
	// ErrNotFound is returned when a registry has no session with the id.
	ErrNotFound = eris.New("session: not found")
)

// logResolution is the precision of log timestamps. Clients page logs with
// millisecond cursors, so every entry gets a distinct millisecond.
const logResolution = time.Millisecond

// LogEntry is one progress line.
type LogEntry struct {
	Time    time.Time `json:"timestamp"`
	Message string    `json:"message"`
}

// Session is one discovery run. It is not safe for concurrent use; the
// pipeline run that owns it serializes access.
type Session struct {
	ID         string       `json:"id"`
	Status     Status       `json:"status"`
	Query      string       `json:"query"`
	Completed  int          `json:"completed"`
	Total      int          `json:"total"`
	Businesses []model.Card `json:"businesses"`
	Logs       []LogEntry   `json:"logs"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// New returns a pending session.
func New(id, query string, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		ID:         id,
		Status:     StatusPending,
		Query:      query,
		Businesses: []model.Card{},
		Logs:       []LogEntry{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Transition moves the session to status to.
func (s *Session) Transition(to Status, now time.Time) error {
	for _, allowed := range transitions[s.Status] {
		if allowed == to {
			s.Status = to
			s.touch(now)
			return nil
		}
	}
	return eris.Wrapf(ErrInvalidTransition, "%s -> %s", s.Status, to)
}

// Log appends a message. Timestamps strictly increase even when the clock
// does not.
func (s *Session) Log(now time.Time, msg string) LogEntry {
	ts := now.UTC().Truncate(logResolution)
	if n := len(s.Logs); n > 0 {
		if last := s.Logs[n-1].Time; !ts.After(last) {
			ts = last.Add(logResolution)
		}
	}
	e := LogEntry{Time: ts, Message: msg}
	s.Logs = append(s.Logs, e)
	s.touch(now)
	return e
}

// LogsSince returns the entries strictly after since. A zero since returns
// every entry.
func (s *Session) LogsSince(since time.Time) []LogEntry {
	out := []LogEntry{}
	for _, e := range s.Logs {
		if since.IsZero() || e.Time.After(since) {
			out = append(out, e)
		}
	}
	return out
}

// SetTotal records the candidate count once discovery is done.
func (s *Session) SetTotal(n int, now time.Time) {
	s.Total = n
	s.touch(now)
}

// Finish appends an optional card and counts one more candidate as done.
// It reports whether every candidate is now accounted for.
func (s *Session) Finish(card *model.Card, now time.Time) bool {
	if card != nil {
		s.Businesses = append(s.Businesses, *card)
	}
	s.Completed++
	s.touch(now)
	return s.Completed >= s.Total
}

func (s *Session) touch(now time.Time) {
	if now = now.UTC(); now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	c := *s
	c.Businesses = make([]model.Card, len(s.Businesses))
	copy(c.Businesses, s.Businesses)
	c.Logs = make([]LogEntry, len(s.Logs))
	copy(c.Logs, s.Logs)
	return &c
}

// Registry stores session snapshots by id. Knowing the id is the only
// access check.
type Registry interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Close() error
}
