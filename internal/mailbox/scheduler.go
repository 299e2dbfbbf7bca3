// Package mailbox implements the exclusive mailbox-selection scheduler: at
// most one mailbox may be SELECTed/EXAMINEd against a connection at a
// time, and callers queue FIFO for the next turn (§3 Mailbox/Lock ticket,
// §4.10).
//
// The teacher's proxy session never needed this — a session it manages has
// exactly one client and one upstream mailbox slot at a time — but the
// same "one owner, others wait" shape recurs here as the engine-side
// concurrency primitive, built on golang.org/x/sync/semaphore the way
// Acquire/Release pairs everywhere else in that ecosystem are built.
package mailbox

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LockTicket represents exclusive ownership of the connection's mailbox
// slot. Release is idempotent: only the first call frees the slot; any
// later call is a no-op (§8 "close idempotence").
type LockTicket struct {
	mailbox string
	once    sync.Once
	release func()
}

// Mailbox returns the name this ticket was acquired for.
func (t *LockTicket) Mailbox() string { return t.mailbox }

// Release returns the slot to the scheduler, waking the next FIFO waiter.
func (t *LockTicket) Release() {
	t.once.Do(t.release)
}

// Scheduler grants exclusive, FIFO-ordered access to a connection's single
// mailbox slot (§4.10 step "select/examine brings a new mailbox into
// Selected state, closing any previously open one").
type Scheduler struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	current string

	selectedMu       sync.Mutex
	selectedPath     string
	selectedReadOnly bool
	hasSelection     bool
}

// NewScheduler returns a Scheduler with no mailbox currently held.
func NewScheduler() *Scheduler {
	return &Scheduler{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the slot is free — granting it to waiters in the
// order they called Acquire — or ctx is done. On success it returns a
// LockTicket for mailboxName; the caller must Release it before any other
// goroutine can acquire the next one.
func (s *Scheduler) Acquire(ctx context.Context, mailboxName string) (*LockTicket, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = mailboxName
	s.mu.Unlock()

	t := &LockTicket{mailbox: mailboxName}
	t.release = func() {
		s.mu.Lock()
		if s.current == mailboxName {
			s.current = ""
		}
		s.mu.Unlock()
		s.sem.Release(1)
	}
	return t, nil
}

// TryAcquire attempts to grab the slot without blocking, for callers that
// want to fail fast (e.g. a client option that refuses to queue) rather
// than wait their FIFO turn.
func (s *Scheduler) TryAcquire(mailboxName string) (*LockTicket, bool) {
	if !s.sem.TryAcquire(1) {
		return nil, false
	}
	s.mu.Lock()
	s.current = mailboxName
	s.mu.Unlock()

	t := &LockTicket{mailbox: mailboxName}
	t.release = func() {
		s.mu.Lock()
		if s.current == mailboxName {
			s.current = ""
		}
		s.mu.Unlock()
		s.sem.Release(1)
	}
	return t, true
}

// Current returns the name of the mailbox currently holding the slot, or
// "" if none does.
func (s *Scheduler) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// WasSelected reports whether path is already SELECTed/EXAMINEd on the
// connection with the same readOnly mode, letting a caller skip a
// redundant re-SELECT (§4.8 "already selected on path with same readOnly
// resolves without re-issuing the command"). Tracked independently of
// Acquire/Release, since server-side selection survives a ticket release
// until the next SELECT/EXAMINE/CLOSE/LOGOUT actually changes it.
func (s *Scheduler) WasSelected(path string, readOnly bool) bool {
	s.selectedMu.Lock()
	defer s.selectedMu.Unlock()
	return s.hasSelection && s.selectedPath == path && s.selectedReadOnly == readOnly
}

// MarkSelected records that path is now the server-side selected mailbox.
func (s *Scheduler) MarkSelected(path string, readOnly bool) {
	s.selectedMu.Lock()
	s.selectedPath = path
	s.selectedReadOnly = readOnly
	s.hasSelection = true
	s.selectedMu.Unlock()
}

// ClearSelected forgets the server-side selection, e.g. after CLOSE or
// LOGOUT invalidates it.
func (s *Scheduler) ClearSelected() {
	s.selectedMu.Lock()
	s.hasSelection = false
	s.selectedPath = ""
	s.selectedMu.Unlock()
}
