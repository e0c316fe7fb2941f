package manager

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is a download session's lifecycle position.
type State int32

const (
	StatePending State = iota
	StateActive
	StateCancelling
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateActive:
		return "Active"
	case StateCancelling:
		return "Cancelling"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// Terminal reports whether s permits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Session is the live state of one in-progress download, keyed by URL.
// Paths are resolved at creation and immutable after. Byte counters are
// written only by the session's own worker; state and cancelRequested are
// the only fields touched from other goroutines.
type Session struct {
	ID        string
	URL       string
	Filename  string
	TempPath  string
	FinalPath string
	StartedAt time.Time

	bytesReceived atomic.Int64
	totalBytes    atomic.Int64

	state           atomic.Int32
	cancelRequested atomic.Bool

	// tempFile is the open handle for TempPath. Owned by the worker from
	// spawn until the terminal transition hands it to cleanup.
	tempFile *os.File

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(url, filename, finalPath string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        uuid.New().String(),
		URL:       url,
		Filename:  filename,
		TempPath:  finalPath + tempSuffix,
		FinalPath: finalPath,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.state.Store(int32(StatePending))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// BytesReceived returns the byte count streamed to disk so far.
func (s *Session) BytesReceived() int64 {
	return s.bytesReceived.Load()
}

// TotalBytes returns the expected body length, 0 if unknown.
func (s *Session) TotalBytes() int64 {
	return s.totalBytes.Load()
}

// CancelRequested reports whether a cancellation was ever requested. The
// flag is sticky; once set the session can only resolve to Cancelled.
func (s *Session) CancelRequested() bool {
	return s.cancelRequested.Load()
}

// requestCancel flips the sticky flag, moves a non-terminal session to
// Cancelling, and aborts the transfer context. Safe to call concurrently
// with the worker's completion path.
func (s *Session) requestCancel() {
	s.cancelRequested.Store(true)
	for {
		cur := State(s.state.Load())
		if cur.Terminal() || cur == StateCancelling {
			break
		}
		if s.state.CompareAndSwap(int32(cur), int32(StateCancelling)) {
			break
		}
	}
	s.cancel()
}

// activate moves Pending to Active. Returns false if the session was
// already cancelled or otherwise moved on.
func (s *Session) activate() bool {
	return s.state.CompareAndSwap(int32(StatePending), int32(StateActive))
}

// resolveTerminal commits the session's terminal state and returns it. The
// CAS loop makes the commit a single-winner operation no matter how many
// paths race to resolve the session, and it re-reads the sticky cancel flag
// on every attempt: a cancellation requested at any point before the commit
// overrides natural, so a late-arriving success or failure resolves to
// Cancelled. Returns false when another path already committed.
func (s *Session) resolveTerminal(natural State) (State, bool) {
	for {
		cur := State(s.state.Load())
		if cur.Terminal() {
			return cur, false
		}
		to := natural
		if s.cancelRequested.Load() {
			to = StateCancelled
		}
		if s.state.CompareAndSwap(int32(cur), int32(to)) {
			return to, true
		}
	}
}
