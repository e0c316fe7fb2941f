package manager

import "sync"

// registry maps each URL to its one non-terminal session. Admission is the
// single serialization point that enforces at-most-one-session-per-URL.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*Session)}
}

// admit inserts sess under its URL. The existence check and insertion are
// one atomic step; a second admit for the same URL fails until the first
// session is removed.
func (r *registry) admit(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sess.URL]; exists {
		return false
	}
	r.sessions[sess.URL] = sess
	return true
}

// remove drops the session for url. Idempotent: removing an absent URL is a
// no-op, which covers cleanup paths racing each other.
func (r *registry) remove(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, url)
}

// lookup returns the active session for url, if any.
func (r *registry) lookup(url string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[url]
	return sess, ok
}

// urls returns the URLs of all active sessions.
func (r *registry) urls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for url := range r.sessions {
		out = append(out, url)
	}
	return out
}

// all returns every active session.
func (r *registry) all() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}
