// Package guard enforces at most one active screening run per subject.
// A new run for a subject already being screened supersedes the old one:
// the old run's context is cancelled and the slot is handed over.
package guard

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"horse.fit/amscreen/internal/session"
)

type activeRun struct {
	leaseID   string
	sessionID string
	cancel    context.CancelFunc
}

// Lease identifies one run's claim on a subject slot. Release with the
// lease so a superseded run cannot evict its successor.
type Lease struct {
	Subject   string
	LeaseID   string
	SessionID string
}

// Registry tracks active runs keyed by normalized subject name.
type Registry struct {
	mu     sync.Mutex
	active map[string]*activeRun
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*activeRun)}
}

// Acquire claims the slot for subject, cancelling any run that holds it.
// The returned context is derived from ctx and is the one the new run must
// use; it is cancelled when the run is itself superseded.
func (r *Registry) Acquire(ctx context.Context, subject, sessionID string) (context.Context, Lease) {
	key := session.NormalizeSubject(subject)
	runCtx, cancel := context.WithCancel(ctx)
	lease := Lease{
		Subject:   key,
		LeaseID:   uuid.NewString(),
		SessionID: sessionID,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.active[key]; ok {
		prev.cancel()
	}
	r.active[key] = &activeRun{
		leaseID:   lease.LeaseID,
		sessionID: sessionID,
		cancel:    cancel,
	}
	return runCtx, lease
}

// Release frees the slot if it is still held by this lease. A release from
// a superseded run is a no-op.
func (r *Registry) Release(lease Lease) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.active[lease.Subject]
	if !ok || cur.leaseID != lease.LeaseID {
		return
	}
	cur.cancel()
	delete(r.active, lease.Subject)
}

// ActiveSession returns the session ID currently holding the subject slot.
func (r *Registry) ActiveSession(subject string) (string, bool) {
	key := session.NormalizeSubject(subject)
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.active[key]
	if !ok {
		return "", false
	}
	return cur.sessionID, true
}
