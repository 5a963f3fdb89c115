// Package lifecycle provides explicit ownership of cancellable resources.
// Reconnect timers, polling loops, and transport clients all hand out a
// Subscription; a Scope closes every child exactly once on teardown, in
// reverse registration order.
package lifecycle

import "sync"

// Subscription is a handle to one owned resource. Close must be idempotent.
type Subscription interface {
	Close() error
}

// SubscriptionFunc adapts a plain function to the Subscription interface.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Close() error { return f() }

// Scope owns a set of Subscriptions and closes them all on teardown. It is
// safe for concurrent use and safe to close multiple times.
type Scope struct {
	mu     sync.Mutex
	subs   []Subscription
	closed bool
}

// NewScope returns an empty Scope.
func NewScope() *Scope {
	return &Scope{}
}

// Add registers a child resource. If the scope is already closed the child
// is closed immediately so late registrations cannot leak.
func (s *Scope) Add(sub Subscription) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Close()
		return
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// AddFunc registers a cleanup function as a child resource.
func (s *Scope) AddFunc(fn func() error) {
	s.Add(SubscriptionFunc(fn))
}

// Close tears down all children in reverse registration order. Subsequent
// calls are no-ops.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var first error
	for i := len(subs) - 1; i >= 0; i-- {
		if err := subs[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
