// Package session models the authentication state the replica engines
// consume: who is signed in and which pairing they belong to. Managing that
// state is someone else's job; this package only carries it.
package session

import (
	"context"
	"sync"
)

// Pairing statuses.
const (
	StatusPending = "pending"
	StatusActive  = "active"
)

// Pairing is the shared space two partners synchronize in. Its ID is the
// scope of every replicated record.
type Pairing struct {
	ID         string `json:"id" yaml:"id"`
	PartnerA   string `json:"partner_a_id" yaml:"partner_a_id"`
	PartnerB   string `json:"partner_b_id,omitempty" yaml:"partner_b_id,omitempty"`
	Status     string `json:"status" yaml:"status"`
	InviteCode string `json:"invite_code,omitempty" yaml:"invite_code,omitempty"`
}

// Session is the signed-in user and their pairing, if any.
type Session struct {
	UserID  string   `json:"user_id" yaml:"user_id"`
	Pairing *Pairing `json:"pairing,omitempty" yaml:"pairing,omitempty"`
}

// Scope returns the pairing ID when a user is signed in and paired (pending
// or active). ok is false otherwise.
func (s Session) Scope() (scope string, ok bool) {
	if s.UserID == "" || s.Pairing == nil || s.Pairing.ID == "" {
		return "", false
	}
	return s.Pairing.ID, true
}

// PartnerID returns the other member of the pairing, or "" before the
// invite is accepted.
func (s Session) PartnerID() string {
	if s.Pairing == nil {
		return ""
	}
	switch s.UserID {
	case s.Pairing.PartnerA:
		return s.Pairing.PartnerB
	case s.Pairing.PartnerB:
		return s.Pairing.PartnerA
	}
	return ""
}

// Source holds the current session and broadcasts every change.
//
// Subscribers see the latest value: a slow subscriber skips intermediate
// sessions rather than blocking Set.
type Source struct {
	mu   sync.Mutex
	cur  Session
	subs map[chan Session]struct{}
}

// NewSource creates a source holding initial.
func NewSource(initial Session) *Source {
	return &Source{cur: initial, subs: make(map[chan Session]struct{})}
}

// Current returns the current session.
func (s *Source) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Set replaces the session and notifies subscribers.
func (s *Source) Set(next Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = next
	for ch := range s.subs {
		offerLatest(ch, next)
	}
}

// Subscribe returns a channel that first yields the current session and then
// every update, until ctx is done.
func (s *Source) Subscribe(ctx context.Context) <-chan Session {
	ch := make(chan Session, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.cur
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// offerLatest replaces any unread value in ch with v. Caller holds s.mu.
func offerLatest(ch chan Session, v Session) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
