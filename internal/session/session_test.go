package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Scope(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		scope   string
		ok      bool
	}{
		{"signed out", Session{}, "", false},
		{"no pairing", Session{UserID: "u1"}, "", false},
		{"pending pairing", Session{UserID: "u1", Pairing: &Pairing{ID: "P1", PartnerA: "u1", Status: StatusPending}}, "P1", true},
		{"active pairing", Session{UserID: "u2", Pairing: &Pairing{ID: "P2", PartnerA: "u1", PartnerB: "u2", Status: StatusActive}}, "P2", true},
		{"pairing without id", Session{UserID: "u1", Pairing: &Pairing{}}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, ok := tt.session.Scope()
			assert.Equal(t, tt.scope, scope)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSession_PartnerID(t *testing.T) {
	p := &Pairing{ID: "P1", PartnerA: "alice", PartnerB: "bob"}

	assert.Equal(t, "bob", Session{UserID: "alice", Pairing: p}.PartnerID())
	assert.Equal(t, "alice", Session{UserID: "bob", Pairing: p}.PartnerID())
	assert.Equal(t, "", Session{UserID: "carol", Pairing: p}.PartnerID())
	assert.Equal(t, "", Session{UserID: "alice"}.PartnerID())
}

func TestSource_SubscribeYieldsCurrentThenUpdates(t *testing.T) {
	src := NewSource(Session{UserID: "u1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := src.Subscribe(ctx)
	first := <-updates
	assert.Equal(t, "u1", first.UserID)

	src.Set(Session{UserID: "u2"})
	select {
	case next := <-updates:
		assert.Equal(t, "u2", next.UserID)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestSource_SlowSubscriberSeesLatest(t *testing.T) {
	src := NewSource(Session{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := src.Subscribe(ctx)
	src.Set(Session{UserID: "a"})
	src.Set(Session{UserID: "b"})
	src.Set(Session{UserID: "c"})

	got := <-updates
	assert.Equal(t, "c", got.UserID)
	assert.Equal(t, "c", src.Current().UserID)
}

func TestSource_CancelClosesChannel(t *testing.T) {
	src := NewSource(Session{})
	ctx, cancel := context.WithCancel(context.Background())

	updates := src.Subscribe(ctx)
	<-updates
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}
