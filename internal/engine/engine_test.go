package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/gateway/memory"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/testutil"
)

func TestNew_RejectsInvalidKind(t *testing.T) {
	_, err := New(ir.Kind[msg]{Name: "broken"}, memory.New(msgs))
	require.Error(t, err)

	_, err = New[msg](msgs, nil)
	require.Error(t, err)
}

func TestEngine_BindLoadsScopeInOrder(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(
		msg{ID: "b", Pairing: "P1", Body: "second", At: at(2)},
		msg{ID: "a", Pairing: "P1", Body: "first", At: at(1)},
		msg{ID: "x", Pairing: "P2", Body: "other", At: at(0)},
	)

	f.bind("P1")

	assert.Equal(t, []string{"a", "b"}, f.eng.Keys())
	st := f.eng.Status()
	assert.Equal(t, "P1", st.Scope)
	assert.True(t, st.Bound)
	assert.False(t, st.Loading)
	assert.Equal(t, 1, f.remote.Subscribers("P1"))
}

func TestEngine_BindSameScopeIsNoop(t *testing.T) {
	f := newFixture(t)
	f.bind("P1")
	f.bind("P1")

	assert.Equal(t, 1, f.remote.Subscribers("P1"))
}

func TestEngine_UnbindEmptiesStoreAndCancelsSubscription(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "a", Pairing: "P1", At: at(1)})
	f.bind("P1")

	require.NoError(t, f.eng.Unbind(f.ctx))

	assert.Equal(t, 0, f.eng.Len())
	assert.Equal(t, 0, f.remote.Subscribers("P1"))
	assert.False(t, f.eng.Status().Bound)
}

func TestEngine_RebindDiscardsPreviousScope(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(
		msg{ID: "a", Pairing: "P1", At: at(1)},
		msg{ID: "b", Pairing: "P2", At: at(2)},
	)
	f.bind("P1")
	f.bind("P2")

	assert.Equal(t, []string{"b"}, f.eng.Keys())
	assert.Equal(t, 0, f.remote.Subscribers("P1"))
	assert.Equal(t, 1, f.remote.Subscribers("P2"))

	// A change committed in the old scope never reaches the replica.
	_, err := f.remote.Apply(ir.OpInsert, msg{ID: "late", Pairing: "P1", At: at(3)})
	require.NoError(t, err)
	f.flush()
	assert.Equal(t, []string{"b"}, f.eng.Keys())
}

func TestEngine_CreateSupersededByEarlyPush(t *testing.T) {
	f := newFixture(t)
	f.bind("P1")
	release := f.remote.HoldMutations()

	created := make(chan error, 1)
	go func() {
		_, err := f.eng.Create(f.ctx, msg{Body: "C"})
		created <- err
	}()
	f.waitParked(1)
	assert.Equal(t, []string{"tmp-1"}, f.eng.Keys())
	assert.Equal(t, 1, f.eng.Status().Pending)

	// The authoritative insert arrives before the remote call returns.
	f.remote.Emit(ir.ChangeEvent[msg]{
		Op:     ir.OpInsert,
		Scope:  "P1",
		Record: msg{ID: "srv-1", Pairing: "P1", Body: "C", At: at(5000)},
	})
	f.flush()
	assert.Equal(t, []string{"srv-1"}, f.eng.Keys())

	release()
	require.NoError(t, <-created)
	f.flush()

	assert.Equal(t, []string{"srv-1"}, f.eng.Keys())
	assert.Equal(t, 0, f.eng.Status().Pending)
}

func TestEngine_CreateResolvedByOwnPush(t *testing.T) {
	f := newFixture(t)
	f.bind("P1")

	temp, err := f.eng.Create(f.ctx, msg{Body: "hello"})
	require.NoError(t, err)
	f.flush()

	assert.Equal(t, "tmp-1", temp.ID)
	assert.Equal(t, "P1", temp.Pairing)
	assert.Equal(t, []string{"srv-1"}, f.eng.Keys())
	assert.Equal(t, "hello", f.body("srv-1"))
	assert.Equal(t, 0, f.eng.Status().Pending)
}

func TestEngine_CreateMatchedByAcknowledgedKey(t *testing.T) {
	clock := testutil.NewStepClock(at(1000), time.Second)
	remote := memory.New(msgs, memory.WithClock(clock.Now))
	f := newFixtureOver(t, remote, ackOnly{Backend: remote, key: "srv-9"}, clock)
	f.bind("P1")

	_, err := f.eng.Create(f.ctx, msg{Body: "draft"})
	require.NoError(t, err)
	f.flush()
	assert.Equal(t, []string{"tmp-1"}, f.eng.Keys())

	// The server normalized the content, so only the acknowledged key links
	// the push event to the pending create.
	remote.Emit(ir.ChangeEvent[msg]{
		Op:     ir.OpInsert,
		Scope:  "P1",
		Record: msg{ID: "srv-9", Pairing: "P1", Body: "Draft.", At: at(2000)},
	})
	f.flush()

	assert.Equal(t, []string{"srv-9"}, f.eng.Keys())
	assert.Equal(t, 0, f.eng.Status().Pending)
}

func TestEngine_CreateFailureRemovesTemporaryRecord(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "a", Pairing: "P1", At: at(1)})
	f.bind("P1")
	f.remote.FailNext(ir.OpInsert, errors.New("insert rejected"))

	_, err := f.eng.Create(f.ctx, msg{Body: "doomed"})

	require.Error(t, err)
	assert.True(t, IsMutateError(err))
	assert.Equal(t, []string{"a"}, f.eng.Keys())
	assert.Equal(t, 0, f.eng.Status().Pending)
	require.Len(t, f.errs.all(), 1)
	assert.True(t, IsMutateError(f.errs.all()[0]))
}

func TestEngine_CreateWhileUnbound(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.Create(f.ctx, msg{Body: "nowhere"})

	assert.Equal(t, ErrCodeUnbound, CodeOf(err))
	assert.Equal(t, 0, f.remote.Mutations())
}

func TestEngine_FailedUpdateRevertsExactly(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(
		msg{ID: "a", Pairing: "P1", Body: "first", At: at(1)},
		msg{ID: "m", Pairing: "P1", Body: "old", At: at(2)},
	)
	f.bind("P1")
	before := f.eng.List()
	f.remote.FailNext(ir.OpUpdate, errors.New("update rejected"))

	_, err := f.eng.Update(f.ctx, "m", setBody("new"))

	require.Error(t, err)
	assert.True(t, IsMutateError(err))
	assert.Equal(t, before, f.eng.List())
}

func TestEngine_UpdateKeepsOptimisticValue(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "m", Pairing: "P1", Body: "old", At: at(1)})
	f.bind("P1")

	got, err := f.eng.Update(f.ctx, "m", setBody("new"))
	require.NoError(t, err)
	f.flush()

	assert.Equal(t, "new", got.Body)
	assert.Equal(t, "new", f.body("m"))
	assert.Equal(t, "new", f.remote.Records("P1")[0].Body)
}

func TestEngine_RollbackKeepsInterleavedWrites(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "m", Pairing: "P1", Body: "old", At: at(1)})
	f.bind("P1")
	f.remote.FailNext(ir.OpUpdate, errors.New("update rejected"))
	release := f.remote.HoldMutations()

	done := make(chan error, 1)
	go func() {
		_, err := f.eng.Update(f.ctx, "m", setBody("mine"))
		done <- err
	}()
	f.waitParked(1)

	_, err := f.remote.Apply(ir.OpInsert, msg{ID: "p", Pairing: "P1", Body: "partner", At: at(2)})
	require.NoError(t, err)
	f.flush()

	release()
	require.Error(t, <-done)
	f.flush()

	assert.Equal(t, []string{"m", "p"}, f.eng.Keys())
	assert.Equal(t, "old", f.body("m"))
}

func TestEngine_RollbackYieldsToNewerAuthoritativeWrite(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "m", Pairing: "P1", Body: "old", At: at(1)})
	f.bind("P1")
	f.remote.FailNext(ir.OpUpdate, errors.New("update rejected"))
	release := f.remote.HoldMutations()

	done := make(chan error, 1)
	go func() {
		_, err := f.eng.Update(f.ctx, "m", setBody("mine"))
		done <- err
	}()
	f.waitParked(1)

	_, err := f.remote.Apply(ir.OpUpdate, msg{ID: "m", Pairing: "P1", Body: "partner", At: at(1)})
	require.NoError(t, err)
	f.flush()

	release()
	require.Error(t, <-done)
	f.flush()

	assert.Equal(t, "partner", f.body("m"))
}

func TestEngine_UnacknowledgedCreateRejectsMutations(t *testing.T) {
	f := newFixture(t)
	f.bind("P1")
	release := f.remote.HoldMutations()

	created := make(chan error, 1)
	go func() {
		_, err := f.eng.Create(f.ctx, msg{Body: "parked"})
		created <- err
	}()
	f.waitParked(1)

	_, err := f.eng.Update(f.ctx, "tmp-1", setBody("x"))
	assert.Equal(t, ErrCodePendingKey, CodeOf(err))
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "P1", se.Scope)

	err = f.eng.Delete(f.ctx, "tmp-1")
	assert.Equal(t, ErrCodePendingKey, CodeOf(err))

	release()
	require.NoError(t, <-created)
	f.flush()
	assert.Equal(t, []string{"srv-1"}, f.eng.Keys())
	assert.Equal(t, "parked", f.body("srv-1"))
}

func TestEngine_UnknownTemporaryKey(t *testing.T) {
	f := newFixture(t)
	f.bind("P1")

	_, err := f.eng.Update(f.ctx, "tmp-7", setBody("x"))
	assert.Equal(t, ErrCodeNotFound, CodeOf(err))

	err = f.eng.Delete(f.ctx, "tmp-7")
	assert.Equal(t, ErrCodeNotFound, CodeOf(err))
	assert.Equal(t, 0, f.remote.Mutations())
}

func TestEngine_DeleteOfAcknowledgedCreate(t *testing.T) {
	clock := testutil.NewStepClock(at(1000), time.Second)
	remote := memory.New(msgs, memory.WithClock(clock.Now))
	f := newFixtureOver(t, remote, ackOnly{Backend: remote, key: "srv-9"}, clock)
	f.bind("P1")

	_, err := f.eng.Create(f.ctx, msg{Body: "draft"})
	require.NoError(t, err)
	f.flush()
	require.Equal(t, []string{"tmp-1"}, f.eng.Keys())

	require.NoError(t, f.eng.Delete(f.ctx, "tmp-1"))

	assert.Empty(t, f.eng.Keys())
	assert.Equal(t, 0, f.eng.Status().Pending)

	// A late delete event for the key is a no-op.
	remote.Emit(ir.ChangeEvent[msg]{Op: ir.OpDelete, Scope: "P1", Record: msg{ID: "srv-9", Pairing: "P1", Body: "draft"}})
	f.flush()
	assert.Empty(t, f.eng.Keys())
}

func TestEngine_UpdateOfAcknowledgedCreate(t *testing.T) {
	clock := testutil.NewStepClock(at(1000), time.Second)
	remote := memory.New(msgs, memory.WithClock(clock.Now))
	f := newFixtureOver(t, remote, ackOnly{Backend: remote, key: "srv-9"}, clock)
	f.bind("P1")

	_, err := f.eng.Create(f.ctx, msg{Body: "draft"})
	require.NoError(t, err)
	f.flush()

	got, err := f.eng.Update(f.ctx, "tmp-1", setBody("edited"))
	require.NoError(t, err)

	assert.Equal(t, "srv-9", got.ID)
	assert.Equal(t, []string{"srv-9"}, f.eng.Keys())
	assert.Equal(t, "edited", f.body("srv-9"))
	assert.Equal(t, 0, f.eng.Status().Pending)

	// The authoritative insert replaces the promoted copy once; a repeat
	// delivery is ignored.
	insert := ir.ChangeEvent[msg]{
		Op:     ir.OpInsert,
		Scope:  "P1",
		Record: msg{ID: "srv-9", Pairing: "P1", Body: "Draft.", At: at(2000)},
	}
	remote.Emit(insert)
	f.flush()
	assert.Equal(t, "Draft.", f.body("srv-9"))

	_, err = f.eng.Update(f.ctx, "srv-9", setBody("again"))
	require.NoError(t, err)
	remote.Emit(insert)
	f.flush()
	assert.Equal(t, "again", f.body("srv-9"))
	assert.Equal(t, []string{"srv-9"}, f.eng.Keys())
}

func TestEngine_UpdateMissingKey(t *testing.T) {
	f := newFixture(t)
	f.bind("P1")

	_, err := f.eng.Update(f.ctx, "ghost", setBody("x"))

	assert.Equal(t, ErrCodeNotFound, CodeOf(err))
	assert.Equal(t, 0, f.remote.Mutations())
}

func TestEngine_UpdateCannotChangeKey(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "m", Pairing: "P1", Body: "old", At: at(1)})
	f.bind("P1")

	_, err := f.eng.Update(f.ctx, "m", func(m msg) msg {
		m.ID = "other"
		return m
	})

	assert.Equal(t, ErrCodeInvalidRecord, CodeOf(err))
	assert.Equal(t, "old", f.body("m"))
}

func TestEngine_SameKeyMutationsAreSerialized(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "m", Pairing: "P1", Body: "old", At: at(1)})
	f.bind("P1")
	release := f.remote.HoldMutations()

	first := make(chan error, 1)
	go func() {
		_, err := f.eng.Update(f.ctx, "m", setBody("a"))
		first <- err
	}()
	f.waitParked(1)

	second := make(chan error, 1)
	go func() {
		_, err := f.eng.Update(f.ctx, "m", setBody("b"))
		second <- err
	}()

	// The second update waits on the key, not on the backend.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.remote.Waiting())
	assert.Equal(t, "a", f.body("m"))

	release()
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	f.flush()

	assert.Equal(t, "b", f.body("m"))
	assert.Equal(t, "b", f.remote.Records("P1")[0].Body)
	assert.Equal(t, 2, f.remote.Mutations())
}

func TestEngine_DeleteFailureRestoresRecord(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(
		msg{ID: "a", Pairing: "P1", At: at(1)},
		msg{ID: "b", Pairing: "P1", At: at(2)},
		msg{ID: "c", Pairing: "P1", At: at(3)},
	)
	f.bind("P1")
	f.remote.FailNext(ir.OpDelete, errors.New("delete rejected"))

	err := f.eng.Delete(f.ctx, "b")

	require.Error(t, err)
	assert.True(t, IsMutateError(err))
	assert.Equal(t, []string{"a", "b", "c"}, f.eng.Keys())
}

func TestEngine_LateDeleteIsNoop(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(
		msg{ID: "k", Pairing: "P1", At: at(1)},
		msg{ID: "j", Pairing: "P1", At: at(2)},
	)
	f.bind("P1")

	require.NoError(t, f.eng.Delete(f.ctx, "k"))
	f.flush()
	assert.Equal(t, []string{"j"}, f.eng.Keys())

	f.remote.Emit(ir.ChangeEvent[msg]{Op: ir.OpDelete, Scope: "P1", Record: msg{ID: "k", Pairing: "P1"}})
	f.flush()

	assert.Equal(t, []string{"j"}, f.eng.Keys())
	assert.Empty(t, f.errs.all())
}

func TestEngine_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.bind("P1")
	ev := ir.ChangeEvent[msg]{Op: ir.OpInsert, Scope: "P1", Record: msg{ID: "d", Pairing: "P1", Body: "once", At: at(1)}}

	f.remote.Emit(ev)
	f.remote.Emit(ev)
	f.flush()
	assert.Equal(t, []string{"d"}, f.eng.Keys())

	upd := ir.ChangeEvent[msg]{Op: ir.OpUpdate, Scope: "P1", Record: msg{ID: "d", Pairing: "P1", Body: "twice", At: at(1)}}
	f.remote.Emit(upd)
	f.remote.Emit(upd)
	f.flush()
	assert.Equal(t, []string{"d"}, f.eng.Keys())
	assert.Equal(t, "twice", f.body("d"))
}

func TestEngine_UpdateOfAbsentKeyInserts(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "a", Pairing: "P1", At: at(1)})
	f.bind("P1")

	f.remote.Emit(ir.ChangeEvent[msg]{Op: ir.OpUpdate, Scope: "P1", Record: msg{ID: "z", Pairing: "P1", At: at(0)}})
	f.flush()

	assert.Equal(t, []string{"z", "a"}, f.eng.Keys())
}

func TestEngine_ForeignScopeEventDropped(t *testing.T) {
	f := newFixture(t)
	f.bind("P1")

	f.remote.Emit(ir.ChangeEvent[msg]{Op: ir.OpInsert, Scope: "P1", Record: msg{ID: "f", Pairing: "P2", At: at(1)}})
	f.flush()

	assert.Equal(t, 0, f.eng.Len())
}

func TestEngine_StaleLoadDroppedAfterRebind(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(
		msg{ID: "p1-a", Pairing: "P1", At: at(1)},
		msg{ID: "p2-a", Pairing: "P2", At: at(2)},
	)
	release := f.remote.HoldFetch()

	p1 := make(chan error, 1)
	go func() { p1 <- f.eng.Bind(f.ctx, "P1") }()
	f.waitParked(1)

	p2 := make(chan error, 1)
	go func() { p2 <- f.eng.Bind(f.ctx, "P2") }()
	f.waitParked(2)

	release()
	require.NoError(t, <-p2)
	err := <-p1
	assert.True(t, IsScopeChanged(err), "got %v", err)
	f.flush()

	assert.Equal(t, []string{"p2-a"}, f.eng.Keys())
	assert.Equal(t, "P2", f.eng.Status().Scope)
}

func TestEngine_RefetchDuringBindSupersedesQuietly(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "a", Pairing: "P1", At: at(1)})
	release := f.remote.HoldFetch()

	bound := make(chan error, 1)
	go func() { bound <- f.eng.Bind(f.ctx, "P1") }()
	f.waitParked(1)

	refetched := make(chan error, 1)
	go func() { refetched <- f.eng.Refetch(f.ctx) }()
	f.waitParked(2)

	release()
	require.NoError(t, <-bound)
	require.NoError(t, <-refetched)
	f.flush()

	assert.Equal(t, []string{"a"}, f.eng.Keys())
	assert.False(t, f.eng.Status().Loading)
	assert.Empty(t, f.errs.all())
}

func TestEngine_FetchFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "a", Pairing: "P1", At: at(1)})
	f.bind("P1")
	f.remote.Seed(msg{ID: "b", Pairing: "P1", At: at(2)})
	f.remote.FailNextFetch(errors.New("network down"))

	err := f.eng.Refetch(f.ctx)

	require.Error(t, err)
	assert.True(t, IsFetchError(err))
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Retryable())
	assert.Equal(t, []string{"a"}, f.eng.Keys())
	assert.False(t, f.eng.Status().Loading)
	require.Len(t, f.errs.all(), 1)

	require.NoError(t, f.eng.Refetch(f.ctx))
	assert.Equal(t, []string{"a", "b"}, f.eng.Keys())
}

func TestEngine_RefetchWhileUnbound(t *testing.T) {
	f := newFixture(t)

	err := f.eng.Refetch(f.ctx)

	assert.Equal(t, ErrCodeUnbound, CodeOf(err))
}

func TestEngine_EventsDuringLoadAreReplayed(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "a", Pairing: "P1", At: at(1)})
	release := f.remote.HoldFetch()

	bound := make(chan error, 1)
	go func() { bound <- f.eng.Bind(f.ctx, "P1") }()
	f.waitParked(1)
	require.Eventually(t, func() bool { return f.remote.Subscribers("P1") == 1 }, time.Second, time.Millisecond)

	f.remote.Emit(ir.ChangeEvent[msg]{Op: ir.OpInsert, Scope: "P1", Record: msg{ID: "live", Pairing: "P1", At: at(2)}})
	f.remote.Emit(ir.ChangeEvent[msg]{Op: ir.OpInsert, Scope: "P1", Record: msg{ID: "a", Pairing: "P1", At: at(1)}})
	f.flush()
	assert.True(t, f.eng.Status().Loading)

	release()
	require.NoError(t, <-bound)

	assert.Equal(t, []string{"a", "live"}, f.eng.Keys())
}

func TestEngine_PendingCreateSurvivesReload(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(msg{ID: "a", Pairing: "P1", At: at(1)})
	f.bind("P1")
	release := f.remote.HoldMutations()

	created := make(chan error, 1)
	go func() {
		_, err := f.eng.Create(f.ctx, msg{Body: "in flight"})
		created <- err
	}()
	f.waitParked(1)

	require.NoError(t, f.eng.Refetch(f.ctx))
	assert.Equal(t, []string{"a", "tmp-1"}, f.eng.Keys())

	release()
	require.NoError(t, <-created)
	f.flush()
	assert.Equal(t, []string{"a", "srv-1"}, f.eng.Keys())
}

func TestEngine_ReloadFindsCommittedPendingCreate(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(
		msg{ID: "a", Pairing: "P1", Body: "in flight", At: at(1)},
	)
	f.bind("P1")
	f.remote.HoldMutations()

	ctx, cancel := context.WithCancel(f.ctx)
	created := make(chan error, 1)
	go func() {
		_, err := f.eng.Create(ctx, msg{Body: "in flight"})
		created <- err
	}()
	f.waitParked(1)

	// The insert reached the remote but neither its acknowledgement nor its
	// push event has arrived. "a" has the same content but was already known.
	f.remote.Seed(msg{ID: "srv-7", Pairing: "P1", Body: "in flight", At: at(2)})
	require.NoError(t, f.eng.Refetch(f.ctx))
	f.flush()

	assert.Equal(t, []string{"a", "srv-7"}, f.eng.Keys())
	assert.Equal(t, 0, f.eng.Status().Pending)

	cancel()
	assert.True(t, IsMutateError(<-created))
	f.flush()
	assert.Equal(t, []string{"a", "srv-7"}, f.eng.Keys())
}

func TestEngine_SubscriptionDropMarksStale(t *testing.T) {
	f := newFixture(t)
	f.bind("P1")

	f.remote.Drop("P1", errors.New("socket closed"))

	require.Eventually(t, func() bool { return f.eng.Status().Stale }, time.Second, time.Millisecond)
	errs := f.errs.all()
	require.Len(t, errs, 1)
	assert.True(t, IsSubscriptionError(errs[0]))

	require.NoError(t, f.eng.Refetch(f.ctx))
	assert.False(t, f.eng.Status().Stale)
	assert.Equal(t, 1, f.remote.Subscribers("P1"))

	_, err := f.remote.Apply(ir.OpInsert, msg{ID: "after", Pairing: "P1", At: at(1)})
	require.NoError(t, err)
	f.flush()
	assert.Equal(t, []string{"after"}, f.eng.Keys())
}

func TestEngine_ChangeHandlerRuns(t *testing.T) {
	changes := make(chan struct{}, 64)
	f := newFixture(t, WithChangeHandler(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}))

	f.bind("P1")

	assert.NotEmpty(t, changes)
}

func TestEngine_StoppedEngineRejectsCommands(t *testing.T) {
	eng, err := New(msgs, memory.New(msgs))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()
	eng.Stop()
	require.NoError(t, <-done)

	assert.ErrorIs(t, eng.Bind(context.Background(), "P1"), ErrStopped)
	_, err = eng.Create(context.Background(), msg{})
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, eng.Flush(context.Background()), ErrStopped)
}
