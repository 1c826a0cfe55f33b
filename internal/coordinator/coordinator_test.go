package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coherentd/lockd/internal/protocol"
)

// fakeClientCaller records REVOKE/RETRY deliveries without any network.
type fakeClientCaller struct {
	revokes chan protocol.RevokeArgs
	retries chan protocol.RetryArgs
}

func newFakeClientCaller() *fakeClientCaller {
	return &fakeClientCaller{
		revokes: make(chan protocol.RevokeArgs, 16),
		retries: make(chan protocol.RetryArgs, 16),
	}
}

func (f *fakeClientCaller) Revoke(ctx context.Context, target protocol.ClientID, args protocol.RevokeArgs) (protocol.RevokeReply, error) {
	f.revokes <- args
	return protocol.RevokeReply{Status: protocol.OK}, nil
}

func (f *fakeClientCaller) Retry(ctx context.Context, target protocol.ClientID, args protocol.RetryArgs) (protocol.RetryReply, error) {
	f.retries <- args
	return protocol.RetryReply{Status: protocol.OK}, nil
}

func alwaysPrimary() bool { return true }

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeClientCaller) {
	t.Helper()
	fc := newFakeClientCaller()
	c := New(fc, alwaysPrimary, zerolog.Nop(), nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		c.Wait()
	})
	return c, fc
}

func expectRetry(t *testing.T, fc *fakeClientCaller, lid protocol.LockID, client protocol.ClientID) {
	t.Helper()
	select {
	case args := <-fc.retries:
		if args.LockID != lid {
			t.Fatalf("expected retry for lock %d, got %d", lid, args.LockID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for RETRY to %s", client)
	}
}

func expectRevoke(t *testing.T, fc *fakeClientCaller, lid protocol.LockID) {
	t.Helper()
	select {
	case args := <-fc.revokes:
		if args.LockID != lid {
			t.Fatalf("expected revoke for lock %d, got %d", lid, args.LockID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for REVOKE")
	}
}

func TestAcquireFreeLockGrantsImmediately(t *testing.T) {
	c, fc := newTestCoordinator(t)

	status := c.Acquire(1, "alice", 100)
	if status != protocol.RETRY {
		t.Fatalf("expected RETRY status, got %v", status)
	}
	expectRetry(t, fc, 1, "alice")
}

func TestAcquireByCurrentOwnerIsIgnored(t *testing.T) {
	c, fc := newTestCoordinator(t)

	c.Acquire(1, "alice", 100)
	expectRetry(t, fc, 1, "alice")

	c.Acquire(1, "alice", 101)

	select {
	case <-fc.retries:
		t.Fatalf("duplicate acquire by owner should not send another RETRY")
	case <-fc.revokes:
		t.Fatalf("duplicate acquire by owner should not send a REVOKE")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAcquireContestedLockRevokesOwner(t *testing.T) {
	c, fc := newTestCoordinator(t)

	c.Acquire(1, "alice", 100)
	expectRetry(t, fc, 1, "alice")

	c.Acquire(1, "bob", 200)
	expectRevoke(t, fc, 1)
}

func TestReleaseToSingleWaiterSendsRetry(t *testing.T) {
	c, fc := newTestCoordinator(t)

	c.Acquire(1, "alice", 100)
	expectRetry(t, fc, 1, "alice")

	c.Acquire(1, "bob", 200)
	expectRevoke(t, fc, 1)

	status := c.Release(1, "alice", 100)
	if status != protocol.OK {
		t.Fatalf("expected OK, got %v", status)
	}
	expectRetry(t, fc, 1, "bob")
}

func TestReleaseWithMultipleWaitersSendsRetryWait(t *testing.T) {
	c, fc := newTestCoordinator(t)

	c.Acquire(1, "alice", 100)
	expectRetry(t, fc, 1, "alice")

	c.Acquire(1, "bob", 200)
	expectRevoke(t, fc, 1)
	c.Acquire(1, "carol", 300)
	expectRevoke(t, fc, 1)

	c.Release(1, "alice", 100)

	select {
	case args := <-fc.retries:
		if !args.Wait {
			t.Fatalf("expected RETRY_WAIT (Wait=true) with a second waiter pending")
		}
		if args.LockID != 1 {
			t.Fatalf("expected retry for lock 1, got %d", args.LockID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for RETRY_WAIT")
	}
}

func TestDuplicateWaiterAcquireRefreshesXIDWithoutReordering(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.Acquire(1, "alice", 100)
	c.Acquire(1, "bob", 200)
	c.Acquire(1, "carol", 300)

	// bob re-sends ACQUIRE (e.g. after a spurious timeout) with a new xid.
	c.Acquire(1, "bob", 250)

	c.mu.Lock()
	e := c.entries[1]
	waitingOrder := append([]protocol.ClientID(nil), e.waiting...)
	refreshedXID := e.xidMap["bob"]
	c.mu.Unlock()

	if len(waitingOrder) != 2 || waitingOrder[0] != "bob" || waitingOrder[1] != "carol" {
		t.Fatalf("expected waiter order [bob carol], got %v", waitingOrder)
	}
	if refreshedXID != 250 {
		t.Fatalf("expected bob's xid refreshed to 250, got %d", refreshedXID)
	}
}

func TestReleaseWithStaleXIDIsIgnored(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.Acquire(1, "alice", 100)

	status := c.Release(1, "alice", 999)
	if status != protocol.OK {
		t.Fatalf("expected OK even for a stale release, got %v", status)
	}

	c.mu.Lock()
	e := c.entries[1]
	state := e.state
	owner := e.owner
	c.mu.Unlock()

	if state != protocol.Locked || owner != "alice" {
		t.Fatalf("stale release must not change state, got state=%v owner=%s", state, owner)
	}
}

func TestReleaseByNonOwnerIsIgnored(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.Acquire(1, "alice", 100)
	c.Release(1, "mallory", 100)

	c.mu.Lock()
	owner := c.entries[1].owner
	c.mu.Unlock()

	if owner != "alice" {
		t.Fatalf("release by non-owner must not change ownership, owner=%s", owner)
	}
}

func TestReleaseOfFreeLockIsIgnored(t *testing.T) {
	c, _ := newTestCoordinator(t)
	status := c.Release(42, "nobody", 1)
	if status != protocol.OK {
		t.Fatalf("expected OK for release of an unknown lock, got %v", status)
	}
}

func TestStatReturnsAggregateAcquireCount(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.Acquire(1, "alice", 100)
	c.Acquire(2, "bob", 200)
	if got := c.Stat(1); got != 2 {
		t.Fatalf("expected aggregate nacquire=2 regardless of lid, got %d", got)
	}
	if got := c.Stat(999); got != 2 {
		t.Fatalf("Stat must ignore its lid argument, got %d for an unrelated lock", got)
	}

	c.Release(1, "alice", 100)
	if got := c.Stat(1); got != 1 {
		t.Fatalf("expected nacquire=1 after one release, got %d", got)
	}
}

func TestNotPrimaryDropsOutboundRPCs(t *testing.T) {
	fc := newFakeClientCaller()
	primary := false
	c := New(fc, func() bool { return primary }, zerolog.Nop(), nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	defer func() {
		cancel()
		c.Wait()
	}()

	c.Acquire(1, "alice", 100)

	select {
	case <-fc.retries:
		t.Fatalf("non-primary replica must not send outbound RPCs")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStateRoundTripsThroughMarshalUnmarshal(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.Acquire(1, "alice", 100)
	c.Acquire(1, "bob", 200)
	c.Acquire(2, "carol", 300)

	blob := c.MarshalState()

	other := New(newFakeClientCaller(), alwaysPrimary, zerolog.Nop(), nil, nil, nil, nil)
	if err := other.UnmarshalState(blob); err != nil {
		t.Fatalf("unexpected error unmarshaling state: %v", err)
	}

	other.mu.Lock()
	defer other.mu.Unlock()
	if len(other.entries) != 2 {
		t.Fatalf("expected 2 locks after state transfer, got %d", len(other.entries))
	}
	e1 := other.entries[1]
	if e1.owner != "alice" || e1.state != protocol.Acq {
		t.Fatalf("lock 1 transferred incorrectly: owner=%s state=%v", e1.owner, e1.state)
	}
	if len(e1.waiting) != 1 || e1.waiting[0] != "bob" {
		t.Fatalf("lock 1 waiters transferred incorrectly: %v", e1.waiting)
	}
}
