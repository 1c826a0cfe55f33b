// Package cache implements the client-side lock cache : the
// per-lock NONE/FREE/LOCKED/ACQUIRING/RELEASING state machine, the local
// reuse fast path that is this whole system's reason for existing, and the
// inbound REVOKE/RETRY handlers that drive it.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coherentd/lockd/internal/metrics"
	"github.com/coherentd/lockd/internal/protocol"
	"github.com/coherentd/lockd/internal/rpcqueue"
	"github.com/coherentd/lockd/internal/transport"
)

// ReleaseUser is the optional "lock_release_user" collaborator: if set, its
// DoRelease is invoked just before a RELEASE is sent, letting the caller
// flush any state that depends on holding the lock.
type ReleaseUser interface {
	DoRelease(lid protocol.LockID)
}

// entry is one client-side lock_map row. Unlike the coordinator's entries,
// each carries its own condition variable (bound to Cache.mu) because
// Acquire blocks on it — the lock protocol
type entry struct {
	state          protocol.LocalState
	revokedPending bool
	retryArrived   bool
	waiting        uint64
	xid            protocol.XID // last xid used for this lock on this client
	cond           *sync.Cond
}

type outbound struct {
	kind   protocol.RPCKind // Acquire or Release
	lockID protocol.LockID
	xid    protocol.XID
}

// Cache is the client-side lock cache. One Cache exists per client
// process; ID is that process's RPC bind address, used as its identity
// with the coordinator.
type Cache struct {
	mu      sync.Mutex
	entries map[protocol.LockID]*entry

	id          protocol.ClientID
	queue       *rpcqueue.Queue[outbound]
	server      transport.ServerCaller
	releaseUser ReleaseUser
	logger      zerolog.Logger
	metrics     *metrics.Cache

	wg sync.WaitGroup
}

// New constructs a Cache identified by id, talking to the coordinator
// through server. releaseUser may be nil.
func New(id protocol.ClientID, server transport.ServerCaller, releaseUser ReleaseUser, logger zerolog.Logger, m *metrics.Cache) *Cache {
	if m == nil {
		m = metrics.NewCache()
	}
	return &Cache{
		entries:     make(map[protocol.LockID]*entry),
		id:          id,
		queue:       rpcqueue.New[outbound](),
		server:      server,
		releaseUser: releaseUser,
		logger:      logger.With().Str("component", "cache").Str("client_id", string(id)).Logger(),
		metrics:     m,
	}
}

// Start launches the outgoing sender goroutine. It runs until ctx is done.
func (c *Cache) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.outgoing(ctx)
	}()
	go func() {
		<-ctx.Done()
		c.queue.Close()
	}()
}

// Wait blocks until the sender goroutine has exited.
func (c *Cache) Wait() { c.wg.Wait() }

func (c *Cache) get(lid protocol.LockID) *entry {
	e, ok := c.entries[lid]
	if !ok {
		e = &entry{state: protocol.None}
		e.cond = sync.NewCond(&c.mu)
		c.entries[lid] = e
	}
	return e
}

// Acquire blocks the calling goroutine until the named lock is held
// locally, taking the local-reuse fast path whenever possible (spec.md
// §4.3). Re-evaluates state after every wakeup so that a thread which
// observes NONE (e.g. after a revoke-driven release completed) becomes the
// next one to issue a fresh ACQUIRE, while other blocked callers keep
// waiting — the same wait-loop-under-one-mutex discipline as a classic
// condition-variable lock manager.
func (c *Cache) Acquire(lid protocol.LockID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(lid)

	for {
		switch e.state {
		case protocol.FreeLocal:
			e.state = protocol.LockedLocal
			c.metrics.RecordLocalAcquire()
			return

		case protocol.None:
			e.state = protocol.Acquiring
			e.xid++
			xid := e.xid
			e.retryArrived = false
			c.metrics.RecordRemoteAcquire()
			c.queue.Enqueue(outbound{kind: protocol.KindAcquire, lockID: lid, xid: xid})
			e.cond.Wait()

		default: // Acquiring, LockedLocal, Releasing
			e.waiting++
			e.cond.Wait()
			e.waiting--
		}
	}
}

// Release returns a held lock. If a REVOKE arrived while this client held
// or was acquiring it, the lock is sent back to the coordinator now;
// otherwise it is freed purely locally and, if local callers are waiting,
// handed to one of them without any RPC — the caching win spec.md exists
// for.
func (c *Cache) Release(lid protocol.LockID) {
	c.mu.Lock()
	e := c.get(lid)

	if e.revokedPending {
		e.state = protocol.Releasing
		xid := e.xid
		e.revokedPending = false
		c.mu.Unlock()

		if c.releaseUser != nil {
			c.releaseUser.DoRelease(lid)
		}
		c.queue.Enqueue(outbound{kind: protocol.KindRelease, lockID: lid, xid: xid})
		return
	}

	e.state = protocol.FreeLocal
	if e.waiting > 0 {
		e.cond.Signal()
	}
	c.mu.Unlock()
}

// HandleRevoke is the inbound REVOKE handler .
func (c *Cache) HandleRevoke(lid protocol.LockID, xid protocol.XID) protocol.Status {
	c.mu.Lock()
	e := c.get(lid)
	c.metrics.RecordRevoke()

	switch e.state {
	case protocol.LockedLocal, protocol.Acquiring:
		// The current holder (or the in-flight acquirer) drains this on
		// its next local release.
		e.revokedPending = true
		c.mu.Unlock()

	case protocol.FreeLocal:
		// Nobody is using it locally right now: release it back
		// immediately instead of waiting for a release that may never
		// come.
		releaseXID := e.xid
		e.state = protocol.Releasing
		c.mu.Unlock()

		if c.releaseUser != nil {
			c.releaseUser.DoRelease(lid)
		}
		c.queue.Enqueue(outbound{kind: protocol.KindRelease, lockID: lid, xid: releaseXID})

	default:
		// NONE or already RELEASING: idempotent, duplicate revoke.
		c.mu.Unlock()
	}

	return protocol.OK
}

// HandleRetry is the inbound RETRY handler : the
// coordinator has granted (or re-granted) this lock to the given xid.
func (c *Cache) HandleRetry(lid protocol.LockID, xid protocol.XID, wait bool) protocol.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(lid)
	c.metrics.RecordRetry()

	if e.state == protocol.Acquiring {
		if xid != e.xid {
			// Stale retry for a superseded acquire attempt.
			return protocol.OK
		}
		e.state = protocol.FreeLocal
		if wait {
			// RETRY_WAIT: other waiters exist server-side, so the first
			// releaser must send RELEASE back immediately.
			e.revokedPending = true
		}
		e.cond.Signal()
		return protocol.OK
	}

	// Raced ahead of the ACQUIRE reply, or a duplicate delivery for a
	// state no longer awaiting one: only recorded in retryArrived. Acquire
	// clears that flag when it starts a new ACQUIRE and does not otherwise
	// read it, so a RETRY arriving outside ACQUIRING grants nothing.
	e.retryArrived = true
	if wait {
		e.revokedPending = true
	}
	return protocol.OK
}

// WaitingCount reports the number of local threads currently blocked on
// lid, for diagnostics and deterministic tests.
func (c *Cache) WaitingCount(lid protocol.LockID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[lid]
	if !ok {
		return 0
	}
	return e.waiting
}

// State reports the current local state of lid, for diagnostics and tests.
func (c *Cache) State(lid protocol.LockID) protocol.LocalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[lid]
	if !ok {
		return protocol.None
	}
	return e.state
}

// outgoing is the client's dedicated sender goroutine :
// it drains the FIFO and performs the actual ACQUIRE/RELEASE RPC. ACQUIRE
// calls block, which is exactly why they are deferred here instead of
// being made inline under Acquire's mutex.
func (c *Cache) outgoing(ctx context.Context) {
	c.logger.Debug().Msg("cache sender starting")
	for {
		msg, ok := c.queue.Dequeue()
		if !ok {
			c.logger.Debug().Msg("cache sender stopping")
			return
		}

		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		switch msg.kind {
		case protocol.KindAcquire:
			if _, err := c.server.Acquire(rctx, protocol.AcquireArgs{LockID: msg.lockID, ClientID: c.id, XID: msg.xid}); err != nil {
				c.logger.Warn().Err(err).Uint64("lock_id", uint64(msg.lockID)).Msg("acquire RPC failed")
			}
			// The reply is always RETRY; the real grant arrives later
			// as an asynchronous RETRY RPC.

		case protocol.KindRelease:
			if _, err := c.server.Release(rctx, protocol.ReleaseArgs{LockID: msg.lockID, ClientID: c.id, XID: msg.xid}); err != nil {
				c.logger.Warn().Err(err).Uint64("lock_id", uint64(msg.lockID)).Msg("release RPC failed")
			}
			c.finishRelease(msg.lockID)
		}
		cancel()
	}
}

func (c *Cache) finishRelease(lid protocol.LockID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(lid)
	e.state = protocol.None
	e.cond.Broadcast()
}
