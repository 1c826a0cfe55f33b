// Package coordinator implements the server-side lock state machine
// : per-lock FREE/LOCKED/ACQ states, waiter queues, xid
// bookkeeping, and the dedicated sender goroutine that turns state-machine
// decisions into REVOKE/RETRY/RETRY_WAIT RPCs.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coherentd/lockd/internal/audit"
	"github.com/coherentd/lockd/internal/limits"
	"github.com/coherentd/lockd/internal/metrics"
	"github.com/coherentd/lockd/internal/observe"
	"github.com/coherentd/lockd/internal/protocol"
	"github.com/coherentd/lockd/internal/rpcqueue"
	"github.com/coherentd/lockd/internal/transport"
)

// entry is one lock_map row. Every mutation happens under Coordinator.mu —
// entries never carry their own lock (unlike the client cache, which needs
// a per-lock condition variable for blocking acquirers).
type entry struct {
	state   protocol.ServerState
	owner   protocol.ClientID
	xid     protocol.XID
	waiting []protocol.ClientID
	xidMap  map[protocol.ClientID]protocol.XID
}

func newEntry() *entry {
	return &entry{state: protocol.Free, xidMap: map[protocol.ClientID]protocol.XID{}}
}

// outbound is a queued descriptor for the sender goroutine; it is the Go
// analogue of the original's rpc_call struct.
type outbound struct {
	kind   protocol.RPCKind // Revoke, Retry or RetryWait
	lockID protocol.LockID
	target protocol.ClientID
	xid    protocol.XID
}

// AmIPrimary reports whether this replica should currently speak RPCs to
// clients. It stands in for the RSM substrate's primary-election query;
// this system treats the RSM itself as an external collaborator, so this is
// just the one predicate the coordinator's sender needs from it.
type AmIPrimary func() bool

// Coordinator is the server-side lock coordinator. It is safe for
// concurrent use from any number of RPC-handling goroutines; Start must be
// called once before any client can be served, and spawns the one
// dedicated sender goroutine the lock protocol/§5 requires.
type Coordinator struct {
	mu       sync.Mutex
	entries  map[protocol.LockID]*entry
	nacquire int64

	queue      *rpcqueue.Queue[outbound]
	client     transport.ClientCaller
	amIPrimary AmIPrimary
	logger     zerolog.Logger
	metrics    *metrics.Coordinator
	guard      *limits.ResourceGuard
	audit      *audit.Publisher
	hub        *observe.Hub

	wg sync.WaitGroup
}

// New constructs a Coordinator. client is how queued REVOKE/RETRY
// descriptors are actually delivered; amIPrimary gates delivery the way
// the original's outgoing() loop checks rsm->amiprimary() before every
// send. guard, auditPub and hub may all be nil — tests and single-process
// demos construct Coordinators this way, with sending unpaced and no
// audit trail or live observer feed.
func New(client transport.ClientCaller, amIPrimary AmIPrimary, logger zerolog.Logger, m *metrics.Coordinator, guard *limits.ResourceGuard, auditPub *audit.Publisher, hub *observe.Hub) *Coordinator {
	if m == nil {
		m = metrics.NewCoordinator()
	}
	return &Coordinator{
		entries:    make(map[protocol.LockID]*entry),
		queue:      rpcqueue.New[outbound](),
		client:     client,
		amIPrimary: amIPrimary,
		logger:     logger.With().Str("component", "coordinator").Logger(),
		metrics:    m,
		guard:      guard,
		audit:      auditPub,
		hub:        hub,
	}
}

// notify fans evt out to the audit trail and the live observer feed.
// Either sink may be nil (disabled): the audit publisher is nil-receiver
// safe, and the hub is skipped here when nil.
func (c *Coordinator) notify(evt audit.Event) {
	evt.Timestamp = time.Now().Unix()
	c.audit.Publish(evt)
	if c.hub != nil {
		c.hub.Publish(evt)
	}
}

// Start launches the outgoing sender goroutine. It runs until ctx is done.
func (c *Coordinator) Start(ctx context.Context) {
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

// Wait blocks until the sender goroutine has exited (after Start's ctx is
// done and the queue has drained).
func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) get(lid protocol.LockID) *entry {
	e, ok := c.entries[lid]
	if !ok {
		e = newEntry()
		c.entries[lid] = e
	}
	return e
}

// Acquire implements the ACQUIRE RPC handler . It always
// returns RETRY: the real grant, if any, is delivered asynchronously.
func (c *Coordinator) Acquire(lid protocol.LockID, client protocol.ClientID, xid protocol.XID) protocol.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.AddInt64(&c.nacquire, 1)
	e := c.get(lid)

	switch {
	case e.state == protocol.Free:
		e.owner = client
		e.xid = xid
		e.state = protocol.Locked
		c.queue.Enqueue(outbound{kind: protocol.KindRetry, lockID: lid, target: client, xid: xid})
		c.metrics.RecordAcquireGranted()
		c.notify(audit.Event{Kind: audit.EventAcquireGranted, LockID: lid, Client: client, XID: xid})

	case e.owner == client:
		// Duplicate acquire by the current owner: ignored .
		c.metrics.RecordDuplicateAcquire()

	case e.state == protocol.Locked:
		e.waiting = append(e.waiting, client)
		e.xidMap[client] = xid
		e.state = protocol.Acq
		c.queue.Enqueue(outbound{kind: protocol.KindRevoke, lockID: lid, target: e.owner, xid: e.xid})
		c.metrics.RecordAcquireQueued()
		c.notify(audit.Event{Kind: audit.EventAcquireQueued, LockID: lid, Client: client, XID: xid})

	case e.state == protocol.Acq:
		if _, already := e.xidMap[client]; !already {
			e.waiting = append(e.waiting, client)
		}
		e.xidMap[client] = xid
		// Redundant revokes are tolerated by clients .
		c.queue.Enqueue(outbound{kind: protocol.KindRevoke, lockID: lid, target: e.owner, xid: e.xid})
		c.metrics.RecordAcquireQueued()
		c.notify(audit.Event{Kind: audit.EventAcquireQueued, LockID: lid, Client: client, XID: xid})
	}

	c.metrics.SetWaiters(uint64(lid), len(e.waiting))
	return protocol.RETRY
}

// Release implements the RELEASE RPC handler .
func (c *Coordinator) Release(lid protocol.LockID, client protocol.ClientID, xid protocol.XID) protocol.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[lid]
	if !ok || e.owner != client || e.xid != xid {
		// Duplicate/stale release: ignored, no side effects .
		c.metrics.RecordStaleRelease()
		return protocol.OK
	}

	atomic.AddInt64(&c.nacquire, -1)
	c.notify(audit.Event{Kind: audit.EventRelease, LockID: lid, Client: client, XID: xid})

	if len(e.waiting) == 0 {
		e.state = protocol.Free
		e.owner = ""
		e.xid = 0
		c.metrics.SetWaiters(uint64(lid), 0)
		return protocol.OK
	}

	next := e.waiting[0]
	e.waiting = e.waiting[1:]
	e.owner = next
	e.xid = e.xidMap[next]
	delete(e.xidMap, next)

	if len(e.waiting) == 0 {
		e.state = protocol.Locked
		c.queue.Enqueue(outbound{kind: protocol.KindRetry, lockID: lid, target: next, xid: e.xid})
	} else {
		e.state = protocol.Acq
		c.queue.Enqueue(outbound{kind: protocol.KindRetryWait, lockID: lid, target: next, xid: e.xid})
	}
	c.metrics.SetWaiters(uint64(lid), len(e.waiting))

	return protocol.OK
}

// Stat returns the aggregate acquire counter. It mirrors the original
// server's stat(): it intentionally ignores lid and reports the
// server-wide nacquire count — operational only, never consulted by a
// state transition.
func (c *Coordinator) Stat(protocol.LockID) int64 {
	return atomic.LoadInt64(&c.nacquire)
}

// outgoing is the dedicated sender goroutine : it drains the
// FIFO and turns each descriptor into an actual RPC, skipping delivery
// entirely when this replica is not primary.
func (c *Coordinator) outgoing(ctx context.Context) {
	c.logger.Debug().Msg("coordinator sender starting")
	for {
		msg, ok := c.queue.Dequeue()
		if !ok {
			c.logger.Debug().Msg("coordinator sender stopping")
			return
		}

		if !c.amIPrimary() {
			c.logger.Debug().
				Str("kind", msg.kind.String()).
				Uint64("lock_id", uint64(msg.lockID)).
				Msg("not primary, dropping outbound RPC")
			c.metrics.RecordDroppedNotPrimary()
			continue
		}

		if c.guard != nil {
			for c.guard.ShouldPause() {
				c.logger.Debug().Float64("cpu_percent", c.guard.CPUPercent()).Msg("pausing sender, host CPU over threshold")
				select {
				case <-ctx.Done():
					return
				case <-time.After(500 * time.Millisecond):
				}
			}
			if err := c.guard.Wait(ctx); err != nil {
				c.logger.Debug().Err(err).Msg("sender rate wait aborted")
				continue
			}
		}

		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		c.dispatch(rctx, msg)
		cancel()
	}
}

func (c *Coordinator) dispatch(ctx context.Context, msg outbound) {
	switch msg.kind {
	case protocol.KindRevoke:
		_, err := c.client.Revoke(ctx, msg.target, protocol.RevokeArgs{LockID: msg.lockID, XID: msg.xid})
		if err != nil {
			c.logger.Warn().Err(err).Str("target", string(msg.target)).Msg("revoke RPC failed")
			c.metrics.RecordSendFailure("revoke")
		}
		c.notify(audit.Event{Kind: audit.EventRevoke, LockID: msg.lockID, Client: msg.target, XID: msg.xid})
	case protocol.KindRetry, protocol.KindRetryWait:
		wait := msg.kind == protocol.KindRetryWait
		_, err := c.client.Retry(ctx, msg.target, protocol.RetryArgs{LockID: msg.lockID, XID: msg.xid, Wait: wait})
		if err != nil {
			c.logger.Warn().Err(err).Str("target", string(msg.target)).Msg("retry RPC failed")
			c.metrics.RecordSendFailure("retry")
		}
		c.notify(audit.Event{Kind: audit.EventRetry, LockID: msg.lockID, Client: msg.target, XID: msg.xid})
	}
}
