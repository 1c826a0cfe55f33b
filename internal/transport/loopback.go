package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/coherentd/lockd/internal/protocol"
)

// ErrUnknownClient is returned by LoopbackClients when asked to deliver to
// a ClientID that was never registered.
var ErrUnknownClient = fmt.Errorf("transport: unknown client")

// LoopbackServer implements ServerCaller by calling straight into a
// coordinator's handler methods — no network, no serialization. It is the
// transport used by deterministic unit tests and by single-process demos.
type LoopbackServer struct {
	Acquirer AcquireHandler
	Releaser ReleaseHandler
}

func (l *LoopbackServer) Acquire(_ context.Context, args protocol.AcquireArgs) (protocol.AcquireReply, error) {
	return protocol.AcquireReply{Status: l.Acquirer.Acquire(args.LockID, args.ClientID, args.XID)}, nil
}

func (l *LoopbackServer) Release(_ context.Context, args protocol.ReleaseArgs) (protocol.ReleaseReply, error) {
	return protocol.ReleaseReply{Status: l.Releaser.Release(args.LockID, args.ClientID, args.XID)}, nil
}

type loopbackClient struct {
	revoke RevokeHandler
	retry  RetryHandler
}

// LoopbackClients implements ClientCaller by dispatching directly to
// registered client caches, keyed by ClientID. Register each cache before
// the coordinator can reach it.
type LoopbackClients struct {
	mu      sync.RWMutex
	clients map[protocol.ClientID]loopbackClient
}

// NewLoopbackClients returns an empty client registry.
func NewLoopbackClients() *LoopbackClients {
	return &LoopbackClients{clients: make(map[protocol.ClientID]loopbackClient)}
}

// Register makes id reachable for REVOKE/RETRY delivery.
func (l *LoopbackClients) Register(id protocol.ClientID, revoke RevokeHandler, retry RetryHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients[id] = loopbackClient{revoke: revoke, retry: retry}
}

func (l *LoopbackClients) lookup(id protocol.ClientID) (loopbackClient, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.clients[id]
	return c, ok
}

func (l *LoopbackClients) Revoke(_ context.Context, target protocol.ClientID, args protocol.RevokeArgs) (protocol.RevokeReply, error) {
	c, ok := l.lookup(target)
	if !ok {
		return protocol.RevokeReply{}, ErrUnknownClient
	}
	return protocol.RevokeReply{Status: c.revoke.HandleRevoke(args.LockID, args.XID)}, nil
}

func (l *LoopbackClients) Retry(_ context.Context, target protocol.ClientID, args protocol.RetryArgs) (protocol.RetryReply, error) {
	c, ok := l.lookup(target)
	if !ok {
		return protocol.RetryReply{}, ErrUnknownClient
	}
	return protocol.RetryReply{Status: c.retry.HandleRetry(args.LockID, args.XID, args.Wait)}, nil
}
