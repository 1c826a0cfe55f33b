// Package transport implements the RPC boundary this system treats as an
// external collaborator: "the underlying RPC transport (assumed to provide
// at-least-once delivery with a correlation identifier xid)". It defines
// the two small interfaces the coordinator and the cache actually need and
// provides two implementations: in-process LoopbackServer/LoopbackClients
// for deterministic tests, and NATSServerCaller/NATSClientCaller for a real
// multi-process deployment.
package transport

import (
	"context"

	"github.com/coherentd/lockd/internal/protocol"
)

// ServerCaller is how the client cache's sender thread reaches the
// coordinator: ACQUIRE and RELEASE are synchronous request/reply calls,
// the reply being nothing more than an acknowledgement status (the real
// grant, if any, arrives later as an asynchronous RETRY).
type ServerCaller interface {
	Acquire(ctx context.Context, args protocol.AcquireArgs) (protocol.AcquireReply, error)
	Release(ctx context.Context, args protocol.ReleaseArgs) (protocol.ReleaseReply, error)
}

// ClientCaller is how the coordinator's sender thread reaches a specific
// client: REVOKE and RETRY are synchronous request/reply calls addressed
// to the client named by ClientID.
type ClientCaller interface {
	Revoke(ctx context.Context, target protocol.ClientID, args protocol.RevokeArgs) (protocol.RevokeReply, error)
	Retry(ctx context.Context, target protocol.ClientID, args protocol.RetryArgs) (protocol.RetryReply, error)
}

// AcquireHandler is implemented by the coordinator; ServerSide delivery
// layers invoke it for each inbound ACQUIRE.
type AcquireHandler interface {
	Acquire(lid protocol.LockID, client protocol.ClientID, xid protocol.XID) protocol.Status
}

// ReleaseHandler is implemented by the coordinator; ServerSide delivery
// layers invoke it for each inbound RELEASE.
type ReleaseHandler interface {
	Release(lid protocol.LockID, client protocol.ClientID, xid protocol.XID) protocol.Status
}

// RevokeHandler is implemented by the client cache; ClientSide delivery
// layers invoke it for each inbound REVOKE.
type RevokeHandler interface {
	HandleRevoke(lid protocol.LockID, xid protocol.XID) protocol.Status
}

// RetryHandler is implemented by the client cache; ClientSide delivery
// layers invoke it for each inbound RETRY.
type RetryHandler interface {
	HandleRetry(lid protocol.LockID, xid protocol.XID, wait bool) protocol.Status
}
