// Package protocol defines the wire-level identifiers, message shapes and
// status namespace shared by the coordinator and the cache. Nothing here
// touches a mutex or a goroutine — it is pure data plus (de)serialization.
package protocol

import "fmt"

// LockID is an opaque, equality-comparable lock identifier.
type LockID uint64

// ClientID is the client's RPC bind address, used as its stable identity.
type ClientID string

// XID correlates a request with its eventual reply per (client, lock) pair.
// It must be strictly increasing for a given pair so that stale replies
// and duplicate at-least-once deliveries can be told apart.
type XID uint64

// Status mirrors the rlock_protocol/lock_protocol namespace of the original
// RPC service: every handler on either side of the wire returns one of these.
type Status int32

const (
	OK Status = iota
	RETRY
	RPCERR
	NOENT
	IOERR
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case RETRY:
		return "RETRY"
	case RPCERR:
		return "RPCERR"
	case NOENT:
		return "NOENT"
	case IOERR:
		return "IOERR"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// ServerState is the server coordinator's per-lock state.
type ServerState int32

const (
	// Free: no owner, no waiters.
	Free ServerState = iota
	// Locked: held, no waiters.
	Locked
	// Acq: held, at least one waiter; a revoke is outstanding.
	Acq
)

func (s ServerState) String() string {
	switch s {
	case Free:
		return "FREE"
	case Locked:
		return "LOCKED"
	case Acq:
		return "ACQ"
	default:
		return fmt.Sprintf("ServerState(%d)", int32(s))
	}
}

// LocalState is the client cache's per-lock state.
type LocalState int32

const (
	// None: unknown to this client.
	None LocalState = iota
	// FreeLocal: held by this client, no local thread owns it — eligible
	// for immediate local reuse.
	FreeLocal
	// LockedLocal: held by this client and owned by a local thread.
	LockedLocal
	// Acquiring: an ACQUIRE is in flight or the lock is awaited.
	Acquiring
	// Releasing: a RELEASE has been queued or is in flight after a
	// revoke; the state becomes None once the RELEASE RPC completes.
	Releasing
)

func (s LocalState) String() string {
	switch s {
	case None:
		return "NONE"
	case FreeLocal:
		return "FREE"
	case LockedLocal:
		return "LOCKED"
	case Acquiring:
		return "ACQUIRING"
	case Releasing:
		return "RELEASING"
	default:
		return fmt.Sprintf("LocalState(%d)", int32(s))
	}
}

// RPCKind names the five message shapes that cross the wire.
type RPCKind int32

const (
	KindAcquire RPCKind = iota
	KindRelease
	KindRevoke
	KindRetry
	KindRetryWait
)

func (k RPCKind) String() string {
	switch k {
	case KindAcquire:
		return "ACQUIRE"
	case KindRelease:
		return "RELEASE"
	case KindRevoke:
		return "REVOKE"
	case KindRetry:
		return "RETRY"
	case KindRetryWait:
		return "RETRY_WAIT"
	default:
		return fmt.Sprintf("RPCKind(%d)", int32(k))
	}
}

// AcquireArgs is the client-to-server ACQUIRE request.
type AcquireArgs struct {
	LockID   LockID   `json:"lock_id"`
	ClientID ClientID `json:"client_id"`
	XID      XID      `json:"xid"`
}

// AcquireReply always carries RETRY: the real grant arrives asynchronously
// as a RETRY RPC once the coordinator can hand the lock over.
type AcquireReply struct {
	Status Status `json:"status"`
}

// ReleaseArgs is the client-to-server RELEASE request.
type ReleaseArgs struct {
	LockID   LockID   `json:"lock_id"`
	ClientID ClientID `json:"client_id"`
	XID      XID      `json:"xid"`
}

// ReleaseReply is always OK: duplicate/stale releases are silently ignored.
type ReleaseReply struct {
	Status Status `json:"status"`
}

// RevokeArgs is the server-to-client REVOKE notification: please release
// the lock identified by LockID, current as of XID, as soon as you can.
type RevokeArgs struct {
	LockID LockID `json:"lock_id"`
	XID    XID    `json:"xid"`
}

// RevokeReply carries the client's acknowledgement status.
type RevokeReply struct {
	Status Status `json:"status"`
}

// RetryArgs is the server-to-client RETRY notification: your ACQUIRE
// matching XID has been granted. Wait signals the RETRY_WAIT variant —
// other waiters exist, so the grantee should release after one local use.
type RetryArgs struct {
	LockID LockID `json:"lock_id"`
	XID    XID    `json:"xid"`
	Wait   bool   `json:"wait"`
}

// RetryReply carries the client's acknowledgement status.
type RetryReply struct {
	Status Status `json:"status"`
}
