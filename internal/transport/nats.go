package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/coherentd/lockd/internal/protocol"
)

// Subjects used for the lock RPC traffic. ACQUIRE/RELEASE are request/reply
// calls any coordinator replica in the queue group may answer; REVOKE/RETRY
// are addressed to one client's private subject derived from its ClientID.
const (
	acquireSubject = "lockd.server.acquire"
	releaseSubject = "lockd.server.release"
	coordinatorQueueGroup = "lockd-coordinators"
)

func clientSubject(id protocol.ClientID, suffix string) string {
	token := strings.NewReplacer(".", "-", ":", "-", " ", "_").Replace(string(id))
	return fmt.Sprintf("lockd.client.%s.%s", token, suffix)
}

// NATSServerCaller implements ServerCaller over a nats.Conn: ACQUIRE and
// RELEASE become NATS request/reply calls against the coordinator's queue
// group. This is the client cache's half of the NATS transport.
type NATSServerCaller struct {
	Conn    *nats.Conn
	Timeout time.Duration
}

func (n *NATSServerCaller) timeout() time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	return 5 * time.Second
}

func (n *NATSServerCaller) Acquire(ctx context.Context, args protocol.AcquireArgs) (protocol.AcquireReply, error) {
	var reply protocol.AcquireReply
	if err := requestJSON(ctx, n.Conn, acquireSubject, args, &reply, n.timeout()); err != nil {
		return protocol.AcquireReply{}, err
	}
	return reply, nil
}

func (n *NATSServerCaller) Release(ctx context.Context, args protocol.ReleaseArgs) (protocol.ReleaseReply, error) {
	var reply protocol.ReleaseReply
	if err := requestJSON(ctx, n.Conn, releaseSubject, args, &reply, n.timeout()); err != nil {
		return protocol.ReleaseReply{}, err
	}
	return reply, nil
}

// NATSClientCaller implements ClientCaller over a nats.Conn: REVOKE and
// RETRY become NATS request/reply calls against the named client's private
// subject. This is the coordinator's half of the NATS transport.
type NATSClientCaller struct {
	Conn    *nats.Conn
	Timeout time.Duration
}

func (n *NATSClientCaller) timeout() time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	return 5 * time.Second
}

func (n *NATSClientCaller) Revoke(ctx context.Context, target protocol.ClientID, args protocol.RevokeArgs) (protocol.RevokeReply, error) {
	var reply protocol.RevokeReply
	if err := requestJSON(ctx, n.Conn, clientSubject(target, "revoke"), args, &reply, n.timeout()); err != nil {
		return protocol.RevokeReply{}, err
	}
	return reply, nil
}

func (n *NATSClientCaller) Retry(ctx context.Context, target protocol.ClientID, args protocol.RetryArgs) (protocol.RetryReply, error) {
	var reply protocol.RetryReply
	if err := requestJSON(ctx, n.Conn, clientSubject(target, "retry"), args, &reply, n.timeout()); err != nil {
		return protocol.RetryReply{}, err
	}
	return reply, nil
}

// SubscribeCoordinator wires ACQUIRE/RELEASE delivery to handler, joining
// the shared queue group so that only one coordinator replica answers a
// given request.
func SubscribeCoordinator(conn *nats.Conn, handler interface {
	AcquireHandler
	ReleaseHandler
}, logger zerolog.Logger) ([]*nats.Subscription, error) {
	acqSub, err := conn.QueueSubscribe(acquireSubject, coordinatorQueueGroup, func(msg *nats.Msg) {
		var args protocol.AcquireArgs
		if err := json.Unmarshal(msg.Data, &args); err != nil {
			logger.Warn().Err(err).Msg("malformed ACQUIRE payload")
			return
		}
		status := handler.Acquire(args.LockID, args.ClientID, args.XID)
		respondJSON(msg, protocol.AcquireReply{Status: status}, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe acquire: %w", err)
	}

	relSub, err := conn.QueueSubscribe(releaseSubject, coordinatorQueueGroup, func(msg *nats.Msg) {
		var args protocol.ReleaseArgs
		if err := json.Unmarshal(msg.Data, &args); err != nil {
			logger.Warn().Err(err).Msg("malformed RELEASE payload")
			return
		}
		status := handler.Release(args.LockID, args.ClientID, args.XID)
		respondJSON(msg, protocol.ReleaseReply{Status: status}, logger)
	})
	if err != nil {
		acqSub.Unsubscribe()
		return nil, fmt.Errorf("transport: subscribe release: %w", err)
	}

	return []*nats.Subscription{acqSub, relSub}, nil
}

// SubscribeClient wires REVOKE/RETRY delivery addressed to id to handler.
func SubscribeClient(conn *nats.Conn, id protocol.ClientID, handler interface {
	RevokeHandler
	RetryHandler
}, logger zerolog.Logger) ([]*nats.Subscription, error) {
	revSub, err := conn.Subscribe(clientSubject(id, "revoke"), func(msg *nats.Msg) {
		var args protocol.RevokeArgs
		if err := json.Unmarshal(msg.Data, &args); err != nil {
			logger.Warn().Err(err).Msg("malformed REVOKE payload")
			return
		}
		status := handler.HandleRevoke(args.LockID, args.XID)
		respondJSON(msg, protocol.RevokeReply{Status: status}, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe revoke: %w", err)
	}

	retSub, err := conn.Subscribe(clientSubject(id, "retry"), func(msg *nats.Msg) {
		var args protocol.RetryArgs
		if err := json.Unmarshal(msg.Data, &args); err != nil {
			logger.Warn().Err(err).Msg("malformed RETRY payload")
			return
		}
		status := handler.HandleRetry(args.LockID, args.XID, args.Wait)
		respondJSON(msg, protocol.RetryReply{Status: status}, logger)
	})
	if err != nil {
		revSub.Unsubscribe()
		return nil, fmt.Errorf("transport: subscribe retry: %w", err)
	}

	return []*nats.Subscription{revSub, retSub}, nil
}

func requestJSON(ctx context.Context, conn *nats.Conn, subject string, args any, reply any, timeout time.Duration) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("transport: encoding request: %w", err)
	}

	rctx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := conn.RequestWithContext(rctx, subject, payload)
	if err != nil {
		return fmt.Errorf("transport: request to %s: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return fmt.Errorf("transport: decoding reply from %s: %w", subject, err)
	}
	return nil
}

func respondJSON(msg *nats.Msg, reply any, logger zerolog.Logger) {
	payload, err := json.Marshal(reply)
	if err != nil {
		logger.Error().Err(err).Msg("encoding RPC reply")
		return
	}
	if err := msg.Respond(payload); err != nil {
		logger.Debug().Err(err).Msg("responding to RPC (requester likely gone)")
	}
}
