// Package metrics exposes Prometheus collectors for the lock service, in
// the same style as the teacher's ws/metrics.go: package-level collectors
// registered once in init(), thin wrapper types with Record*/Set* methods
// so callers never touch a prometheus.Counter directly.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	acquireGranted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_acquire_granted_total",
		Help: "Total ACQUIRE calls granted immediately (lock was FREE).",
	})
	acquireQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_acquire_queued_total",
		Help: "Total ACQUIRE calls that queued the caller as a waiter.",
	})
	duplicateAcquire = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_acquire_duplicate_total",
		Help: "Total ACQUIRE calls ignored as a duplicate from the current owner.",
	})
	staleRelease = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_release_stale_total",
		Help: "Total RELEASE calls ignored due to owner/xid mismatch.",
	})
	droppedNotPrimary = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_sender_dropped_not_primary_total",
		Help: "Total outbound RPCs dropped because this replica is not primary.",
	})
	sendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockd_sender_failures_total",
		Help: "Total outbound RPC failures by kind.",
	}, []string{"kind"})
	waiters = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lockd_lock_waiters",
		Help: "Current number of waiters queued for a given lock.",
	}, []string{"lock_id"})
	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lockd_rpc_queue_depth",
		Help: "Current depth of an outbound RPC queue.",
	}, []string{"side"})

	localAcquires = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_client_local_acquire_total",
		Help: "Total client acquires satisfied without an RPC (local reuse).",
	})
	remoteAcquires = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_client_remote_acquire_total",
		Help: "Total client acquires that required an ACQUIRE RPC.",
	})
	revokesHandled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_client_revokes_handled_total",
		Help: "Total REVOKE notifications handled by the client cache.",
	})
	retriesHandled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_client_retries_handled_total",
		Help: "Total RETRY notifications handled by the client cache.",
	})
)

func init() {
	prometheus.MustRegister(
		acquireGranted,
		acquireQueued,
		duplicateAcquire,
		staleRelease,
		droppedNotPrimary,
		sendFailures,
		waiters,
		queueDepth,
		localAcquires,
		remoteAcquires,
		revokesHandled,
		retriesHandled,
	)
}

// Handler returns the HTTP handler Prometheus scrapes.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Coordinator wraps the server-side collectors.
type Coordinator struct{}

// NewCoordinator returns a Coordinator metrics recorder.
func NewCoordinator() *Coordinator { return &Coordinator{} }

func (c *Coordinator) RecordAcquireGranted()   { acquireGranted.Inc() }
func (c *Coordinator) RecordAcquireQueued()     { acquireQueued.Inc() }
func (c *Coordinator) RecordDuplicateAcquire()  { duplicateAcquire.Inc() }
func (c *Coordinator) RecordStaleRelease()      { staleRelease.Inc() }
func (c *Coordinator) RecordDroppedNotPrimary() { droppedNotPrimary.Inc() }

func (c *Coordinator) RecordSendFailure(kind string) {
	sendFailures.WithLabelValues(kind).Inc()
}

func (c *Coordinator) SetWaiters(lockID uint64, n int) {
	waiters.WithLabelValues(strconv.FormatUint(lockID, 10)).Set(float64(n))
}

func (c *Coordinator) SetQueueDepth(n int) {
	queueDepth.WithLabelValues("server").Set(float64(n))
}

// Cache wraps the client-side collectors.
type Cache struct{}

// NewCache returns a Cache metrics recorder.
func NewCache() *Cache { return &Cache{} }

func (c *Cache) RecordLocalAcquire()  { localAcquires.Inc() }
func (c *Cache) RecordRemoteAcquire() { remoteAcquires.Inc() }
func (c *Cache) RecordRevoke()        { revokesHandled.Inc() }
func (c *Cache) RecordRetry()         { retriesHandled.Inc() }

func (c *Cache) SetQueueDepth(n int) {
	queueDepth.WithLabelValues("client").Set(float64(n))
}
