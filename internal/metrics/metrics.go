// Package metrics exposes Prometheus counters/gauges for the delay proxy,
// plus lock-free local mirrors for periodic log-based reporting when no
// Prometheus scraper is present.
//
// Grounded on the teacher's internal/metrics package: same StartHTTP/
// Snapshot/local-atomic-mirror shape, re-labeled for the delay-proxy
// domain (produced/consumed/dropped/guard-timeouts/queue-depth instead
// of CAN rx/tx/hub counters).
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/dschor5/delayproxy/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reason label values (bounded cardinality).
const (
	ReasonCrcMismatch   = "crc_mismatch"
	ReasonInvalidLength = "invalid_length"
	ReasonTruncated     = "truncated"
	ReasonEmptyPayload  = "empty_payload"
	ReasonOversize      = "oversize_payload"
	ReasonGuardTimeout  = "guard_timeout"
)

// Guard label values.
const (
	GuardQueue        = "queue"
	GuardDelaySetting = "delay_setting"
)

// I/O error classification labels, mirroring the teacher's mapErrToMetric
// label set (tcp read/write, accept, context cancellation) re-homed to the
// ingress/egress endpoints instead of a single CAN/serial link.
const (
	IOErrTCPRead  = "tcp_read"
	IOErrTCPWrite = "tcp_write"
	IOErrAccept   = "accept"
	IOErrContext  = "context_cancelled"
	IOErrOther    = "other"
)

var (
	ProducedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "produced_frames_total",
		Help: "Total frames pushed onto the delay queue by the producer task.",
	})
	ConsumedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumed_frames_total",
		Help: "Total frames popped off the delay queue and broadcast by the consumer task.",
	})
	DroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dropped_frames_total",
		Help: "Total frames dropped, labeled by reason.",
	}, []string{"reason"})
	GuardTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_timeouts_total",
		Help: "Total bounded-wait guard acquisitions that timed out, labeled by guard.",
	}, []string{"guard"})
	DelayQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delay_queue_length",
		Help: "Current number of entries held in the delay queue.",
	})
	DelayHoldSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delay_hold_seconds",
		Help: "Current effective hold time in seconds.",
	})
	TCPAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_accept_total",
		Help: "Total TCP connections accepted, labeled by endpoint (ingress|egress).",
	}, []string{"endpoint"})
	TCPDisconnected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_disconnect_total",
		Help: "Total TCP connections that disconnected, labeled by endpoint (ingress|egress).",
	}, []string{"endpoint"})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of egress clients targeted in the most recent broadcast.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total frames dropped by the egress hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total egress clients disconnected due to the backpressure kick policy.",
	})
	HubClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_clients",
		Help: "Current number of connected egress clients.",
	})
	IOErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "io_errors_total",
		Help: "Total endpoint I/O errors, labeled by classified kind.",
	}, []string{"kind"})
	RejectedClients = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rejected_clients_total",
		Help: "Total connections rejected for exceeding max-clients, labeled by endpoint.",
	}, []string{"endpoint"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Local mirrored counters, updated alongside the Prometheus series, for
// cheap in-process logging without scraping.
var (
	localProduced     uint64
	localConsumed     uint64
	localDropped      uint64
	localGuardTimeout uint64
)

// Snapshot is a cheap, instantaneous copy of the local counters.
type Snapshot struct {
	Produced     uint64
	Consumed     uint64
	Dropped      uint64
	GuardTimeout uint64
	QueueLength  int
	HoldSeconds  float64
}

// Snap returns the current local counter values.
func Snap() Snapshot {
	return Snapshot{
		Produced:     atomic.LoadUint64(&localProduced),
		Consumed:     atomic.LoadUint64(&localConsumed),
		Dropped:      atomic.LoadUint64(&localDropped),
		GuardTimeout: atomic.LoadUint64(&localGuardTimeout),
	}
}

// SnapWith returns Snap() with queueLength/holdSeconds filled in; those two
// values live in the queue/delay setting, not here.
func SnapWith(queueLength int, holdSeconds float64) Snapshot {
	s := Snap()
	s.QueueLength = queueLength
	s.HoldSeconds = holdSeconds
	return s
}

func IncProduced() {
	ProducedFrames.Inc()
	atomic.AddUint64(&localProduced, 1)
}

func IncConsumed() {
	ConsumedFrames.Inc()
	atomic.AddUint64(&localConsumed, 1)
}

func IncDropped(reason string) {
	DroppedFrames.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localDropped, 1)
}

func IncGuardTimeout(guard string) {
	GuardTimeouts.WithLabelValues(guard).Inc()
	atomic.AddUint64(&localGuardTimeout, 1)
}

func SetQueueLength(n int)              { DelayQueueLength.Set(float64(n)) }
func SetHoldSeconds(s float64)          { DelayHoldSeconds.Set(s) }
func IncTCPAccept(endpoint string)      { TCPAccepted.WithLabelValues(endpoint).Inc() }
func IncTCPDisconnect(endpoint string)  { TCPDisconnected.WithLabelValues(endpoint).Inc() }
func SetBroadcastFanout(n int)          { HubBroadcastFanout.Set(float64(n)) }
func IncHubDrop()                       { HubDroppedFrames.Inc() }
func IncHubKick()                       { HubKickedClients.Inc() }
func SetHubClients(n int)               { HubClients.Set(float64(n)) }
func IncIOError(kind string)            { IOErrors.WithLabelValues(kind).Inc() }
func IncRejectedClient(endpoint string) { RejectedClients.WithLabelValues(endpoint).Inc() }

// InitBuildInfo sets the build info gauge and pre-registers drop/guard
// label series so the first occurrence doesn't pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, reason := range []string{
		ReasonCrcMismatch, ReasonInvalidLength, ReasonTruncated,
		ReasonEmptyPayload, ReasonOversize, ReasonGuardTimeout,
	} {
		DroppedFrames.WithLabelValues(reason).Add(0)
	}
	for _, guard := range []string{GuardQueue, GuardDelaySetting} {
		GuardTimeouts.WithLabelValues(guard).Add(0)
	}
	for _, kind := range []string{IOErrTCPRead, IOErrTCPWrite, IOErrAccept, IOErrContext, IOErrOther} {
		IOErrors.WithLabelValues(kind).Add(0)
	}
	for _, endpoint := range []string{"ingress", "egress"} {
		RejectedClients.WithLabelValues(endpoint).Add(0)
	}
}

// NewMux returns an HTTP mux with /metrics and /ready registered, so
// callers (e.g. the status GUI websocket) can add routes before serving.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	return mux
}

// StartHTTP serves mux (built with NewMux, optionally extended) at addr.
func StartHTTP(addr string, mux *http.ServeMux) *http.Server {
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
