// Package proxy implements the proxy orchestrator (spec C6): the state
// machine that owns one ingress endpoint (producer), one egress endpoint
// (consumer), and the delay queue bridging them.
//
// Grounded on the teacher's internal/server.Server: functional-options
// construction, a ready/error surface, and a Shutdown that force-closes
// resources and waits on a sync.WaitGroup under a deadline. The producer/
// consumer task pair and the IDLE/RUNNING/STOPPING state machine are new,
// grounded on _examples/original_source/delay_server/delay_server/delay/proxy.py.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dschor5/delayproxy/internal/delaysetting"
	"github.com/dschor5/delayproxy/internal/endpoint"
	"github.com/dschor5/delayproxy/internal/hub"
	"github.com/dschor5/delayproxy/internal/logging"
	"github.com/dschor5/delayproxy/internal/metrics"
	"github.com/dschor5/delayproxy/internal/queue"
)

// State is one of the proxy's lifecycle states.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	defaultClientBufSize      = 512
	defaultConsumerPoll       = 10 * time.Millisecond
	defaultStopTimeout        = 500 * time.Millisecond
	defaultIngressFrameBuffer = 256
)

// Proxy bridges an ingress TCP port to an egress TCP port through a delay
// queue, enforcing the configured hold time on every message in between.
type Proxy struct {
	mu    sync.Mutex
	state atomic.Int32

	delay             *delaysetting.Setting
	queue             *queue.Queue
	hub               *hub.Hub
	logger            *slog.Logger
	clientBufSize     int
	consumerPoll      time.Duration
	stopTimeout       time.Duration
	acceptTimeout     time.Duration
	maxClients        int
	queueGuardTimeout time.Duration
	dropHook          func(reason, remote string)

	ingress *endpoint.Ingress
	egress  *endpoint.Egress
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	produced atomic.Uint64
	consumed atomic.Uint64
	dropped  atomic.Uint64
}

// Option configures a Proxy at construction time.
type Option func(*Proxy)

// WithDelaySetting supplies the shared delay setting the queue consults on
// every pop. If omitted, New creates a private one with no override (hold
// time zero).
func WithDelaySetting(s *delaysetting.Setting) Option {
	return func(p *Proxy) { p.delay = s }
}

// WithLogger overrides the default process logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithHubPolicy sets the egress backpressure policy (default PolicyDrop).
func WithHubPolicy(policy hub.Policy) Option {
	return func(p *Proxy) { p.hub = hub.New(policy) }
}

// WithClientBufSize sets each egress client's outbound buffer size.
func WithClientBufSize(n int) Option {
	return func(p *Proxy) {
		if n > 0 {
			p.clientBufSize = n
		}
	}
}

// WithConsumerPollInterval sets how often the consumer task checks the
// queue head against the current hold time.
func WithConsumerPollInterval(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.consumerPoll = d
		}
	}
}

// WithStopTimeout sets how long Stop waits for the producer/consumer tasks
// to drain before force-closing endpoints regardless.
func WithStopTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.stopTimeout = d
		}
	}
}

// WithAcceptTimeout sets the ingress/egress listener accept-retry interval
// (spec §4.7's accept-timeout knob), passed through to both endpoints.
func WithAcceptTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.acceptTimeout = d
		}
	}
}

// WithMaxClients caps the number of simultaneous connections each of the
// ingress and egress endpoints will accept (spec §4.7's max-clients
// knob); additional connections are rejected and closed immediately.
// n <= 0 means unlimited, matching the teacher's own maxClients == 0
// convention.
func WithMaxClients(n int) Option {
	return func(p *Proxy) { p.maxClients = n }
}

// WithQueueGuardTimeout sets how long the delay queue waits to acquire
// its internal guard before giving up (spec §4.7's guard-timeout-queue
// knob).
func WithQueueGuardTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.queueGuardTimeout = d
		}
	}
}

// WithDropHook registers fn to be called whenever a frame is dropped,
// from either the ingress decode path or the queue-push-failure path
// (spec §4.11/§7's per-frame drop event publication). fn must not block.
func WithDropHook(fn func(reason, remote string)) Option {
	return func(p *Proxy) { p.dropHook = fn }
}

// New constructs an idle Proxy. Call Start to begin serving.
func New(opts ...Option) *Proxy {
	p := &Proxy{
		delay:             delaysetting.New(),
		hub:               hub.New(hub.PolicyDrop),
		logger:            logging.L(),
		clientBufSize:     defaultClientBufSize,
		consumerPoll:      defaultConsumerPoll,
		stopTimeout:       defaultStopTimeout,
		acceptTimeout:     endpoint.DefaultAcceptTimeout,
		queueGuardTimeout: queue.DefaultAcquireTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	p.queue = queue.NewWithTimeout(p.delay, p.queueGuardTimeout)
	return p
}

// State returns the proxy's current lifecycle state.
func (p *Proxy) State() State { return State(p.state.Load()) }

// QueueLength returns the current delay queue size (diagnostic).
func (p *Proxy) QueueLength() (int, error) { return p.queue.Length() }

// IngressAddr returns the bound ingress listener address. Only meaningful
// while running; useful in tests that Start with port 0.
func (p *Proxy) IngressAddr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ingress == nil {
		return nil
	}
	return p.ingress.Addr()
}

// EgressAddr returns the bound egress listener address. Only meaningful
// while running; useful in tests that Start with port 0.
func (p *Proxy) EgressAddr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.egress == nil {
		return nil
	}
	return p.egress.Addr()
}

// Counters is a point-in-time snapshot of the proxy's lifetime counters.
type Counters struct {
	Produced uint64
	Consumed uint64
	Dropped  uint64
}

// Counters returns the current produced/consumed/dropped totals.
func (p *Proxy) Counters() Counters {
	return Counters{
		Produced: p.produced.Load(),
		Consumed: p.consumed.Load(),
		Dropped:  p.dropped.Load(),
	}
}

// Start opens the ingress and egress listeners and begins the producer and
// consumer tasks. Only legal from StateIdle; returns ErrAlreadyRunning
// otherwise. On any bind failure the proxy is left in StateIdle.
func (p *Proxy) Start(ingressPort, egressPort int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if State(p.state.Load()) != StateIdle {
		return ErrAlreadyRunning
	}

	if _, err := p.queue.Clear(); err != nil {
		return fmt.Errorf("%w: clear queue: %v", ErrStartFailed, err)
	}

	ingressLn, err := endpoint.Listen(fmt.Sprintf(":%d", ingressPort))
	if err != nil {
		return fmt.Errorf("%w: ingress: %v", ErrStartFailed, err)
	}
	egressLn, err := endpoint.Listen(fmt.Sprintf(":%d", egressPort))
	if err != nil {
		_ = ingressLn.Close()
		return fmt.Errorf("%w: egress: %v", ErrStartFailed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	frames := make(chan []byte, defaultIngressFrameBuffer)
	p.ingress = endpoint.NewIngress(ingressLn, frames, p.acceptTimeout, p.maxClients)
	p.egress = endpoint.NewEgress(egressLn, p.hub, p.clientBufSize, p.acceptTimeout, p.maxClients)
	if p.dropHook != nil {
		p.ingress.SetDropHook(p.dropHook)
	}

	p.produced.Store(0)
	p.consumed.Store(0)
	p.dropped.Store(0)

	p.wg.Add(4)
	go func() { defer p.wg.Done(); _ = p.ingress.Serve(ctx) }()
	go func() { defer p.wg.Done(); _ = p.egress.Serve(ctx) }()
	go p.runProducer(ctx, frames)
	go p.runConsumer(ctx)

	p.state.Store(int32(StateRunning))
	p.logger.Info("proxy_started", "ingress_port", ingressPort, "egress_port", egressPort)
	return nil
}

func (p *Proxy) runProducer(ctx context.Context, frames <-chan []byte) {
	defer p.wg.Done()
	for {
		select {
		case body := <-frames:
			if _, err := p.queue.Push(body); err != nil {
				p.dropped.Add(1)
				metrics.IncDropped(metrics.ReasonGuardTimeout)
				p.logger.Warn("queue_push_failed", "error", err)
				if p.dropHook != nil {
					p.dropHook(metrics.ReasonGuardTimeout, "")
				}
				continue
			}
			p.produced.Add(1)
			metrics.IncProduced()
		case <-ctx.Done():
			p.logger.Info("producer_stopped", "produced", p.produced.Load())
			return
		}
	}
}

func (p *Proxy) runConsumer(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.consumerPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("consumer_stopped", "consumed", p.consumed.Load())
			return
		case <-ticker.C:
			body, err := p.queue.Pop()
			if err != nil {
				p.logger.Warn("queue_pop_failed", "error", err)
				continue
			}
			if body == nil {
				continue
			}
			p.hub.Broadcast(body)
			p.consumed.Add(1)
			metrics.IncConsumed()
		}
	}
}

// Stop idempotently halts the proxy: it signals both tasks, waits up to
// stopTimeout for them to drain, then force-closes both endpoints
// regardless (which unblocks any task still parked in a syscall) before
// transitioning back to StateIdle.
func (p *Proxy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if State(p.state.Load()) == StateIdle {
		return
	}
	p.state.Store(int32(StateStopping))
	p.cancel()

	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(p.stopTimeout):
		p.logger.Warn("proxy_stop_timeout", "timeout", p.stopTimeout)
	}

	_ = p.ingress.Close()
	_ = p.egress.Close()

	counters := p.Counters()
	p.logger.Info("proxy_stopped", "produced", counters.Produced, "consumed", counters.Consumed, "dropped", counters.Dropped)
	p.state.Store(int32(StateIdle))
}

// SetDropHook registers fn to be called whenever a frame is dropped. Safe
// to call before Start, when the caller's hook itself depends on the
// proxy having already been constructed (e.g. a status-bus publisher
// built from p.QueueLength/p.Counters/p.State) and so couldn't be
// supplied as a WithDropHook construction option.
func (p *Proxy) SetDropHook(fn func(reason, remote string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropHook = fn
	if p.ingress != nil {
		p.ingress.SetDropHook(fn)
	}
}

// DelaySetting returns the shared delay setting this proxy consults.
func (p *Proxy) DelaySetting() *delaysetting.Setting { return p.delay }
