// Package endpoint implements the framed socket endpoint (spec C5): a TCP
// listener that accepts many clients and produces/consumes whole decoded
// frames.
//
// The source's multiplex tick is a single-threaded select() loop across
// the listener and every open connection, with a 10ms accept timeout.
// Go's idiomatic realization of that same contract is a goroutine per
// connection, the same shape as the teacher's internal/server reader/
// writer goroutines generalized from CAN frames to opaque payloads.
// Cancellation is by force-closing the listener and every open connection
// (as the teacher's Server.Shutdown does) rather than by polling a short
// deadline on every read: a short per-read deadline would time out in the
// middle of a multi-packet frame and desync the stream, which the
// select-based original never risked since it only ever acted on readable
// sockets. DefaultAcceptTimeout is the named constant the external
// interface (spec §6) calls for, applied to the listener's accept retry
// loop unless overridden per endpoint from config; per-connection reads
// use a longer idle safeguard deadline instead.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dschor5/delayproxy/internal/frame"
	"github.com/dschor5/delayproxy/internal/hub"
	"github.com/dschor5/delayproxy/internal/logging"
	"github.com/dschor5/delayproxy/internal/metrics"
	"github.com/dschor5/delayproxy/internal/packet"
)

// Sentinel errors, wrapped for errors.Is classification.
var (
	ErrListen = errors.New("endpoint: listen")
	ErrAccept = errors.New("endpoint: accept")
	ErrConnIO = errors.New("endpoint: conn io")
)

// DefaultAcceptTimeout is the accept-retry interval named by spec §6
// ("accept timeout defaults to 10 ms"); transient accept errors are
// retried after this interval rather than spinning. Overridable per
// endpoint via NewIngress/NewEgress (spec §4.7's accept-timeout knob).
const DefaultAcceptTimeout = 10 * time.Millisecond

// idleReadTimeout is a liveness safeguard on per-connection reads, not a
// cancellation mechanism — cancellation force-closes the connection
// directly so it takes effect mid-read instead of waiting out a timeout.
const idleReadTimeout = 60 * time.Second

// Listen opens a TCP listener on addr with SO_REUSEADDR set.
func Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListen, err)
	}
	return ln, nil
}

// Ingress accepts connections and decodes frames from all of them into a
// single shared channel.
type Ingress struct {
	listener      net.Listener
	frames        chan<- []byte
	logger        *slog.Logger
	acceptTimeout time.Duration
	maxClients    int
	dropHook      func(reason, remote string)

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// SetDropHook registers fn to be called, in addition to the existing
// metrics/log reporting, whenever a connection's frame is dropped for a
// decode failure. fn must not block; pass nil to disable (the default).
func (e *Ingress) SetDropHook(fn func(reason, remote string)) { e.dropHook = fn }

// NewIngress wraps an already-open listener; decoded frame bodies are sent
// to frames as they arrive. acceptTimeout <= 0 uses DefaultAcceptTimeout;
// maxClients <= 0 means unlimited simultaneous connections.
func NewIngress(ln net.Listener, frames chan<- []byte, acceptTimeout time.Duration, maxClients int) *Ingress {
	if acceptTimeout <= 0 {
		acceptTimeout = DefaultAcceptTimeout
	}
	return &Ingress{
		listener:      ln,
		frames:        frames,
		logger:        logging.L(),
		acceptTimeout: acceptTimeout,
		maxClients:    maxClients,
		conns:         make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ctx is cancelled or the listener errors.
// Each connection gets its own decode goroutine feeding the shared frames
// channel.
func (e *Ingress) Serve(ctx context.Context) error {
	go func() { <-ctx.Done(); _ = e.Close() }()
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(e.acceptTimeout)
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			metrics.IncIOError(mapErrToMetric(wrap))
			e.logger.Error("ingress_accept_error", "error", wrap)
			return wrap
		}
		e.mu.Lock()
		if e.maxClients > 0 && len(e.conns) >= e.maxClients {
			e.mu.Unlock()
			metrics.IncRejectedClient("ingress")
			e.logger.Warn("ingress_client_reject_max", "remote", conn.RemoteAddr().String(), "max_clients", e.maxClients)
			_ = conn.Close()
			continue
		}
		e.conns[conn] = struct{}{}
		e.mu.Unlock()
		metrics.IncTCPAccept("ingress")
		e.logger.Info("ingress_connected", "remote", conn.RemoteAddr().String())
		e.startReader(conn)
	}
}

func (e *Ingress) startReader(conn net.Conn) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.removeConn(conn)
		codec := frame.Codec{}
		for {
			_ = conn.SetReadDeadline(time.Now().Add(idleReadTimeout))
			body, err := codec.Decode(conn)
			if err != nil {
				if errors.Is(err, packet.ErrEndOfStream) || errors.Is(err, net.ErrClosed) {
					e.logger.Info("ingress_disconnected", "remote", conn.RemoteAddr().String())
					return
				}
				if errors.Is(err, packet.ErrInvalidLength) || errors.Is(err, packet.ErrCrcMismatch) || errors.Is(err, packet.ErrTruncated) {
					remote := conn.RemoteAddr().String()
					e.logger.Warn("ingress_frame_dropped", "remote", remote, "error", err)
					if e.dropHook != nil {
						e.dropHook(dropReason(err), remote)
					}
					continue
				}
				metrics.IncIOError(metrics.IOErrTCPRead)
				e.logger.Error("ingress_read_error", "remote", conn.RemoteAddr().String(), "error", err)
				return
			}
			// Block rather than drop if the shared channel is momentarily
			// full; the producer task always drains it promptly, and a
			// dropped decoded frame would make produced_count a lie.
			e.frames <- body
		}
	}()
}

func (e *Ingress) removeConn(conn net.Conn) {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	_ = conn.Close()
	metrics.IncTCPDisconnect("ingress")
}

// Addr returns the listener's bound address.
func (e *Ingress) Addr() net.Addr { return e.listener.Addr() }

// Close closes the listener and every open connection, then waits for
// reader goroutines to exit.
func (e *Ingress) Close() error {
	err := e.listener.Close()
	e.mu.Lock()
	for c := range e.conns {
		_ = c.Close()
	}
	e.mu.Unlock()
	e.wg.Wait()
	return err
}

// Egress accepts connections, registers each as a hub client, and forwards
// whatever the hub broadcasts to it, framed on the wire.
type Egress struct {
	listener      net.Listener
	hub           *hub.Hub
	bufSize       int
	logger        *slog.Logger
	acceptTimeout time.Duration
	maxClients    int

	mu    sync.Mutex
	conns map[net.Conn]*hub.Client
	wg    sync.WaitGroup
}

// NewEgress wraps an already-open listener; every accepted connection is
// registered with h and receives whatever h broadcasts. acceptTimeout
// <= 0 uses DefaultAcceptTimeout; maxClients <= 0 means unlimited
// simultaneous connections.
func NewEgress(ln net.Listener, h *hub.Hub, clientBufSize int, acceptTimeout time.Duration, maxClients int) *Egress {
	if acceptTimeout <= 0 {
		acceptTimeout = DefaultAcceptTimeout
	}
	return &Egress{
		listener:      ln,
		hub:           h,
		bufSize:       clientBufSize,
		logger:        logging.L(),
		acceptTimeout: acceptTimeout,
		maxClients:    maxClients,
		conns:         make(map[net.Conn]*hub.Client),
	}
}

// Serve accepts connections until ctx is cancelled or the listener errors.
func (e *Egress) Serve(ctx context.Context) error {
	go func() { <-ctx.Done(); _ = e.Close() }()
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(e.acceptTimeout)
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			metrics.IncIOError(mapErrToMetric(wrap))
			e.logger.Error("egress_accept_error", "error", wrap)
			return wrap
		}
		e.mu.Lock()
		if e.maxClients > 0 && len(e.conns) >= e.maxClients {
			e.mu.Unlock()
			metrics.IncRejectedClient("egress")
			e.logger.Warn("egress_client_reject_max", "remote", conn.RemoteAddr().String(), "max_clients", e.maxClients)
			_ = conn.Close()
			continue
		}
		e.mu.Unlock()
		metrics.IncTCPAccept("egress")
		e.logger.Info("egress_connected", "remote", conn.RemoteAddr().String())
		client := hub.NewClient(e.bufSize)
		e.hub.Add(client)
		e.mu.Lock()
		e.conns[conn] = client
		e.mu.Unlock()
		e.startWriter(conn, client)
	}
}

func (e *Egress) startWriter(conn net.Conn, client *hub.Client) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.removeConn(conn, client)
		codec := frame.Codec{}
		for {
			select {
			case payload := <-client.Out:
				if err := sendFrame(conn, codec, payload); err != nil {
					metrics.IncIOError(mapErrToMetric(err))
					e.logger.Warn("egress_write_error", "remote", conn.RemoteAddr().String(), "error", err)
					return
				}
			case <-client.Closed:
				return
			}
		}
	}()
}

func (e *Egress) removeConn(conn net.Conn, client *hub.Client) {
	e.hub.Remove(client)
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	_ = conn.Close()
	metrics.IncTCPDisconnect("egress")
}

// Addr returns the listener's bound address.
func (e *Egress) Addr() net.Addr { return e.listener.Addr() }

// Close closes the listener and every open connection, then waits for
// writer goroutines to exit.
func (e *Egress) Close() error {
	err := e.listener.Close()
	e.mu.Lock()
	for c := range e.conns {
		_ = c.Close()
	}
	e.mu.Unlock()
	e.wg.Wait()
	return err
}

// sendFrame encodes payload and writes it in full. Partial writes are
// surfaced as an error by the caller and logged as a warning, not retried
// here (spec §7).
func sendFrame(conn net.Conn, codec frame.Codec, payload []byte) error {
	buf, err := codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnIO, err)
	}
	n, err := conn.Write(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnIO, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short write %d/%d", ErrConnIO, n, len(buf))
	}
	return nil
}
