// Package statusgui serves the operator GUI's read-only status feed
// (spec A6) over raw WebSocket, grounded on github.com/pascaldekloe/websocket
// and its httpws.Upgrade helper.
package statusgui

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pascaldekloe/websocket"
	"github.com/pascaldekloe/websocket/httpws"
)

// StatusSnapshot is the JSON wire shape pushed to connected clients. It
// mirrors statusbus.Snapshot but is kept as an independent type so the
// two transports can evolve their encodings (CBOR vs JSON) without
// coupling their packages together.
type StatusSnapshot struct {
	Produced    uint64  `json:"produced"`
	Consumed    uint64  `json:"consumed"`
	Dropped     uint64  `json:"dropped"`
	QueueLength int     `json:"queue_length"`
	HoldSeconds float64 `json:"hold_seconds"`
	State       string  `json:"state"`
}

// UpgradeTimeout bounds the handshake write per httpws.Upgrade's timeout
// parameter.
const UpgradeTimeout = 5 * time.Second

// Handler upgrades GET /status/ws requests and pushes a JSON-encoded
// StatusSnapshot, produced by Source, on every tick of Interval until
// the client disconnects or the request context is cancelled.
type Handler struct {
	Source   func() StatusSnapshot
	Interval time.Duration
	Logger   *slog.Logger
}

// NewHandler constructs a Handler. source is called once per push.
func NewHandler(source func() StatusSnapshot, interval time.Duration, logger *slog.Logger) *Handler {
	return &Handler{Source: source, Interval: interval, Logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := httpws.Upgrade(w, r, nil, UpgradeTimeout)
	if err != nil {
		h.Logger.Warn("statusgui_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	interval := h.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.push(conn); err != nil {
				h.Logger.Info("statusgui_disconnected", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func (h *Handler) push(conn *websocket.Conn) error {
	snap := h.Source()
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	conn.WriteFinal(websocket.Text)
	_, err = conn.Write(b)
	return err
}

// RegisterAndRun attaches the handler to mux at "/status/ws" and starts
// no background goroutine of its own — each connection runs its own
// push loop inside ServeHTTP, so there is nothing to drain on shutdown
// beyond the http.Server's own Shutdown.
func (h *Handler) RegisterAndRun(mux *http.ServeMux) {
	mux.Handle("/status/ws", h)
}
