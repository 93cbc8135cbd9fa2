// Package delaysetting holds the configured hold time shared between the
// config loader, the proxy's control surface, and the delay queue.
//
// Grounded on _examples/original_source/delay_server/delay_server/delay/delay.py
// (CommDelay): a guard-protected override value with a stale-cache fallback
// when the guard can't be acquired in time, so a momentarily-contended
// setting never blocks the hot path.
package delaysetting

import (
	"time"

	"github.com/dschor5/delayproxy/internal/guard"
	"github.com/dschor5/delayproxy/internal/logging"
	"github.com/dschor5/delayproxy/internal/metrics"
)

// DefaultAcquireTimeout bounds how long Current/SetOverride/ClearOverride
// wait for the guard before falling back (Current) or failing
// (SetOverride/ClearOverride), unless overridden via NewWithTimeout
// (spec §4.7's guard-timeout-delay knob).
const DefaultAcquireTimeout = 500 * time.Millisecond

// Setting is the shared, guarded hold-time value. The zero value is not
// usable; construct with New or NewWithTimeout.
type Setting struct {
	g        *guard.Guard
	override *time.Duration
	cached   time.Duration
	acquireT time.Duration
}

// New returns a Setting with no override configured (hold time zero),
// using DefaultAcquireTimeout for guard acquisition.
func New() *Setting {
	return NewWithTimeout(DefaultAcquireTimeout)
}

// NewWithTimeout is New with an explicit guard acquire timeout, wired
// from the config surface's guard-timeout-delay knob.
func NewWithTimeout(acquireTimeout time.Duration) *Setting {
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &Setting{g: guard.New(), acquireT: acquireTimeout}
}

// SetOverride sets the hold time. Returns guard.ErrTimeout if the guard
// could not be acquired within the configured acquire timeout.
func (s *Setting) SetOverride(d time.Duration) error {
	release, err := s.g.Acquire(s.acquireT)
	if err != nil {
		metrics.IncGuardTimeout(metrics.GuardDelaySetting)
		logging.L().Warn("delay_setting_override_failed", "error", err)
		return err
	}
	defer release()
	s.override = &d
	s.cached = d
	logging.L().Info("delay_setting_override", "hold", d)
	return nil
}

// ClearOverride resets the hold time to zero. Returns guard.ErrTimeout if
// the guard could not be acquired within the configured acquire timeout.
func (s *Setting) ClearOverride() error {
	release, err := s.g.Acquire(s.acquireT)
	if err != nil {
		metrics.IncGuardTimeout(metrics.GuardDelaySetting)
		logging.L().Warn("delay_setting_clear_failed", "error", err)
		return err
	}
	defer release()
	s.override = nil
	s.cached = 0
	logging.L().Info("delay_setting_override_cleared")
	return nil
}

// Current returns the effective hold time. If the guard can't be acquired
// within the configured acquire timeout, it logs a warning and returns the
// last known value instead of failing the caller — the delay queue must
// never block on this.
func (s *Setting) Current() time.Duration {
	release, err := s.g.Acquire(s.acquireT)
	if err != nil {
		metrics.IncGuardTimeout(metrics.GuardDelaySetting)
		logging.L().Warn("delay_setting_using_cache", "error", err)
		return s.cached
	}
	defer release()
	var d time.Duration
	if s.override != nil {
		d = *s.override
	}
	s.cached = d
	metrics.SetHoldSeconds(d.Seconds())
	return d
}
