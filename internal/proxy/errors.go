package proxy

import "errors"

// Sentinel errors surfaced from Start/Stop.
var (
	ErrAlreadyRunning = errors.New("proxy: already running")
	ErrNotRunning     = errors.New("proxy: not running")
	ErrStartFailed    = errors.New("proxy: start failed")
)
