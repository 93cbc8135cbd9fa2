//go:build windows

package endpoint

import "syscall"

// reuseAddrControl is a no-op on windows: SO_REUSEADDR has different,
// unsafe-to-default-on semantics there (silent port hijacking).
func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
