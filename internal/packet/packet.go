// Package packet defines the wire packet shape shared by the frame codec
// and the framed endpoint: a length-prefixed, CRC-16 terminated message.
//
//	offset  size  field    encoding
//	  0      4    length   big-endian u32, len(body)+FooterSize, 3..1024
//	  4      L    body     opaque bytes, L = length-FooterSize
//	 4+L     2    crc      big-endian u16, CRC-16/CCITT-FALSE over [0, 4+L)
package packet

import "errors"

const (
	// HeaderSize is the size, in bytes, of the big-endian length field.
	HeaderSize = 4
	// FooterSize is the size, in bytes, of the trailing CRC-16 field.
	FooterSize = 2
	// MinLength is the smallest legal value of the length field (body >= 1 byte + footer).
	MinLength = 1 + FooterSize
	// MaxLength is the largest legal value of the length field.
	MaxLength = 1024
	// MaxBodySize is the largest body Encode will accept.
	MaxBodySize = MaxLength - FooterSize
)

// Sentinel errors for the frame codec and its callers. Per-frame receive
// failures (Truncated, InvalidLength, CrcMismatch) are always logged and
// the frame discarded; the connection is kept open.
var (
	ErrEmptyPayload    = errors.New("packet: empty payload")
	ErrOversizePayload = errors.New("packet: oversize payload")
	ErrTruncated       = errors.New("packet: truncated frame")
	ErrInvalidLength   = errors.New("packet: invalid length")
	ErrCrcMismatch     = errors.New("packet: crc mismatch")
	ErrEndOfStream     = errors.New("packet: end of stream")
)
