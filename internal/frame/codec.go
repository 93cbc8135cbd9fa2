// Package frame implements the length+CRC framed packet codec (spec C2).
//
// Grounded on internal/cnl's bounded-read decode loop and
// internal/serial's malformed-frame accounting, generalized from CAN
// frames to opaque delay-proxy payloads.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dschor5/delayproxy/internal/crc16"
	"github.com/dschor5/delayproxy/internal/metrics"
	"github.com/dschor5/delayproxy/internal/packet"
)

// Codec encodes/decodes framed packets. Stateless and safe for concurrent use.
type Codec struct{}

// Encode packs body into a single frame: header + body + CRC footer.
// body must be 1..MaxBodySize bytes.
func (Codec) Encode(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, packet.ErrEmptyPayload
	}
	if len(body) > packet.MaxBodySize {
		return nil, packet.ErrOversizePayload
	}
	length := uint32(len(body) + packet.FooterSize)
	buf := make([]byte, packet.HeaderSize+len(body)+packet.FooterSize)
	binary.BigEndian.PutUint32(buf[:packet.HeaderSize], length)
	copy(buf[packet.HeaderSize:], body)
	seed := crc16.Sum(buf[:packet.HeaderSize])
	crc := crc16.Sum(body, seed)
	binary.BigEndian.PutUint16(buf[packet.HeaderSize+len(body):], crc)
	return buf, nil
}

// Decode reads exactly one frame from r: a bounded 4-byte header read
// followed by a bounded `length`-byte read. It never blocks on an
// unbounded amount of data.
func (Codec) Decode(r io.Reader) ([]byte, error) {
	var hdr [packet.HeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, packet.ErrEndOfStream
		}
		return nil, fmt.Errorf("%w: header %w", packet.ErrTruncated, err)
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length < packet.MinLength || length > packet.MaxLength {
		metrics.IncDropped(metrics.ReasonInvalidLength)
		return nil, packet.ErrInvalidLength
	}

	rest := make([]byte, length)
	if _, err := io.ReadFull(r, rest); err != nil {
		metrics.IncDropped(metrics.ReasonTruncated)
		return nil, fmt.Errorf("%w: body %w", packet.ErrTruncated, err)
	}

	bodyLen := int(length) - packet.FooterSize
	body := rest[:bodyLen]
	trailerCRC := binary.BigEndian.Uint16(rest[bodyLen:])

	seed := crc16.Sum(hdr[:])
	calc := crc16.Sum(body, seed)
	if calc != trailerCRC {
		metrics.IncDropped(metrics.ReasonCrcMismatch)
		return nil, packet.ErrCrcMismatch
	}
	return body, nil
}
