package endpoint

import (
	"context"
	"errors"

	"github.com/dschor5/delayproxy/internal/metrics"
	"github.com/dschor5/delayproxy/internal/packet"
)

// mapErrToMetric classifies a wrapped sentinel error into a bounded
// metrics label, the same shape as the teacher's internal/server
// mapErrToMetric, re-targeted at the ingress/egress sentinels instead of
// a single CAN/serial backend link.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.IOErrContext
	case errors.Is(err, ErrAccept):
		return metrics.IOErrAccept
	case errors.Is(err, ErrConnIO):
		return metrics.IOErrTCPWrite
	case errors.Is(err, ErrListen):
		return metrics.IOErrAccept
	default:
		return metrics.IOErrOther
	}
}

// dropReason classifies a frame decode failure into the same bounded
// label set internal/frame.Codec.Decode uses for metrics.IncDropped. A
// truncated header is reported as ReasonTruncated here, although Decode
// does not count it in metrics.
func dropReason(err error) string {
	switch {
	case errors.Is(err, packet.ErrInvalidLength):
		return metrics.ReasonInvalidLength
	case errors.Is(err, packet.ErrCrcMismatch):
		return metrics.ReasonCrcMismatch
	default:
		return metrics.ReasonTruncated
	}
}
