package model

import (
	"errors"
	"fmt"
)

// Error kinds shared by the fetch, compute and HTTP layers.
// Callers classify with errors.Is; wrapping with %w keeps the kind.
var (
	// ErrUpstreamUnavailable covers transport and HTTP failures talking to a candle source.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedPayload is an unexpected upstream response shape.
	// It is treated as ErrUpstreamUnavailable.
	ErrMalformedPayload = fmt.Errorf("%w: malformed upstream payload", ErrUpstreamUnavailable)

	// ErrUnknownSymbol is returned when the upstream rejects a symbol.
	ErrUnknownSymbol = fmt.Errorf("%w: unknown symbol", ErrUpstreamUnavailable)

	// ErrInsufficientData means there were not enough candles to fill an indicator window.
	ErrInsufficientData = errors.New("not enough data")

	// ErrInvalidParam is a rejected query parameter.
	ErrInvalidParam = errors.New("invalid parameter")
)

// Kind names the error family of err for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParam):
		return "invalid_param"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream"
	default:
		return "internal"
	}
}
