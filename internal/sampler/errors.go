package sampler

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

// Sentinel errors the control-protocol boundary wraps with fmt.Errorf's
// %w (spec section 7).
var (
	ErrUnknownEngine    = errors.New("sampler: unknown engine type")
	ErrUnknownChannel   = errors.New("sampler: unknown channel")
	ErrNoChannelSlot    = errors.New("sampler: no channel id available")
	ErrDeviceBound      = errors.New("sampler: device already bound")
	ErrUnknownDriver    = errors.New("sampler: unknown driver")
	ErrInstrumentLoad   = errors.New("sampler: instrument load failed")
)

// ErrorHandler receives control-thread errors the caller chose not to
// propagate (e.g. a failed background Reset stage). A nil ErrorHandler is
// valid; Sampler falls back to DefaultErrorHandler.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs at Warn level through charmbracelet/log, the
// structured logger the rest of the ambient stack uses (the teacher's own
// DefaultErrorHandler just did fmt.Printf behind a literal
// "TODO: Replace with proper logging framework").
type DefaultErrorHandler struct{}

func (DefaultErrorHandler) HandleError(err error) {
	log.With("component", "sampler").Warn("unhandled error", "err", err)
}

// PanicErrorHandler panics on any error; useful in tests and short-lived
// CLI invocations that want a hard failure instead of a logged warning.
type PanicErrorHandler struct{}

func (PanicErrorHandler) HandleError(err error) {
	panic(fmt.Sprintf("sampler: %v", err))
}
