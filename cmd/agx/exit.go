package main

import (
	"errors"
	"fmt"

	"github.com/haricheung/agx/internal/agq"
	"github.com/haricheung/agx/internal/app"
	"github.com/haricheung/agx/internal/job"
	"github.com/haricheung/agx/internal/plan"
	"github.com/haricheung/agx/internal/planner"
)

// Process exit codes.
const (
	exitOK        = 0
	exitGeneric   = 1
	exitInvalid   = 2 // parse or validation failure, bad usage
	exitTransport = 3 // could not complete the exchange with AGQ
	exitRemote    = 4 // AGQ answered with a rejection
	exitUnknown   = 5 // request may or may not have been applied
)

// usageError marks bad command-line usage.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// exitCode classifies err.
//
// Expectations:
//   - TransportError is checked before RemoteError, so a rejected AUTH maps to transport
//   - A TransportError whose outcome is unknown maps to exitUnknown
//   - Parse, validation and usage errors map to exitInvalid
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var (
		te *agq.TransportError
		re *agq.RemoteError
		pe *plan.ParseError
		ve *job.ValidationError
		ue usageError
	)
	switch {
	case errors.As(err, &te):
		if te.OutcomeUnknown() {
			return exitUnknown
		}
		return exitTransport
	case errors.As(err, &re), errors.Is(err, agq.ErrNotFound):
		return exitRemote
	case errors.Is(err, agq.ErrUnexpectedReply):
		return exitTransport
	case errors.As(err, &pe), errors.As(err, &ve), errors.As(err, &ue),
		errors.Is(err, planner.ErrEmptyInstruction), errors.Is(err, planner.ErrInstructionTooLong),
		errors.Is(err, agq.ErrInvalidPlanID), errors.Is(err, app.ErrEmptyPlan), errors.Is(err, app.ErrStepOutOfRange):
		return exitInvalid
	default:
		return exitGeneric
	}
}
