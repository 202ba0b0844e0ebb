package conversation

import "errors"

// Errors returned by the engine. All of them are scoped to one session key;
// none is fatal to the process.
var (
	// ErrInputFormat: non-numeric or out-of-range operator input. The
	// operator is re-prompted and the session is unchanged.
	ErrInputFormat = errors.New("invalid input")
	// ErrOrdering: input arrived in the wrong order, e.g. a counter end
	// below the start reading.
	ErrOrdering = errors.New("input out of order")
	// ErrNothingToRecord: a finish was requested but no water was measured.
	ErrNothingToRecord = errors.New("no water measured")
	// ErrAlreadyApplied: the plot already has an applied depth for the day.
	ErrAlreadyApplied = errors.New("irrigation already recorded")
	// ErrUpstreamUnavailable: the store could not be reached. A mid-flow
	// session is preserved.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotEligible: no requirement exists for the plot and day.
	ErrNotEligible = errors.New("no irrigation requirement")
	ErrStaleTimer  = errors.New("stale timer fire")
	ErrNoSession   = errors.New("no active session")
	// ErrBusy: the finishing write of the session is in flight.
	ErrBusy = errors.New("session is saving")
)
