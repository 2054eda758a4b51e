package model

import (
	"errors"
	"fmt"
)

// SchemaError reports a malformed inter-role message. The message must
// not be processed at all; the error names the offending field.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: field %q %s", e.Field, e.Reason)
}

// ExtractionError reports that no propositions could be extracted from
// the claim. The session aborts before any round runs.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "extraction: " + e.Reason
}

// DispatchError reports that round planning had nothing to assign. It is
// fatal for the session and forces an immediate UNDETERMINED finalize.
type DispatchError struct {
	Round  int
	Reason string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch: round %d: %s", e.Round, e.Reason)
}

var (
	// ErrSessionNotFound is returned by the facade for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionAborted is returned when a result is requested for a
	// session cancelled mid-round.
	ErrSessionAborted = errors.New("session aborted")

	// ErrPending is returned by GetResult while rounds are still running.
	ErrPending = errors.New("session still running")
)
