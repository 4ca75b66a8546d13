package routingports

import "errors"

// Error taxonomy shared across the router, the store, and the workflow
// engine. Store failures are fatal to the current operation and surfaced;
// the other two are recoverable and reported as normal negative results.
var (
	// ErrStoreIO marks the durable medium as unavailable or corrupt.
	// Callers treat it as "this turn's context is not durably recorded",
	// never as a process-fatal condition.
	ErrStoreIO = errors.New("session store unavailable")

	// ErrNotFound marks an absent target, session, or record.
	ErrNotFound = errors.New("not found")

	// ErrUnknownIntent marks a request for which no tool is registered.
	ErrUnknownIntent = errors.New("unknown intent")

	// ErrRateLimited marks a request rejected by admission control.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// KindForError maps taxonomy errors onto the ToolResult error kinds.
func KindForError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrStoreIO):
		return ErrorKindStoreIO
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrUnknownIntent):
		return ErrorKindUnknownIntent
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	default:
		return ErrorKindInternal
	}
}
