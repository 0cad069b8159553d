package providers

import "errors"

// Adapter error kinds. Adapters wrap their failures in exactly one of these
// so the orchestrator can decide between retrying and failing outright.
var (
	// ErrUnavailable marks a transient source failure (network error, rate
	// limit, temporarily malformed response). Retryable.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrNotFound marks a series or unit that does not exist at the source.
	// Not retryable.
	ErrNotFound = errors.New("not found at provider")
)

// Unavailable reports whether err is a transient provider failure.
func Unavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// NotFound reports whether err is a terminal missing-content failure.
func NotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
