package analysis

import "errors"

// Analysis errors. Only ErrOperationNotFound is recoverable. ErrParse is a
// client error. The rest indicate an internally inconsistent document or
// schema and are surfaced by callers as "could not calculate".
var (
	// ErrOperationNotFound is returned when the requested operation is absent,
	// or when no name is given and the document does not hold exactly one operation.
	ErrOperationNotFound = errors.New("missing operation")

	// ErrParse is returned when the operation or schema text cannot be parsed.
	ErrParse = errors.New("invalid GraphQL document")

	// ErrRootTypeNotFound is returned when no object type matches the operation kind.
	ErrRootTypeNotFound = errors.New("root type not found")

	// ErrFragmentNotFound is returned by the cost walker for a spread of an undeclared fragment.
	ErrFragmentNotFound = errors.New("fragment not found")

	// ErrFragmentCycle is returned when a fragment spreads itself along one path.
	ErrFragmentCycle = errors.New("fragment cycle")

	// ErrRecursionLimit is returned when selection nesting exceeds the walker's ceiling.
	ErrRecursionLimit = errors.New("selection nesting exceeds recursion limit")

	// ErrCostOverflow is returned when a cost sum does not fit in a Cost.
	ErrCostOverflow = errors.New("operation cost overflow")
)

// IsRecoverable reports whether err is one the caller may choose to pass through.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrOperationNotFound)
}

// IsClientError reports whether err is caused by the request document
// itself rather than by the analyzer's configuration.
func IsClientError(err error) bool {
	return errors.Is(err, ErrParse) || errors.Is(err, ErrOperationNotFound)
}
