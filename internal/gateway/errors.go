package gateway

import "errors"

var (
	// ErrGatewayNotStopped is returned by Start while the public and admin
	// listeners are starting, serving or draining.
	ErrGatewayNotStopped = errors.New("gqlguard gateway is already started")

	// ErrGatewayNotRunning is returned by Stop unless both listeners are
	// serving.
	ErrGatewayNotRunning = errors.New("gqlguard gateway is not serving")

	// ErrNilConfig is returned by New and Reload when no GuardConfig is given.
	ErrNilConfig = errors.New("guard configuration is required")

	// ErrInvalidConfig wraps validation failures of a GuardConfig and route
	// table errors found while building admission state.
	ErrInvalidConfig = errors.New("invalid guard configuration")
)
