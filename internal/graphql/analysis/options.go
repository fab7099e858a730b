package analysis

import "github.com/vyrodovalexey/gqlguard/internal/observability"

// DefaultMaxRecursion bounds selection nesting, counting fragment and
// inline-fragment levels, independently of any configured depth limit.
const DefaultMaxRecursion = 512

type options struct {
	logger       observability.Logger
	maxRecursion int
}

// Option configures the analyzers and the Compute entry points.
type Option func(*options)

// WithLogger sets the logger used for unresolved-field warnings.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxRecursion overrides DefaultMaxRecursion. Values <= 0 are ignored.
func WithMaxRecursion(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRecursion = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:       observability.NopLogger(),
		maxRecursion: DefaultMaxRecursion,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
