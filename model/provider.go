package model

import "context"

// ProviderAdapter is the interface every provider backend must implement.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events. The
	// channel is closed after a StreamFinish or StreamError event.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// Invoker is the model-invocation capability: ordered messages and optional
// tool schemas in, one assistant response out. When req.Stream is set and
// onDelta is non-nil, text is delivered incrementally through onDelta
// before Invoke returns.
type Invoker interface {
	Invoke(ctx context.Context, req Request, onDelta func(delta string)) (*Response, error)
}
