package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Middleware wraps a blocking provider call.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client holds registered provider adapters, routes requests by provider
// identifier, applies middleware and retries.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
	retry           RetryPolicy
	mu              sync.RWMutex
}

var _ Invoker = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = policy
	}
}

// NewClient creates a Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
		retry:     DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider adapter to the client.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends a blocking request through middleware to the resolved provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return adapter.Complete(ctx, r)
	}
	// Wrap in reverse so the first registered middleware runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}
	return handler(ctx, req)
}

// Stream sends a streaming request to the resolved provider.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}
	return adapter.Stream(ctx, req)
}

// Invoke implements Invoker. Blocking requests are retried on retryable
// errors. Streaming requests are retried only until the first delta has
// been delivered; after that a failure surfaces as StreamInterruptedError.
func (c *Client) Invoke(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	if !req.Stream || onDelta == nil {
		return Retry(ctx, c.retry, func(ctx context.Context) (*Response, error) {
			return c.Complete(ctx, req)
		})
	}

	delivered := false
	return Retry(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		resp, err := c.consumeStream(ctx, req, func(delta string) {
			delivered = true
			onDelta(delta)
		})
		if err != nil && delivered {
			return nil, &StreamInterruptedError{SDKError: SDKError{Message: "stream failed after output began", Cause: err}}
		}
		return resp, err
	})
}

func (c *Client) consumeStream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	ch, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	var calls []ToolCall
	for {
		select {
		case <-ctx.Done():
			return nil, &AbortError{SDKError: SDKError{Message: "stream cancelled", Cause: ctx.Err()}}
		case ev, ok := <-ch:
			if !ok {
				return nil, &StreamInterruptedError{SDKError: SDKError{Message: "stream closed without finish event"}}
			}
			switch ev.Type {
			case TextDelta:
				if ev.Delta != "" {
					text.WriteString(ev.Delta)
					onDelta(ev.Delta)
				}
			case ToolCallEnd:
				if ev.ToolCall != nil {
					calls = append(calls, *ev.ToolCall)
				}
			case StreamError:
				if ev.Err == nil {
					return nil, &StreamInterruptedError{SDKError: SDKError{Message: "stream error"}}
				}
				return nil, ev.Err
			case StreamFinish:
				if ev.Response != nil {
					return ev.Response, nil
				}
				reason := FinishStop
				if len(calls) > 0 {
					reason = FinishToolCalls
				}
				return &Response{
					Model:        req.Model,
					Provider:     req.Provider,
					Message:      AssistantMessage(text.String(), calls...),
					FinishReason: reason,
				}, nil
			}
		}
	}
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
