package model

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	events   []StreamEvent
	calls    int
	failN    int // fail the first failN calls with err
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.calls++
	if m.err != nil && (m.failN == 0 || m.calls <= m.failN) {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	m.calls++
	if m.err != nil && (m.failN == 0 || m.calls <= m.failN) {
		return nil, m.err
	}
	ch := make(chan StreamEvent, len(m.events))
	for _, e := range m.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:           "test_resp",
			Model:        "test-model",
			Provider:     name,
			Message:      AssistantMessage(text),
			FinishReason: FinishStop,
			Usage:        &Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		},
	}
}

func noRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 0}
}

func fastRetry(n int) RetryPolicy {
	return RetryPolicy{MaxRetries: n, BaseDelay: 0.001, MaxDelay: 0.001, BackoffMultiplier: 1}
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(WithProvider("test-provider", mock))

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", resp.Text())
	}
	if resp.Usage == nil || resp.Usage.Total() != 30 {
		t.Errorf("expected usage total 30, got %+v", resp.Usage)
	}
}

func TestClientProviderRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	anthropic := newMockAdapter("anthropic", "Anthropic response")
	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("anthropic", anthropic),
		WithDefaultProvider("openai"),
	)

	resp, err := client.Complete(context.Background(), Request{Provider: "anthropic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Anthropic response" {
		t.Errorf("expected anthropic routing, got %q", resp.Text())
	}

	resp, err = client.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "OpenAI response" {
		t.Errorf("expected default routing to openai, got %q", resp.Text())
	}
}

func TestClientRoutesByCatalogProvider(t *testing.T) {
	anthropic := newMockAdapter("anthropic", "from catalog")
	client := NewClient(WithProvider("anthropic", anthropic), WithProvider("openai", newMockAdapter("openai", "x")))

	resp, err := client.Complete(context.Background(), Request{Model: "sonnet"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "from catalog" {
		t.Errorf("expected catalog routing, got %q", resp.Text())
	}
}

func TestClientUnknownProvider(t *testing.T) {
	client := NewClient(WithProvider("openai", newMockAdapter("openai", "x")))
	_, err := client.Complete(context.Background(), Request{Provider: "missing"})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
			order = append(order, name+":before")
			resp, err := next(ctx, req)
			order = append(order, name+":after")
			return resp, err
		}
	}
	client := NewClient(
		WithProvider("p", newMockAdapter("p", "ok")),
		WithMiddleware(mw("a"), mw("b")),
	)
	if _, err := client.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a:before,b:before,b:after,a:after"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestInvokeRetriesRetryableErrors(t *testing.T) {
	mock := newMockAdapter("p", "recovered")
	mock.err = &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "boom"}, Retryable: true}}
	mock.failN = 1

	client := NewClient(WithProvider("p", mock), WithRetryPolicy(fastRetry(2)))
	resp, err := client.Invoke(context.Background(), Request{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "recovered" {
		t.Errorf("expected recovered, got %q", resp.Text())
	}
	if mock.calls != 2 {
		t.Errorf("expected 2 calls, got %d", mock.calls)
	}
}

func TestInvokeDoesNotRetryAuthErrors(t *testing.T) {
	mock := newMockAdapter("p", "never")
	mock.err = &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "bad key"}}}

	client := NewClient(WithProvider("p", mock), WithRetryPolicy(fastRetry(3)))
	_, err := client.Invoke(context.Background(), Request{}, nil)
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %T", err)
	}
	if mock.calls != 1 {
		t.Errorf("expected 1 call, got %d", mock.calls)
	}
}

func TestInvokeStreamsDeltas(t *testing.T) {
	mock := &mockAdapter{
		name: "p",
		events: []StreamEvent{
			{Type: StreamStart},
			{Type: TextDelta, Delta: "Hel"},
			{Type: TextDelta, Delta: "lo"},
			{Type: ToolCallEnd, ToolCall: &ToolCall{ID: "c1", Name: "ls", Arguments: []byte(`{}`)}},
			{Type: StreamFinish},
		},
	}
	client := NewClient(WithProvider("p", mock), WithRetryPolicy(noRetry()))

	var deltas []string
	resp, err := client.Invoke(context.Background(), Request{Stream: true}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(deltas, "") != "Hello" {
		t.Errorf("expected deltas to form Hello, got %v", deltas)
	}
	if resp.Text() != "Hello" {
		t.Errorf("expected text Hello, got %q", resp.Text())
	}
	if len(resp.ToolCalls()) != 1 || resp.FinishReason != FinishToolCalls {
		t.Errorf("expected one tool call with tool_calls finish, got %+v", resp)
	}
	if resp.Usage != nil {
		t.Errorf("expected nil usage from assembled stream, got %+v", resp.Usage)
	}
}

func TestInvokeStreamFailureAfterDeltaIsNotRetried(t *testing.T) {
	mock := &mockAdapter{
		name: "p",
		events: []StreamEvent{
			{Type: TextDelta, Delta: "partial"},
			{Type: StreamError, Err: &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "dropped"}, Retryable: true}}},
		},
	}
	client := NewClient(WithProvider("p", mock), WithRetryPolicy(fastRetry(3)))

	_, err := client.Invoke(context.Background(), Request{Stream: true}, func(string) {})
	var interrupted *StreamInterruptedError
	if !errors.As(err, &interrupted) {
		t.Fatalf("expected StreamInterruptedError, got %T: %v", err, err)
	}
	if mock.calls != 1 {
		t.Errorf("expected 1 call, got %d", mock.calls)
	}
}

func TestInvokeCancelledContext(t *testing.T) {
	mock := newMockAdapter("p", "x")
	mock.err = &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "boom"}, Retryable: true}}
	client := NewClient(WithProvider("p", mock), WithRetryPolicy(fastRetry(5)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Invoke(ctx, Request{}, nil)
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("expected AbortError, got %T: %v", err, err)
	}
}

type closingAdapter struct {
	*mockAdapter
	closed bool
}

func (c *closingAdapter) Close() error {
	c.closed = true
	return nil
}

func TestClientClose(t *testing.T) {
	adapter := &closingAdapter{mockAdapter: newMockAdapter("p", "x")}
	client := NewClient(WithProvider("p", adapter))
	if err := client.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adapter.closed {
		t.Error("expected adapter to be closed")
	}
}
