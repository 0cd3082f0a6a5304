// Package model is the model-invocation capability consumed by the graph
// executor. It presents a provider-agnostic request/response surface over
// gollm (github.com/teilomillet/gollm) and any other backend implementing
// ProviderAdapter.
//
// # Layers
//
//   - ProviderAdapter: the per-backend contract (blocking and streaming).
//   - Client: provider routing, middleware, retries, and Invoke, which
//     turns a streamed response into incremental text deltas plus one
//     final assembled Response.
//   - Catalog: known models and their context windows.
//
// # Quick Start
//
//	adapter, _ := model.NewGollmAdapter("anthropic", os.Getenv("ANTHROPIC_API_KEY"))
//	client := model.NewClient(model.WithProvider("anthropic", adapter))
//
//	resp, err := client.Invoke(ctx, model.Request{
//	    Model:    "claude-sonnet-4-5",
//	    Messages: []model.Message{model.UserMessage("Hello")},
//	    Stream:   true,
//	}, func(delta string) { fmt.Print(delta) })
package model
