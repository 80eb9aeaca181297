// Package mocks provides shared test doubles.
//
//	client := mocks.NewMockLLMClient()
//	client.RespondWithCode(`return { action: "done" }`)
//	res := engine.Execute(ctx, engine.Options{Client: client, ...})
//
// MockLLMClient records every request so tests can inspect the rendered prompts.
package mocks
