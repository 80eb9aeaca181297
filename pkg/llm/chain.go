package llm

import "context"

// Middleware decorates an LLMClient.
type Middleware func(next LLMClient) LLMClient

// CompleteFunc is the signature of LLMClient.Complete.
type CompleteFunc func(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

type wrapped struct {
	complete CompleteFunc
	model    func() string
}

func (w wrapped) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return w.complete(ctx, req)
}

func (w wrapped) GetModelName() string { return w.model() }

// WrapClient builds an LLMClient from its two methods.
func WrapClient(complete CompleteFunc, modelName func() string) LLMClient {
	return wrapped{complete: complete, model: modelName}
}

// Chain wraps base so that the first middleware is outermost:
// Chain(c, a, b) calls a, then b, then c.
func Chain(base LLMClient, middlewares ...Middleware) LLMClient {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}
