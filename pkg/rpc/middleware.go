package rpc

import (
	"context"
)

type Handler func(ctx context.Context, params any) (any, error)
type Middleware func(ctx context.Context, params any, next Handler) (any, error)

func buildHandlerFunction(middleware []Middleware, final Handler) Handler {

	// apply middleware from parent down

	// start with the final handler
	chain := final

	// loop backwards through the middleware slice
	for i := len(middleware) - 1; i >= 0; i-- {
		// capture the current middleware handler
		m := middleware[i]

		// wrap the current chain with the current middleware
		next := chain
		chain = func(ctx context.Context, params any) (any, error) {
			return m(ctx, params, next)
		}
	}

	// return the fully chained handler
	return chain
}

// Chain wraps final with middleware, the first element being outermost.
func Chain(middleware []Middleware, final Handler) Handler {
	if len(middleware) == 0 {
		return final
	}
	return buildHandlerFunction(middleware, final)
}

func ApplyHandlerChain(ctx context.Context, params any, middleware []Middleware, final Handler) (any, error) {
	fn := buildHandlerFunction(middleware, final)
	return fn(ctx, params)
}
