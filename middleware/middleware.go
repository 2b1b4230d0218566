// Package middleware provides composable middleware around step
// execution. Middleware wraps each step body synchronously and can
// modify execution (recover from panics, log, add tracing or metrics).
// Suspensions are invisible here: a step that initiates an async
// operation completes its middleware chain when its body returns, and
// the resumed step runs through the chain again as a fresh invocation.
package middleware

import (
	"context"

	"github.com/strandio/strand/id"
)

// StepInfo identifies the step being executed.
type StepInfo struct {
	InstanceID id.InstanceID
	Program    string
	Step       int
}

// Handler is the terminal function that executes the step body.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the step being executed, and the next handler to
// call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, step StepInfo, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, logging, tracing) executes as:
//
//	recover → logging → tracing → step body
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, step StepInfo, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, step, prev)
			}
		}
		return h(ctx)
	}
}
