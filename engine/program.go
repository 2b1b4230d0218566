// Package engine drives one workflow instance through the explicit
// steps an external transformer compiled it into, honoring scoped error
// handlers, deferred cleanup frames, retry, jump-table dispatch, and
// data-flow-variable suspension.
//
// Steps are identified by positive integers starting at 1. A step body
// either runs synchronous code or initiates exactly one asynchronous
// operation whose completion resumes the instance at a named next step
// via ThenTo. Control-flow joins are signaled by the transformer with
// Phi; scoped handlers and cleanups are registered with PushErrorStep,
// PushCleanupStep and PushCleanupAction.
package engine

import (
	"github.com/strandio/strand"
	"github.com/strandio/strand/id"
	"github.com/strandio/strand/sched"
)

// StepFunc is the body of one compiled step. args carries the values
// delivered by the continuation that resumed this step (nil for plain
// sequential entry).
type StepFunc func(in *Instance, args []any)

// Program is a compiled workflow: an append-only, step-indexed dispatch
// table. Steps[0] is step 1. Programs are immutable after construction
// and shared by all their instances.
type Program struct {
	// Name identifies the workflow type.
	Name string

	// Version distinguishes recompilations of the same workflow.
	Version int

	// Source is an optional fingerprint of the pre-transformation
	// source text; the registry folds it into the content hash.
	Source string

	id    id.ProgramID
	steps []StepFunc
}

// NewProgram creates a program from its compiled steps.
func NewProgram(name string, steps ...StepFunc) *Program {
	return &Program{Name: name, id: id.NewProgramID(), steps: steps}
}

// ID returns the program's process-local identity. Unlike the
// registry's content hash it changes on every construction; use it to
// correlate log lines, not to resume suspensions.
func (p *Program) ID() id.ProgramID { return p.id }

// NumSteps returns the number of compiled steps.
func (p *Program) NumSteps() int { return len(p.steps) }

// step returns the body for a 1-based step id, or nil if out of range.
func (p *Program) step(n int) StepFunc {
	if n < 1 || n > len(p.steps) {
		return nil
	}
	return p.steps[n-1]
}

// Compile returns the canonical invocable form of a program: a callable
// taking the workflow's declared arguments plus a terminal continuation.
// Invoking it returns immediately; the continuation fires exactly once,
// asynchronously, with (error, results...).
func Compile(loop *sched.Loop, p *Program, opts ...Option) func(args []any, done strand.Continuation) {
	return func(args []any, done strand.Continuation) {
		New(loop, p, opts...).Start(done, args...)
	}
}
