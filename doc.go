// Package strand provides a suspend/resume execution engine for
// sequential-looking asynchronous workflows, together with CSP-style
// channels for cross-workflow coordination.
//
// A workflow is compiled (by an external transformer) into a flat
// sequence of integer-identified steps. The engine package drives one
// instance of such a program through its steps, honoring scoped error
// handlers (catch), deferred cleanup frames (finally), retry, and
// data-flow-variable suspension. The channel package provides the
// rendezvous queue the engine awaits on, plus combinators for mapping,
// filtering, folding, batching, merging, fan-out, and timing.
//
// # Architecture
//
// Everything runs on a single cooperative run loop (package sched).
// Continuations are never invoked inline: every delivery is deferred to
// a later turn of the loop, so two workflow instances interleave only
// at suspension points and step order within one instance is strictly
// program order.
//
// This package defines only the contracts shared by the subsystem
// packages: the Continuation shape every asynchronous operation
// completes through, the Awaitable/Future capability interfaces, and
// the sentinel errors the engine raises.
//
// # Quick start
//
//	loop := sched.New()
//	defer loop.Stop()
//
//	prog := engine.NewProgram("greet",
//	    func(in *engine.Instance, args []any) {
//	        in.SetVar("who", args[0])
//	        in.Goto(2)
//	    },
//	    func(in *engine.Instance, _ []any) {
//	        in.Callback(nil, "hello, "+in.Var("who").(string))
//	    },
//	)
//
//	run := engine.Compile(loop, prog)
//	run([]any{"world"}, func(err error, values ...any) {
//	    // fires exactly once, on a later turn
//	})
package strand
