// Package hooks compiles plugin hook implementations into call chains.
//
// # Overview
//
// The host defines each hook once, naming the interface a plugin implements
// to take part and the argument passed along the chain:
//
//	type Ticker interface{ Tick(*Loop) }
//
//	var Tick = hooks.DefineVoid("tick", func(t Ticker, l *Loop) { t.Tick(l) })
//
// Build checks every instance against every definition once and compiles a
// List per hook holding only the participants, in stack order:
//
//	cache, err := hooks.Build(stack.Instances(), Tick)
//	list, err := Tick.In(cache)
//	for range n {
//		list.Call(loop)
//	}
//
// Chains of up to three participants are unrolled; longer chains are one
// closure per participant. A handler returning true stops the chain. An error
// or panic stops it too and comes back as a *plugins.DispatchError naming the
// failing plugin.
//
// # Dynamic Dispatch
//
// Cache.Call dispatches by name with an untyped argument and reports a
// *plugins.SignatureMismatchError before running anything if the argument
// has the wrong type.
//
// # Lifecycle Hooks
//
// Collect and its variants run a hook on every implementer regardless of
// failures, for setup, shutdown and stage notifications. Failures are
// aggregated as plugins.LifecycleErrors.
package hooks
