// Package stack builds and owns a composed set of plugin instances.
//
// # Overview
//
// A Stack is created from the kinds the user configured, the hook
// definitions of the host and a configuration map:
//
//	s, err := stack.New(ctx, []*plugins.Kind{counterKind, perfKind}, []hooks.Def{Tick}, cfg)
//	if err != nil {
//		return err
//	}
//	if err := s.Setup(ctx); err != nil && !errors.Is(err, plugins.ErrLifecycle) {
//		return err
//	}
//	defer s.Shutdown(ctx)
//
// Kinds are resolved by the dependencies package and constructed in plan
// order, each receiving the instances of its dependencies. Plugins with a
// symbol are reachable through Lookup and Get:
//
//	counter, err := stack.Get[*builtin.Counter](s, "counter")
//
// # Hooks
//
// Hooks builds the hook cache on first use. The cache belongs to the stack;
// only a stage controller calls RebuildHooks.
//
// # Recomposition
//
// Recompose returns a successor stack with kinds added or removed and
// configuration overridden. The predecessor is left intact so a failed
// recomposition can be ignored.
package stack
