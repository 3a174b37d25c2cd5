// Package builtin provides the plugin kinds of the reference host: a tick
// loop and the counter, perf, optimizer, trace and manifest-watcher kinds.
//
// The kinds register themselves with the default registry on import:
//
//	import _ "github.com/platinummonkey/plugstack/pkg/builtin"
//
//	kinds, err := manifest.Kinds(plugins.Default())
//	st, err := stack.New(ctx, kinds, builtin.Hooks(), manifest.Config)
//	err = builtin.NewLoop().Run(ctx, st.Hooks(), 1_000_000)
package builtin
