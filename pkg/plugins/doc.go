// Package plugins describes plugin kinds and the process-wide table they are
// registered in.
//
// # Overview
//
// A Kind is the static description of a plugin implementation: its ID and
// version, the dependencies it needs, the capabilities it provides, the symbol
// it publishes and the constructor that builds it. Kinds are registered once,
// typically from an init function of the package implementing them:
//
//	var Counter = &plugins.Kind{
//		ID:      "counter",
//		Version: "1.0.0",
//		Symbol:  "counter",
//		New: func(deps []plugins.Plugin, cfg plugins.Config) (plugins.Plugin, error) {
//			return &CounterPlugin{}, nil
//		},
//	}
//
//	func init() { plugins.MustRegister(Counter) }
//
// # Dependencies
//
// Deps mixes concrete kinds and abstract capabilities:
//
//	var Storage = &plugins.Capability{Name: "storage"}
//	var Cache = &plugins.Kind{ID: "cache", Deps: []plugins.Requirement{Storage}, ...}
//
// Any configured kind providing Storage (or a capability whose Parent chain
// reaches Storage) can satisfy the dependency; pkg/dependencies picks the most
// specific one.
//
// # Manifests
//
// A Manifest is the YAML form of a stack configuration:
//
//	plugins:
//	  - kind: counter
//	  - kind: perf
//	    version: ">=1.0.0"
//	config:
//	  perf.alpha: 0.001
//
// # Errors
//
// errors.go defines the error kinds shared by every package of the engine.
// Match them with errors.Is against the sentinels (ErrResolution, ErrDispatch,
// ErrLifecycle, ...) or errors.As against the typed errors.
//
// # Related Packages
//
//   - pkg/dependencies: Resolves kinds into an initialization order
//   - pkg/stack: Constructs instances from kinds
package plugins
