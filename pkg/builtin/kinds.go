package builtin

import (
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

// Kinds returns the built-in kinds, with the manifest watcher resolving
// against reg
func Kinds(reg *plugins.Registry) []*plugins.Kind {
	return []*plugins.Kind{
		CounterKind,
		PerfKind,
		OptimizerKind,
		TraceKind,
		ManifestWatcherKind(reg),
	}
}

// RegisterAll registers the built-in kinds with reg
func RegisterAll(reg *plugins.Registry) error {
	for _, k := range Kinds(reg) {
		if err := reg.Register(k); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	for _, k := range Kinds(plugins.Default()) {
		plugins.MustRegister(k)
	}
}
