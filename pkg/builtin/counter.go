package builtin

import (
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

const CounterID = "counter"

// Counter counts ticks
type Counter struct {
	Count uint64
}

func (c *Counter) Tick(*Loop) { c.Count++ }

// CounterKind publishes a Counter under the "counter" symbol
var CounterKind = &plugins.Kind{
	ID:          CounterID,
	Version:     "1.0.0",
	Description: "Counts loop iterations",
	Symbol:      CounterID,
	New: func([]plugins.Plugin, plugins.Config) (plugins.Plugin, error) {
		return &Counter{}, nil
	},
}
