package builtin

import (
	"context"
	"time"

	"github.com/platinummonkey/plugstack/pkg/assembly"
	"github.com/platinummonkey/plugstack/pkg/hooks"
)

// Loop is the state of the reference host passed to every tick.
type Loop struct {
	Iteration uint64
	Now       time.Time
	// State is the assembled State record of the host, if it tracks one.
	State *assembly.Record
	// Clock returns the time stamped on each tick.
	Clock func() time.Time
}

// Ticker is implemented by plugins that run on every loop iteration.
type Ticker interface {
	Tick(l *Loop)
}

// TickHook is the hot-path hook of the reference host.
var TickHook = hooks.DefineVoid("tick", func(t Ticker, l *Loop) { t.Tick(l) })

// Hooks returns the hook definitions of the reference host
func Hooks() []hooks.Def {
	return []hooks.Def{TickHook}
}

// NewLoop creates a loop using the wall clock
func NewLoop() *Loop {
	return &Loop{Clock: time.Now}
}

// Run dispatches n ticks through cache. The context is checked every 1024
// ticks. A tick failure stops the run.
func (l *Loop) Run(ctx context.Context, cache *hooks.Cache, n int) error {
	ticks, err := TickHook.In(cache)
	if err != nil {
		return err
	}
	clock := l.Clock
	if clock == nil {
		clock = time.Now
	}

	for i := 0; i < n; i++ {
		if i&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		l.Iteration++
		l.Now = clock()
		if _, err := ticks.Call(l); err != nil {
			return err
		}
	}
	return nil
}
