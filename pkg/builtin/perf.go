package builtin

import (
	"fmt"
	"time"

	"github.com/platinummonkey/plugstack/pkg/plugins"
)

const (
	PerfID = "perf"

	// DefaultPerfAlpha is the smoothing factor of the tick interval average
	DefaultPerfAlpha = 1e-3
)

// FrequencySource is provided by kinds that measure the tick rate
var FrequencySource = &plugins.Capability{Name: "frequency-source"}

// FrequencyReporter is the runtime API of a FrequencySource
type FrequencyReporter interface {
	Frequency() float64
}

// Perf keeps an exponential moving average of the time between ticks.
type Perf struct {
	alpha   float64
	last    time.Time
	avgNano float64
}

// NewPerf creates a Perf with the given smoothing factor
func NewPerf(alpha float64) *Perf {
	return &Perf{alpha: alpha}
}

func (p *Perf) Tick(l *Loop) {
	if !p.last.IsZero() {
		diff := float64(l.Now.Sub(p.last))
		p.avgNano = p.alpha*diff + (1-p.alpha)*p.avgNano
	}
	p.last = l.Now
}

// Interval returns the average time between ticks
func (p *Perf) Interval() time.Duration {
	return time.Duration(p.avgNano)
}

// Frequency returns the average tick rate in ticks per second
func (p *Perf) Frequency() float64 {
	if p.avgNano <= 0 {
		return 0
	}
	return float64(time.Second) / p.avgNano
}

// PerfKind publishes a Perf under the "perf" symbol. The smoothing factor is
// read from perf.alpha.
var PerfKind = &plugins.Kind{
	ID:          PerfID,
	Version:     "1.0.0",
	Description: "Measures the tick frequency",
	Symbol:      PerfID,
	Provides:    []*plugins.Capability{FrequencySource},
	New: func(_ []plugins.Plugin, cfg plugins.Config) (plugins.Plugin, error) {
		alpha := cfg.Float("perf.alpha", DefaultPerfAlpha)
		if alpha <= 0 || alpha > 1 {
			return nil, fmt.Errorf("perf.alpha must be in (0, 1], got %v", alpha)
		}
		return NewPerf(alpha), nil
	},
}
