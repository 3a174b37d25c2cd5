package builtin

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
	"github.com/platinummonkey/plugstack/pkg/stack"
	"github.com/platinummonkey/plugstack/pkg/stage"
)

const (
	OptimizerID = "optimizer"

	// DefaultOptimizerSchedule is used when optimizer.schedule is unset
	DefaultOptimizerSchedule = "@every 1m"
)

// Optimizer asks for an Optimization stage on a cron schedule. The cron
// goroutine only marks the stage as wanted; the request is handed out when
// the stage controller polls.
type Optimizer struct {
	schedule string
	source   FrequencyReporter
	cron     *cron.Cron
	logger   logrus.FieldLogger

	wanted atomic.Bool
	runs   atomic.Uint64
}

// NewOptimizer creates an optimizer for schedule, reporting the frequency of
// source in its requests
func NewOptimizer(schedule string, source FrequencyReporter) (*Optimizer, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid optimizer schedule %q: %w", schedule, err)
	}
	return &Optimizer{
		schedule: schedule,
		source:   source,
		cron:     cron.New(),
		logger:   observability.NopLogger(),
	}, nil
}

// Trigger marks an Optimization stage as wanted
func (o *Optimizer) Trigger() { o.wanted.Store(true) }

// Runs returns how many Optimization stages have been entered
func (o *Optimizer) Runs() uint64 { return o.runs.Load() }

func (o *Optimizer) Setup(ctx context.Context, st *stack.Stack) error {
	o.logger = st.Logger().WithFields(observability.PluginFields(OptimizerID, ""))
	if _, err := o.cron.AddFunc(o.schedule, o.Trigger); err != nil {
		return fmt.Errorf("failed to schedule optimization: %w", err)
	}
	o.cron.Start()
	o.logger.WithField("schedule", o.schedule).Info("Optimizer scheduled")
	return nil
}

func (o *Optimizer) Shutdown(ctx context.Context) error {
	done := o.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Optimizer) RequestStage(ctx context.Context) (*stage.Stage, error) {
	if !o.wanted.CompareAndSwap(true, false) {
		return nil, nil
	}
	return &stage.Stage{
		Kind:       stage.Optimization,
		Requesters: []string{OptimizerID},
		Reason:     fmt.Sprintf("scheduled at %.0f ticks/s", o.source.Frequency()),
	}, nil
}

func (o *Optimizer) EnterStage(ctx context.Context, s stage.Stage) error {
	if s.Kind == stage.Optimization {
		o.runs.Add(1)
	}
	return nil
}

// OptimizerKind depends on a FrequencySource. Its schedule is read from
// optimizer.schedule.
var OptimizerKind = &plugins.Kind{
	ID:          OptimizerID,
	Version:     "1.0.0",
	Description: "Requests optimization stages on a schedule",
	Symbol:      OptimizerID,
	Deps:        []plugins.Requirement{FrequencySource},
	New: func(deps []plugins.Plugin, cfg plugins.Config) (plugins.Plugin, error) {
		source, ok := deps[0].(FrequencyReporter)
		if !ok {
			return nil, fmt.Errorf("%T does not report a frequency", deps[0])
		}
		return NewOptimizer(cfg.String("optimizer.schedule", DefaultOptimizerSchedule), source)
	},
}
