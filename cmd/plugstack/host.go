package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/plugstack/pkg/assembly"
	"github.com/platinummonkey/plugstack/pkg/builtin"
	"github.com/platinummonkey/plugstack/pkg/config"
	"github.com/platinummonkey/plugstack/pkg/dependencies"
	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
	"github.com/platinummonkey/plugstack/pkg/stack"
	"github.com/platinummonkey/plugstack/pkg/stage"
)

const stateType = "State"

// host is one application instance: a stack, its stage controller and the
// tick loop driving it
type host struct {
	id        int
	cfg       config.HostConfig
	manifest  *plugins.Manifest
	registry  *plugins.Registry
	resolver  *dependencies.Resolver
	assembler *assembly.Assembler
	logger    *logrus.Entry
	metrics   *observability.Metrics

	// current and failure are read by the health and debug endpoints
	current atomic.Pointer[stack.Stack]
	failure atomic.Pointer[string]
}

// summary is what a host reports when its run ends
type summary struct {
	Instance  int
	StackID   string
	Plugins   int
	Ticks     uint64
	Counter   uint64
	Frequency float64
	Stages    int
	Elapsed   time.Duration
}

// run ticks the loop in batches and gives the stage controller a turn
// between batches, which is the host's top level
func (h *host) run(ctx context.Context) (*summary, error) {
	start := time.Now()

	kinds, err := h.manifest.Kinds(h.registry)
	if err != nil {
		return nil, err
	}
	st, err := stack.New(ctx, kinds, builtin.Hooks(), h.manifest.Config,
		stack.WithResolver(h.resolver),
		stack.WithLogger(h.logger),
		stack.WithMetrics(h.metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := st.Setup(ctx); err != nil {
		h.logger.WithError(err).Warn("Some plugins failed to set up")
	}
	h.current.Store(st)

	ctrl := stage.NewController(st,
		stage.WithAssembler(h.assembler),
		stage.WithLogger(h.logger),
		stage.WithMetrics(h.metrics),
	)
	defer h.shutdown(ctrl)

	state, err := ctrl.Track(ctx, stateType, builtin.State)
	if err != nil {
		return nil, err
	}
	rec, err := state.Descriptor.New()
	if err != nil {
		return nil, err
	}

	loop := builtin.NewLoop()
	loop.State = rec
	stages := 0

	for remaining := h.cfg.Ticks; remaining > 0; {
		n := min(remaining, h.cfg.Batch)
		if err := loop.Run(ctx, ctrl.Stack().Hooks(), n); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				h.logger.Info("Run interrupted")
				break
			}
			return nil, err
		}
		remaining -= n

		if err := rec.Set("iteration", loop.Iteration); err != nil {
			return nil, err
		}
		if h.stage(ctx, ctrl) {
			stages++
			h.current.Store(ctrl.Stack())
		}
		if desc, ok := ctrl.Type(stateType); ok && desc != rec.Descriptor() {
			if rec, err = migrate(rec, desc); err != nil {
				return nil, err
			}
			loop.State = rec
		}
	}

	sum := &summary{
		Instance: h.id,
		StackID:  ctrl.Stack().ID().String(),
		Plugins:  ctrl.Stack().Len(),
		Ticks:    loop.Iteration,
		Stages:   stages,
		Elapsed:  time.Since(start),
	}
	if counter, err := stack.Get[*builtin.Counter](ctrl.Stack(), builtin.CounterID); err == nil {
		sum.Counter = counter.Count
	}
	if perf, err := stack.Get[builtin.FrequencyReporter](ctrl.Stack(), builtin.PerfID); err == nil {
		sum.Frequency = perf.Frequency()
	}
	return sum, nil
}

// start runs the host, converting a panic in any plugin into an error
func (h *host) start(ctx context.Context) (sum *summary, err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			sum, err = nil, perr
		}
		if err != nil {
			msg := err.Error()
			h.failure.Store(&msg)
		}
	}()
	return h.run(ctx)
}

// health reports the state of the host for the readiness probe
func (h *host) health(context.Context) observability.DependencyStatus {
	if msg := h.failure.Load(); msg != nil {
		return observability.DependencyStatus{Status: observability.StatusUnhealthy, Message: *msg}
	}
	st := h.current.Load()
	if st == nil {
		return observability.DependencyStatus{Status: observability.StatusUnhealthy, Message: "stack not built"}
	}
	return observability.DependencyStatus{
		Status:  observability.StatusHealthy,
		Message: fmt.Sprintf("stack %s with %d plugins", st.ID(), st.Len()),
	}
}

// plan returns the resolution plan of the current stack
func (h *host) plan() (*dependencies.Plan, bool) {
	st := h.current.Load()
	if st == nil {
		return nil, false
	}
	return st.Plan(), true
}

// stage runs one stage if any was requested and reports whether one ran
func (h *host) stage(ctx context.Context, ctrl *stage.Controller) bool {
	round, err := ctrl.Step(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("Stage step failed")
		return false
	}
	if round.Stage == nil {
		return false
	}

	if round.Barrier {
		if err := ctrl.Activate(ctx); err != nil && !errors.Is(err, plugins.ErrLifecycle) {
			h.logger.WithError(err).Warn("Stage abandoned")
			return false
		}
	}
	if ctrl.State() == stage.StageActive {
		if err := ctrl.Leave(ctx); err != nil && !errors.Is(err, plugins.ErrLifecycle) {
			h.logger.WithError(err).Warn("Failed to leave stage")
		}
	}
	return true
}

func (h *host) shutdown(ctrl *stage.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
	defer cancel()
	if err := ctrl.Stack().Shutdown(ctx); err != nil {
		h.logger.WithError(err).Warn("Some plugins failed to shut down")
	}
}

// migrate moves the fields both descriptors share into a new record of d
func migrate(old *assembly.Record, d *assembly.Descriptor) (*assembly.Record, error) {
	rec, err := d.New()
	if err != nil {
		return nil, err
	}
	prev := old.Descriptor()
	for i, f := range d.Fields() {
		j, ok := prev.FieldIndex(f.Name)
		if !ok || prev.Field(j).Type != f.Type {
			continue
		}
		if err := rec.SetAt(i, old.At(j)); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
