package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/plugstack/pkg/assembly"
	"github.com/platinummonkey/plugstack/pkg/hooks"
	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
	"github.com/platinummonkey/plugstack/pkg/stack"
)

var (
	// ErrInvalidTransition is returned when a transition is called in the
	// wrong state
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrStageOrder is reported for initialization stages requested after
	// another kind of stage has run
	ErrStageOrder = errors.New("initialization stage after non-initialization stage")
)

const (
	requestHook = "request_stage"
	prepareHook = "prepare_stage"
	enterHook   = "enter_stage"
	leaveHook   = "leave_stage"
)

// Rejection is a request refused without being considered for merging
type Rejection struct {
	Stage Stage
	Err   error
}

// Round reports the outcome of a polling round
type Round struct {
	// Stage is the merged stage now in flight, or nil if nothing was
	// requested.
	Stage *Stage
	// Dropped requests were incompatible with the merged stage and must be
	// requested again.
	Dropped  []Stage
	Rejected []Rejection
	Failures plugins.LifecycleErrors
	// Barrier is set when the stage waits for Activate at the host's top
	// level.
	Barrier bool
}

type tracked struct {
	name     string
	abstract *assembly.Abstract
	desc     *assembly.Descriptor
}

// Controller runs stages against one stack. Transitions must be called from
// the host's control path; only Request may be called from other goroutines.
type Controller struct {
	mu    sync.Mutex
	queue []Stage

	state      State
	current    *Stage
	stack      *stack.Stack
	ranNonInit bool
	recomposed bool

	assembler *assembly.Assembler
	tracked   []*tracked

	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// Option configures a Controller
type Option func(*Controller)

// WithAssembler sets the assembler for tracked types (assembly.Default
// otherwise)
func WithAssembler(a *assembly.Assembler) Option {
	return func(c *Controller) { c.assembler = a }
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates an idle controller for st
func NewController(st *stack.Stack, opts ...Option) *Controller {
	c := &Controller{
		stack:     st,
		assembler: assembly.Default,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state
func (c *Controller) State() State { return c.state }

// Current returns the stage in flight, or nil when idle
func (c *Controller) Current() *Stage { return c.current }

// Stack returns the current stack. It changes when an activated stage
// recomposes the stack.
func (c *Controller) Stack() *stack.Stack { return c.stack }

// Request queues a stage to be considered at the next Poll. It is safe to
// call from any goroutine.
func (c *Controller) Request(s Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, s)
}

// Pending returns the number of queued requests
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Track assembles the named type for the current stack and keeps it current
// across stages.
func (c *Controller) Track(ctx context.Context, name string, abstract *assembly.Abstract) (*assembly.Assembled, error) {
	res, err := c.assembler.CustomType(ctx, c.stack, name, abstract)
	if err != nil {
		return nil, err
	}
	for _, t := range c.tracked {
		if t.name == name {
			t.abstract, t.desc = abstract, res.Descriptor
			return res, nil
		}
	}
	c.tracked = append(c.tracked, &tracked{name: name, abstract: abstract, desc: res.Descriptor})
	return res, nil
}

// Type returns the current descriptor of a tracked type
func (c *Controller) Type(name string) (*assembly.Descriptor, bool) {
	for _, t := range c.tracked {
		if t.name == name {
			return t.desc, true
		}
	}
	return nil, false
}

func (c *Controller) expect(want State, op string) error {
	if c.state != want {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, op, c.state)
	}
	return nil
}

func (c *Controller) enter(ctx context.Context, state State) {
	c.state = state
	kind := "none"
	if c.current != nil {
		kind = c.current.Kind.String()
	}
	c.metrics.RecordStageTransition(kind, state.String())
	trace.SpanFromContext(ctx).AddEvent("stage.state", trace.WithAttributes(attribute.String("state", state.String())))
	c.logger.WithFields(logrus.Fields{"stage": kind, "state": state.String()}).Debug("Stage transition")
}

func (c *Controller) span(ctx context.Context, op string) (context.Context, trace.Span) {
	ctx, span := observability.Tracer().Start(ctx, "stage."+op)
	if c.current != nil {
		span.SetAttributes(
			attribute.String("stage.kind", c.current.Kind.String()),
			attribute.StringSlice("stage.requesters", c.current.Requesters),
		)
	}
	return ctx, span
}

// Poll collects stage requests from plugins and from Request, and merges them
// into at most one stage. Lifecycle failures of requesters are returned as
// plugins.LifecycleErrors and also reported in the round.
func (c *Controller) Poll(ctx context.Context) (Round, error) {
	if err := c.expect(Idle, "poll"); err != nil {
		return Round{}, err
	}
	ctx, span := c.span(ctx, "Poll")
	defer span.End()

	instances := c.stack.Instances()
	results := hooks.Collect(instances, requestHook, func(r Requester) (*Stage, error) {
		return r.RequestStage(ctx)
	})
	results.Report(c.logger, c.metrics)

	var round Round
	round.Failures = results.Failures()

	var requests []Stage
	for _, r := range results {
		if r.Err != nil || r.Value == nil {
			continue
		}
		s := *r.Value
		if len(s.Requesters) == 0 {
			s.Requesters = []string{r.Instance.Name()}
		}
		requests = append(requests, s)
	}

	c.mu.Lock()
	requests = append(requests, c.queue...)
	c.queue = nil
	c.mu.Unlock()

	eligible := requests[:0:0]
	for _, s := range requests {
		if s.Kind == Initialization && c.ranNonInit {
			round.Rejected = append(round.Rejected, Rejection{Stage: s, Err: ErrStageOrder})
			c.logger.WithField("stage", s.String()).Warn("Rejected initialization stage")
			continue
		}
		eligible = append(eligible, s)
	}

	if len(eligible) > 0 {
		merged, dropped := merge(instances, eligible)
		round.Stage = &merged
		round.Dropped = dropped
		round.Barrier = merged.Technique() == EvalStage
		current := merged
		c.current = &current
		c.enter(ctx, StageRequested)

		span.SetAttributes(
			attribute.String("stage.kind", merged.Kind.String()),
			attribute.Int("stage.dropped", len(dropped)),
		)
		if len(dropped) > 0 {
			c.logger.WithFields(logrus.Fields{"stage": merged.String(), "dropped": len(dropped)}).Info("Dropped incompatible stage requests")
		}
	}

	return round, lifecycleErr(round.Failures)
}

// Prepare dispatches PrepareStage to the Preparers handling the requested
// stage.
func (c *Controller) Prepare(ctx context.Context) error {
	if err := c.expect(StageRequested, "prepare"); err != nil {
		return err
	}
	ctx, span := c.span(ctx, "Prepare")
	defer span.End()

	c.enter(ctx, StagePreparing)

	s := *c.current
	var handling []plugins.Instance
	for _, inst := range c.stack.Instances() {
		if f, ok := inst.Plugin.(Filter); ok && !f.HandlesStage(s) {
			continue
		}
		handling = append(handling, inst)
	}

	results := hooks.Each(handling, prepareHook, func(p Preparer) error {
		return p.PrepareStage(ctx, s)
	})
	results.Report(c.logger, c.metrics)
	return results.Err()
}

// Activate applies the stage's change to the stack and dispatches EnterStage.
// For an EvalStage the host must call it from its top level, after every
// hook invocation in progress has returned. If the stack cannot be
// recomposed the stage is abandoned and the controller returns to Idle with
// the previous stack.
func (c *Controller) Activate(ctx context.Context) error {
	if err := c.expect(StagePreparing, "activate"); err != nil {
		return err
	}
	ctx, span := c.span(ctx, "Activate")
	defer span.End()

	s := *c.current
	var failures plugins.LifecycleErrors

	if !s.Change.IsZero() {
		next, err := c.stack.Recompose(ctx, s.Change)
		if errs, ok := err.(plugins.LifecycleErrors); ok {
			failures = append(failures, errs...)
		} else if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "recomposition failed")
			c.logger.WithError(err).WithField("stage", s.String()).Error("Stage abandoned")
			c.current = nil
			c.enter(ctx, Idle)
			return fmt.Errorf("failed to apply %s stage: %w", s.Kind, err)
		}
		c.stack = next
		c.recomposed = true
	}

	if s.Kind != Initialization {
		c.ranNonInit = true
	}

	results := hooks.Each(c.stack.Instances(), enterHook, func(e Enterer) error {
		return e.EnterStage(ctx, s)
	})
	results.Report(c.logger, c.metrics)
	failures = append(failures, results.Failures()...)

	c.enter(ctx, StageActive)
	c.logger.WithFields(logrus.Fields{"stage": s.String(), "stack_id": c.stack.ID().String()}).Info("Stage active")
	return lifecycleErr(failures)
}

// Leave dispatches LeaveStage, refreshes tracked types and, if the stack or a
// tracked type changed, rebuilds the hook cache before returning to Idle.
func (c *Controller) Leave(ctx context.Context) error {
	if err := c.expect(StageActive, "leave"); err != nil {
		return err
	}
	ctx, span := c.span(ctx, "Leave")
	defer span.End()

	c.enter(ctx, StageLeaving)

	s := *c.current
	results := hooks.Each(c.stack.Instances(), leaveHook, func(l Leaver) error {
		return l.LeaveStage(ctx, s)
	})
	results.Report(c.logger, c.metrics)
	failures := results.Failures()

	changed := c.recomposed
	var fatal error
	for _, t := range c.tracked {
		res, err := c.assembler.CustomType(ctx, c.stack, t.name, t.abstract)
		if err != nil {
			// keep the previous descriptor; the stage still ends
			fatal = errors.Join(fatal, fmt.Errorf("failed to reassemble %s: %w", t.name, err))
			continue
		}
		failures = append(failures, res.Failures...)
		if res.Descriptor != t.desc {
			changed = true
			t.desc = res.Descriptor
		}
	}
	if changed {
		c.stack.RebuildHooks()
	}
	span.SetAttributes(attribute.Bool("stage.rebuilt", changed))

	c.recomposed = false
	c.current = nil
	c.enter(ctx, Idle)

	if fatal != nil {
		span.SetStatus(codes.Error, "reassembly failed")
		return errors.Join(fatal, lifecycleErr(failures))
	}
	return lifecycleErr(failures)
}

// Step polls and prepares a stage and, for a ContextStage, activates it. An
// EvalStage is left in StagePreparing with Round.Barrier set until the host
// calls Activate. Lifecycle failures are reported in the round; the error is
// only set for failures that stopped the step.
func (c *Controller) Step(ctx context.Context) (Round, error) {
	round, err := c.Poll(ctx)
	if fatal := collect(&round, err); fatal != nil {
		return round, fatal
	}
	if round.Stage == nil {
		return round, nil
	}

	if fatal := collect(&round, c.Prepare(ctx)); fatal != nil {
		return round, fatal
	}
	if round.Barrier {
		return round, nil
	}

	return round, collect(&round, c.Activate(ctx))
}

// collect moves lifecycle failures into the round and returns anything else
func collect(round *Round, err error) error {
	if err == nil {
		return nil
	}
	var errs plugins.LifecycleErrors
	if errors.As(err, &errs) {
		for _, e := range errs {
			if !containsFailure(round.Failures, e) {
				round.Failures = append(round.Failures, e)
			}
		}
		if _, ok := err.(plugins.LifecycleErrors); ok {
			return nil
		}
	}
	return err
}

func containsFailure(list plugins.LifecycleErrors, e *plugins.LifecycleError) bool {
	for _, f := range list {
		if f == e {
			return true
		}
	}
	return false
}

func lifecycleErr(failures plugins.LifecycleErrors) error {
	if len(failures) == 0 {
		return nil
	}
	return failures
}
