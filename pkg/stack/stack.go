package stack

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/plugstack/pkg/dependencies"
	"github.com/platinummonkey/plugstack/pkg/hooks"
	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

// Setupper is implemented by plugins that need the finished stack, for
// example to look up the symbols of other plugins.
type Setupper interface {
	Setup(ctx context.Context, s *Stack) error
}

// Shutdowner is implemented by plugins holding resources.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

const (
	setupHook    = "setup"
	shutdownHook = "shutdown"
)

// Stack is an ordered set of constructed plugin instances together with the
// hook definitions of the host. A Stack is not modified after New returns,
// apart from its lazily built hook cache.
type Stack struct {
	id        uuid.UUID
	requested []*plugins.Kind
	plan      *dependencies.Plan
	instances []plugins.Instance
	byKind    map[string]int
	symbols   map[plugins.Symbol]int
	carried   map[string]bool
	defs      []hooks.Def
	cfg       plugins.Config

	resolver *dependencies.Resolver
	logger   *logrus.Entry
	metrics  *observability.Metrics

	mu    sync.Mutex
	cache *hooks.Cache
}

type options struct {
	resolver *dependencies.Resolver
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	carry    map[string]plugins.Instance
}

// Option configures New
type Option func(*options)

// WithResolver sets the resolver used to plan the stack
func WithResolver(r *dependencies.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

var defaultResolver = dependencies.NewResolver()

// New resolves kinds and constructs one instance per planned kind, passing
// each constructor its dependencies' instances and cfg. Any resolution or
// construction failure is returned and no stack is created.
func New(ctx context.Context, kinds []*plugins.Kind, defs []hooks.Def, cfg plugins.Config, opts ...Option) (*Stack, error) {
	o := options{resolver: defaultResolver}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = observability.NopLogger()
	}
	if o.resolver == nil {
		o.resolver = defaultResolver
	}

	_, span := observability.Tracer().Start(ctx, "stack.New")
	defer span.End()

	start := time.Now()

	if err := validateDefs(defs); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	plan, err := o.resolver.Resolve(kinds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		return nil, err
	}

	s := &Stack{
		id:        uuid.New(),
		requested: append([]*plugins.Kind(nil), kinds...),
		plan:      plan,
		instances: make([]plugins.Instance, 0, len(plan.Order)),
		byKind:    make(map[string]int, len(plan.Order)),
		symbols:   make(map[plugins.Symbol]int),
		carried:   make(map[string]bool),
		defs:      append([]hooks.Def(nil), defs...),
		cfg:       cfg.Merge(nil),
		resolver:  o.resolver,
		metrics:   o.metrics,
	}
	s.logger = o.logger.WithField("stack_id", s.id.String())

	for _, k := range plan.Order {
		if err := s.construct(k, o.carry); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "construction failed")
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.String("stack.id", s.id.String()),
		attribute.StringSlice("stack.order", plan.IDs()),
	)
	s.metrics.RecordStackBuilt(len(s.instances), time.Since(start))
	s.logger.WithField("order", plan.IDs()).Debug("Plugin stack constructed")

	return s, nil
}

func validateDefs(defs []hooks.Def) error {
	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		if def == nil {
			return fmt.Errorf("hook definition %d is nil", i)
		}
		if def.Name() == "" {
			return fmt.Errorf("hook definition %d has no name", i)
		}
		if seen[def.Name()] {
			return fmt.Errorf("hook %q defined twice", def.Name())
		}
		seen[def.Name()] = true
	}
	return nil
}

func (s *Stack) construct(k *plugins.Kind, carry map[string]plugins.Instance) error {
	var p plugins.Plugin
	if prev, ok := carry[k.ID]; ok {
		p = prev.Plugin
		s.carried[k.ID] = true
	} else {
		deps := s.plan.Deps[k.ID]
		args := make([]plugins.Plugin, len(deps))
		for i, d := range deps {
			args[i] = s.instances[s.byKind[d.ID]].Plugin
		}

		var err error
		p, err = k.New(args, s.cfg)
		if err != nil {
			return fmt.Errorf("failed to construct plugin %s: %w", k.ID, err)
		}
		if p == nil {
			return fmt.Errorf("failed to construct plugin %s: constructor returned nil", k.ID)
		}
	}

	idx := len(s.instances)
	if k.Symbol != "" {
		if prev, exists := s.symbols[k.Symbol]; exists {
			return &plugins.DuplicateSymbolError{
				Symbol: k.Symbol,
				First:  s.instances[prev].Name(),
				Second: k.ID,
			}
		}
		s.symbols[k.Symbol] = idx
	}

	s.instances = append(s.instances, plugins.Instance{Kind: k, Plugin: p, Index: idx})
	s.byKind[k.ID] = idx
	return nil
}

// ID returns the unique identifier of the stack
func (s *Stack) ID() uuid.UUID { return s.id }

// Len returns the number of instances
func (s *Stack) Len() int { return len(s.instances) }

// Config returns a copy of the stack configuration
func (s *Stack) Config() plugins.Config { return s.cfg.Merge(nil) }

// Kinds returns the kinds the stack was requested with
func (s *Stack) Kinds() []*plugins.Kind {
	return append([]*plugins.Kind(nil), s.requested...)
}

// Logger returns the stack's logger, tagged with the stack ID
func (s *Stack) Logger() *logrus.Entry { return s.logger }

// Plan returns the resolution plan the stack was built from
func (s *Stack) Plan() *dependencies.Plan { return s.plan }

// HookDefs returns the hook definitions of the stack
func (s *Stack) HookDefs() []hooks.Def {
	return append([]hooks.Def(nil), s.defs...)
}

// Instances returns the instances in stack order
func (s *Stack) Instances() []plugins.Instance {
	out := make([]plugins.Instance, len(s.instances))
	copy(out, s.instances)
	return out
}

// All iterates over the instances in stack order
func (s *Stack) All() iter.Seq2[int, plugins.Instance] {
	return func(yield func(int, plugins.Instance) bool) {
		for i, inst := range s.instances {
			if !yield(i, inst) {
				return
			}
		}
	}
}

// Has reports whether the stack holds an instance of the kind
func (s *Stack) Has(kindID string) bool {
	_, ok := s.byKind[kindID]
	return ok
}

// Instance returns the instance of the kind
func (s *Stack) Instance(kindID string) (plugins.Instance, bool) {
	idx, ok := s.byKind[kindID]
	if !ok {
		return plugins.Instance{}, false
	}
	return s.instances[idx], true
}

// Carried reports whether the instance of the kind was reused from the
// predecessor stack by Recompose
func (s *Stack) Carried(kindID string) bool { return s.carried[kindID] }

// Lookup returns the plugin published under sym
func (s *Stack) Lookup(sym plugins.Symbol) (plugins.Plugin, error) {
	idx, ok := s.symbols[sym]
	if !ok {
		return nil, fmt.Errorf("%w: symbol %q", plugins.ErrNotFound, sym)
	}
	return s.instances[idx].Plugin, nil
}

// Symbols returns the published symbols in sorted order
func (s *Stack) Symbols() []plugins.Symbol {
	out := make([]plugins.Symbol, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Get returns the plugin published under sym as a T
func Get[T any](s *Stack, sym plugins.Symbol) (T, error) {
	var zero T
	p, err := s.Lookup(sym)
	if err != nil {
		return zero, err
	}
	typed, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("symbol %q is %T, not %T", sym, p, zero)
	}
	return typed, nil
}

// Hooks returns the hook cache, building it on first use
func (s *Stack) Hooks() *hooks.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		s.cache = s.buildHooks()
	}
	return s.cache
}

// RebuildHooks replaces the hook cache with a freshly built one
func (s *Stack) RebuildHooks() *hooks.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = s.buildHooks()
	return s.cache
}

func (s *Stack) buildHooks() *hooks.Cache {
	cache, err := hooks.Build(s.instances, s.defs...)
	if err != nil {
		// definitions were validated by New
		panic(err)
	}
	for _, name := range cache.Names() {
		participants, _ := cache.Participants(name)
		s.metrics.RecordHookList(name, len(participants))
	}
	s.logger.WithField("hooks", cache.Len()).Debug("Hook cache built")
	return cache
}

// Setup runs the Setup hook of every instance in stack order. Failures do not
// stop the remaining instances and are returned as plugins.LifecycleErrors.
func (s *Stack) Setup(ctx context.Context) error {
	return s.setup(ctx, s.instances)
}

func (s *Stack) setup(ctx context.Context, instances []plugins.Instance) error {
	results := hooks.Each(instances, setupHook, func(p Setupper) error {
		return p.Setup(ctx, s)
	})
	results.Report(s.logger, s.metrics)
	return results.Err()
}

// Shutdown runs the Shutdown hook of every instance in reverse stack order.
// Failures are collected like Setup.
func (s *Stack) Shutdown(ctx context.Context) error {
	return s.shutdown(ctx, s.instances)
}

func (s *Stack) shutdown(ctx context.Context, instances []plugins.Instance) error {
	results := hooks.EachReverse(instances, shutdownHook, func(p Shutdowner) error {
		return p.Shutdown(ctx)
	})
	results.Report(s.logger, s.metrics)
	return results.Err()
}

// Recompose builds the successor of s with change applied. An instance is
// reused when its kind stays, the configuration is unchanged and all of its
// dependencies are reused too. Newly constructed instances are set up and
// dropped ones are shut down once the successor exists; failures of either
// are returned as plugins.LifecycleErrors alongside the successor.
func (s *Stack) Recompose(ctx context.Context, change Change) (*Stack, error) {
	ctx, span := observability.Tracer().Start(ctx, "stack.Recompose")
	defer span.End()

	kinds := change.apply(s.requested)
	cfg := s.cfg.Merge(change.Config)

	plan, err := s.resolver.Resolve(kinds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		return nil, err
	}

	carry := make(map[string]plugins.Instance)
	if s.cfg.Equal(cfg) {
		for _, k := range plan.Order {
			if s.reusable(k, plan, carry) {
				carry[k.ID] = s.instances[s.byKind[k.ID]]
			}
		}
	}

	next, err := New(ctx, kinds, s.defs, cfg,
		WithResolver(s.resolver),
		WithLogger(s.logger.WithField("predecessor", s.id.String())),
		WithMetrics(s.metrics),
		withCarry(carry),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "construction failed")
		return nil, err
	}

	var dropped, fresh []plugins.Instance
	for _, inst := range s.instances {
		if !next.Carried(inst.Name()) {
			dropped = append(dropped, inst)
		}
	}
	for _, inst := range next.instances {
		if !next.Carried(inst.Name()) {
			fresh = append(fresh, inst)
		}
	}

	span.SetAttributes(
		attribute.Int("stack.carried", len(carry)),
		attribute.Int("stack.fresh", len(fresh)),
		attribute.Int("stack.dropped", len(dropped)),
	)
	s.logger.WithFields(logrus.Fields{
		"successor": next.id.String(),
		"carried":   len(carry),
		"fresh":     len(fresh),
		"dropped":   len(dropped),
	}).Info("Plugin stack recomposed")

	var failures plugins.LifecycleErrors
	failures = appendFailures(failures, s.shutdown(ctx, dropped))
	failures = appendFailures(failures, next.setup(ctx, fresh))
	if len(failures) > 0 {
		return next, failures
	}
	return next, nil
}

func (s *Stack) reusable(k *plugins.Kind, plan *dependencies.Plan, carry map[string]plugins.Instance) bool {
	idx, ok := s.byKind[k.ID]
	if !ok || s.instances[idx].Kind != k {
		return false
	}
	prevDeps := s.plan.Deps[k.ID]
	nextDeps := plan.Deps[k.ID]
	if len(prevDeps) != len(nextDeps) {
		return false
	}
	for i, d := range nextDeps {
		if prevDeps[i] != d {
			return false
		}
		if _, ok := carry[d.ID]; !ok {
			return false
		}
	}
	return true
}

func withCarry(carry map[string]plugins.Instance) Option {
	return func(o *options) { o.carry = carry }
}

func appendFailures(dst plugins.LifecycleErrors, err error) plugins.LifecycleErrors {
	if errs, ok := err.(plugins.LifecycleErrors); ok {
		return append(dst, errs...)
	}
	return dst
}
