package stack

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/plugstack/pkg/dependencies"
	"github.com/platinummonkey/plugstack/pkg/hooks"
	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

type journal struct {
	events []string
}

func (j *journal) add(e string) { j.events = append(j.events, e) }

type ticker interface{ Tick(*journal) }

var tickHook = hooks.DefineVoid("tick", func(t ticker, j *journal) { t.Tick(j) })

type testPlugin struct {
	name     string
	deps     []plugins.Plugin
	cfg      plugins.Config
	journal  *journal
	setupErr error
	stack    *Stack
}

func (p *testPlugin) Tick(j *journal) { j.add("tick:" + p.name) }

func (p *testPlugin) Setup(ctx context.Context, s *Stack) error {
	p.journal.add("setup:" + p.name)
	p.stack = s
	return p.setupErr
}

func (p *testPlugin) Shutdown(ctx context.Context) error {
	p.journal.add("shutdown:" + p.name)
	return nil
}

type quietPlugin struct{}

func testKind(j *journal, id string, deps ...plugins.Requirement) *plugins.Kind {
	return &plugins.Kind{
		ID:     id,
		Symbol: plugins.Symbol(id),
		Deps:   deps,
		New: func(d []plugins.Plugin, cfg plugins.Config) (plugins.Plugin, error) {
			j.add("new:" + id)
			return &testPlugin{name: id, deps: d, cfg: cfg, journal: j}, nil
		},
	}
}

func newStack(t *testing.T, kinds []*plugins.Kind, cfg plugins.Config, opts ...Option) *Stack {
	t.Helper()
	s, err := New(context.Background(), kinds, []hooks.Def{tickHook}, cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestNew_ConstructsInDependencyOrder(t *testing.T) {
	j := &journal{}
	clock := testKind(j, "clock")
	counter := testKind(j, "counter", clock)
	perf := testKind(j, "perf", counter, clock)

	s := newStack(t, []*plugins.Kind{perf, counter, clock}, plugins.Config{"perf.alpha": 0.5})

	assert.Equal(t, []string{"new:clock", "new:counter", "new:perf"}, j.events)
	assert.Equal(t, 3, s.Len())
	assert.NotEqual(t, "", s.ID().String())

	p, err := Get[*testPlugin](s, "perf")
	require.NoError(t, err)
	require.Len(t, p.deps, 2)
	assert.Equal(t, "counter", p.deps[0].(*testPlugin).name)
	assert.Equal(t, "clock", p.deps[1].(*testPlugin).name)
	assert.Equal(t, 0.5, p.cfg.Float("perf.alpha", 0))

	var order []string
	for i, inst := range s.All() {
		assert.Equal(t, i, inst.Index)
		order = append(order, inst.Name())
	}
	assert.Equal(t, []string{"clock", "counter", "perf"}, order)
	assert.True(t, s.Has("counter"))
	assert.False(t, s.Has("missing"))

	inst, ok := s.Instance("counter")
	require.True(t, ok)
	assert.Equal(t, 1, inst.Index)
}

func TestNew_AbstractDependency(t *testing.T) {
	j := &journal{}
	x := &plugins.Capability{Name: "AbstractX"}
	a := testKind(j, "A")
	a.Provides = []*plugins.Capability{x}
	c := testKind(j, "C", x)

	s := newStack(t, []*plugins.Kind{c, a}, nil)
	p, err := Get[*testPlugin](s, "C")
	require.NoError(t, err)
	assert.Equal(t, "A", p.deps[0].(*testPlugin).name)
}

func TestNew_AmbiguousAbstractDependency(t *testing.T) {
	j := &journal{}
	x := &plugins.Capability{Name: "AbstractX"}
	a := testKind(j, "A")
	a.Provides = []*plugins.Capability{x}
	b := testKind(j, "B")
	b.Provides = []*plugins.Capability{x}
	c := testKind(j, "C", x)

	_, err := New(context.Background(), []*plugins.Kind{a, b, c}, nil, nil)
	require.ErrorIs(t, err, plugins.ErrResolution)
	assert.Empty(t, j.events)
}

func TestNew_Cycle(t *testing.T) {
	j := &journal{}
	a := testKind(j, "a")
	b := testKind(j, "b", a)
	a.Deps = []plugins.Requirement{b}

	_, err := New(context.Background(), []*plugins.Kind{a, b}, nil, nil)
	require.ErrorIs(t, err, plugins.ErrResolution)
	assert.Empty(t, j.events, "nothing is constructed when resolution fails")
}

func TestNew_DuplicateSymbol(t *testing.T) {
	j := &journal{}
	a := testKind(j, "a")
	b := testKind(j, "b")
	b.Symbol = "a"

	_, err := New(context.Background(), []*plugins.Kind{a, b}, nil, nil)
	require.ErrorIs(t, err, plugins.ErrDuplicateSymbol)

	var derr *plugins.DuplicateSymbolError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "a", derr.First)
	assert.Equal(t, "b", derr.Second)
}

func TestNew_ConstructorFailure(t *testing.T) {
	boom := errors.New("boom")
	broken := &plugins.Kind{
		ID: "broken",
		New: func([]plugins.Plugin, plugins.Config) (plugins.Plugin, error) {
			return nil, boom
		},
	}
	nilKind := &plugins.Kind{
		ID: "nil",
		New: func([]plugins.Plugin, plugins.Config) (plugins.Plugin, error) {
			return nil, nil
		},
	}

	s, err := New(context.Background(), []*plugins.Kind{broken}, nil, nil)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, boom)

	_, err = New(context.Background(), []*plugins.Kind{nilKind}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constructor returned nil")
}

func TestNew_DuplicateHookDefinition(t *testing.T) {
	_, err := New(context.Background(), nil, []hooks.Def{tickHook, tickHook}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined twice")
}

func TestLookup(t *testing.T) {
	j := &journal{}
	s := newStack(t, []*plugins.Kind{testKind(j, "counter")}, nil)

	p, err := s.Lookup("counter")
	require.NoError(t, err)
	assert.Equal(t, "counter", p.(*testPlugin).name)

	_, err = s.Lookup("missing")
	assert.ErrorIs(t, err, plugins.ErrNotFound)

	_, err = Get[*quietPlugin](s, "counter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not *stack.quietPlugin")

	assert.Equal(t, []plugins.Symbol{"counter"}, s.Symbols())
}

func TestHooks_LazyAndRebuild(t *testing.T) {
	j := &journal{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	quiet := &plugins.Kind{
		ID: "quiet",
		New: func([]plugins.Plugin, plugins.Config) (plugins.Plugin, error) {
			return &quietPlugin{}, nil
		},
	}
	s := newStack(t, []*plugins.Kind{testKind(j, "a"), quiet, testKind(j, "b")}, nil, WithMetrics(metrics))

	first := s.Hooks()
	assert.Same(t, first, s.Hooks())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HookParticipants.WithLabelValues("tick")))

	tl := &journal{}
	_, err := tickHook.Call(first, tl)
	require.NoError(t, err)
	assert.Equal(t, []string{"tick:a", "tick:b"}, tl.events)

	rebuilt := s.RebuildHooks()
	assert.NotSame(t, first, rebuilt)
	assert.Same(t, rebuilt, s.Hooks())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HookListsBuiltTotal.WithLabelValues("tick")))
}

func TestSetupAndShutdown(t *testing.T) {
	j := &journal{}
	a := testKind(j, "a")
	b := testKind(j, "b", a)
	failing := testKind(j, "c")
	failingNew := failing.New
	failing.New = func(d []plugins.Plugin, cfg plugins.Config) (plugins.Plugin, error) {
		p, err := failingNew(d, cfg)
		p.(*testPlugin).setupErr = errors.New("not ready")
		return p, err
	}

	s := newStack(t, []*plugins.Kind{b, failing}, nil)
	j.events = nil

	err := s.Setup(context.Background())
	require.ErrorIs(t, err, plugins.ErrLifecycle)
	assert.Equal(t, []string{"setup:a", "setup:b", "setup:c"}, j.events)

	var errs plugins.LifecycleErrors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 1)
	assert.Equal(t, "c", errs[0].Plugin)

	p, _ := Get[*testPlugin](s, "a")
	assert.Same(t, s, p.stack)

	j.events = nil
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, []string{"shutdown:c", "shutdown:b", "shutdown:a"}, j.events)
}

func TestRecompose_CarriesUnaffectedInstances(t *testing.T) {
	j := &journal{}
	clock := testKind(j, "clock")
	counter := testKind(j, "counter", clock)
	perf := testKind(j, "perf", clock)
	extra := testKind(j, "extra", counter)

	resolver := dependencies.NewResolver()
	s := newStack(t, []*plugins.Kind{counter, perf}, nil, WithResolver(resolver))
	oldPerf, _ := s.Lookup("perf")
	j.events = nil

	next, err := s.Recompose(context.Background(), Change{Add: []*plugins.Kind{extra}, Remove: []string{"perf"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"new:extra", "shutdown:perf", "setup:extra"}, j.events)
	assert.True(t, next.Carried("clock"))
	assert.True(t, next.Carried("counter"))
	assert.False(t, next.Carried("extra"))
	assert.False(t, next.Has("perf"))
	assert.NotEqual(t, s.ID(), next.ID())

	oldCounter, _ := s.Lookup("counter")
	newCounter, _ := next.Lookup("counter")
	assert.Same(t, oldCounter, newCounter)

	// The predecessor is untouched.
	still, err := s.Lookup("perf")
	require.NoError(t, err)
	assert.Same(t, oldPerf, still)
}

func TestRecompose_ConfigChangeRebuildsEverything(t *testing.T) {
	j := &journal{}
	a := testKind(j, "a")
	b := testKind(j, "b", a)

	s := newStack(t, []*plugins.Kind{b}, plugins.Config{"x": 1})
	j.events = nil

	next, err := s.Recompose(context.Background(), Change{Config: plugins.Config{"x": 2}})
	require.NoError(t, err)

	assert.Equal(t, []string{"new:a", "new:b", "shutdown:b", "shutdown:a", "setup:a", "setup:b"}, j.events)
	assert.Equal(t, 2, next.Config().Int("x", 0))
	assert.Equal(t, 1, s.Config().Int("x", 0))
	assert.False(t, next.Carried("a"))
}

func TestRecompose_ReplacingConcreteDependencyFails(t *testing.T) {
	j := &journal{}
	a := testKind(j, "a")
	b := testKind(j, "b", a)

	s := newStack(t, []*plugins.Kind{a, b}, nil)

	// b still names the old kind a, which clashes with its replacement.
	next, err := s.Recompose(context.Background(), Change{Add: []*plugins.Kind{testKind(j, "a")}})
	require.ErrorIs(t, err, plugins.ErrResolution)
	assert.Nil(t, next)
}

func TestRecompose_ResolutionFailureKeepsPredecessor(t *testing.T) {
	j := &journal{}
	x := &plugins.Capability{Name: "x"}
	provider := testKind(j, "provider")
	provider.Provides = []*plugins.Capability{x}
	user := testKind(j, "user", x)

	s := newStack(t, []*plugins.Kind{provider, user}, nil)

	next, err := s.Recompose(context.Background(), Change{Remove: []string{"provider"}})
	require.ErrorIs(t, err, plugins.ErrResolution)
	assert.Nil(t, next)
	assert.True(t, s.Has("provider"))
}
