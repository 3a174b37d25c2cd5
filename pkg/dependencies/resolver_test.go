package dependencies

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

func kind(id string, deps ...plugins.Requirement) *plugins.Kind {
	return &plugins.Kind{
		ID:   id,
		Deps: deps,
		New: func([]plugins.Plugin, plugins.Config) (plugins.Plugin, error) {
			return id, nil
		},
	}
}

func provider(id string, caps ...*plugins.Capability) *plugins.Kind {
	k := kind(id)
	k.Provides = caps
	return k
}

func TestResolver_OrdersDependenciesFirst(t *testing.T) {
	clock := kind("clock")
	counter := kind("counter", clock)
	perf := kind("perf", counter)

	plan, err := NewResolver().Resolve([]*plugins.Kind{perf, clock, counter})
	require.NoError(t, err)

	assert.Equal(t, []string{"clock", "counter", "perf"}, plan.IDs())
	assert.Equal(t, []*plugins.Kind{counter}, plan.Deps["perf"])
	assert.Equal(t, []string{"counter", "perf"}, plan.Dependents("clock"))
}

func TestResolver_PullsInConcreteDependencies(t *testing.T) {
	clock := kind("clock")
	counter := kind("counter", clock)

	plan, err := NewResolver().Resolve([]*plugins.Kind{counter})
	require.NoError(t, err)
	assert.Equal(t, []string{"clock", "counter"}, plan.IDs())
}

func TestResolver_Deterministic(t *testing.T) {
	a := kind("a")
	b := kind("b")
	c := kind("c", a)
	d := kind("d", b, c)
	req := []*plugins.Kind{d, c, b, a}

	first, err := NewResolver(WithPlanCache(0, 0)).Resolve(req)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		plan, err := NewResolver(WithPlanCache(0, 0)).Resolve(req)
		require.NoError(t, err)
		assert.Equal(t, first.IDs(), plan.IDs())
	}
	assert.Equal(t, []string{"b", "a", "c", "d"}, first.IDs())
}

func TestResolver_DuplicateRequestIsDeduplicated(t *testing.T) {
	a := kind("a")

	plan, err := NewResolver().Resolve([]*plugins.Kind{a, a})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, plan.IDs())
}

func TestResolver_DistinctKindsSameID(t *testing.T) {
	_, err := NewResolver().Resolve([]*plugins.Kind{kind("a"), kind("a")})
	require.ErrorIs(t, err, plugins.ErrResolution)
	assert.Contains(t, err.Error(), "share this ID")
}

func TestResolver_Cycle(t *testing.T) {
	a := kind("a")
	b := kind("b", a)
	a.Deps = []plugins.Requirement{b}

	_, err := NewResolver().Resolve([]*plugins.Kind{a, b})
	require.ErrorIs(t, err, plugins.ErrResolution)

	var rerr *plugins.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, []string{"a", "b", "a"}, rerr.Cycle)
}

func TestResolver_AbstractMostSpecific(t *testing.T) {
	x := &plugins.Capability{Name: "x"}
	xFast := &plugins.Capability{Name: "x-fast", Parent: x}

	generic := provider("generic", x)
	fast := provider("fast", xFast)
	user := kind("user", x)

	plan, err := NewResolver().Resolve([]*plugins.Kind{user, generic, fast})
	require.NoError(t, err)

	assert.Equal(t, []*plugins.Kind{generic}, plan.Deps["user"])
	assert.Equal(t, []string{"generic", "user", "fast"}, plan.IDs())
}

func TestResolver_AbstractDescendantSelected(t *testing.T) {
	x := &plugins.Capability{Name: "x"}
	xFast := &plugins.Capability{Name: "x-fast", Parent: x}

	fast := provider("fast", xFast)
	user := kind("user", x)

	plan, err := NewResolver().Resolve([]*plugins.Kind{user, fast})
	require.NoError(t, err)
	assert.Equal(t, []*plugins.Kind{fast}, plan.Deps["user"])
	assert.Equal(t, []string{"fast", "user"}, plan.IDs())
}

func TestResolver_AbstractAmbiguous(t *testing.T) {
	x := &plugins.Capability{Name: "AbstractX"}
	a := provider("A", x)
	b := provider("B", x)
	c := kind("C", x)

	_, err := NewResolver().Resolve([]*plugins.Kind{a, b, c})
	require.ErrorIs(t, err, plugins.ErrResolution)

	var rerr *plugins.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "C", rerr.Kind)
	assert.Equal(t, []string{"A", "B"}, rerr.Candidates)
}

func TestResolver_AbstractMissing(t *testing.T) {
	x := &plugins.Capability{Name: "x"}

	_, err := NewResolver().Resolve([]*plugins.Kind{kind("user", x)})
	require.ErrorIs(t, err, plugins.ErrResolution)
	assert.Contains(t, err.Error(), "no configured kind provides")
}

func TestResolver_KindIsNotItsOwnProvider(t *testing.T) {
	x := &plugins.Capability{Name: "x"}
	self := provider("self", x)
	self.Deps = []plugins.Requirement{x}
	other := provider("other", x)

	plan, err := NewResolver().Resolve([]*plugins.Kind{self, other})
	require.NoError(t, err)
	assert.Equal(t, []*plugins.Kind{other}, plan.Deps["self"])
}

func TestResolver_NilKind(t *testing.T) {
	_, err := NewResolver().Resolve([]*plugins.Kind{nil})
	require.ErrorIs(t, err, plugins.ErrResolution)
}

func TestResolver_PlanCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	r := NewResolver(WithPlanCache(4, time.Minute), WithMetrics(metrics))

	a := kind("a")
	req := []*plugins.Kind{a}

	first, err := r.Resolve(req)
	require.NoError(t, err)
	second, err := r.Resolve(req)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, r.CachedPlans())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ResolverPlanLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ResolverPlanLookupsTotal.WithLabelValues("miss")))

	// A distinct kind value with the same ID is a different request.
	third, err := r.Resolve([]*plugins.Kind{kind("a")})
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	r.Purge()
	assert.Equal(t, 0, r.CachedPlans())
}

func TestResolver_CacheDisabled(t *testing.T) {
	r := NewResolver(WithPlanCache(0, 0))
	req := []*plugins.Kind{kind("a")}

	first, err := r.Resolve(req)
	require.NoError(t, err)
	second, err := r.Resolve(req)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 0, r.CachedPlans())
}
