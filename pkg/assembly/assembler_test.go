package assembly

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
	"github.com/platinummonkey/plugstack/pkg/stack"
)

var state = &Abstract{Name: "State"}

type contributor struct {
	spec *FieldSpec
	err  error
}

func (c *contributor) CustomField(ctx context.Context, abstract *Abstract) (*FieldSpec, error) {
	if abstract != state {
		return nil, nil
	}
	return c.spec, c.err
}

func contributorKind(id string, spec *FieldSpec, err error) *plugins.Kind {
	return &plugins.Kind{
		ID: id,
		New: func([]plugins.Plugin, plugins.Config) (plugins.Plugin, error) {
			return &contributor{spec: spec, err: err}, nil
		},
	}
}

func buildStack(t *testing.T, kinds ...*plugins.Kind) *stack.Stack {
	t.Helper()
	s, err := stack.New(context.Background(), kinds, nil, nil)
	require.NoError(t, err)
	return s
}

func newTrace(args ...any) (int64, error) {
	return 0, nil
}

func newLabel(args ...any) (string, error) {
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			return s, nil
		}
	}
	return "unnamed", nil
}

func TestCustomType_Convergence(t *testing.T) {
	a := NewAssembler()

	s1 := buildStack(t,
		contributorKind("trace", NewField("trace", newTrace), nil),
		contributorKind("label", NewField("label", newLabel), nil),
	)
	s2 := buildStack(t,
		contributorKind("trace", NewField("trace", newTrace), nil),
		contributorKind("label", NewField("label", newLabel), nil),
	)

	first, err := a.CustomType(context.Background(), s1, "State", state)
	require.NoError(t, err)
	assert.False(t, first.Hit)

	second, err := a.CustomType(context.Background(), s2, "OtherName", state)
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Same(t, first.Descriptor, second.Descriptor)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, []string{"trace", "label"}, first.Descriptor.FieldNames())
	assert.Equal(t, "State_"+first.Descriptor.Key.Short(), first.Descriptor.Name)
}

func TestCustomType_DivergesOnFieldType(t *testing.T) {
	a := NewAssembler()

	s1 := buildStack(t, contributorKind("trace", ZeroField[int64]("trace"), nil))
	s2 := buildStack(t, contributorKind("trace", ZeroField[int32]("trace"), nil))

	first, err := a.CustomType(context.Background(), s1, "State", state)
	require.NoError(t, err)
	second, err := a.CustomType(context.Background(), s2, "State", state)
	require.NoError(t, err)

	assert.NotSame(t, first.Descriptor, second.Descriptor)
	assert.NotEqual(t, first.Descriptor.Key, second.Descriptor.Key)
	assert.Equal(t, 2, a.Len())
}

func TestCustomType_DivergesOnOrderStyleAndConstructor(t *testing.T) {
	x := ZeroField[int]("x")
	y := ZeroField[int]("y")
	frozen := &Abstract{Name: "State", Style: Immutable}

	base := StructuralKey(state, []*FieldSpec{x, y})
	assert.Equal(t, base, StructuralKey(state, []*FieldSpec{ZeroField[int]("x"), ZeroField[int]("y")}))
	assert.NotEqual(t, base, StructuralKey(state, []*FieldSpec{y, x}))
	assert.NotEqual(t, base, StructuralKey(frozen, []*FieldSpec{x, y}))
	assert.NotEqual(t, base, StructuralKey(state, []*FieldSpec{x, y.WithID("custom")}))
	assert.NotEqual(t, base, StructuralKey(&Abstract{Name: "Other"}, []*FieldSpec{x, y}))
}

func TestCustomType_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		kinds  []*plugins.Kind
		reason string
	}{
		{
			name: "duplicate field",
			kinds: []*plugins.Kind{
				contributorKind("a", ZeroField[int]("trace"), nil),
				contributorKind("b", ZeroField[string]("trace"), nil),
			},
			reason: "already contributed by a",
		},
		{
			name:   "empty name",
			kinds:  []*plugins.Kind{contributorKind("a", ZeroField[int](""), nil)},
			reason: "name is empty",
		},
		{
			name:   "nil type",
			kinds:  []*plugins.Kind{contributorKind("a", &FieldSpec{Name: "x"}, nil)},
			reason: "type is nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAssembler().CustomType(context.Background(), buildStack(t, tt.kinds...), "State", state)
			require.ErrorIs(t, err, plugins.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestCustomType_BaseFieldClash(t *testing.T) {
	withBase := &Abstract{Name: "State", Base: []*FieldSpec{ZeroField[int]("id")}}
	s := buildStack(t, contributorKind("a", ZeroField[int]("id"), nil))

	_, _, err := NewAssembler().Assemble("State", withBase, []Contribution{{Plugin: "a", Spec: ZeroField[int]("id")}})
	require.ErrorIs(t, err, plugins.ErrConfiguration)
	assert.Contains(t, err.Error(), "the base fields")

	// The contributor only answers for the package-level abstract.
	res, err := NewAssembler().CustomType(context.Background(), s, "State", withBase)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, res.Descriptor.FieldNames())
}

func TestCustomType_FailureIsolation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	a := NewAssembler(WithMetrics(metrics))

	s := buildStack(t,
		contributorKind("broken", nil, errors.New("no field today")),
		contributorKind("trace", ZeroField[int64]("trace"), nil),
		contributorKind("silent", nil, nil),
	)

	res, err := a.CustomType(context.Background(), s, "State", state)
	require.NoError(t, err)
	assert.Equal(t, []string{"trace"}, res.Descriptor.FieldNames())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "broken", res.Failures[0].Plugin)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LifecycleFailuresTotal.WithLabelValues("customfield", "broken")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AssemblyLookupsTotal.WithLabelValues("miss")))
}

func TestAssemble_ConcurrentMissesCollapse(t *testing.T) {
	a := NewAssembler()
	specs := []Contribution{{Plugin: "trace", Spec: ZeroField[int64]("trace")}}

	const workers = 32
	results := make([]*Descriptor, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			desc, _, err := a.Assemble("State", state, specs)
			if err == nil {
				results[i] = desc
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for _, d := range results {
		assert.Same(t, results[0], d)
	}
	assert.Equal(t, 1, a.Len())
}

func TestDescriptor_New(t *testing.T) {
	a := NewAssembler()
	desc, _, err := a.Assemble("State", state, []Contribution{
		{Plugin: "trace", Spec: ZeroField[int64]("trace")},
		{Plugin: "label", Spec: NewField("label", newLabel)},
		{Plugin: "started", Spec: NewField("started", func(args ...any) (time.Time, error) {
			return time.Unix(0, 0), nil
		})},
	})
	require.NoError(t, err)

	rec, err := desc.New("loop-1")
	require.NoError(t, err)

	label, err := GetField[string](rec, "label")
	require.NoError(t, err)
	assert.Equal(t, "loop-1", label)

	trace, err := GetField[int64](rec, "trace")
	require.NoError(t, err)
	assert.Equal(t, int64(0), trace)

	_, err = GetField[string](rec, "trace")
	assert.Error(t, err)
	_, err = rec.Get("missing")
	assert.ErrorIs(t, err, ErrNoField)

	require.NoError(t, rec.Set("trace", int64(7)))
	assert.Equal(t, int64(7), rec.At(0))
	assert.Error(t, rec.Set("trace", "seven"))
	assert.Same(t, desc, rec.Descriptor())
}

func TestDescriptor_NewConstructorErrors(t *testing.T) {
	a := NewAssembler()

	wrongType := &FieldSpec{
		Name: "n",
		Type: reflect.TypeFor[int](),
		Constructor: Constructor{ID: "wrong", New: func(args ...any) (any, error) {
			return "not an int", nil
		}},
	}
	desc, _, err := a.Assemble("State", state, []Contribution{{Plugin: "p", Spec: wrongType}})
	require.NoError(t, err)
	_, err = desc.New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot use string as int")

	failing := NewField("f", func(args ...any) (int, error) { return 0, errors.New("nope") })
	desc, _, err = a.Assemble("State", state, []Contribution{{Plugin: "p", Spec: failing}})
	require.NoError(t, err)
	_, err = desc.New()
	assert.ErrorContains(t, err, "nope")
}

func TestRecord_Immutable(t *testing.T) {
	frozen := &Abstract{Name: "Frozen", Style: Immutable, Base: []*FieldSpec{ZeroField[int]("id")}}
	desc, _, err := NewAssembler().Assemble("Frozen", frozen, nil)
	require.NoError(t, err)

	rec, err := desc.New()
	require.NoError(t, err)
	assert.ErrorIs(t, rec.Set("id", 1), ErrImmutable)

	acc, err := NewAccessor[int](desc, "id")
	require.NoError(t, err)
	assert.ErrorIs(t, acc.Set(rec, 1), ErrImmutable)
	assert.Equal(t, 0, acc.Get(rec))
}

func TestAccessor(t *testing.T) {
	a := NewAssembler()
	desc, _, err := a.Assemble("State", state, []Contribution{{Plugin: "trace", Spec: ZeroField[int64]("trace")}})
	require.NoError(t, err)
	other, _, err := a.Assemble("Other", &Abstract{Name: "Other"}, []Contribution{{Plugin: "trace", Spec: ZeroField[int64]("trace")}})
	require.NoError(t, err)

	acc, err := NewAccessor[int64](desc, "trace")
	require.NoError(t, err)

	rec, err := desc.New()
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, acc.Set(rec, acc.Get(rec)+1))
	}
	assert.Equal(t, int64(100), acc.Get(rec))

	_, err = NewAccessor[int32](desc, "trace")
	assert.Error(t, err)
	_, err = NewAccessor[int64](desc, "missing")
	assert.ErrorIs(t, err, ErrNoField)

	otherRec, err := other.New()
	require.NoError(t, err)
	assert.Panics(t, func() { acc.Get(otherRec) })
	assert.Error(t, acc.Set(otherRec, 1))
}

func TestDescriptor_SameFields(t *testing.T) {
	a := NewAssembler()
	d1, _, _ := a.Assemble("S", state, []Contribution{{Spec: ZeroField[int]("x")}})
	d2, _, _ := a.Assemble("S", state, []Contribution{{Spec: ZeroField[int]("x").WithID("other")}})
	d3, _, _ := a.Assemble("S", state, []Contribution{{Spec: ZeroField[string]("x")}})

	assert.NotSame(t, d1, d2)
	assert.True(t, d1.SameFields(d2))
	assert.False(t, d1.SameFields(d3))
}

func countType() reflect.Type {
	type T struct{ A int }
	return reflect.TypeFor[T]()
}

func labelType() reflect.Type {
	type T struct{ B string }
	return reflect.TypeFor[T]()
}

func TestAssemble_DistinctTypesWithSameName(t *testing.T) {
	count, label := countType(), labelType()
	require.Equal(t, count.String(), label.String())
	require.Equal(t, count.PkgPath(), label.PkgPath())

	a := NewAssembler()
	d1, hit, err := a.Assemble("State", state, []Contribution{{Plugin: "p", Spec: &FieldSpec{Name: "v", Type: count}}})
	require.NoError(t, err)
	assert.False(t, hit)
	d2, hit, err := a.Assemble("State", state, []Contribution{{Plugin: "p", Spec: &FieldSpec{Name: "v", Type: label}}})
	require.NoError(t, err)
	assert.False(t, hit)

	assert.NotSame(t, d1, d2)
	assert.NotEqual(t, d1.Key, d2.Key)
	assert.Equal(t, count, d1.Field(0).Type)
	assert.Equal(t, label, d2.Field(0).Type)
	assert.Equal(t, 2, a.Len())

	rec, err := d2.New()
	require.NoError(t, err)
	assert.Equal(t, reflect.Zero(label).Interface(), rec.At(0))
}

func TestStyle_Check(t *testing.T) {
	positive := NewStyle("positive", WithCheck(func(f Field, v any) error {
		if n, ok := v.(int); ok && n < 0 {
			return errors.New("must not be negative")
		}
		return nil
	}))
	assert.Equal(t, "positive", positive.String())
	assert.False(t, positive.ReadOnly())

	abstract := &Abstract{Name: "Counts", Style: positive, Base: []*FieldSpec{ZeroField[int]("n")}}
	a := NewAssembler()
	desc, _, err := a.Assemble("Counts", abstract, nil)
	require.NoError(t, err)
	assert.Same(t, positive, desc.Style())

	rec, err := desc.New()
	require.NoError(t, err)
	require.NoError(t, rec.Set("n", 3))

	err = rec.Set("n", -1)
	require.ErrorIs(t, err, ErrRejected)
	assert.ErrorContains(t, err, "must not be negative")
	assert.Equal(t, 3, rec.At(0))

	acc, err := NewAccessor[int](desc, "n")
	require.NoError(t, err)
	assert.ErrorIs(t, acc.Set(rec, -2), ErrRejected)
	require.NoError(t, acc.Set(rec, 4))
	assert.Equal(t, 4, acc.Get(rec))

	negative := &Abstract{Name: "Counts", Style: positive, Base: []*FieldSpec{
		NewField("n", func(args ...any) (int, error) { return -5, nil }),
	}}
	desc, _, err = a.Assemble("Counts", negative, nil)
	require.NoError(t, err)
	_, err = desc.New()
	assert.ErrorIs(t, err, ErrRejected)

	// Same name, different style identity.
	lookalike := &Abstract{Name: "Counts", Style: NewStyle("positive"), Base: abstract.Base}
	other, hit, err := a.Assemble("Counts", lookalike, nil)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotEqual(t, desc.Key, other.Key)

	assert.Same(t, Mutable, (&Abstract{Name: "Plain"}).style())
}

func TestAssemble_PlainName(t *testing.T) {
	plain := &Abstract{Name: "State", PlainName: true}
	a := NewAssembler()

	d1, _, err := a.Assemble("State", plain, []Contribution{{Plugin: "p", Spec: ZeroField[int]("x")}})
	require.NoError(t, err)
	assert.Equal(t, "State", d1.Name)

	d2, _, err := a.Assemble("State", plain, []Contribution{{Plugin: "p", Spec: ZeroField[string]("x")}})
	require.NoError(t, err)
	assert.Equal(t, "State", d2.Name)
	assert.NotSame(t, d1, d2)

	suffixed, _, err := a.Assemble("State", state, []Contribution{{Plugin: "p", Spec: ZeroField[int]("x")}})
	require.NoError(t, err)
	assert.NotSame(t, d1, suffixed)
	assert.Equal(t, "State_"+suffixed.Key.Short(), suffixed.Name)
}
