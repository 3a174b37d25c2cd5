package assembly

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/plugstack/pkg/hooks"
	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
	"github.com/platinummonkey/plugstack/pkg/stack"
)

const customFieldHook = "customfield"

// Contribution is a field spec together with the plugin that contributed it.
// Base fields have an empty Plugin.
type Contribution struct {
	Plugin string
	Spec   *FieldSpec
}

// Assembled is the result of CustomType.
type Assembled struct {
	Descriptor *Descriptor
	// Hit reports whether the descriptor already existed.
	Hit bool
	// Failures holds contributors whose CustomField failed. Their fields are
	// missing from the descriptor.
	Failures plugins.LifecycleErrors
}

// Assembler builds assembled type descriptors and caches them by structural
// key. Descriptors are never evicted, so equal field sets always map to the
// same descriptor.
type Assembler struct {
	mu          sync.RWMutex
	descriptors map[Key]*Descriptor
	group       singleflight.Group

	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// Option configures an Assembler
type Option func(*Assembler)

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Assembler) { a.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// Default is the process-wide assembler
var Default = NewAssembler()

// NewAssembler creates an assembler with an empty cache
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		descriptors: make(map[Key]*Descriptor),
		logger:      observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CustomType asks every plugin of st for its field of abstract and returns
// the descriptor for the resulting field set. name only labels newly created
// descriptors.
func (a *Assembler) CustomType(ctx context.Context, st *stack.Stack, name string, abstract *Abstract) (*Assembled, error) {
	if abstract == nil {
		return nil, fmt.Errorf("abstract type is required")
	}

	results := hooks.Collect(st.Instances(), customFieldHook, func(c FieldContributor) (*FieldSpec, error) {
		return c.CustomField(ctx, abstract)
	})
	results.Report(a.logger, a.metrics)

	var contributions []Contribution
	for _, r := range results {
		if r.Err == nil && r.Value != nil {
			contributions = append(contributions, Contribution{Plugin: r.Instance.Name(), Spec: r.Value})
		}
	}

	desc, hit, err := a.Assemble(name, abstract, contributions)
	if err != nil {
		return nil, err
	}
	return &Assembled{Descriptor: desc, Hit: hit, Failures: results.Failures()}, nil
}

// Assemble returns the descriptor for the base fields of abstract followed by
// contributions, creating it on first use.
func (a *Assembler) Assemble(name string, abstract *Abstract, contributions []Contribution) (*Descriptor, bool, error) {
	all := make([]Contribution, 0, len(abstract.Base)+len(contributions))
	for _, f := range abstract.Base {
		all = append(all, Contribution{Spec: f})
	}
	all = append(all, contributions...)

	if err := validate(abstract, all); err != nil {
		return nil, false, err
	}

	specs := make([]*FieldSpec, len(all))
	for i, c := range all {
		specs[i] = c.Spec
	}
	key := StructuralKey(abstract, specs)

	if desc, ok := a.Lookup(key); ok {
		a.metrics.RecordAssemblyLookup(true, a.Len())
		return desc, true, nil
	}

	v, err, _ := a.group.Do(key.String(), func() (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if desc, ok := a.descriptors[key]; ok {
			return desc, nil
		}
		descName := name
		if !abstract.PlainName {
			descName = fmt.Sprintf("%s_%s", name, key.Short())
		}
		desc := newDescriptor(descName, key, abstract, all)
		a.descriptors[key] = desc
		a.logger.WithFields(logrus.Fields{
			"type":   desc.Name,
			"fields": desc.FieldNames(),
		}).Debug("Assembled type created")
		return desc, nil
	})
	if err != nil {
		return nil, false, err
	}
	a.metrics.RecordAssemblyLookup(false, a.Len())
	return v.(*Descriptor), false, nil
}

// Lookup returns the descriptor cached under key
func (a *Assembler) Lookup(key Key) (*Descriptor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	desc, ok := a.descriptors[key]
	return desc, ok
}

// Len returns the number of cached descriptors
func (a *Assembler) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.descriptors)
}

func validate(abstract *Abstract, all []Contribution) error {
	seen := make(map[string]string, len(all))
	for _, c := range all {
		if c.Spec.Name == "" {
			return &plugins.ConfigurationError{Type: abstract.Name, Plugin: c.Plugin, Reason: "field name is empty"}
		}
		if c.Spec.Type == nil {
			return &plugins.ConfigurationError{Type: abstract.Name, Field: c.Spec.Name, Plugin: c.Plugin, Reason: "field type is nil"}
		}
		if prev, dup := seen[c.Spec.Name]; dup {
			owner := prev
			if owner == "" {
				owner = "the base fields"
			}
			return &plugins.ConfigurationError{
				Type:   abstract.Name,
				Field:  c.Spec.Name,
				Plugin: c.Plugin,
				Reason: "field already contributed by " + owner,
			}
		}
		seen[c.Spec.Name] = c.Plugin
	}
	return nil
}
