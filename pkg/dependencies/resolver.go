package dependencies

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

const (
	// DefaultPlanCacheSize is the number of resolution plans kept by default
	DefaultPlanCacheSize = 128
)

// Plan is the result of resolving a requested set of kinds. Plans are shared
// between stacks built from the same request and must not be modified.
type Plan struct {
	// Order lists every kind to construct, dependencies first.
	Order []*plugins.Kind
	// Deps maps a kind ID to the kinds selected for its declared
	// dependencies, in declaration order.
	Deps map[string][]*plugins.Kind

	graph *Graph
}

// IDs returns the kind IDs in initialization order
func (p *Plan) IDs() []string {
	ids := make([]string, len(p.Order))
	for i, k := range p.Order {
		ids[i] = k.ID
	}
	return ids
}

// Dependents returns the IDs of every kind that transitively depends on id
func (p *Plan) Dependents(id string) []string {
	return p.graph.TransitiveDependents(id)
}

// Graph returns the dependency graph of the plan
func (p *Plan) Graph() *Graph { return p.graph }

// Resolver computes initialization orders and selects concrete kinds for
// abstract dependencies.
type Resolver struct {
	plans   *lru.LRU[string, *Plan]
	metrics *observability.Metrics
}

// Option configures a Resolver
type Option func(*Resolver)

// WithPlanCache sets the size and TTL of the plan cache. A size of zero or
// less disables caching.
func WithPlanCache(size int, ttl time.Duration) Option {
	return func(r *Resolver) {
		if size <= 0 {
			r.plans = nil
			return
		}
		r.plans = lru.NewLRU[string, *Plan](size, nil, ttl)
	}
}

// WithMetrics records plan cache hits and misses
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver with a plan cache of DefaultPlanCacheSize
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		plans: lru.NewLRU[string, *Plan](DefaultPlanCacheSize, nil, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve orders the requested kinds (plus the concrete kinds they depend on)
// so that every kind follows its dependencies. Abstract dependencies are bound
// to the most specific configured kind providing them.
func (r *Resolver) Resolve(requested []*plugins.Kind) (*Plan, error) {
	for i, k := range requested {
		if k == nil {
			return nil, &plugins.ResolutionError{Reason: fmt.Sprintf("requested kind %d is nil", i)}
		}
	}

	var key string
	if r.plans != nil {
		key = planKey(requested)
		if plan, ok := r.plans.Get(key); ok {
			r.metrics.RecordResolverLookup(true)
			return plan, nil
		}
		r.metrics.RecordResolverLookup(false)
	}

	plan, err := resolve(requested)
	if err != nil {
		return nil, err
	}

	if r.plans != nil {
		r.plans.Add(key, plan)
	}
	return plan, nil
}

// Purge drops every cached plan
func (r *Resolver) Purge() {
	if r.plans != nil {
		r.plans.Purge()
	}
}

// CachedPlans returns the number of cached plans
func (r *Resolver) CachedPlans() int {
	if r.plans == nil {
		return 0
	}
	return r.plans.Len()
}

// planKey identifies a request by kind identity, not just by ID, so that a
// re-registered kind never reuses a stale plan.
func planKey(requested []*plugins.Kind) string {
	parts := make([]string, len(requested))
	for i, k := range requested {
		parts[i] = fmt.Sprintf("%s#%p", k.ID, k)
	}
	return strings.Join(parts, ",")
}

func resolve(requested []*plugins.Kind) (*Plan, error) {
	pool := make([]*plugins.Kind, 0, len(requested))
	byID := make(map[string]*plugins.Kind, len(requested))

	add := func(k *plugins.Kind) error {
		if existing, ok := byID[k.ID]; ok {
			if existing != k {
				return &plugins.ResolutionError{Kind: k.ID, Reason: "two distinct kinds share this ID"}
			}
			return nil
		}
		if err := k.Validate(); err != nil {
			return &plugins.ResolutionError{Kind: k.ID, Reason: err.Error()}
		}
		byID[k.ID] = k
		pool = append(pool, k)
		return nil
	}

	for _, k := range requested {
		if err := add(k); err != nil {
			return nil, err
		}
	}

	// Concrete dependencies are pulled in even when not requested.
	for i := 0; i < len(pool); i++ {
		for _, d := range pool[i].Deps {
			if kd, ok := d.(*plugins.Kind); ok {
				if err := add(kd); err != nil {
					return nil, err
				}
			}
		}
	}

	graph := NewGraph()
	deps := make(map[string][]*plugins.Kind, len(pool))
	for _, k := range pool {
		chosen := make([]*plugins.Kind, len(k.Deps))
		edges := make([]string, len(k.Deps))
		for i, d := range k.Deps {
			switch req := d.(type) {
			case *plugins.Kind:
				chosen[i] = req
			case *plugins.Capability:
				sel, err := selectProvider(k, req, pool)
				if err != nil {
					return nil, err
				}
				chosen[i] = sel
			default:
				return nil, &plugins.ResolutionError{Kind: k.ID, Reason: fmt.Sprintf("unsupported requirement %T", d)}
			}
			edges[i] = chosen[i].ID
		}
		deps[k.ID] = chosen
		graph.AddNode(k.ID, edges)
	}

	ids, err := graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	order := make([]*plugins.Kind, len(ids))
	for i, id := range ids {
		order[i] = byID[id]
	}

	return &Plan{Order: order, Deps: deps, graph: graph}, nil
}

// selectProvider picks the kind in pool that provides c most specifically.
// The requesting kind is never its own provider.
func selectProvider(owner *plugins.Kind, c *plugins.Capability, pool []*plugins.Kind) (*plugins.Kind, error) {
	best := -1
	var candidates []*plugins.Kind

	for _, k := range pool {
		if k == owner {
			continue
		}
		d := k.Specificity(c)
		switch {
		case d < 0:
			continue
		case best < 0 || d < best:
			best = d
			candidates = []*plugins.Kind{k}
		case d == best:
			candidates = append(candidates, k)
		}
	}

	switch len(candidates) {
	case 0:
		return nil, &plugins.ResolutionError{
			Kind:        owner.ID,
			Requirement: c.String(),
			Reason:      "no configured kind provides the capability",
		}
	case 1:
		return candidates[0], nil
	default:
		ids := make([]string, len(candidates))
		for i, k := range candidates {
			ids[i] = k.ID
		}
		return nil, &plugins.ResolutionError{
			Kind:        owner.ID,
			Requirement: c.String(),
			Candidates:  ids,
			Reason:      "ambiguous: several kinds provide the capability equally specifically",
		}
	}
}
