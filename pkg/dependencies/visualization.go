package dependencies

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/plugstack/pkg/httputil"
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

// CytoscapeNode represents a node in Cytoscape.js format
type CytoscapeNode struct {
	Data CytoscapeNodeData `json:"data"`
}

// CytoscapeNodeData contains node data for Cytoscape.js
type CytoscapeNodeData struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Order   int    `json:"order"`
	Type    string `json:"type"` // "kind", "current", "dependency", "dependent"
}

// CytoscapeEdge represents an edge in Cytoscape.js format
type CytoscapeEdge struct {
	Data CytoscapeEdgeData `json:"data"`
}

// CytoscapeEdgeData contains edge data for Cytoscape.js
type CytoscapeEdgeData struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"` // "direct", "transitive", "depends-on"
	// Via names the capability the dependency was selected for, if any.
	Via string `json:"via,omitempty"`
}

// CytoscapeGraph represents the complete graph in Cytoscape.js format
type CytoscapeGraph struct {
	Nodes []CytoscapeNode `json:"nodes"`
	Edges []CytoscapeEdge `json:"edges"`
}

// Graph directions
const (
	DirectionDependencies = "dependencies"
	DirectionDependents   = "dependents"
	DirectionBoth         = "both"
)

// GraphOptions selects the part of a plan to render
type GraphOptions struct {
	// Focus restricts the graph to one kind and its neighbours. Empty renders
	// the whole plan.
	Focus      string
	Direction  string
	Transitive bool
}

// BuildCytoscapeGraph renders plan as a Cytoscape.js graph
func BuildCytoscapeGraph(plan *Plan, opts GraphOptions) CytoscapeGraph {
	b := &graphBuilder{
		plan:    plan,
		visited: make(map[string]bool),
		edges:   make(map[string]bool),
		order:   make(map[string]int, len(plan.Order)),
		kinds:   make(map[string]*plugins.Kind, len(plan.Order)),
		out: CytoscapeGraph{
			Nodes: make([]CytoscapeNode, 0),
			Edges: make([]CytoscapeEdge, 0),
		},
	}
	for i, k := range plan.Order {
		b.order[k.ID] = i
		b.kinds[k.ID] = k
	}

	if opts.Focus == "" {
		for _, k := range plan.Order {
			b.node(k.ID, "kind")
		}
		for _, k := range plan.Order {
			b.dependencyEdges(k.ID, "direct")
		}
		return b.out
	}

	if b.kinds[opts.Focus] == nil {
		return b.out
	}
	b.node(opts.Focus, "current")

	direction := opts.Direction
	if direction == "" {
		direction = DirectionDependencies
	}

	if direction == DirectionDependencies || direction == DirectionBoth {
		b.addDependencies(opts.Focus, opts.Transitive, 0)
	}
	if direction == DirectionDependents || direction == DirectionBoth {
		b.addDependents(opts.Focus)
	}

	return b.out
}

type graphBuilder struct {
	plan    *Plan
	visited map[string]bool
	edges   map[string]bool
	order   map[string]int
	kinds   map[string]*plugins.Kind
	out     CytoscapeGraph
}

func (b *graphBuilder) node(id, typ string) {
	if b.visited[id] {
		return
	}
	b.visited[id] = true

	k := b.kinds[id]
	name := id
	if k.Symbol != "" {
		name = string(k.Symbol)
	}
	b.out.Nodes = append(b.out.Nodes, CytoscapeNode{
		Data: CytoscapeNodeData{
			ID:      id,
			Name:    name,
			Version: k.Version,
			Order:   b.order[id],
			Type:    typ,
		},
	})
}

func (b *graphBuilder) edge(source, target, typ, via string) {
	id := source + "->" + target
	if b.edges[id] {
		return
	}
	b.edges[id] = true
	b.out.Edges = append(b.out.Edges, CytoscapeEdge{
		Data: CytoscapeEdgeData{
			ID:     id,
			Source: source,
			Target: target,
			Type:   typ,
			Via:    via,
		},
	})
}

// dependencyEdges adds an edge for every selected dependency of id
func (b *graphBuilder) dependencyEdges(id, typ string) []string {
	k := b.kinds[id]
	chosen := b.plan.Deps[id]
	targets := make([]string, 0, len(chosen))
	for i, dep := range chosen {
		var via string
		if c, ok := k.Deps[i].(*plugins.Capability); ok {
			via = c.Name
		}
		b.edge(id, dep.ID, typ, via)
		targets = append(targets, dep.ID)
	}
	return targets
}

func (b *graphBuilder) addDependencies(id string, transitive bool, depth int) {
	typ := "direct"
	if depth > 0 {
		typ = "transitive"
	}
	for _, dep := range b.plan.Deps[id] {
		seen := b.visited[dep.ID]
		b.node(dep.ID, "dependency")
		if transitive && !seen {
			b.addDependencies(dep.ID, true, depth+1)
		}
	}
	b.dependencyEdges(id, typ)
}

func (b *graphBuilder) addDependents(id string) {
	for _, dependent := range b.plan.graph.Dependents(id) {
		b.node(dependent, "dependent")
		b.edge(dependent, id, "depends-on", "")
	}
}

// PlanLookup returns the plan currently in use under name
type PlanLookup func(name string) (*Plan, bool)

// GraphVisualizationHandlers serves resolution plans as Cytoscape.js graphs
type GraphVisualizationHandlers struct {
	lookup PlanLookup
}

// NewGraphVisualizationHandlers creates new graph visualization handlers
func NewGraphVisualizationHandlers(lookup PlanLookup) *GraphVisualizationHandlers {
	return &GraphVisualizationHandlers{lookup: lookup}
}

// RegisterRoutes registers graph visualization routes
func (h *GraphVisualizationHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/debug/plans/{name}/graph", h.getCytoscapeGraph).Methods(http.MethodGet)
}

// getCytoscapeGraph handles GET /debug/plans/{name}/graph
// Query parameters:
//   - focus: kind ID to center the graph on (default: whole plan)
//   - transitive: include transitive dependencies (default: true)
//   - direction: "dependencies", "dependents", or "both" (default: "dependencies")
func (h *GraphVisualizationHandlers) getCytoscapeGraph(w http.ResponseWriter, r *http.Request) {
	name, err := httputil.ParsePathString(r, "name")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	plan, ok := h.lookup(name)
	if !ok || plan == nil {
		httputil.WriteNotFoundError(w, "no plan for "+name)
		return
	}

	transitive, err := httputil.ParseQueryBool(r, "transitive", true)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	opts := GraphOptions{
		Focus:      httputil.ParseQueryString(r, "focus", ""),
		Direction:  httputil.ParseQueryString(r, "direction", DirectionDependencies),
		Transitive: transitive,
	}
	switch opts.Direction {
	case DirectionDependencies, DirectionDependents, DirectionBoth:
	default:
		httputil.WriteBadRequest(w, "invalid direction "+opts.Direction)
		return
	}
	if opts.Focus != "" && plan.Graph().Node(opts.Focus) == nil {
		httputil.WriteNotFoundError(w, "kind "+opts.Focus+" is not in the plan")
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, BuildCytoscapeGraph(plan, opts))
}
