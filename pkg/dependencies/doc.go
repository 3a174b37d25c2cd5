// Package dependencies resolves plugin kinds into an initialization plan.
//
// # Overview
//
// A Resolver takes the kinds requested for a stack, pulls in the concrete
// kinds they depend on, binds every abstract capability dependency to the most
// specific configured provider, and orders the result so that each kind comes
// after all of its dependencies.
//
// # Usage Example
//
//	resolver := dependencies.NewResolver()
//	plan, err := resolver.Resolve([]*plugins.Kind{perf, counter})
//	if err != nil {
//		var rerr *plugins.ResolutionError
//		if errors.As(err, &rerr) && len(rerr.Cycle) > 0 {
//			fmt.Println("cycle:", strings.Join(rerr.Cycle, " -> "))
//		}
//	}
//	fmt.Println(plan.IDs())
//
// # Abstract Dependencies
//
// A kind may depend on a *plugins.Capability instead of a concrete kind. Among
// the configured kinds that provide the capability (or a descendant of it),
// the one whose provided capability is the fewest parent steps away wins.
// Zero candidates, or several at the same distance, is a resolution error.
//
// # Determinism
//
// Traversal follows request order and declared dependency order, so the same
// request always yields the same plan. Plans are cached per request in an
// expiring LRU; see WithPlanCache.
//
// # Impact Analysis
//
// Graph.TransitiveDependents reports every kind affected by a change to
// another, which the stack uses to decide which instances survive a
// recomposition.
//
// # Visualization
//
// BuildCytoscapeGraph renders a plan, or the neighbourhood of one kind in it,
// as Cytoscape.js JSON. GraphVisualizationHandlers serves the plans of a
// running host under /debug/plans/{name}/graph.
package dependencies
