package stage

import (
	"slices"
	"sort"
	"strings"

	"github.com/platinummonkey/plugstack/pkg/plugins"
)

// handlers returns the names of the Preparers that handle s, sorted
func handlers(instances []plugins.Instance, s Stage) []string {
	var names []string
	for _, inst := range instances {
		if _, ok := inst.Plugin.(Preparer); !ok {
			continue
		}
		if f, ok := inst.Plugin.(Filter); ok && !f.HandlesStage(s) {
			continue
		}
		names = append(names, inst.Name())
	}
	sort.Strings(names)
	return names
}

type candidate struct {
	stage    Stage
	handlers string
}

// compatible reports whether two requests can run as one stage: same kind,
// the same Preparers handling them and changes that do not contradict.
func compatible(a, b candidate) bool {
	return a.stage.Kind == b.stage.Kind &&
		a.handlers == b.handlers &&
		!a.stage.Change.ConflictsWith(b.stage.Change)
}

// merge picks the largest group of mutually compatible requests, earliest
// seed first on ties, and folds it into one stage. The other requests are
// returned as dropped, in request order.
func merge(instances []plugins.Instance, requests []Stage) (Stage, []Stage) {
	cands := make([]candidate, len(requests))
	for i, r := range requests {
		cands[i] = candidate{stage: r, handlers: strings.Join(handlers(instances, r), ",")}
	}

	var best []int
	for seed := range cands {
		group := []int{seed}
		for j := range cands {
			if j == seed {
				continue
			}
			fits := true
			for _, m := range group {
				if !compatible(cands[m], cands[j]) {
					fits = false
					break
				}
			}
			if fits {
				group = append(group, j)
			}
		}
		if len(group) > len(best) {
			best = group
		}
	}
	slices.Sort(best)

	merged := Stage{Kind: requests[best[0]].Kind}
	var reasons []string
	for _, i := range best {
		r := requests[i]
		merged.Change = merged.Change.Merge(r.Change)
		for _, who := range r.Requesters {
			if !slices.Contains(merged.Requesters, who) {
				merged.Requesters = append(merged.Requesters, who)
			}
		}
		if r.Reason != "" && !slices.Contains(reasons, r.Reason) {
			reasons = append(reasons, r.Reason)
		}
	}
	merged.Reason = strings.Join(reasons, "; ")

	var dropped []Stage
	for i, r := range requests {
		if !slices.Contains(best, i) {
			dropped = append(dropped, r)
		}
	}
	return merged, dropped
}
