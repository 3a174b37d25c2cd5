package stack

import (
	"reflect"
	"slices"

	"github.com/platinummonkey/plugstack/pkg/plugins"
)

// Change describes a recomposition of a stack.
type Change struct {
	// Add lists kinds to include. A kind whose ID is already in the stack
	// replaces the existing kind.
	Add []*plugins.Kind
	// Remove lists kind IDs to drop.
	Remove []string
	// Config overrides are merged on top of the current configuration.
	Config plugins.Config
}

// IsZero reports whether the change leaves a stack untouched
func (c Change) IsZero() bool {
	return len(c.Add) == 0 && len(c.Remove) == 0 && len(c.Config) == 0
}

// Composition reports whether the change adds or removes kinds
func (c Change) Composition() bool {
	return len(c.Add) > 0 || len(c.Remove) > 0
}

// ConflictsWith reports whether applying both changes is ambiguous: a config
// key set to different values, or a kind added by one and removed by the
// other.
func (c Change) ConflictsWith(o Change) bool {
	for k, v := range c.Config {
		if ov, ok := o.Config[k]; ok && !reflect.DeepEqual(v, ov) {
			return true
		}
	}
	for _, k := range c.Add {
		if slices.Contains(o.Remove, k.ID) {
			return true
		}
	}
	for _, k := range o.Add {
		if slices.Contains(c.Remove, k.ID) {
			return true
		}
	}
	for _, k := range c.Add {
		for _, ak := range o.Add {
			if k.ID == ak.ID && k != ak {
				return true
			}
		}
	}
	return false
}

// Merge combines two non-conflicting changes
func (c Change) Merge(o Change) Change {
	out := Change{Config: c.Config.Merge(o.Config)}
	if len(out.Config) == 0 {
		out.Config = nil
	}

	seen := make(map[*plugins.Kind]bool)
	for _, k := range append(slices.Clone(c.Add), o.Add...) {
		if !seen[k] {
			seen[k] = true
			out.Add = append(out.Add, k)
		}
	}
	for _, id := range append(slices.Clone(c.Remove), o.Remove...) {
		if !slices.Contains(out.Remove, id) {
			out.Remove = append(out.Remove, id)
		}
	}
	return out
}

// apply returns the requested kinds after the change
func (c Change) apply(kinds []*plugins.Kind) []*plugins.Kind {
	out := make([]*plugins.Kind, 0, len(kinds)+len(c.Add))
	for _, k := range kinds {
		if slices.Contains(c.Remove, k.ID) {
			continue
		}
		if i := slices.IndexFunc(c.Add, func(a *plugins.Kind) bool { return a.ID == k.ID }); i >= 0 {
			k = c.Add[i]
		}
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	for _, k := range c.Add {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
