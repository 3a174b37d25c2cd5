package plugins

import (
	"fmt"
	"strings"
)

// Plugin is a constructed plugin value. Hooks are discovered on it by
// interface assertion, so any type can serve as a plugin.
type Plugin = any

// Symbol is the per-stack unique name under which a plugin publishes its
// runtime API to the host and to other plugins.
type Symbol string

// Constructor builds a plugin instance from its resolved dependencies (in the
// order they were declared) and the stack-wide configuration.
type Constructor func(deps []Plugin, cfg Config) (Plugin, error)

// Requirement is a dependency declaration: either a concrete *Kind or an
// abstract *Capability.
type Requirement interface {
	requirement() string
}

// Capability is an abstract dependency that any kind providing it (or one of
// its descendants) can satisfy.
type Capability struct {
	Name   string
	Parent *Capability
}

func (c *Capability) requirement() string { return c.Name }

// String returns the capability name prefixed with its ancestry.
func (c *Capability) String() string {
	if c == nil {
		return "<nil>"
	}
	parts := []string{c.Name}
	for p := c.Parent; p != nil; p = p.Parent {
		parts = append(parts, p.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Distance returns how many parent steps lead from c up to target, or -1 if
// target is not an ancestor of c (or c itself).
func (c *Capability) Distance(target *Capability) int {
	d := 0
	for cur := c; cur != nil; cur = cur.Parent {
		if cur == target {
			return d
		}
		d++
	}
	return -1
}

// Kind describes a plugin implementation. Kinds are immutable once registered.
type Kind struct {
	// ID is the unique identifier of the kind (e.g., "counter").
	ID string
	// Version is a semantic version used by manifest constraints.
	Version     string
	Description string

	// Deps lists the kinds and capabilities this kind needs, in the order
	// their instances are passed to New.
	Deps []Requirement

	// Provides lists the capabilities this kind implements.
	Provides []*Capability

	// Symbol, when non-empty, publishes instances under this name.
	Symbol Symbol

	New Constructor
}

func (k *Kind) requirement() string { return k.ID }

// String returns the kind ID.
func (k *Kind) String() string {
	if k == nil {
		return "<nil>"
	}
	return k.ID
}

// Specificity returns the smallest distance from one of the capabilities the
// kind provides to c, or -1 if the kind does not satisfy c.
func (k *Kind) Specificity(c *Capability) int {
	best := -1
	for _, p := range k.Provides {
		if d := p.Distance(c); d >= 0 && (best < 0 || d < best) {
			best = d
		}
	}
	return best
}

// Satisfies reports whether the kind can fulfil the given requirement.
func (k *Kind) Satisfies(r Requirement) bool {
	switch req := r.(type) {
	case *Kind:
		return req == k
	case *Capability:
		return k.Specificity(req) >= 0
	default:
		return false
	}
}

// Validate checks that the kind is well formed.
func (k *Kind) Validate() error {
	if k == nil {
		return fmt.Errorf("kind is nil")
	}
	if k.ID == "" {
		return fmt.Errorf("kind ID is required")
	}
	if k.New == nil {
		return fmt.Errorf("kind %s has no constructor", k.ID)
	}
	for i, d := range k.Deps {
		if d == nil {
			return fmt.Errorf("kind %s: dependency %d is nil", k.ID, i)
		}
		if kd, ok := d.(*Kind); ok && kd == nil {
			return fmt.Errorf("kind %s: dependency %d is nil", k.ID, i)
		}
		if cd, ok := d.(*Capability); ok && cd == nil {
			return fmt.Errorf("kind %s: dependency %d is nil", k.ID, i)
		}
	}
	return nil
}

// RequirementName returns a printable name for a requirement.
func RequirementName(r Requirement) string {
	if r == nil {
		return "<nil>"
	}
	if c, ok := r.(*Capability); ok {
		return c.String()
	}
	return r.requirement()
}

// Instance is one constructed plugin inside a stack.
type Instance struct {
	Kind   *Kind
	Plugin Plugin
	// Index is the position of the instance in stack order.
	Index int
}

// Name returns the kind ID of the instance.
func (i Instance) Name() string {
	return i.Kind.ID
}
