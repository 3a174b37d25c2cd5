package hooks

import (
	"fmt"
	"reflect"

	"github.com/platinummonkey/plugstack/pkg/plugins"
)

// Cache holds one compiled List per hook for a fixed set of instances.
type Cache struct {
	lists map[string]list
	names []string
}

// Build compiles a List for every definition. Instances must be in stack
// order; a hook name may appear only once.
func Build(instances []plugins.Instance, defs ...Def) (*Cache, error) {
	c := &Cache{
		lists: make(map[string]list, len(defs)),
		names: make([]string, 0, len(defs)),
	}
	for i, def := range defs {
		if def == nil {
			return nil, fmt.Errorf("hook definition %d is nil", i)
		}
		name := def.Name()
		if name == "" {
			return nil, fmt.Errorf("hook definition %d has no name", i)
		}
		if _, exists := c.lists[name]; exists {
			return nil, fmt.Errorf("hook %q defined twice", name)
		}
		c.lists[name] = def.compile(instances)
		c.names = append(c.names, name)
	}
	return c, nil
}

// Names returns the hook names in definition order
func (c *Cache) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of hooks
func (c *Cache) Len() int { return len(c.names) }

// Participants returns the instances implementing the named hook
func (c *Cache) Participants(name string) ([]plugins.Instance, error) {
	l, ok := c.lists[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", plugins.ErrUnknownHook, name)
	}
	return l.Participants(), nil
}

// Call dispatches the named hook with an untyped argument. The argument must
// have exactly the hook's argument type.
func (c *Cache) Call(name string, arg any) (bool, error) {
	l, ok := c.lists[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", plugins.ErrUnknownHook, name)
	}
	return l.callAny(arg)
}

// Get returns the typed list of the named hook
func Get[A any](c *Cache, name string) (*List[A], error) {
	l, ok := c.lists[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", plugins.ErrUnknownHook, name)
	}
	typed, ok := l.(*List[A])
	if !ok {
		return nil, &plugins.SignatureMismatchError{
			Hook: name,
			Want: l.ArgType().String(),
			Got:  reflect.TypeFor[A]().String(),
		}
	}
	return typed, nil
}
