package hooks

import (
	"reflect"

	"github.com/platinummonkey/plugstack/pkg/plugins"
)

// Def is a hook definition as seen by Build. Hooks are created with Define,
// DefineVoid or DefineStop.
type Def interface {
	Name() string
	// ArgType is the type of the argument passed to every handler.
	ArgType() reflect.Type
	compile(instances []plugins.Instance) list
}

// Hook is a named extension point. I is the interface a plugin implements to
// take part in the hook and A is the argument threaded through the chain.
type Hook[I any, A any] struct {
	name string
	call func(I, A) (bool, error)
}

// Define creates a hook whose handlers may stop the chain (by returning true)
// or fail it (by returning an error).
func Define[I any, A any](name string, call func(I, A) (bool, error)) *Hook[I, A] {
	return &Hook[I, A]{name: name, call: call}
}

// DefineVoid creates a hook whose handlers neither stop nor fail the chain.
func DefineVoid[I any, A any](name string, call func(I, A)) *Hook[I, A] {
	return Define(name, func(impl I, arg A) (bool, error) {
		call(impl, arg)
		return false, nil
	})
}

// DefineStop creates a hook whose handlers may stop the chain.
func DefineStop[I any, A any](name string, call func(I, A) bool) *Hook[I, A] {
	return Define(name, func(impl I, arg A) (bool, error) {
		return call(impl, arg), nil
	})
}

// Name returns the hook name
func (h *Hook[I, A]) Name() string { return h.name }

// ArgType returns the handler argument type
func (h *Hook[I, A]) ArgType() reflect.Type { return reflect.TypeFor[A]() }

// Implements reports whether p takes part in the hook
func (h *Hook[I, A]) Implements(p plugins.Plugin) bool {
	_, ok := p.(I)
	return ok
}

// In returns the compiled list of this hook in c
func (h *Hook[I, A]) In(c *Cache) (*List[A], error) {
	return Get[A](c, h.name)
}

// Call runs the hook chain in c with arg
func (h *Hook[I, A]) Call(c *Cache, arg A) (bool, error) {
	l, err := h.In(c)
	if err != nil {
		return false, err
	}
	return l.Call(arg)
}

func (h *Hook[I, A]) compile(instances []plugins.Instance) list {
	l := &List[A]{name: h.name}
	for _, inst := range instances {
		impl, ok := inst.Plugin.(I)
		if !ok {
			continue
		}
		call := h.call
		l.entries = append(l.entries, inst)
		l.handlers = append(l.handlers, func(arg A) (bool, error) {
			return call(impl, arg)
		})
	}
	l.call = chain(l.handlers)
	return l
}
