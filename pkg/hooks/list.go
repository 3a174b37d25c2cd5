package hooks

import (
	"reflect"

	"github.com/platinummonkey/plugstack/pkg/plugins"
)

type handler[A any] func(A) (bool, error)

// chainFunc runs a compiled chain. at receives the index of the handler
// currently running so that failures can be attributed.
type chainFunc[A any] func(arg A, at *int) (bool, error)

// list is the type-erased view of a List held by a Cache
type list interface {
	Name() string
	ArgType() reflect.Type
	Participants() []plugins.Instance
	callAny(arg any) (bool, error)
}

// List is the compiled call chain of one hook. A List is immutable once built
// and safe for concurrent calls as long as the handlers are.
type List[A any] struct {
	name     string
	entries  []plugins.Instance
	handlers []handler[A]
	call     chainFunc[A]
}

// Name returns the hook name
func (l *List[A]) Name() string { return l.name }

// ArgType returns the handler argument type
func (l *List[A]) ArgType() reflect.Type { return reflect.TypeFor[A]() }

// Len returns the number of participating plugins
func (l *List[A]) Len() int { return len(l.entries) }

// Participants returns the participating instances in call order
func (l *List[A]) Participants() []plugins.Instance {
	out := make([]plugins.Instance, len(l.entries))
	copy(out, l.entries)
	return out
}

// Call invokes the participants in stack order. A handler returning true
// stops the chain and Call reports stopped. A handler error or panic stops the
// chain and is returned as a *plugins.DispatchError.
func (l *List[A]) Call(arg A) (stopped bool, err error) {
	at := -1
	defer func() {
		if r := recover(); r != nil {
			stopped, err = false, l.dispatchError(at, nil, r)
		}
	}()

	stopped, err = l.call(arg, &at)
	if err != nil {
		return false, l.dispatchError(at, err, nil)
	}
	return stopped, nil
}

func (l *List[A]) callAny(arg any) (bool, error) {
	a, ok := arg.(A)
	if !ok {
		return false, &plugins.SignatureMismatchError{
			Hook: l.name,
			Want: l.ArgType().String(),
			Got:  typeName(arg),
		}
	}
	return l.Call(a)
}

func (l *List[A]) dispatchError(at int, err error, panicked any) *plugins.DispatchError {
	derr := &plugins.DispatchError{Hook: l.name, Index: at, Err: err, Panic: panicked}
	if at >= 0 && at < len(l.entries) {
		derr.Plugin = l.entries[at].Name()
	}
	return derr
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}

// chain compiles handlers into a single call. Small chains are unrolled; longer
// ones become one closure per participant, each calling the next.
func chain[A any](hs []handler[A]) chainFunc[A] {
	switch len(hs) {
	case 0:
		return func(A, *int) (bool, error) { return false, nil }
	case 1:
		h0 := hs[0]
		return func(arg A, at *int) (bool, error) {
			*at = 0
			return h0(arg)
		}
	case 2:
		h0, h1 := hs[0], hs[1]
		return func(arg A, at *int) (bool, error) {
			*at = 0
			if stop, err := h0(arg); stop || err != nil {
				return stop, err
			}
			*at = 1
			return h1(arg)
		}
	case 3:
		h0, h1, h2 := hs[0], hs[1], hs[2]
		return func(arg A, at *int) (bool, error) {
			*at = 0
			if stop, err := h0(arg); stop || err != nil {
				return stop, err
			}
			*at = 1
			if stop, err := h1(arg); stop || err != nil {
				return stop, err
			}
			*at = 2
			return h2(arg)
		}
	}

	last := len(hs) - 1
	hl := hs[last]
	next := chainFunc[A](func(arg A, at *int) (bool, error) {
		*at = last
		return hl(arg)
	})
	for i := last - 1; i >= 0; i-- {
		h, idx, rest := hs[i], i, next
		next = func(arg A, at *int) (bool, error) {
			*at = idx
			if stop, err := h(arg); stop || err != nil {
				return stop, err
			}
			return rest(arg, at)
		}
	}
	return next
}
