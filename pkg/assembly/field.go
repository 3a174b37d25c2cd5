package assembly

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
)

var (
	// Mutable records accept Set after construction.
	Mutable = NewStyle("mutable")
	// Immutable records reject Set with ErrImmutable.
	Immutable = NewStyle("immutable", ReadOnly())
)

// Style selects how records of an assembled type may be used. Styles are
// compared by identity, so two styles with the same name still assemble
// distinct types.
type Style struct {
	name     string
	readOnly bool
	check    func(f Field, v any) error
}

// StyleOption configures a Style
type StyleOption func(*Style)

// ReadOnly makes records reject Set once constructed
func ReadOnly() StyleOption {
	return func(s *Style) { s.readOnly = true }
}

// WithCheck vets every value stored in a record of the style, constructed
// values included. A rejection wraps ErrRejected.
func WithCheck(check func(f Field, v any) error) StyleOption {
	return func(s *Style) { s.check = check }
}

// NewStyle creates a record style
func NewStyle(name string, opts ...StyleOption) *Style {
	s := &Style{name: name}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Style) String() string { return s.name }

// ReadOnly reports whether records of the style reject Set
func (s *Style) ReadOnly() bool { return s.readOnly }

// admit decides whether v may be stored in f
func (s *Style) admit(f Field, v any, constructing bool) error {
	if s.readOnly && !constructing {
		return ErrImmutable
	}
	if s.check != nil {
		if err := s.check(f, v); err != nil {
			return fmt.Errorf("%w: field %s: %w", ErrRejected, f.Name, err)
		}
	}
	return nil
}

// Abstract is the supertype plugins contribute fields to. Base fields are
// present in every assembled type of the abstract, ahead of contributed ones.
type Abstract struct {
	Name string
	// Style defaults to Mutable.
	Style *Style
	Base  []*FieldSpec
	// PlainName names new descriptors after the requested name alone instead
	// of suffixing the structural key. Distinct field sets then share a name.
	PlainName bool
}

func (a *Abstract) style() *Style {
	if a.Style == nil {
		return Mutable
	}
	return a.Style
}

// Constructor builds the initial value of a field. Every field of a record is
// constructed with the same arguments. ID identifies the constructor in
// structural keys.
type Constructor struct {
	ID  string
	New func(args ...any) (any, error)
}

// FieldSpec is one field contributed to an assembled type.
type FieldSpec struct {
	Name        string
	Type        reflect.Type
	Constructor Constructor
}

// FieldContributor is implemented by plugins that add a field to assembled
// types. Returning a nil spec contributes nothing.
type FieldContributor interface {
	CustomField(ctx context.Context, abstract *Abstract) (*FieldSpec, error)
}

const zeroConstructorID = "zero"

// ZeroField returns a spec for a field of type T initialized to its zero
// value.
func ZeroField[T any](name string) *FieldSpec {
	return &FieldSpec{Name: name, Type: reflect.TypeFor[T]()}
}

// NewField returns a spec for a field of type T built by ctor. The
// constructor ID is the function name of ctor, so closures created from the
// same literal share an ID; use WithID when they must differ.
func NewField[T any](name string, ctor func(args ...any) (T, error)) *FieldSpec {
	return &FieldSpec{
		Name: name,
		Type: reflect.TypeFor[T](),
		Constructor: Constructor{
			ID: funcName(ctor),
			New: func(args ...any) (any, error) {
				return ctor(args...)
			},
		},
	}
}

// WithID returns a copy of the spec with an explicit constructor ID
func (f *FieldSpec) WithID(id string) *FieldSpec {
	out := *f
	out.Constructor.ID = id
	return &out
}

func (f *FieldSpec) constructorID() string {
	if f.Constructor.ID != "" {
		return f.Constructor.ID
	}
	if f.Constructor.New == nil {
		return zeroConstructorID
	}
	return funcName(f.Constructor.New)
}

func (f *FieldSpec) construct(args []any) (any, error) {
	if f.Constructor.New == nil {
		return reflect.Zero(f.Type).Interface(), nil
	}
	v, err := f.Constructor.New(args...)
	if err != nil {
		return nil, err
	}
	return conform(f.Type, v)
}

// conform checks that v can be stored in a field of type t
func conform(t reflect.Type, v any) (any, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t).Interface(), nil
		}
		return nil, fmt.Errorf("cannot use nil as %s", t)
	}
	vt := reflect.TypeOf(v)
	if !vt.AssignableTo(t) {
		return nil, fmt.Errorf("cannot use %s as %s", vt, t)
	}
	return v, nil
}

func funcName(fn any) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return fmt.Sprintf("%p", fn)
}
