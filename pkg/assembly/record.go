package assembly

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrImmutable is returned when setting a field of an immutable record
	ErrImmutable = errors.New("record is immutable")

	// ErrRejected is returned when a style check refuses a value
	ErrRejected = errors.New("value rejected by record style")

	// ErrNoField is returned for a field name the type does not have
	ErrNoField = errors.New("no such field")
)

// Field describes one field of an assembled type
type Field struct {
	Name        string
	Type        reflect.Type
	Plugin      string
	Constructor Constructor

	spec *FieldSpec
}

// Descriptor is an assembled type. Descriptors are shared and immutable.
type Descriptor struct {
	Name     string
	Key      Key
	Abstract *Abstract

	style  *Style
	fields []Field
	index  map[string]int
}

func newDescriptor(name string, key Key, abstract *Abstract, contributions []Contribution) *Descriptor {
	d := &Descriptor{
		Name:     name,
		Key:      key,
		Abstract: abstract,
		style:    abstract.style(),
		fields:   make([]Field, len(contributions)),
		index:    make(map[string]int, len(contributions)),
	}
	for i, c := range contributions {
		d.fields[i] = Field{
			Name:        c.Spec.Name,
			Type:        c.Spec.Type,
			Plugin:      c.Plugin,
			Constructor: c.Spec.Constructor,
			spec:        c.Spec,
		}
		d.index[c.Spec.Name] = i
	}
	return d
}

// NumField returns the number of fields
func (d *Descriptor) NumField() int { return len(d.fields) }

// Field returns the i'th field
func (d *Descriptor) Field(i int) Field { return d.fields[i] }

// Fields returns all fields in order
func (d *Descriptor) Fields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// FieldNames returns the field names in order
func (d *Descriptor) FieldNames() []string {
	names := make([]string, len(d.fields))
	for i, f := range d.fields {
		names[i] = f.Name
	}
	return names
}

// FieldIndex returns the index of the named field
func (d *Descriptor) FieldIndex(name string) (int, bool) {
	i, ok := d.index[name]
	return i, ok
}

// SameFields reports whether both descriptors have the same field names and
// types in the same order
func (d *Descriptor) SameFields(o *Descriptor) bool {
	if d == o {
		return true
	}
	if d == nil || o == nil || len(d.fields) != len(o.fields) {
		return false
	}
	for i := range d.fields {
		if d.fields[i].Name != o.fields[i].Name || d.fields[i].Type != o.fields[i].Type {
			return false
		}
	}
	return true
}

// Style returns the record style of the type
func (d *Descriptor) Style() *Style { return d.style }

// New constructs a record, calling every field constructor with args
func (d *Descriptor) New(args ...any) (*Record, error) {
	r := &Record{desc: d, values: make([]any, len(d.fields))}
	for i, f := range d.fields {
		v, err := f.spec.construct(args)
		if err != nil {
			return nil, fmt.Errorf("failed to construct field %s of %s: %w", f.Name, d.Name, err)
		}
		if err := d.style.admit(f, v, true); err != nil {
			return nil, fmt.Errorf("failed to construct %s: %w", d.Name, err)
		}
		r.values[i] = v
	}
	return r, nil
}

// Record is an instance of an assembled type
type Record struct {
	desc   *Descriptor
	values []any
}

// Descriptor returns the type of the record
func (r *Record) Descriptor() *Descriptor { return r.desc }

// At returns the value of the i'th field
func (r *Record) At(i int) any { return r.values[i] }

// Get returns the value of the named field
func (r *Record) Get(name string) (any, error) {
	i, ok := r.desc.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoField, r.desc.Name, name)
	}
	return r.values[i], nil
}

// Set stores v in the named field
func (r *Record) Set(name string, v any) error {
	i, ok := r.desc.index[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNoField, r.desc.Name, name)
	}
	return r.SetAt(i, v)
}

// SetAt stores v in the i'th field
func (r *Record) SetAt(i int, v any) error {
	f := r.desc.fields[i]
	if r.desc.style.ReadOnly() {
		return ErrImmutable
	}
	cv, err := conform(f.Type, v)
	if err != nil {
		return fmt.Errorf("field %s.%s: %w", r.desc.Name, f.Name, err)
	}
	if err := r.desc.style.admit(f, cv, false); err != nil {
		return err
	}
	r.values[i] = cv
	return nil
}

// GetField returns the named field of r as a T
func GetField[T any](r *Record, name string) (T, error) {
	var zero T
	v, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("field %s.%s is %s, not %s", r.desc.Name, name, r.desc.fields[r.desc.index[name]].Type, reflect.TypeFor[T]())
	}
	return typed, nil
}

// Accessor reads and writes one field of records of one descriptor without a
// name lookup.
type Accessor[T any] struct {
	desc  *Descriptor
	index int
}

// NewAccessor resolves the named field of d, which must hold values of type T
func NewAccessor[T any](d *Descriptor, name string) (Accessor[T], error) {
	i, ok := d.index[name]
	if !ok {
		return Accessor[T]{}, fmt.Errorf("%w: %s.%s", ErrNoField, d.Name, name)
	}
	want := reflect.TypeFor[T]()
	if ft := d.fields[i].Type; !ft.AssignableTo(want) || !want.AssignableTo(ft) {
		return Accessor[T]{}, fmt.Errorf("field %s.%s is %s, not %s", d.Name, name, ft, want)
	}
	return Accessor[T]{desc: d, index: i}, nil
}

// Get returns the field of r. r must be a record of the accessor's descriptor.
func (a Accessor[T]) Get(r *Record) T {
	if r.desc != a.desc {
		panic(fmt.Sprintf("assembly: accessor for %s used on record of %s", a.desc.Name, r.desc.Name))
	}
	v, _ := r.values[a.index].(T)
	return v
}

// Set stores v in the field of r
func (a Accessor[T]) Set(r *Record, v T) error {
	if r.desc != a.desc {
		return fmt.Errorf("accessor for %s used on record of %s", a.desc.Name, r.desc.Name)
	}
	if err := r.desc.style.admit(r.desc.fields[a.index], v, false); err != nil {
		return err
	}
	r.values[a.index] = v
	return nil
}
