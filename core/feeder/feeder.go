package feeder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Kind is the declared type of an entity value.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "float"
	}
}

// Provider is the part of the home-automation collaborator feeders read from.
type Provider interface {
	RegisterEntity(id string, kind Kind)
	Revision() uint64
	EntityValue(id string) (any, error)
}

// Feeder produces a typed scalar.
type Feeder[T any] interface {
	Value() (T, error)
}

// Constant always returns the same value.
type Constant[T any] struct {
	v T
}

// NewConstant wraps v.
func NewConstant[T any](v T) *Constant[T] { return &Constant[T]{v: v} }

func (c *Constant[T]) Value() (T, error) { return c.v, nil }

func (c *Constant[T]) String() string { return fmt.Sprintf("%v", c.v) }

// Source reads one entity through a Provider. The raw value is re-read only
// when the provider revision is ahead of the last revision seen.
type Source[T any] struct {
	id       string
	provider Provider
	cast     func(any) (T, error)
	def      T

	mu       sync.Mutex
	seen     bool
	revision uint64
	value    T
	err      error
}

// NewSource registers id on the provider and returns a feeder for it. def is
// returned alongside a CastError when the raw value cannot be converted.
func NewSource[T any](p Provider, id string, kind Kind, cast func(any) (T, error), def T) *Source[T] {
	p.RegisterEntity(id, kind)
	return &Source[T]{id: id, provider: p, cast: cast, def: def, value: def}
}

// ID returns the entity id.
func (s *Source[T]) ID() string { return s.id }

func (s *Source[T]) String() string { return "entity:" + s.id }

// Value returns the cached value, refreshing it first if the provider
// revision moved forward.
func (s *Source[T]) Value() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.provider.Revision()
	if s.seen && rev <= s.revision {
		if s.err != nil {
			return s.def, s.err
		}
		return s.value, nil
	}
	s.seen = true
	s.revision = rev
	raw, err := s.provider.EntityValue(s.id)
	if err != nil {
		s.err = &CastError{Entity: s.id, Raw: nil, Default: s.def, Err: err}
		return s.def, s.err
	}
	v, err := s.cast(raw)
	if err != nil {
		s.err = &CastError{Entity: s.id, Raw: raw, Default: s.def, Err: err}
		return s.def, s.err
	}
	s.err = nil
	s.value = v
	return v, nil
}

// Derived computes its value from a function, typically over other feeders.
type Derived[T any] struct {
	fn func() (T, error)
}

// NewDerived wraps fn.
func NewDerived[T any](fn func() (T, error)) *Derived[T] { return &Derived[T]{fn: fn} }

func (d *Derived[T]) Value() (T, error) { return d.fn() }

// Sum adds the values of the given feeders. The first error is returned with
// the partial sum of the feeders that did succeed.
func Sum(fs ...Feeder[float64]) *Derived[float64] {
	return NewDerived(func() (float64, error) {
		var total float64
		var first error
		for _, f := range fs {
			v, err := f.Value()
			if err != nil && first == nil {
				first = err
			}
			total += v
		}
		return total, first
	})
}

// ErrMissing is returned when a mandatory feeder value is absent from
// configuration.
var ErrMissing = errors.New("missing value")

// Float builds a float feeder from a configuration value: numbers and numeric
// strings become constants, any other string names an entity.
func Float(p Provider, raw any) (Feeder[float64], error) {
	switch v := raw.(type) {
	case nil:
		return nil, ErrMissing
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, ErrMissing
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return NewConstant(f), nil
		}
		return NewSource(p, s, KindFloat, ToFloat, 0), nil
	default:
		f, err := ToFloat(raw)
		if err != nil {
			return nil, err
		}
		return NewConstant(f), nil
	}
}

// Bool builds a boolean feeder from a configuration value. Strings that are
// not a recognised boolean literal name an entity.
func Bool(p Provider, raw any) (Feeder[bool], error) {
	switch v := raw.(type) {
	case nil:
		return nil, ErrMissing
	case bool:
		return NewConstant(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, ErrMissing
		}
		switch strings.ToLower(s) {
		case "true", "false", "on", "off":
			b, _ := ToBool(s)
			return NewConstant(b), nil
		}
		return NewSource(p, s, KindBool, ToBool, false), nil
	default:
		b, err := ToBool(raw)
		if err != nil {
			return nil, err
		}
		return NewConstant(b), nil
	}
}

// String builds a string feeder. Strings prefixed with "entity:" are read
// through the provider; anything else is constant.
func String(p Provider, raw any) (Feeder[string], error) {
	if raw == nil {
		return nil, ErrMissing
	}
	s, err := ToString(raw)
	if err != nil {
		return nil, err
	}
	if id, ok := strings.CutPrefix(s, "entity:"); ok {
		return NewSource(p, id, KindString, ToString, ""), nil
	}
	return NewConstant(s), nil
}
