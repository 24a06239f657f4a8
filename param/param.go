// Package param defines the named, typed tuning knob that a ConfigSpace
// enumerates over.
package param

import (
	"reflect"

	"github.com/notargets/kerneltune/errs"
	"github.com/notargets/kerneltune/value"
)

// Parameter is an immutable tuning knob: a name, a declared type, an
// ordered finite domain, and a default. Identity is per instance —
// two parameters built with identical name/type/domain are still
// distinct, because callers compare parameters by pointer.
type Parameter struct {
	name        string
	typ         value.Type
	domain      []value.Value
	def         value.Value
	description string
}

// New builds a Parameter. domain must be non-empty; def is not checked
// here or by space.New. ConfigSpace.DefaultConfig is where a default is
// checked against the space's restrictions.
func New(name string, typ value.Type, domain []value.Value, def value.Value) (*Parameter, error) {
	if name == "" {
		return nil, &errs.EmptyDomainError{Name: "(unnamed)"}
	}
	if len(domain) == 0 {
		return nil, &errs.EmptyDomainError{Name: name}
	}
	d := make([]value.Value, len(domain))
	copy(d, domain)
	return &Parameter{name: name, typ: typ, domain: d, def: def}, nil
}

// WithDescription returns a copy of p carrying a human-readable
// description for cache headers and logs. Description participates in
// no equality, hashing, or restriction semantics.
func (p *Parameter) WithDescription(desc string) *Parameter {
	cp := *p
	cp.description = desc
	return &cp
}

// Name returns the parameter's name, unique within its owning space.
func (p *Parameter) Name() string { return p.name }

// Type returns the parameter's declared type.
func (p *Parameter) Type() value.Type { return p.typ }

// Description returns the human-readable description, if any.
func (p *Parameter) Description() string { return p.description }

// Domain returns the ordered, finite set of values this parameter may
// take. The returned slice is a copy; callers must not mutate the
// parameter's domain via it.
func (p *Parameter) Domain() []value.Value {
	d := make([]value.Value, len(p.domain))
	copy(d, p.domain)
	return d
}

// Default returns the parameter's default value.
func (p *Parameter) Default() value.Value { return p.def }

// InDomain reports whether v equals some entry of the domain or the
// default value — the membership test the spec requires everywhere a
// bound value is validated.
func (p *Parameter) InDomain(v value.Value) bool {
	if v.Equal(p.def) {
		return true
	}
	for _, d := range p.domain {
		if v.Equal(d) {
			return true
		}
	}
	return false
}

// IndexInDomain returns the position of v within the domain slice
// (ignoring the default), used by ConfigSpace.Index's mixed-radix
// encoding.
func (p *Parameter) IndexInDomain(v value.Value) (int, bool) {
	for i, d := range p.domain {
		if v.Equal(d) {
			return i, true
		}
	}
	return 0, false
}

// DomainAt returns the domain value at ordinal i, used to decode a
// mixed-radix digit back into a bound value.
func (p *Parameter) DomainAt(i int) value.Value { return p.domain[i] }

// Size is the domain's cardinality, the radix this parameter
// contributes to ConfigSpace.Size().
func (p *Parameter) Size() int { return len(p.domain) }

// Hash derives from the parameter's reference identity, not its
// contents: two parameters with identical name/type/domain still hash
// differently because they are distinct instances.
func (p *Parameter) Hash() uint64 {
	return uint64(reflect.ValueOf(p).Pointer())
}
