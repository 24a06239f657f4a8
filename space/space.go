// Package space implements the Cartesian product of parameter domains
// filtered by boolean restrictions: ConfigSpace, Config, and the
// pseudo-random ConfigIterator.
package space

import (
	"encoding/json"
	"math"

	"github.com/notargets/kerneltune/errs"
	"github.com/notargets/kerneltune/expr"
	"github.com/notargets/kerneltune/param"
	"github.com/notargets/kerneltune/value"
)

// ConfigSpace is an ordered list of parameters plus an unordered list of
// boolean restriction expressions. It carries no mutable state once
// built.
type ConfigSpace struct {
	params       []*param.Parameter
	byName       map[string]*param.Parameter
	restrictions []*expr.Expr
}

// New builds a ConfigSpace. Parameter names must be unique within it.
func New(params []*param.Parameter, restrictions []*expr.Expr) (*ConfigSpace, error) {
	byName := make(map[string]*param.Parameter, len(params))
	ps := make([]*param.Parameter, len(params))
	for i, p := range params {
		if _, dup := byName[p.Name()]; dup {
			return nil, &errs.DuplicateParameterError{Name: p.Name()}
		}
		byName[p.Name()] = p
		ps[i] = p
	}
	rs := make([]*expr.Expr, len(restrictions))
	copy(rs, restrictions)
	return &ConfigSpace{params: ps, byName: byName, restrictions: rs}, nil
}

// Parameters returns the space's parameters in declaration order.
func (s *ConfigSpace) Parameters() []*param.Parameter {
	out := make([]*param.Parameter, len(s.params))
	copy(out, s.params)
	return out
}

// Restrictions returns the space's boolean restriction expressions.
func (s *ConfigSpace) Restrictions() []*expr.Expr {
	out := make([]*expr.Expr, len(s.restrictions))
	copy(out, s.restrictions)
	return out
}

// ParameterByName looks up a parameter by name, for expr.Decode and
// TuningCache header validation.
func (s *ConfigSpace) ParameterByName(name string) (*param.Parameter, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, &errs.UnknownParameterError{Name: name}
	}
	return p, nil
}

// Size is the product of domain cardinalities, with overflow detection.
// A space containing a zero-cardinality parameter has size 0.
func (s *ConfigSpace) Size() (uint64, error) {
	var size uint64 = 1
	for _, p := range s.params {
		n := uint64(p.Size())
		if n == 0 {
			return 0, nil
		}
		if size != 0 && n != 0 && size > math.MaxUint64/n {
			return 0, &errs.IntegerOverflowError{Detail: "config space size exceeds 64 bits"}
		}
		size *= n
	}
	return size, nil
}

// Get decodes index i into a configuration by mixed-radix decomposition
// over parameters in declaration order, and reports whether the
// resulting configuration satisfies every restriction. The returned
// Config always holds the decoded binding, valid or not.
func (s *ConfigSpace) Get(i uint64) (Config, bool, error) {
	vals := make(map[*param.Parameter]value.Value, len(s.params))
	rem := i
	for _, p := range s.params {
		k := uint64(p.Size())
		if k == 0 {
			return Config{}, false, &errs.EmptyDomainError{Name: p.Name()}
		}
		idx := rem % k
		rem /= k
		vals[p] = p.DomainAt(int(idx))
	}
	cfg := newConfig(s, vals)
	valid, err := s.evalRestrictions(cfg)
	if err != nil {
		return cfg, false, err
	}
	return cfg, valid, nil
}

// Index computes the canonical index of c in [0, Size()) — the inverse
// of Get — by mixed-radix encoding each parameter's bound value against
// its position in that parameter's domain, in declaration order. It
// fails with *errs.UnknownParameterError if c does not bind every
// parameter of s, or binds one to a value not present in its domain
// (the default value alone has no defined index).
func (s *ConfigSpace) Index(c Config) (uint64, error) {
	var idx, radix uint64 = 0, 1
	for _, p := range s.params {
		v, ok := c.Get(p)
		if !ok {
			return 0, &errs.UnknownParameterError{Name: p.Name()}
		}
		pos, ok := p.IndexInDomain(v)
		if !ok {
			return 0, &errs.UnknownParameterError{Name: p.Name()}
		}
		idx += uint64(pos) * radix
		radix *= uint64(p.Size())
	}
	return idx, nil
}

func (s *ConfigSpace) evalRestrictions(c Config) (bool, error) {
	for _, r := range s.restrictions {
		v, err := expr.Eval(r, c)
		if err != nil {
			return false, err
		}
		bv, err := v.Cast(value.TypeBool)
		if err != nil {
			return false, err
		}
		b, _ := bv.AsBool()
		if !b {
			return false, nil
		}
	}
	return true, nil
}

// DefaultConfig binds every parameter to its default. It fails with
// *errs.InvalidDefaultError if the result violates a restriction.
func (s *ConfigSpace) DefaultConfig() (Config, error) {
	vals := make(map[*param.Parameter]value.Value, len(s.params))
	for _, p := range s.params {
		vals[p] = p.Default()
	}
	cfg := newConfig(s, vals)
	valid, err := s.evalRestrictions(cfg)
	if err != nil {
		return Config{}, err
	}
	if !valid {
		return Config{}, &errs.InvalidDefaultError{Restriction: "default configuration"}
	}
	return cfg, nil
}

// LoadConfig decodes a JSON object of {name: literal} pairs by parameter
// name. Every bound value must equal a domain entry or the parameter's
// default, and all restrictions must hold.
func (s *ConfigSpace) LoadConfig(data []byte) (Config, error) {
	var raw map[string]value.Value
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, err
	}
	vals := make(map[*param.Parameter]value.Value, len(s.params))
	for _, p := range s.params {
		v, ok := raw[p.Name()]
		if !ok {
			return Config{}, &errs.UnknownParameterError{Name: p.Name()}
		}
		if !p.InDomain(v) {
			return Config{}, &errs.UnknownParameterError{Name: p.Name()}
		}
		vals[p] = v
	}
	cfg := newConfig(s, vals)
	valid, err := s.evalRestrictions(cfg)
	if err != nil {
		return Config{}, err
	}
	if !valid {
		return Config{}, &errs.NoValidConfigError{}
	}
	return cfg, nil
}

// IsValid requires c's bound parameter set to equal s's parameter set,
// every value to lie in its domain (or equal the default), and every
// restriction to evaluate true.
func (s *ConfigSpace) IsValid(c Config) (bool, error) {
	if len(c.values) != len(s.params) {
		return false, nil
	}
	for _, p := range s.params {
		v, ok := c.values[p]
		if !ok || !p.InDomain(v) {
			return false, nil
		}
	}
	return s.evalRestrictions(c)
}
