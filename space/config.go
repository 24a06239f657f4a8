package space

import (
	"github.com/notargets/kerneltune/param"
	"github.com/notargets/kerneltune/value"
)

// Config is a complete parameter -> value binding. Equality and hashing
// are order-insensitive: two configs with the same entries in any map
// iteration order compare and hash equal.
type Config struct {
	space  *ConfigSpace
	values map[*param.Parameter]value.Value
}

// newConfig builds a Config bound to sp with an independent copy of vals.
func newConfig(sp *ConfigSpace, vals map[*param.Parameter]value.Value) Config {
	cp := make(map[*param.Parameter]value.Value, len(vals))
	for k, v := range vals {
		cp[k] = v
	}
	return Config{space: sp, values: cp}
}

// Lookup implements expr.Binding.
func (c Config) Lookup(p *param.Parameter) (value.Value, bool) {
	v, ok := c.values[p]
	return v, ok
}

// Get returns the bound value for parameter p.
func (c Config) Get(p *param.Parameter) (value.Value, bool) {
	v, ok := c.values[p]
	return v, ok
}

// With returns a copy of c with p rebound to v, for strategies that
// mutate one parameter at a time (e.g. hill climbing's neighbor step).
func (c Config) With(p *param.Parameter, v value.Value) Config {
	cp := newConfig(c.space, c.values)
	cp.values[p] = v
	return cp
}

// Space returns the ConfigSpace c was decoded from.
func (c Config) Space() *ConfigSpace { return c.space }

// Parameters returns the parameters bound in c.
func (c Config) Parameters() []*param.Parameter {
	out := make([]*param.Parameter, 0, len(c.values))
	for p := range c.values {
		out = append(out, p)
	}
	return out
}

// Equal compares two configs' underlying maps order-insensitively.
func (c Config) Equal(o Config) bool {
	if len(c.values) != len(o.values) {
		return false
	}
	for p, v := range c.values {
		ov, ok := o.values[p]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Hash combines per-entry hashes order-insensitively (a running XOR),
// so map iteration order never affects the result.
func (c Config) Hash() uint64 {
	var h uint64
	for p, v := range c.values {
		h ^= mixEntry(p.Hash(), v.Hash())
	}
	return h
}

func mixEntry(a, b uint64) uint64 {
	h := a*1099511628211 ^ b
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return h
}
