package expr

import (
	"encoding/json"
	"testing"

	"github.com/notargets/kerneltune/param"
	"github.com/notargets/kerneltune/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParam(t *testing.T, name string, domain []value.Value, def value.Value) *param.Parameter {
	t.Helper()
	p, err := param.New(name, value.TypeInt32, domain, def)
	require.NoError(t, err)
	return p
}

type mapBinding map[*param.Parameter]value.Value

func (m mapBinding) Lookup(p *param.Parameter) (value.Value, bool) {
	v, ok := m[p]
	return v, ok
}

func TestEval_Arithmetic(t *testing.T) {
	x := mustParam(t, "x", []value.Value{value.NewInt(1), value.NewInt(2), value.NewInt(3)}, value.NewInt(1))
	e := Binary(Add, Param(x), ConstInt(10))
	v, err := Eval(e, mapBinding{x: value.NewInt(2)})
	require.NoError(t, err)
	i, _ := v.AsInt()
	assert.Equal(t, int64(12), i)
}

func TestEval_DivisionByZero(t *testing.T) {
	_, err := Eval(Binary(Div, ConstInt(1), ConstInt(0)), mapBinding{})
	assert.Error(t, err)
}

func TestEval_MissingParameterFails(t *testing.T) {
	x := mustParam(t, "x", []value.Value{value.NewInt(1)}, value.NewInt(1))
	_, err := Eval(Param(x), mapBinding{})
	assert.Error(t, err)
}

func TestEval_ConditionalShortCircuits(t *testing.T) {
	x := mustParam(t, "x", []value.Value{value.NewInt(1)}, value.NewInt(1))
	// The "else" branch references an unbound parameter; it must never
	// be evaluated because the condition selects "then".
	e := Cond(ConstBool(true), ConstInt(1), Param(x))
	v, err := Eval(e, mapBinding{})
	require.NoError(t, err)
	i, _ := v.AsInt()
	assert.Equal(t, int64(1), i)
}

func TestEval_Comparison(t *testing.T) {
	v, err := Eval(Binary(Lt, ConstInt(1), ConstInt(2)), mapBinding{})
	require.NoError(t, err)
	b, _ := v.AsBool()
	assert.True(t, b)
}

func TestEval_CastOutOfRangeFails(t *testing.T) {
	_, err := Eval(Cast(ConstInt(500), value.TypeInt8), mapBinding{})
	assert.Error(t, err)
}

func TestExprJSON_RoundTrip(t *testing.T) {
	x := mustParam(t, "x", []value.Value{value.NewInt(1), value.NewInt(2)}, value.NewInt(1))
	e := Cond(Binary(Ge, Param(x), ConstInt(2)), ConstInt(100), ConstInt(0))

	data, err := json.Marshal(e)
	require.NoError(t, err)

	decoded, err := Decode(data, func(name string) (*param.Parameter, error) {
		if name == "x" {
			return x, nil
		}
		return nil, assert.AnError
	})
	require.NoError(t, err)

	v, err := Eval(decoded, mapBinding{x: value.NewInt(2)})
	require.NoError(t, err)
	i, _ := v.AsInt()
	assert.Equal(t, int64(100), i)
}

func TestExprJSON_ParameterLeafShape(t *testing.T) {
	x := mustParam(t, "x", []value.Value{value.NewInt(1)}, value.NewInt(1))
	data, err := json.Marshal(Param(x))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "parameter", m["operator"])
	assert.Equal(t, "x", m["name"])
}
