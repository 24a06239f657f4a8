package expr

import (
	"encoding/json"

	"github.com/notargets/kerneltune/errs"
	"github.com/notargets/kerneltune/param"
	"github.com/notargets/kerneltune/value"
)

var unaryNames = map[UnaryOp]string{Neg: "neg", Not: "not", BitInvert: "binv"}
var namesToUnary = invertUnary(unaryNames)

var binaryNames = map[BinaryOp]string{
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Mod: "mod",
	BitAnd: "band", BitOr: "bor", BitXor: "bxor", Shl: "shl", Shr: "shr",
	Lt: "lt", Le: "le", Gt: "gt", Ge: "ge", Eq: "eq", Ne: "ne",
	And: "and", Or: "or",
}
var namesToBinary = invertBinary(binaryNames)

func invertUnary(m map[UnaryOp]string) map[string]UnaryOp {
	out := make(map[string]UnaryOp, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func invertBinary(m map[BinaryOp]string) map[string]BinaryOp {
	out := make(map[string]BinaryOp, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

type wireNode struct {
	Operator  string          `json:"operator,omitempty"`
	Name      string          `json:"name,omitempty"`
	Operand   json.RawMessage `json:"operand,omitempty"`
	Left      json.RawMessage `json:"left,omitempty"`
	Right     json.RawMessage `json:"right,omitempty"`
	Condition json.RawMessage `json:"condition,omitempty"`
	Type      string          `json:"type,omitempty"`
}

// MarshalJSON renders e per spec: parameter leaves as
// {"operator":"parameter","name":...}, scalar leaves as their bare
// literal, and internal nodes as {"operator":..., operand|left|right|
// condition|type: ...}.
func (e *Expr) MarshalJSON() ([]byte, error) {
	switch e.kind {
	case KindParam:
		return json.Marshal(wireNode{Operator: "parameter", Name: e.param.Name()})
	case KindConst:
		return e.constVal.MarshalJSON()
	case KindUnary:
		operand, err := json.Marshal(e.cond)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Operator: unaryNames[e.unaryOp], Operand: operand})
	case KindBinary:
		left, err := json.Marshal(e.left)
		if err != nil {
			return nil, err
		}
		right, err := json.Marshal(e.right)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Operator: binaryNames[e.binaryOp], Left: left, Right: right})
	case KindCond:
		cond, err := json.Marshal(e.cond)
		if err != nil {
			return nil, err
		}
		left, err := json.Marshal(e.left)
		if err != nil {
			return nil, err
		}
		right, err := json.Marshal(e.right)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Operator: "cond", Condition: cond, Left: left, Right: right})
	case KindCast:
		operand, err := json.Marshal(e.cond)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Operator: "cast", Operand: operand, Type: e.castTo.String()})
	default:
		return nil, &errs.EvalError{Detail: "cannot marshal unknown expression kind"}
	}
}

// Decode parses the wire form produced by MarshalJSON. resolve looks up
// a *param.Parameter by name for "parameter" leaves; callers typically
// pass a ConfigSpace's parameter lookup.
func Decode(data []byte, resolve func(name string) (*param.Parameter, error)) (*Expr, error) {
	trimmed := trimSpace(data)
	if len(trimmed) == 0 {
		return nil, &errs.EvalError{Detail: "empty expression"}
	}
	if trimmed[0] != '{' {
		var v value.Value
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return Const(v), nil
	}

	var n wireNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}

	if n.Operator == "parameter" {
		p, err := resolve(n.Name)
		if err != nil {
			return nil, err
		}
		return Param(p), nil
	}

	if op, ok := namesToUnary[n.Operator]; ok {
		operand, err := Decode(n.Operand, resolve)
		if err != nil {
			return nil, err
		}
		return Unary(op, operand), nil
	}

	if op, ok := namesToBinary[n.Operator]; ok {
		left, err := Decode(n.Left, resolve)
		if err != nil {
			return nil, err
		}
		right, err := Decode(n.Right, resolve)
		if err != nil {
			return nil, err
		}
		return Binary(op, left, right), nil
	}

	switch n.Operator {
	case "cond":
		cond, err := Decode(n.Condition, resolve)
		if err != nil {
			return nil, err
		}
		left, err := Decode(n.Left, resolve)
		if err != nil {
			return nil, err
		}
		right, err := Decode(n.Right, resolve)
		if err != nil {
			return nil, err
		}
		return Cond(cond, left, right), nil
	case "cast":
		operand, err := Decode(n.Operand, resolve)
		if err != nil {
			return nil, err
		}
		t, err := typeFromString(n.Type)
		if err != nil {
			return nil, err
		}
		return Cast(operand, t), nil
	default:
		return nil, &errs.EvalError{Detail: "unknown expression operator: " + n.Operator}
	}
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\t' || b[j-1] == '\n' || b[j-1] == '\r') {
		j--
	}
	return b[i:j]
}

func typeFromString(s string) (value.Type, error) {
	switch s {
	case "int8":
		return value.TypeInt8, nil
	case "int16":
		return value.TypeInt16, nil
	case "int32":
		return value.TypeInt32, nil
	case "int64":
		return value.TypeInt64, nil
	case "uint8":
		return value.TypeUint8, nil
	case "uint16":
		return value.TypeUint16, nil
	case "uint32":
		return value.TypeUint32, nil
	case "uint64":
		return value.TypeUint64, nil
	case "double":
		return value.TypeDouble, nil
	case "bool":
		return value.TypeBool, nil
	case "string":
		return value.TypeString, nil
	default:
		return 0, &errs.EvalError{Detail: "unknown cast type: " + s}
	}
}
