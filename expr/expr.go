// Package expr implements the small symbolic expression tree evaluated
// against a parameter binding: parameter references, scalar constants,
// unary/binary/comparison/logical operators, a ternary conditional, and
// a typed cast. Expr is a closed algebraic data type — a single struct
// tagged by Kind — rather than an interface hierarchy, so Eval is one
// function with a type switch instead of a chain of virtual calls.
package expr

import (
	"math"

	"github.com/notargets/kerneltune/errs"
	"github.com/notargets/kerneltune/param"
	"github.com/notargets/kerneltune/value"
)

// Binding resolves a parameter to its bound value during evaluation.
type Binding interface {
	Lookup(p *param.Parameter) (value.Value, bool)
}

// Kind tags the variant an Expr node holds.
type Kind int

const (
	KindParam Kind = iota
	KindConst
	KindUnary
	KindBinary
	KindCond
	KindCast
)

// UnaryOp enumerates the unary operators.
type UnaryOp int

const (
	Neg UnaryOp = iota
	Not
	BitInvert
)

// BinaryOp enumerates the binary operators, grouped arithmetic,
// bitwise, comparison, then logical.
type BinaryOp int

const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Mod
	BitAnd
	BitOr
	BitXor
	Shl
	Shr
	Lt
	Le
	Gt
	Ge
	Eq
	Ne
	And
	Or
)

func (op BinaryOp) isComparison() bool { return op >= Lt && op <= Ne }
func (op BinaryOp) isLogical() bool    { return op == And || op == Or }

// Expr is one node of the expression tree.
type Expr struct {
	kind Kind

	// KindParam
	param *param.Parameter

	// KindConst
	constVal value.Value

	// KindUnary / KindBinary / KindCond
	unaryOp  UnaryOp
	binaryOp BinaryOp
	left     *Expr
	right    *Expr
	cond     *Expr // KindCond condition; also the sole operand of KindUnary

	// KindCast
	castTo value.Type
}

// Param builds a leaf referencing a tuning parameter.
func Param(p *param.Parameter) *Expr { return &Expr{kind: KindParam, param: p} }

// Const builds a scalar literal leaf.
func Const(v value.Value) *Expr { return &Expr{kind: KindConst, constVal: v} }

// ConstInt is shorthand for Const(value.NewInt(v)).
func ConstInt(v int64) *Expr { return Const(value.NewInt(v)) }

// ConstBool is shorthand for Const(value.NewBool(v)).
func ConstBool(v bool) *Expr { return Const(value.NewBool(v)) }

// Unary builds a unary operator node.
func Unary(op UnaryOp, operand *Expr) *Expr {
	return &Expr{kind: KindUnary, unaryOp: op, cond: operand}
}

// Binary builds a binary operator node.
func Binary(op BinaryOp, left, right *Expr) *Expr {
	return &Expr{kind: KindBinary, binaryOp: op, left: left, right: right}
}

// Cond builds a ternary conditional node.
func Cond(condition, then, otherwise *Expr) *Expr {
	return &Expr{kind: KindCond, cond: condition, left: then, right: otherwise}
}

// Cast builds a typed-cast node.
func Cast(operand *Expr, to value.Type) *Expr {
	return &Expr{kind: KindCast, cond: operand, castTo: to}
}

// Kind reports the variant of e.
func (e *Expr) Kind() Kind { return e.kind }

// Type returns e's declared return type.
func (e *Expr) Type() value.Type {
	switch e.kind {
	case KindParam:
		return e.param.Type()
	case KindConst:
		return kindToType(e.constVal.Kind())
	case KindUnary:
		if e.unaryOp == Not {
			return value.TypeBool
		}
		return e.cond.Type()
	case KindBinary:
		if e.binaryOp.isComparison() || e.binaryOp.isLogical() {
			return value.TypeBool
		}
		return e.left.Type()
	case KindCond:
		return e.left.Type()
	case KindCast:
		return e.castTo
	default:
		return value.TypeInt64
	}
}

func kindToType(k value.Kind) value.Type {
	switch k {
	case value.Double:
		return value.TypeDouble
	case value.Bool:
		return value.TypeBool
	case value.String:
		return value.TypeString
	default:
		return value.TypeInt64
	}
}

// Eval evaluates the tree bottom-up against binding b. Numeric division
// by zero, integer overflow outside e's declared return type, and
// out-of-range casts all fail with a typed error rather than wrapping
// or truncating silently; shifts are the exception and are not
// range-checked. Eval short-circuits the untaken branch of a
// conditional and of And/Or, which the spec permits since every branch
// is pure.
func Eval(e *Expr, b Binding) (value.Value, error) {
	switch e.kind {
	case KindParam:
		v, ok := b.Lookup(e.param)
		if !ok {
			return value.Value{}, &errs.UnknownParameterError{Name: e.param.Name()}
		}
		return v, nil

	case KindConst:
		return e.constVal, nil

	case KindUnary:
		return evalUnary(e, b)

	case KindBinary:
		return evalBinary(e, b)

	case KindCond:
		cv, err := Eval(e.cond, b)
		if err != nil {
			return value.Value{}, err
		}
		bv, err := cv.Cast(value.TypeBool)
		if err != nil {
			return value.Value{}, err
		}
		taken, _ := bv.AsBool()
		if taken {
			return Eval(e.left, b)
		}
		return Eval(e.right, b)

	case KindCast:
		v, err := Eval(e.cond, b)
		if err != nil {
			return value.Value{}, err
		}
		return v.Cast(e.castTo)

	default:
		return value.Value{}, &errs.EvalError{Detail: "unknown expression kind"}
	}
}

func evalUnary(e *Expr, b Binding) (value.Value, error) {
	v, err := Eval(e.cond, b)
	if err != nil {
		return value.Value{}, err
	}
	switch e.unaryOp {
	case Not:
		bv, err := v.Cast(value.TypeBool)
		if err != nil {
			return value.Value{}, err
		}
		bb, _ := bv.AsBool()
		return value.NewBool(!bb), nil
	case Neg:
		if d, ok := v.AsDouble(); ok {
			return value.NewDouble(-d), nil
		}
		i, ok := v.AsInt()
		if !ok {
			return value.Value{}, &errs.EvalError{Detail: "neg requires a numeric operand"}
		}
		if i == math.MinInt64 {
			return value.Value{}, &errs.IntegerOverflowError{Detail: "negation overflows int64"}
		}
		return value.NewInt(-i), nil
	case BitInvert:
		i, ok := v.AsInt()
		if !ok {
			return value.Value{}, &errs.EvalError{Detail: "bit-invert requires an integer operand"}
		}
		return value.NewInt(^i), nil
	default:
		return value.Value{}, &errs.EvalError{Detail: "unknown unary operator"}
	}
}

func evalBinary(e *Expr, b Binding) (value.Value, error) {
	lv, err := Eval(e.left, b)
	if err != nil {
		return value.Value{}, err
	}

	if e.binaryOp.isLogical() {
		lb, err := lv.Cast(value.TypeBool)
		if err != nil {
			return value.Value{}, err
		}
		lbb, _ := lb.AsBool()
		if e.binaryOp == And && !lbb {
			return value.NewBool(false), nil
		}
		if e.binaryOp == Or && lbb {
			return value.NewBool(true), nil
		}
		rv, err := Eval(e.right, b)
		if err != nil {
			return value.Value{}, err
		}
		rb, err := rv.Cast(value.TypeBool)
		if err != nil {
			return value.Value{}, err
		}
		rbb, _ := rb.AsBool()
		return value.NewBool(rbb), nil
	}

	rv, err := Eval(e.right, b)
	if err != nil {
		return value.Value{}, err
	}

	if e.binaryOp.isComparison() {
		c := lv.Compare(rv)
		switch e.binaryOp {
		case Lt:
			return value.NewBool(c < 0), nil
		case Le:
			return value.NewBool(c <= 0), nil
		case Gt:
			return value.NewBool(c > 0), nil
		case Ge:
			return value.NewBool(c >= 0), nil
		case Eq:
			return value.NewBool(lv.Equal(rv)), nil
		case Ne:
			return value.NewBool(!lv.Equal(rv)), nil
		}
	}

	// Arithmetic / bitwise.
	if ld, lok := lv.AsDouble(); lok {
		rd, rok := rv.AsDouble()
		if !rok {
			return value.Value{}, &errs.EvalError{Detail: "double operator requires two doubles"}
		}
		res, err := arithDouble(e.binaryOp, ld, rd)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewDouble(res), nil
	}

	li, lok := lv.AsInt()
	ri, rok := rv.AsInt()
	if !lok || !rok {
		return value.Value{}, &errs.EvalError{Detail: "arithmetic operator requires numeric operands"}
	}
	res, err := arithInt(e.binaryOp, li, ri)
	if err != nil {
		return value.Value{}, err
	}
	out := value.NewInt(res)
	if t := e.Type(); t.Kind() == value.Int {
		if _, err := out.Cast(t); err != nil {
			return value.Value{}, &errs.IntegerOverflowError{Detail: "binary result overflows declared type"}
		}
	}
	return out, nil
}

func arithDouble(op BinaryOp, a, b float64) (float64, error) {
	switch op {
	case Add:
		return a + b, nil
	case Sub:
		return a - b, nil
	case Mul:
		return a * b, nil
	case Div:
		if b == 0 {
			return 0, &errs.EvalError{Detail: "division by zero"}
		}
		return a / b, nil
	default:
		return 0, &errs.EvalError{Detail: "operator not defined over doubles"}
	}
}

func arithInt(op BinaryOp, a, b int64) (int64, error) {
	switch op {
	case Add:
		if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
			return 0, &errs.IntegerOverflowError{Detail: "addition overflows int64"}
		}
		return a + b, nil
	case Sub:
		if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
			return 0, &errs.IntegerOverflowError{Detail: "subtraction overflows int64"}
		}
		return a - b, nil
	case Mul:
		if (a != 0 && (a*b)/a != b) || (a == -1 && b == math.MinInt64) {
			return 0, &errs.IntegerOverflowError{Detail: "multiplication overflows int64"}
		}
		return a * b, nil
	case Div:
		if b == 0 {
			return 0, &errs.EvalError{Detail: "division by zero"}
		}
		if a == math.MinInt64 && b == -1 {
			return 0, &errs.IntegerOverflowError{Detail: "division overflows int64"}
		}
		return a / b, nil
	case Mod:
		if b == 0 {
			return 0, &errs.EvalError{Detail: "modulo by zero"}
		}
		return a % b, nil
	case BitAnd:
		return a & b, nil
	case BitOr:
		return a | b, nil
	case BitXor:
		return a ^ b, nil
	case Shl:
		return a << uint(b), nil
	case Shr:
		return a >> uint(b), nil
	default:
		return 0, &errs.EvalError{Detail: "unknown binary operator"}
	}
}
