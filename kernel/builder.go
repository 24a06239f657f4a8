// Package kernel implements KernelBuilder: a declarative description of
// a kernel — source, entry symbol, template arguments, launch-shape
// formulas, defines, flags, and assertions, all expressed as
// expr.Expr over a ConfigSpace it inherits.
package kernel

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/notargets/kerneltune/compiler"
	"github.com/notargets/kerneltune/errs"
	"github.com/notargets/kerneltune/expr"
	"github.com/notargets/kerneltune/param"
	"github.com/notargets/kerneltune/space"
	"github.com/notargets/kerneltune/value"
)

// namedAssertion pairs an assertion expression with the name surfaced
// in AssertionFailureError.
type namedAssertion struct {
	name string
	expr *expr.Expr
}

// Builder accumulates a kernel's tuning parameters and launch
// configuration, then is consumed to produce tuning sessions. Once a
// caller has finished calling its fluent setters, Space() finalizes the
// accumulated parameters and restrictions into an immutable
// *space.ConfigSpace.
type Builder struct {
	Name   string
	Source compiler.SourceHandle
	Entry  string

	params       []*param.Parameter
	restrictions []*expr.Expr

	blockSize    [3]*expr.Expr
	gridDivisor  [3]*expr.Expr
	sharedMemory *expr.Expr

	templateArgs  []*expr.Expr
	compilerFlags []*expr.Expr
	defines       map[string]*expr.Expr
	defineOrder   []string
	assertions    []namedAssertion
}

// NewBuilder starts a Builder for the kernel named name, defined by
// source and entered through entry.
func NewBuilder(name string, source compiler.SourceHandle, entry string) *Builder {
	one := expr.ConstInt(1)
	return &Builder{
		Name:         name,
		Source:       source,
		Entry:        entry,
		defines:      make(map[string]*expr.Expr),
		blockSize:    [3]*expr.Expr{one, expr.ConstInt(1), expr.ConstInt(1)},
		gridDivisor:  [3]*expr.Expr{one, expr.ConstInt(1), expr.ConstInt(1)},
		sharedMemory: expr.ConstInt(0),
	}
}

// Tune creates a new tuning parameter and installs it in the builder's
// space, returning a leaf expression referencing it. If def is omitted,
// the first domain value is used.
func (b *Builder) Tune(name string, values []value.Value, def ...value.Value) (*expr.Expr, error) {
	return b.tune(name, "", values, def...)
}

// TuneDescribed is Tune plus a human-readable description attached to
// the parameter, surfaced in tuning cache headers and session logs for
// readability only — it participates in no equality, hashing, or
// restriction semantics.
func (b *Builder) TuneDescribed(name, description string, values []value.Value, def ...value.Value) (*expr.Expr, error) {
	return b.tune(name, description, values, def...)
}

func (b *Builder) tune(name, description string, values []value.Value, def ...value.Value) (*expr.Expr, error) {
	if len(values) == 0 {
		return nil, &errs.EmptyDomainError{Name: name}
	}
	d := values[0]
	if len(def) > 0 {
		d = def[0]
	}
	typ := kindToType(values[0].Kind())
	p, err := param.New(name, typ, values, d)
	if err != nil {
		return nil, err
	}
	if description != "" {
		p = p.WithDescription(description)
	}
	b.params = append(b.params, p)
	return expr.Param(p), nil
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

// Restrict adds a boolean restriction expression.
func (b *Builder) Restrict(e *expr.Expr) *Builder {
	b.restrictions = append(b.restrictions, e)
	return b
}

// BlockSize sets the three block-size formulas (evaluated as uint32).
func (b *Builder) BlockSize(x, y, z *expr.Expr) *Builder {
	b.blockSize = [3]*expr.Expr{x, y, z}
	return b
}

// GridDivisors sets the three grid-divisor formulas (evaluated as uint32).
func (b *Builder) GridDivisors(x, y, z *expr.Expr) *Builder {
	b.gridDivisor = [3]*expr.Expr{x, y, z}
	return b
}

// SharedMemory sets the shared-memory-bytes formula (evaluated as uint32).
func (b *Builder) SharedMemory(e *expr.Expr) *Builder {
	b.sharedMemory = e
	return b
}

// TemplateArgs appends formatted template-argument expressions, in
// order, to the mangled symbol's argument list.
func (b *Builder) TemplateArgs(exprs ...*expr.Expr) *Builder {
	b.templateArgs = append(b.templateArgs, exprs...)
	return b
}

// CompilerFlags appends compiler-flag expressions.
func (b *Builder) CompilerFlags(exprs ...*expr.Expr) *Builder {
	b.compilerFlags = append(b.compilerFlags, exprs...)
	return b
}

// Define installs a preprocessor define, evaluated to a string value at
// compile time.
func (b *Builder) Define(name string, e *expr.Expr) *Builder {
	if _, exists := b.defines[name]; !exists {
		b.defineOrder = append(b.defineOrder, name)
	}
	b.defines[name] = e
	return b
}

// Assertion adds a named restriction that also aborts compilation (as
// opposed to Restrict, which only filters the space) when false.
func (b *Builder) Assertion(name string, e *expr.Expr) *Builder {
	b.assertions = append(b.assertions, namedAssertion{name: name, expr: e})
	return b
}

// TuneBlockSize creates a parameter and installs it as the given block
// dimension (0=x, 1=y, 2=z) in one call.
func (b *Builder) TuneBlockSize(dim int, name string, values []value.Value, def ...value.Value) error {
	e, err := b.Tune(name, values, def...)
	if err != nil {
		return err
	}
	b.blockSize[dim] = e
	return nil
}

// TuneCompilerFlag creates a parameter and appends it as a compiler
// flag expression in one call.
func (b *Builder) TuneCompilerFlag(name string, values []value.Value, def ...value.Value) error {
	e, err := b.Tune(name, values, def...)
	if err != nil {
		return err
	}
	b.compilerFlags = append(b.compilerFlags, e)
	return nil
}

// TuneDefine creates a parameter and installs it as a preprocessor
// define in one call.
func (b *Builder) TuneDefine(defineName, paramName string, values []value.Value, def ...value.Value) error {
	e, err := b.Tune(paramName, values, def...)
	if err != nil {
		return err
	}
	b.Define(defineName, e)
	return nil
}

// Space finalizes the accumulated parameters and restrictions into an
// immutable ConfigSpace.
func (b *Builder) Space() (*space.ConfigSpace, error) {
	return space.New(b.params, b.restrictions)
}

// Parameters returns the builder's tuning parameters in declaration
// order, including any WithDescription metadata attached to them, for
// callers that want to surface descriptions in logs or cache headers
// without finalizing a ConfigSpace.
func (b *Builder) Parameters() []*param.Parameter {
	out := make([]*param.Parameter, len(b.params))
	copy(out, b.params)
	return out
}

// Handle bundles an eventually-ready compiled module with the launch
// geometry decided at compile time.
type Handle struct {
	Future       compiler.Future
	BlockSize    [3]uint32
	GridDivisor  [3]uint32
	SharedMemory uint32
}

// GridSize computes the launch grid for problemSize, per dimension:
// ceil(problemSize[d] / GridDivisor[d]).
func (h *Handle) GridSize(problemSize [3]uint32) [3]uint32 {
	var g [3]uint32
	for d := 0; d < 3; d++ {
		g[d] = (problemSize[d] + h.GridDivisor[d] - 1) / h.GridDivisor[d]
	}
	return g
}

// Compile evaluates b's assertions, template arguments, flags, defines,
// and launch-shape expressions against cfg, then submits the resulting
// request to c.
func (b *Builder) Compile(ctx context.Context, cfg space.Config, paramTypes []value.Type, c compiler.Compiler) (*Handle, error) {
	for _, a := range b.assertions {
		v, err := expr.Eval(a.expr, cfg)
		if err != nil {
			return nil, err
		}
		bv, err := v.Cast(value.TypeBool)
		if err != nil {
			return nil, err
		}
		ok, _ := bv.AsBool()
		if !ok {
			return nil, &errs.AssertionFailureError{Name: a.name}
		}
	}

	templateArgs := make([]string, 0, len(b.templateArgs))
	for _, e := range b.templateArgs {
		v, err := expr.Eval(e, cfg)
		if err != nil {
			return nil, errors.Wrap(err, "evaluating template argument")
		}
		templateArgs = append(templateArgs, v.CanonicalString())
	}

	flags := make([]string, 0, len(b.compilerFlags)+len(b.defineOrder)+1)
	for _, e := range b.compilerFlags {
		v, err := expr.Eval(e, cfg)
		if err != nil {
			return nil, errors.Wrap(err, "evaluating compiler flag")
		}
		flags = append(flags, v.CanonicalString())
	}
	for _, name := range b.defineOrder {
		v, err := expr.Eval(b.defines[name], cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating define %s", name)
		}
		flags = append(flags, fmt.Sprintf("--define-macro %s=%s", name, v.CanonicalString()))
	}
	flags = append(flags, "-DKERNEL_LAUNCHER=1")

	var blockSize, gridDivisor [3]uint32
	for d := 0; d < 3; d++ {
		bs, err := evalUint32(b.blockSize[d], cfg)
		if err != nil {
			return nil, err
		}
		if bs == 0 {
			return nil, errors.Errorf("block size dimension %d evaluated to zero", d)
		}
		blockSize[d] = bs

		gd, err := evalUint32(b.gridDivisor[d], cfg)
		if err != nil {
			return nil, err
		}
		if gd == 0 {
			return nil, errors.Errorf("grid divisor dimension %d evaluated to zero", d)
		}
		gridDivisor[d] = gd
	}
	sharedMem, err := evalUint32(b.sharedMemory, cfg)
	if err != nil {
		return nil, err
	}

	req := compiler.Request{
		Source:       b.Source,
		Entry:        b.Entry,
		TemplateArgs: templateArgs,
		ParamTypes:   paramTypes,
		Flags:        flags,
	}
	future, err := c.Compile(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Handle{
		Future:       future,
		BlockSize:    blockSize,
		GridDivisor:  gridDivisor,
		SharedMemory: sharedMem,
	}, nil
}

func evalUint32(e *expr.Expr, b expr.Binding) (uint32, error) {
	v, err := expr.Eval(e, b)
	if err != nil {
		return 0, err
	}
	cv, err := v.Cast(value.TypeUint32)
	if err != nil {
		return 0, err
	}
	i, _ := cv.AsInt()
	return uint32(i), nil
}
