package codegen

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"lambdify/internal/expr"
)

// liftIntrinsics maps the f64 intrinsic overloads back to the function
// library factories. llvm.powi lifts as an ordinary pow.
var liftIntrinsics = map[string]func(args []expr.Expr) expr.Expr{
	"llvm.sin.f64":     func(a []expr.Expr) expr.Expr { return expr.Sin(a[0]) },
	"llvm.cos.f64":     func(a []expr.Expr) expr.Expr { return expr.Cos(a[0]) },
	"llvm.exp.f64":     func(a []expr.Expr) expr.Expr { return expr.Exp(a[0]) },
	"llvm.exp2.f64":    func(a []expr.Expr) expr.Expr { return expr.Exp2(a[0]) },
	"llvm.log.f64":     func(a []expr.Expr) expr.Expr { return expr.Log(a[0]) },
	"llvm.log2.f64":    func(a []expr.Expr) expr.Expr { return expr.Log2(a[0]) },
	"llvm.log10.f64":   func(a []expr.Expr) expr.Expr { return expr.Log10(a[0]) },
	"llvm.sqrt.f64":    func(a []expr.Expr) expr.Expr { return expr.Sqrt(a[0]) },
	"llvm.fabs.f64":    func(a []expr.Expr) expr.Expr { return expr.Abs(a[0]) },
	"llvm.pow.f64":     func(a []expr.Expr) expr.Expr { return expr.Pow(a[0], a[1]) },
	"llvm.pow.f64.f64": func(a []expr.Expr) expr.Expr { return expr.Pow(a[0], a[1]) },
	"llvm.powi.f64":    func(a []expr.Expr) expr.Expr { return expr.Pow(a[0], a[1]) },
}

// liftValue resolves an IR value to its expression: a previously-lifted
// instruction or argument, or a floating-point/integer constant.
func liftValue(v llvm.Value, values map[llvm.Value]expr.Expr) (expr.Expr, error) {
	if e, ok := values[v]; ok {
		return e.Clone(), nil
	}
	if !v.IsAConstantFP().IsNil() {
		d, _ := v.DoubleValue()
		return expr.Num(d), nil
	}
	if !v.IsAConstantInt().IsNil() {
		return expr.Num(float64(v.SExtValue())), nil
	}
	return nil, fmt.Errorf("cannot lift IR value %q to an expression", v.Name())
}

// liftInstruction lifts one instruction into the value map; a Ret instruction
// produces the function's expression instead.
func (cg *CodeGen) liftInstruction(inst llvm.Value, values map[llvm.Value]expr.Expr) (ret expr.Expr, err error) {
	operand := func(i int) (expr.Expr, error) {
		return liftValue(inst.Operand(i), values)
	}

	switch inst.InstructionOpcode() {
	case llvm.Call:
		// The callee is the last operand; the arguments come first.
		n := inst.OperandsCount()
		callee := inst.Operand(n - 1)
		fname := callee.Name()
		args := make([]expr.Expr, n-1)
		for i := range args {
			if args[i], err = operand(i); err != nil {
				return nil, err
			}
		}
		if factory, ok := liftIntrinsics[fname]; ok {
			values[inst] = factory(args)
			return nil, nil
		}
		// Not a known intrinsic: a non-empty module function lifts to a
		// user call whose derivative lifts and differentiates the callee.
		target := cg.module.NamedFunction(fname)
		if target.IsNil() || target.BasicBlocksCount() == 0 {
			return nil, fmt.Errorf("%w: cannot lift a call to %q", ErrUnknownFunction, fname)
		}
		fc := expr.NewFuncCall(fname, args...)
		fc.SetKind(expr.KindUser)
		fc.SetAttrs([]expr.Attr{expr.AttrNoUnwind, expr.AttrSpeculatable, expr.AttrReadNone, expr.AttrWillReturn})
		fc.SetDiff(func(_ []expr.Expr, s string) (expr.Expr, error) {
			lifted, err := cg.ToExpression(fname)
			if err != nil {
				return nil, err
			}
			return lifted.Diff(s)
		})
		values[inst] = fc
		return nil, nil
	case llvm.FAdd:
		l, err := operand(0)
		if err != nil {
			return nil, err
		}
		r, err := operand(1)
		if err != nil {
			return nil, err
		}
		values[inst] = expr.Add(l, r)
		return nil, nil
	case llvm.FSub:
		l, err := operand(0)
		if err != nil {
			return nil, err
		}
		r, err := operand(1)
		if err != nil {
			return nil, err
		}
		values[inst] = expr.Sub(l, r)
		return nil, nil
	case llvm.FMul:
		l, err := operand(0)
		if err != nil {
			return nil, err
		}
		r, err := operand(1)
		if err != nil {
			return nil, err
		}
		values[inst] = expr.Mul(l, r)
		return nil, nil
	case llvm.FDiv:
		l, err := operand(0)
		if err != nil {
			return nil, err
		}
		r, err := operand(1)
		if err != nil {
			return nil, err
		}
		values[inst] = expr.Div(l, r)
		return nil, nil
	case llvm.FNeg:
		v, err := operand(0)
		if err != nil {
			return nil, err
		}
		values[inst] = expr.Neg(v)
		return nil, nil
	case llvm.Ret:
		return operand(0)
	default:
		return nil, fmt.Errorf("unknown instruction (opcode %d) while lifting IR to an expression", inst.InstructionOpcode())
	}
}

// ToExpression rebuilds an expression from a single-block function in the
// module by walking its instructions. The Taylor subsystem uses it to
// differentiate user-defined functions that exist only as IR.
func (cg *CodeGen) ToExpression(name string) (expr.Expr, error) {
	if cg.compiled {
		return nil, ErrCompiled
	}
	fn := cg.module.NamedFunction(name)
	if fn.IsNil() || fn.BasicBlocksCount() == 0 {
		return nil, fmt.Errorf("%w: %q is absent or has no body", ErrUnknownFunction, name)
	}
	if fn.BasicBlocksCount() != 1 {
		return nil, fmt.Errorf("only single-block functions can be lifted, but %q has %d blocks", name, fn.BasicBlocksCount())
	}

	values := make(map[llvm.Value]expr.Expr)
	for _, p := range fn.Params() {
		v, err := expr.NewVariable(p.Name())
		if err != nil {
			return nil, err
		}
		values[p] = v
	}

	for inst := fn.EntryBasicBlock().FirstInstruction(); !inst.IsNil(); inst = llvm.NextInstruction(inst) {
		ret, err := cg.liftInstruction(inst, values)
		if err != nil {
			return nil, err
		}
		if ret != nil {
			// The first return terminates the walk.
			return ret, nil
		}
	}
	return nil, fmt.Errorf("the function %q has no return statement", name)
}
