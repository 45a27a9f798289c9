package expr

import (
	"fmt"
	"math"
)

// externalAttrs is the attribute set attached to libm-style declarations.
var externalAttrs = []Attr{AttrNoUnwind, AttrSpeculatable, AttrReadNone, AttrWillReturn}

// unarySpec describes one single-argument elementary function: how to compute
// it, how to compute its derivative numerically, and how to build its
// derivative symbolically.
type unarySpec struct {
	name    string
	display string
	kind    Kind
	attrs   []Attr
	fn      func(float64) float64
	dfn     func(float64) float64
	// dExpr builds the outer-derivative factor; the chain rule multiplies it
	// by the derivative of the argument.
	dExpr func(arg Expr) Expr
}

func checkArity(display string, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s expects %d argument(s), got %d", ErrArityMismatch, display, want, got)
	}
	return nil
}

func unaryCall(spec unarySpec, arg Expr) Expr {
	fc := NewFuncCall(spec.name, arg)
	fc.SetDisplayName(spec.display).SetKind(spec.kind).SetAttrs(spec.attrs)
	fc.SetEval(func(args []Expr, env map[string]float64) (float64, error) {
		if err := checkArity(spec.display, len(args), 1); err != nil {
			return 0, err
		}
		v, err := args[0].Evaluate(env)
		if err != nil {
			return 0, err
		}
		return spec.fn(v), nil
	})
	fc.SetEvalBatch(func(args []Expr, env map[string][]float64, out []float64) error {
		if err := checkArity(spec.display, len(args), 1); err != nil {
			return err
		}
		if err := args[0].evalBatch(env, out); err != nil {
			return err
		}
		for i := range out {
			out[i] = spec.fn(out[i])
		}
		return nil
	})
	fc.SetEvalNum(func(args []float64) (float64, error) {
		if err := checkArity(spec.display, len(args), 1); err != nil {
			return 0, err
		}
		return spec.fn(args[0]), nil
	})
	fc.SetEvalNumPartial(func(args []float64, i int) (float64, error) {
		if err := checkArity(spec.display, len(args), 1); err != nil {
			return 0, err
		}
		if i != 0 {
			return 0, fmt.Errorf("%w: %s has no argument %d", ErrArityMismatch, spec.display, i)
		}
		return spec.dfn(args[0]), nil
	})
	fc.SetDiff(func(args []Expr, name string) (Expr, error) {
		if err := checkArity(spec.display, len(args), 1); err != nil {
			return nil, err
		}
		da, err := args[0].Diff(name)
		if err != nil {
			return nil, err
		}
		return Mul(spec.dExpr(args[0].Clone()), da), nil
	})
	return fc
}

// Sin returns the sine of e, lowered as the llvm.sin intrinsic.
func Sin(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "llvm.sin", display: "sin", kind: KindIntrinsic,
		fn:    math.Sin,
		dfn:   math.Cos,
		dExpr: func(a Expr) Expr { return Cos(a) },
	}, e)
}

// Cos returns the cosine of e, lowered as the llvm.cos intrinsic.
func Cos(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "llvm.cos", display: "cos", kind: KindIntrinsic,
		fn:    math.Cos,
		dfn:   func(x float64) float64 { return -math.Sin(x) },
		dExpr: func(a Expr) Expr { return Neg(Sin(a)) },
	}, e)
}

// Tan returns the tangent of e, lowered as an external call to tan.
func Tan(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "tan", display: "tan", kind: KindExternal, attrs: externalAttrs,
		fn:  math.Tan,
		dfn: func(x float64) float64 { c := math.Cos(x); return 1 / (c * c) },
		dExpr: func(a Expr) Expr {
			return Div(Num(1), Mul(Cos(a), Cos(a.Clone())))
		},
	}, e)
}

// Asin returns the arcsine of e, lowered as an external call.
func Asin(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "asin", display: "asin", kind: KindExternal, attrs: externalAttrs,
		fn:  math.Asin,
		dfn: func(x float64) float64 { return 1 / math.Sqrt(1-x*x) },
		dExpr: func(a Expr) Expr {
			return Div(Num(1), Sqrt(Sub(Num(1), Mul(a, a.Clone()))))
		},
	}, e)
}

// Acos returns the arccosine of e, lowered as an external call.
func Acos(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "acos", display: "acos", kind: KindExternal, attrs: externalAttrs,
		fn:  math.Acos,
		dfn: func(x float64) float64 { return -1 / math.Sqrt(1-x*x) },
		dExpr: func(a Expr) Expr {
			return Div(Num(-1), Sqrt(Sub(Num(1), Mul(a, a.Clone()))))
		},
	}, e)
}

// Atan returns the arctangent of e, lowered as an external call.
func Atan(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "atan", display: "atan", kind: KindExternal, attrs: externalAttrs,
		fn:  math.Atan,
		dfn: func(x float64) float64 { return 1 / (1 + x*x) },
		dExpr: func(a Expr) Expr {
			return Div(Num(1), Add(Num(1), Mul(a, a.Clone())))
		},
	}, e)
}

// Exp returns e^x, lowered as the llvm.exp intrinsic.
func Exp(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "llvm.exp", display: "exp", kind: KindIntrinsic,
		fn:    math.Exp,
		dfn:   math.Exp,
		dExpr: func(a Expr) Expr { return Exp(a) },
	}, e)
}

// Exp2 returns 2^x, lowered as the llvm.exp2 intrinsic.
func Exp2(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "llvm.exp2", display: "exp2", kind: KindIntrinsic,
		fn:    math.Exp2,
		dfn:   func(x float64) float64 { return math.Ln2 * math.Exp2(x) },
		dExpr: func(a Expr) Expr { return Mul(Num(math.Ln2), Exp2(a)) },
	}, e)
}

// Log returns the natural logarithm of e, lowered as the llvm.log intrinsic.
func Log(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "llvm.log", display: "log", kind: KindIntrinsic,
		fn:    math.Log,
		dfn:   func(x float64) float64 { return 1 / x },
		dExpr: func(a Expr) Expr { return Div(Num(1), a) },
	}, e)
}

// Log2 returns the base-2 logarithm of e, lowered as the llvm.log2 intrinsic.
func Log2(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "llvm.log2", display: "log2", kind: KindIntrinsic,
		fn:    math.Log2,
		dfn:   func(x float64) float64 { return 1 / (x * math.Ln2) },
		dExpr: func(a Expr) Expr { return Div(Num(1), Mul(Num(math.Ln2), a)) },
	}, e)
}

// Log10 returns the base-10 logarithm of e, lowered as the llvm.log10
// intrinsic.
func Log10(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "llvm.log10", display: "log10", kind: KindIntrinsic,
		fn:    math.Log10,
		dfn:   func(x float64) float64 { return 1 / (x * math.Ln10) },
		dExpr: func(a Expr) Expr { return Div(Num(1), Mul(Num(math.Ln10), a)) },
	}, e)
}

// Sqrt returns the square root of e, lowered as the llvm.sqrt intrinsic.
func Sqrt(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "llvm.sqrt", display: "sqrt", kind: KindIntrinsic,
		fn:    math.Sqrt,
		dfn:   func(x float64) float64 { return 0.5 / math.Sqrt(x) },
		dExpr: func(a Expr) Expr { return Div(Num(0.5), Sqrt(a)) },
	}, e)
}

// Abs returns the absolute value of e, lowered as the llvm.fabs intrinsic.
func Abs(e Expr) Expr {
	return unaryCall(unarySpec{
		name: "llvm.fabs", display: "abs", kind: KindIntrinsic,
		fn:    math.Abs,
		dfn:   func(x float64) float64 { return math.Copysign(1, x) },
		dExpr: func(a Expr) Expr { return Div(a, Abs(a.Clone())) },
	}, e)
}

// Pow returns a^b, lowered as the llvm.pow intrinsic. Verification is
// disabled for functions containing it: the intrinsic carries two numeric
// argument types and trips the verifier on some backends.
func Pow(a, b Expr) Expr {
	fc := NewFuncCall("llvm.pow", a, b)
	fc.SetDisplayName("pow").SetKind(KindIntrinsic)
	fc.DisableVerify = true
	fc.SetEval(func(args []Expr, env map[string]float64) (float64, error) {
		if err := checkArity("pow", len(args), 2); err != nil {
			return 0, err
		}
		x, err := args[0].Evaluate(env)
		if err != nil {
			return 0, err
		}
		y, err := args[1].Evaluate(env)
		if err != nil {
			return 0, err
		}
		return math.Pow(x, y), nil
	})
	fc.SetEvalBatch(func(args []Expr, env map[string][]float64, out []float64) error {
		if err := checkArity("pow", len(args), 2); err != nil {
			return err
		}
		tmp := make([]float64, len(out))
		if err := args[0].evalBatch(env, out); err != nil {
			return err
		}
		if err := args[1].evalBatch(env, tmp); err != nil {
			return err
		}
		for i := range out {
			out[i] = math.Pow(out[i], tmp[i])
		}
		return nil
	})
	fc.SetEvalNum(func(args []float64) (float64, error) {
		if err := checkArity("pow", len(args), 2); err != nil {
			return 0, err
		}
		return math.Pow(args[0], args[1]), nil
	})
	fc.SetEvalNumPartial(func(args []float64, i int) (float64, error) {
		if err := checkArity("pow", len(args), 2); err != nil {
			return 0, err
		}
		switch i {
		case 0:
			return args[1] * math.Pow(args[0], args[1]-1), nil
		case 1:
			return math.Pow(args[0], args[1]) * math.Log(args[0]), nil
		default:
			return 0, fmt.Errorf("%w: pow has no argument %d", ErrArityMismatch, i)
		}
	})
	fc.SetDiff(func(args []Expr, name string) (Expr, error) {
		if err := checkArity("pow", len(args), 2); err != nil {
			return nil, err
		}
		da, err := args[0].Diff(name)
		if err != nil {
			return nil, err
		}
		db, err := args[1].Diff(name)
		if err != nil {
			return nil, err
		}
		base := Mul(Mul(args[1].Clone(), Pow(args[0].Clone(), Sub(args[1].Clone(), Num(1)))), da)
		expo := Mul(Mul(Pow(args[0].Clone(), args[1].Clone()), Log(args[0].Clone())), db)
		return Add(base, expo), nil
	})
	return fc
}

// Atan2 returns atan2(y, x), lowered as an external call.
func Atan2(y, x Expr) Expr {
	fc := NewFuncCall("atan2", y, x)
	fc.SetKind(KindExternal).SetAttrs(externalAttrs)
	fc.SetEval(func(args []Expr, env map[string]float64) (float64, error) {
		if err := checkArity("atan2", len(args), 2); err != nil {
			return 0, err
		}
		yv, err := args[0].Evaluate(env)
		if err != nil {
			return 0, err
		}
		xv, err := args[1].Evaluate(env)
		if err != nil {
			return 0, err
		}
		return math.Atan2(yv, xv), nil
	})
	fc.SetEvalBatch(func(args []Expr, env map[string][]float64, out []float64) error {
		if err := checkArity("atan2", len(args), 2); err != nil {
			return err
		}
		tmp := make([]float64, len(out))
		if err := args[0].evalBatch(env, out); err != nil {
			return err
		}
		if err := args[1].evalBatch(env, tmp); err != nil {
			return err
		}
		for i := range out {
			out[i] = math.Atan2(out[i], tmp[i])
		}
		return nil
	})
	fc.SetEvalNum(func(args []float64) (float64, error) {
		if err := checkArity("atan2", len(args), 2); err != nil {
			return 0, err
		}
		return math.Atan2(args[0], args[1]), nil
	})
	fc.SetEvalNumPartial(func(args []float64, i int) (float64, error) {
		if err := checkArity("atan2", len(args), 2); err != nil {
			return 0, err
		}
		den := args[0]*args[0] + args[1]*args[1]
		switch i {
		case 0:
			return args[1] / den, nil
		case 1:
			return -args[0] / den, nil
		default:
			return 0, fmt.Errorf("%w: atan2 has no argument %d", ErrArityMismatch, i)
		}
	})
	fc.SetDiff(func(args []Expr, name string) (Expr, error) {
		if err := checkArity("atan2", len(args), 2); err != nil {
			return nil, err
		}
		dy, err := args[0].Diff(name)
		if err != nil {
			return nil, err
		}
		dx, err := args[1].Diff(name)
		if err != nil {
			return nil, err
		}
		num := Sub(Mul(dy, args[1].Clone()), Mul(dx, args[0].Clone()))
		den := Add(Mul(args[1].Clone(), args[1].Clone()), Mul(args[0].Clone(), args[0].Clone()))
		return Div(num, den), nil
	})
	return fc
}

// NewUserCall returns a call to a function defined inside the module being
// built. It carries no evaluation callbacks: user functions exist only in IR.
func NewUserCall(name string, args ...Expr) Expr {
	return NewFuncCall(name, args...)
}
