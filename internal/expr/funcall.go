package expr

import "fmt"

// Kind classifies how the code generator resolves a function call.
type Kind int

const (
	// KindUser calls a function defined inside the module being built.
	KindUser Kind = iota
	// KindExternal calls a symbol with external linkage (libm and friends).
	KindExternal
	// KindIntrinsic calls a compiler intrinsic such as llvm.sin.
	KindIntrinsic
)

// Attr is an optimisation hint attached to external declarations.
type Attr int

const (
	AttrNoUnwind Attr = iota
	AttrSpeculatable
	AttrReadNone
	AttrWillReturn
)

// Callback types carried by a function-call node. All of them are optional;
// operations that need a missing callback fail at the point of use.
type (
	// EvalFunc computes the scalar value of the call from its argument
	// expressions and an environment.
	EvalFunc func(args []Expr, env map[string]float64) (float64, error)
	// EvalBatchFunc computes the call elementwise over input columns.
	EvalBatchFunc func(args []Expr, env map[string][]float64, out []float64) error
	// EvalNumFunc computes the call from already-evaluated argument values.
	EvalNumFunc func(args []float64) (float64, error)
	// EvalNumPartialFunc computes the partial derivative of the call with
	// respect to its i-th argument, at the given argument values.
	EvalNumPartialFunc func(args []float64, i int) (float64, error)
	// DiffFunc builds the symbolic derivative of the call.
	DiffFunc func(args []Expr, name string) (Expr, error)
)

// FuncCall is an inner node calling a named elementary function over an
// ordered sequence of argument expressions. Besides the call itself it
// carries the metadata the code generator, the evaluators and the
// differentiation engine need.
type FuncCall struct {
	name        string
	displayName string
	args        []Expr
	kind        Kind
	attrs       []Attr

	// DisableVerify skips IR verification of functions whose emission
	// involves this call; some intrinsic signatures trip the verifier.
	DisableVerify bool

	evalF           EvalFunc
	evalBatchF      EvalBatchFunc
	evalNumF        EvalNumFunc
	evalNumPartialF EvalNumPartialFunc
	diffF           DiffFunc
}

// NewFuncCall returns a function-call node with kind KindUser and the display
// name defaulted to the canonical name.
func NewFuncCall(name string, args ...Expr) *FuncCall {
	return &FuncCall{name: name, displayName: name, args: args}
}

// Name returns the canonical name used by the code generator.
func (f *FuncCall) Name() string { return f.name }

// DisplayName returns the name used for human-readable output.
func (f *FuncCall) DisplayName() string { return f.displayName }

// Args returns the argument expressions.
func (f *FuncCall) Args() []Expr { return f.args }

// Kind returns the resolution kind.
func (f *FuncCall) Kind() Kind { return f.kind }

// Attrs returns the optimisation hints.
func (f *FuncCall) Attrs() []Attr { return f.attrs }

// EvalNum invokes the stateless numerical callback on evaluated arguments.
func (f *FuncCall) EvalNum(args []float64) (float64, error) {
	if f.evalNumF == nil {
		return 0, fmt.Errorf("function %q has no numerical evaluation", f.displayName)
	}
	return f.evalNumF(args)
}

// EvalNumPartial invokes the partial-derivative callback.
func (f *FuncCall) EvalNumPartial(args []float64, i int) (float64, error) {
	if f.evalNumPartialF == nil {
		return 0, fmt.Errorf("%w: function %q has no partial-derivative evaluation", ErrNonDifferentiable, f.displayName)
	}
	return f.evalNumPartialF(args, i)
}

// Setters. Each one returns the receiver so factories can chain them.

func (f *FuncCall) SetName(name string) *FuncCall           { f.name = name; return f }
func (f *FuncCall) SetDisplayName(name string) *FuncCall    { f.displayName = name; return f }
func (f *FuncCall) SetArgs(args []Expr) *FuncCall           { f.args = args; return f }
func (f *FuncCall) SetKind(k Kind) *FuncCall                { f.kind = k; return f }
func (f *FuncCall) SetAttrs(attrs []Attr) *FuncCall         { f.attrs = attrs; return f }
func (f *FuncCall) SetEval(fn EvalFunc) *FuncCall           { f.evalF = fn; return f }
func (f *FuncCall) SetEvalBatch(fn EvalBatchFunc) *FuncCall { f.evalBatchF = fn; return f }
func (f *FuncCall) SetEvalNum(fn EvalNumFunc) *FuncCall     { f.evalNumF = fn; return f }
func (f *FuncCall) SetEvalNumPartial(fn EvalNumPartialFunc) *FuncCall {
	f.evalNumPartialF = fn
	return f
}
func (f *FuncCall) SetDiff(fn DiffFunc) *FuncCall { f.diffF = fn; return f }

func (f *FuncCall) Clone() Expr {
	clone := *f
	clone.args = make([]Expr, len(f.args))
	for i, a := range f.args {
		clone.args[i] = a.Clone()
	}
	return &clone
}

func (f *FuncCall) String() string {
	out := f.displayName + "("
	for i, a := range f.args {
		if i > 0 {
			out += ","
		}
		out += a.String()
	}
	return out + ")"
}

func (f *FuncCall) Evaluate(env map[string]float64) (float64, error) {
	if f.evalF == nil {
		return 0, fmt.Errorf("function %q has no scalar evaluation", f.displayName)
	}
	return f.evalF(f.args, env)
}

func (f *FuncCall) evalBatch(env map[string][]float64, out []float64) error {
	if f.evalBatchF == nil {
		return fmt.Errorf("function %q has no batched evaluation", f.displayName)
	}
	return f.evalBatchF(f.args, env, out)
}

func (f *FuncCall) Diff(name string) (Expr, error) {
	if f.diffF == nil {
		return nil, fmt.Errorf("%w: function %q has no derivative", ErrNonDifferentiable, f.displayName)
	}
	return f.diffF(f.args, name)
}

// Equal compares the canonical name and the argument sequences pointwise.
func (f *FuncCall) Equal(other Expr) bool {
	o, ok := other.(*FuncCall)
	if !ok || o.name != f.name || len(o.args) != len(f.args) {
		return false
	}
	for i, a := range f.args {
		if !a.Equal(o.args[i]) {
			return false
		}
	}
	return true
}

func (f *FuncCall) connections(conns *[][]uint32, counter *uint32) {
	id := *counter
	*counter++
	*conns = append(*conns, make([]uint32, len(f.args)))
	for i, a := range f.args {
		(*conns)[id][i] = *counter
		a.connections(conns, counter)
	}
}

func (f *FuncCall) nodeValues(env map[string]float64, values []float64, conns [][]uint32, counter *uint32) error {
	id := *counter
	*counter++
	for _, a := range f.args {
		if err := a.nodeValues(env, values, conns, counter); err != nil {
			return err
		}
	}
	argv := make([]float64, len(f.args))
	for i, c := range conns[id] {
		argv[i] = values[c]
	}
	v, err := f.EvalNum(argv)
	if err != nil {
		return err
	}
	values[id] = v
	return nil
}

func (f *FuncCall) gradient(env map[string]float64, grad map[string]float64, values []float64, conns [][]uint32, counter *uint32, acc float64) error {
	id := *counter
	*counter++
	argv := make([]float64, len(f.args))
	for i, c := range conns[id] {
		argv[i] = values[c]
	}
	for i, a := range f.args {
		partial, err := f.EvalNumPartial(argv, i)
		if err != nil {
			return err
		}
		if err := a.gradient(env, grad, values, conns, counter, acc*partial); err != nil {
			return err
		}
	}
	return nil
}
