package codegen

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"lambdify/internal/expr"
)

// intrinsicNames maps the canonical intrinsic names used by the function
// library to their f64 overload symbols.
var intrinsicNames = map[string]string{
	"llvm.sin":   "llvm.sin.f64",
	"llvm.cos":   "llvm.cos.f64",
	"llvm.exp":   "llvm.exp.f64",
	"llvm.exp2":  "llvm.exp2.f64",
	"llvm.log":   "llvm.log.f64",
	"llvm.log2":  "llvm.log2.f64",
	"llvm.log10": "llvm.log10.f64",
	"llvm.sqrt":  "llvm.sqrt.f64",
	"llvm.fabs":  "llvm.fabs.f64",
	"llvm.pow":   "llvm.pow.f64",
}

var attrNames = map[expr.Attr]string{
	expr.AttrNoUnwind:     "nounwind",
	expr.AttrSpeculatable: "speculatable",
	expr.AttrReadNone:     "readnone",
	expr.AttrWillReturn:   "willreturn",
}

// lower emits the IR for e at the current insertion point. Variable reads
// resolve through the named-values table, which the entry-point builders
// populate before lowering.
func (cg *CodeGen) lower(e expr.Expr) (llvm.Value, error) {
	switch n := e.(type) {
	case *expr.Number:
		return cg.f64(n.Value()), nil
	case *expr.Variable:
		v, ok := cg.named[n.Name()]
		if !ok {
			return llvm.Value{}, fmt.Errorf("%w: %q is not bound in this function", expr.ErrUndefinedVariable, n.Name())
		}
		return v, nil
	case *expr.Binary:
		l, err := cg.lower(n.Lhs())
		if err != nil {
			return llvm.Value{}, err
		}
		r, err := cg.lower(n.Rhs())
		if err != nil {
			return llvm.Value{}, err
		}
		switch n.Op() {
		case '+':
			return cg.builder.CreateFAdd(l, r, "addtmp"), nil
		case '-':
			return cg.builder.CreateFSub(l, r, "subtmp"), nil
		case '*':
			return cg.builder.CreateFMul(l, r, "multmp"), nil
		default:
			return cg.builder.CreateFDiv(l, r, "divtmp"), nil
		}
	case *expr.FuncCall:
		callee, ft, err := cg.resolveCallee(n)
		if err != nil {
			return llvm.Value{}, err
		}
		args := make([]llvm.Value, len(n.Args()))
		for i, a := range n.Args() {
			if args[i], err = cg.lower(a); err != nil {
				return llvm.Value{}, err
			}
		}
		call := cg.builder.CreateCall(ft, callee, args, "calltmp")
		call.SetTailCall(true)
		return call, nil
	default:
		return llvm.Value{}, fmt.Errorf("cannot lower expression of type %T", e)
	}
}

// resolveCallee locates or declares the function a call node refers to,
// according to its kind, and checks the call-site arity against it.
func (cg *CodeGen) resolveCallee(fc *expr.FuncCall) (llvm.Value, llvm.Type, error) {
	nargs := len(fc.Args())
	ft := cg.f64FnType(nargs)

	var fn llvm.Value
	switch fc.Kind() {
	case expr.KindIntrinsic:
		full, ok := intrinsicNames[fc.Name()]
		if !ok {
			return llvm.Value{}, llvm.Type{}, fmt.Errorf("%w: %q", ErrUnknownIntrinsic, fc.Name())
		}
		fn = cg.module.NamedFunction(full)
		if fn.IsNil() {
			fn = llvm.AddFunction(cg.module, full, ft)
		} else if fn.BasicBlocksCount() != 0 {
			return llvm.Value{}, llvm.Type{}, fmt.Errorf("%w: the intrinsic %q must be an empty function", ErrNameCollision, full)
		}
	case expr.KindExternal:
		fn = cg.module.NamedFunction(fc.Name())
		if !fn.IsNil() {
			if fn.BasicBlocksCount() != 0 {
				return llvm.Value{}, llvm.Type{}, fmt.Errorf(
					"%w: %q is defined inside the module and cannot be called as an external function",
					ErrNameCollision, fc.Name())
			}
		} else {
			if err := expr.CheckSymbolName(fc.Name()); err != nil {
				return llvm.Value{}, llvm.Type{}, err
			}
			fn = llvm.AddFunction(cg.module, fc.Name(), ft)
			for _, a := range fc.Attrs() {
				cg.addFnAttr(fn, attrNames[a])
			}
		}
	default:
		fn = cg.module.NamedFunction(fc.Name())
		if fn.IsNil() || fn.BasicBlocksCount() == 0 {
			return llvm.Value{}, llvm.Type{}, fmt.Errorf("%w: %q", ErrUnknownFunction, fc.Name())
		}
	}

	if fn.ParamsCount() != nargs {
		return llvm.Value{}, llvm.Type{}, fmt.Errorf(
			"%w: %q expects %d argument(s), but %d were provided",
			expr.ErrArityMismatch, fc.Name(), fn.ParamsCount(), nargs)
	}
	return fn, ft, nil
}

// hasDisabledVerify reports whether any call in the tree requests that
// verification be skipped for the functions it is emitted into.
func hasDisabledVerify(e expr.Expr) bool {
	stack := []expr.Expr{e}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch n := n.(type) {
		case *expr.Binary:
			stack = append(stack, n.Lhs(), n.Rhs())
		case *expr.FuncCall:
			if n.DisableVerify {
				return true
			}
			stack = append(stack, n.Args()...)
		}
	}
	return false
}
