// Package codegen lowers expressions into an LLVM module, wraps them into
// varargs, packed and batched entry points (plus Taylor steppers), optimises
// the module and materialises it into callable machine code through the
// process code cache.
package codegen

import (
	"fmt"
	"log/slog"

	"tinygo.org/x/go-llvm"

	"lambdify/internal/jit"
)

// CodeGen owns one LLVM module from construction until Compile hands it to
// the code cache. A generator is not safe for concurrent use.
type CodeGen struct {
	name     string
	ctx      llvm.Context
	module   llvm.Module
	builder  llvm.Builder
	machine  llvm.TargetMachine
	cache    *jit.Cache
	named    map[string]llvm.Value
	optLevel uint
	compiled bool

	// Verify toggles IR verification of emitted functions. Verification is
	// also skipped for functions containing a call that requests it (the
	// llvm.pow signature trips the verifier on some backends).
	Verify bool

	doubleT llvm.Type
	i32T    llvm.Type
	voidT   llvm.Type
	ptrT    llvm.Type
}

// New creates a generator around a fresh module. optLevel selects the
// optimisation pipeline: 0 runs nothing, 1-3 run the full pass list.
func New(name string, optLevel uint) (*CodeGen, error) {
	if optLevel > 3 {
		return nil, fmt.Errorf("optimisation level %d is out of the range [0, 3]", optLevel)
	}
	jit.Init()

	triple := llvm.DefaultTargetTriple()
	target, err := llvm.GetTargetFromTriple(triple)
	if err != nil {
		return nil, fmt.Errorf("detecting the native target: %w", err)
	}
	machine := target.CreateTargetMachine(triple, "", "",
		llvm.CodeGenLevelDefault, llvm.RelocDefault, llvm.CodeModelDefault)

	ctx := llvm.NewContext()
	module := ctx.NewModule(name)
	module.SetTarget(triple)

	cg := &CodeGen{
		name:     name,
		ctx:      ctx,
		module:   module,
		builder:  ctx.NewBuilder(),
		machine:  machine,
		optLevel: optLevel,
		Verify:   true,
		doubleT:  ctx.DoubleType(),
		i32T:     ctx.Int32Type(),
		voidT:    ctx.VoidType(),
	}
	cg.ptrT = llvm.PointerType(cg.doubleT, 0)
	return cg, nil
}

// OptLevel returns the optimisation level the generator was built with.
func (cg *CodeGen) OptLevel() uint { return cg.optLevel }

// Compile hands the module to the code cache. The transfer is irrevocable:
// any later attempt to mutate or inspect the module fails with ErrCompiled.
func (cg *CodeGen) Compile() error {
	if cg.compiled {
		return ErrCompiled
	}
	cache, err := jit.NewCache(cg.module)
	if err != nil {
		return err
	}
	cg.cache = cache
	cg.compiled = true
	slog.Debug("module compiled", "module", cg.name)
	return nil
}

// Fetch returns the packed entry point of a compiled expression.
func (cg *CodeGen) Fetch(name string) (jit.PackedFn, error) {
	addr, err := cg.lookup(name + ".vecargs")
	if err != nil {
		return nil, err
	}
	return jit.Packed(addr), nil
}

// FetchVararg returns the varargs entry point; arity must match the
// expression's free-variable count.
func (cg *CodeGen) FetchVararg(name string, arity int) (jit.VarargFn, error) {
	addr, err := cg.lookup(name)
	if err != nil {
		return nil, err
	}
	return jit.Vararg(addr, arity)
}

// FetchBatch returns the batched entry point of a compiled expression.
func (cg *CodeGen) FetchBatch(name string) (jit.BatchFn, error) {
	addr, err := cg.lookup(name + ".batch")
	if err != nil {
		return nil, err
	}
	return jit.Batch(addr), nil
}

// FetchTaylor returns the stepper emitted by AddTaylor.
func (cg *CodeGen) FetchTaylor(name string) (jit.TaylorFn, error) {
	addr, err := cg.lookup(name)
	if err != nil {
		return nil, err
	}
	return jit.Taylor(addr), nil
}

func (cg *CodeGen) lookup(name string) (uintptr, error) {
	if !cg.compiled {
		return 0, fmt.Errorf("cannot fetch %q: the module has not been compiled", name)
	}
	return cg.cache.Lookup(name)
}

// Dump returns the textual IR of the whole module.
func (cg *CodeGen) Dump() (string, error) {
	if cg.compiled {
		return "", ErrCompiled
	}
	return cg.module.String(), nil
}

// DumpFunction returns the textual IR of one function.
func (cg *CodeGen) DumpFunction(name string) (string, error) {
	if cg.compiled {
		return "", ErrCompiled
	}
	fn := cg.module.NamedFunction(name)
	if fn.IsNil() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return fn.String(), nil
}

// verifyFunction checks an emitted function, erasing it from the module on
// rejection so a failed emission leaves no partial IR behind.
func (cg *CodeGen) verifyFunction(fn llvm.Value, skip bool) error {
	if !cg.Verify || skip {
		return nil
	}
	if err := llvm.VerifyFunction(fn, llvm.ReturnStatusAction); err != nil {
		fn.EraseFromParentAsFunction()
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	return nil
}

// optimizeModule runs the pass pipeline: the function-level passes in order,
// then the inliner. Level 3 additionally merges identical functions.
func (cg *CodeGen) optimizeModule() error {
	opts := llvm.NewPassBuilderOptions()
	defer opts.Dispose()
	pipeline := "function(mem2reg,instcombine,reassociate,gvn,simplifycfg," +
		"loop-vectorize,slp-vectorizer,load-store-vectorizer,loop-unroll),cgscc(inline)"
	if cg.optLevel >= 3 {
		pipeline += ",mergefunc"
	}
	if err := cg.module.RunPasses(pipeline, cg.machine, opts); err != nil {
		return fmt.Errorf("running the optimisation pipeline: %w", err)
	}
	return nil
}

// Integer and float constant helpers.

func (cg *CodeGen) u32(v uint32) llvm.Value {
	return llvm.ConstInt(cg.i32T, uint64(v), false)
}

func (cg *CodeGen) f64(v float64) llvm.Value {
	return llvm.ConstFloat(cg.doubleT, v)
}

// f64FnType returns the type of a function taking n doubles and returning one.
func (cg *CodeGen) f64FnType(n int) llvm.Type {
	params := make([]llvm.Type, n)
	for i := range params {
		params[i] = cg.doubleT
	}
	return llvm.FunctionType(cg.doubleT, params, false)
}

// setFastMath enables the relaxed floating-point semantics the generated
// entry points are allowed to use.
func (cg *CodeGen) setFastMath(fn llvm.Value) {
	fn.AddFunctionAttr(cg.ctx.CreateStringAttribute("unsafe-fp-math", "true"))
}

func (cg *CodeGen) addFnAttr(fn llvm.Value, name string) {
	fn.AddFunctionAttr(cg.ctx.CreateEnumAttribute(llvm.AttributeKindID(name), 0))
}

// addParamAttr attaches an enum attribute to a parameter; index is 1-based
// (0 addresses the return value).
func (cg *CodeGen) addParamAttr(fn llvm.Value, index int, name string) {
	fn.AddAttributeAtIndex(index, cg.ctx.CreateEnumAttribute(llvm.AttributeKindID(name), 0))
}
