package codegen

import (
	"fmt"
	"math"

	"tinygo.org/x/go-llvm"

	"lambdify/internal/expr"
)

// AddExpression lowers e into three entry points sharing the user-chosen
// symbol name:
//
//	name          f64(f64 x n)       one argument per free variable, sorted
//	name.vecargs  f64(const f64*)    packed argument array
//	name.batch    void(f64*, const f64*)  batchSize packed rows
//
// The module pipeline runs afterwards when the optimisation level is not 0.
func (cg *CodeGen) AddExpression(name string, e expr.Expr, batchSize uint32) error {
	if cg.compiled {
		return ErrCompiled
	}
	if err := expr.CheckSymbolName(name); err != nil {
		return err
	}
	if !cg.module.NamedFunction(name).IsNil() {
		return fmt.Errorf("%w: %q", ErrNameCollision, name)
	}

	vars := expr.Variables(e)
	skipVerify := hasDisabledVerify(e)

	// A failed emission must not leave partial entry points behind.
	fail := func(err error) error {
		for _, n := range []string{name, name + ".vecargs", name + ".batch"} {
			if f := cg.module.NamedFunction(n); !f.IsNil() {
				f.EraseFromParentAsFunction()
			}
		}
		return err
	}

	if err := cg.addVarargsExpression(name, e, vars, skipVerify); err != nil {
		return fail(err)
	}
	if err := cg.addVecargsExpression(name, vars, skipVerify); err != nil {
		return fail(err)
	}
	if err := cg.addBatchExpression(name, vars, batchSize, skipVerify); err != nil {
		return fail(err)
	}

	if cg.optLevel > 0 {
		return cg.optimizeModule()
	}
	return nil
}

func (cg *CodeGen) addVarargsExpression(name string, e expr.Expr, vars []string, skipVerify bool) error {
	fn := llvm.AddFunction(cg.module, name, cg.f64FnType(len(vars)))
	cg.setFastMath(fn)
	for i, v := range vars {
		fn.Param(i).SetName(v)
	}

	bb := llvm.AddBasicBlock(fn, "entry")
	cg.builder.SetInsertPointAtEnd(bb)

	cg.named = make(map[string]llvm.Value, len(vars))
	for i, v := range vars {
		cg.named[v] = fn.Param(i)
	}

	ret, err := cg.lower(e)
	if err != nil {
		fn.EraseFromParentAsFunction()
		return err
	}
	cg.builder.CreateRet(ret)
	return cg.verifyFunction(fn, skipVerify)
}

func (cg *CodeGen) addVecargsExpression(name string, vars []string, skipVerify bool) error {
	// The packed loads below index with 32-bit offsets.
	if uint64(len(vars)) > math.MaxUint32 {
		return fmt.Errorf("%w: the expression references %d variables", ErrTooManyVariables, len(vars))
	}

	ft := llvm.FunctionType(cg.doubleT, []llvm.Type{cg.ptrT}, false)
	fn := llvm.AddFunction(cg.module, name+".vecargs", ft)
	cg.setFastMath(fn)
	vecArg := fn.Param(0)
	vecArg.SetName("arg.vector")
	cg.addParamAttr(fn, 1, "readonly")
	cg.addParamAttr(fn, 1, "nocapture")

	bb := llvm.AddBasicBlock(fn, "entry")
	cg.builder.SetInsertPointAtEnd(bb)

	// Load each packed slot into the local binding for its variable, then
	// delegate to the varargs entry instead of re-lowering the expression.
	cg.named = make(map[string]llvm.Value, len(vars))
	args := make([]llvm.Value, len(vars))
	for i, v := range vars {
		ptr := cg.builder.CreateInBoundsGEP(cg.doubleT, vecArg, []llvm.Value{cg.u32(uint32(i))}, "ptr_"+v)
		load := cg.builder.CreateLoad(cg.doubleT, ptr, v)
		cg.named[v] = load
		args[i] = load
	}

	varargsFn := cg.module.NamedFunction(name)
	call := cg.builder.CreateCall(cg.f64FnType(len(vars)), varargsFn, args, "calltmp")
	call.SetTailCall(true)
	cg.builder.CreateRet(call)
	return cg.verifyFunction(fn, skipVerify)
}

func (cg *CodeGen) addBatchExpression(name string, vars []string, batchSize uint32, skipVerify bool) error {
	ft := llvm.FunctionType(cg.voidT, []llvm.Type{cg.ptrT, cg.ptrT}, false)
	fn := llvm.AddFunction(cg.module, name+".batch", ft)
	cg.setFastMath(fn)

	outArg := fn.Param(0)
	outArg.SetName("batcharg.out")
	cg.addParamAttr(fn, 1, "writeonly")
	cg.addParamAttr(fn, 1, "nocapture")
	cg.addParamAttr(fn, 1, "noalias")

	inArg := fn.Param(1)
	inArg.SetName("batcharg.in")
	cg.addParamAttr(fn, 2, "readonly")
	cg.addParamAttr(fn, 2, "nocapture")
	cg.addParamAttr(fn, 2, "noalias")

	vecFn := cg.module.NamedFunction(name + ".vecargs")
	vecFT := llvm.FunctionType(cg.doubleT, []llvm.Type{cg.ptrT}, false)

	entry := llvm.AddBasicBlock(fn, "entry")
	cg.builder.SetInsertPointAtEnd(entry)

	// An empty batch has no rows to process.
	if batchSize == 0 {
		cg.builder.CreateRetVoid()
		return cg.verifyFunction(fn, skipVerify)
	}

	loop := llvm.AddBasicBlock(fn, "loop")
	cg.builder.CreateBr(loop)
	cg.builder.SetInsertPointAtEnd(loop)

	iv := cg.builder.CreatePHI(cg.i32T, "i")

	outPtr := cg.builder.CreateInBoundsGEP(cg.doubleT, outArg, []llvm.Value{iv}, "out_ptr")
	inOffset := cg.builder.CreateMul(iv, cg.u32(uint32(len(vars))), "in_offset")
	inPtr := cg.builder.CreateInBoundsGEP(cg.doubleT, inArg, []llvm.Value{inOffset}, "in_ptr")

	call := cg.builder.CreateCall(vecFT, vecFn, []llvm.Value{inPtr}, "calltmp")
	call.SetTailCall(true)
	cg.builder.CreateStore(call, outPtr)

	next := cg.builder.CreateAdd(iv, cg.u32(1), "nextvar")
	cond := cg.builder.CreateICmp(llvm.IntULT, next, cg.u32(batchSize), "loopcond")

	loopEnd := cg.builder.GetInsertBlock()
	after := llvm.AddBasicBlock(fn, "afterloop")
	cg.builder.CreateCondBr(cond, loop, after)
	cg.builder.SetInsertPointAtEnd(after)

	iv.AddIncoming([]llvm.Value{cg.u32(0), next}, []llvm.BasicBlock{entry, loopEnd})

	cg.builder.CreateRetVoid()
	return cg.verifyFunction(fn, skipVerify)
}
