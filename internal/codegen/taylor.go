package codegen

import (
	"fmt"
	"log/slog"
	"math"

	"tinygo.org/x/go-llvm"

	"lambdify/internal/expr"
)

// Taylor stepper emission. The decomposed system is a straight line of
// elementary assignments over u-variables; each assignment gets an internal
// helper function computing its order-k normalised derivative from the
// preceding rows of the derivatives array, and the exported stepper drives
// those helpers row by row before summing the series into the state.

// tOperand is an operand of a decomposed Taylor assignment: a literal number
// or the index of a u-variable.
type tOperand struct {
	num   float64
	idx   uint32
	isNum bool
}

func taylorOperand(e expr.Expr) (tOperand, error) {
	switch n := e.(type) {
	case *expr.Number:
		return tOperand{num: n.Value(), isNum: true}, nil
	case *expr.Variable:
		idx, err := expr.UIndex(n.Name())
		if err != nil {
			return tOperand{}, fmt.Errorf("%w: variable %q is not a u-variable", ErrLowerUnsupported, n.Name())
		}
		return tOperand{idx: idx}, nil
	default:
		return tOperand{}, fmt.Errorf("%w: %q must be a variable or a number", ErrLowerUnsupported, e.String())
	}
}

// taylorHelper is an internal function double(const double *diff, i32 order)
// under construction.
type taylorHelper struct {
	cg      *CodeGen
	fn      llvm.Value
	diffPtr llvm.Value
	order   llvm.Value
	nUvars  uint32
}

// newTaylorHelper creates the helper prototype and positions the builder in
// its entry block.
func (cg *CodeGen) newTaylorHelper(name string, nUvars uint32) (*taylorHelper, error) {
	if !cg.module.NamedFunction(name).IsNil() {
		return nil, fmt.Errorf("%w: %q", ErrNameCollision, name)
	}
	ft := llvm.FunctionType(cg.doubleT, []llvm.Type{cg.ptrT, cg.i32T}, false)
	fn := llvm.AddFunction(cg.module, name, ft)
	fn.SetLinkage(llvm.InternalLinkage)
	cg.setFastMath(fn)

	diffPtr := fn.Param(0)
	diffPtr.SetName("diff_ptr")
	cg.addParamAttr(fn, 1, "readonly")
	cg.addParamAttr(fn, 1, "nocapture")
	order := fn.Param(1)
	order.SetName("order")

	bb := llvm.AddBasicBlock(fn, "entry")
	cg.builder.SetInsertPointAtEnd(bb)
	return &taylorHelper{cg: cg, fn: fn, diffPtr: diffPtr, order: order, nUvars: nUvars}, nil
}

// loadDiff loads diff[row*nUvars + idx].
func (h *taylorHelper) loadDiff(row llvm.Value, idx uint32, name string) llvm.Value {
	b := h.cg.builder
	arrIdx := b.CreateAdd(b.CreateMul(row, h.cg.u32(h.nUvars), ""), h.cg.u32(idx), "")
	ptr := b.CreateInBoundsGEP(h.cg.doubleT, h.diffPtr, []llvm.Value{arrIdx}, name+"_ptr")
	return b.CreateLoad(h.cg.doubleT, ptr, name)
}

// sumLoop emits a loop over j in [start, order] accumulating the values the
// body produces. The loop always runs at least once; every call site
// guarantees start <= order.
func (h *taylorHelper) sumLoop(start uint32, body func(j llvm.Value) llvm.Value) llvm.Value {
	b := h.cg.builder

	acc := b.CreateAlloca(h.cg.doubleT, "ret_acc")
	b.CreateStore(h.cg.f64(0), acc)

	preheader := b.GetInsertBlock()
	loop := llvm.AddBasicBlock(h.fn, "loop")
	b.CreateBr(loop)
	b.SetInsertPointAtEnd(loop)

	j := b.CreatePHI(h.cg.i32T, "j")
	term := body(j)
	b.CreateStore(b.CreateFAdd(b.CreateLoad(h.cg.doubleT, acc, ""), term, ""), acc)

	next := b.CreateAdd(j, h.cg.u32(1), "next_j")
	cond := b.CreateICmp(llvm.IntULE, next, h.order, "loopcond")

	loopEnd := b.GetInsertBlock()
	after := llvm.AddBasicBlock(h.fn, "afterloop")
	b.CreateCondBr(cond, loop, after)
	b.SetInsertPointAtEnd(after)

	j.AddIncoming([]llvm.Value{h.cg.u32(start), next}, []llvm.BasicBlock{preheader, loopEnd})
	return b.CreateLoad(h.cg.doubleT, acc, "ret")
}

func (h *taylorHelper) orderFP() llvm.Value {
	return h.cg.builder.CreateUIToFP(h.order, h.cg.doubleT, "order_fp")
}

// taylorAddSVDiff emits the helper returning the order-k normalised
// derivative of a state variable whose first derivative is rhs: the previous
// row of the rhs u-variable divided by the order, or the constant rule when
// rhs is a literal number.
func (cg *CodeGen) taylorAddSVDiff(name string, nUvars uint32, rhs expr.Expr) (llvm.Value, error) {
	op, err := taylorOperand(rhs)
	if err != nil {
		return llvm.Value{}, err
	}
	h, err := cg.newTaylorHelper(name, nUvars)
	if err != nil {
		return llvm.Value{}, err
	}
	b := cg.builder
	if op.isNum {
		isFirst := b.CreateICmp(llvm.IntEQ, h.order, cg.u32(1), "is_order_one")
		b.CreateRet(b.CreateSelect(isFirst, cg.f64(op.num), cg.f64(0), "sv_const"))
	} else {
		prevRow := b.CreateSub(h.order, cg.u32(1), "prev_row")
		load := h.loadDiff(prevRow, op.idx, "diff_load")
		b.CreateRet(b.CreateFDiv(load, h.orderFP(), "sv_diff"))
	}
	if err := cg.verifyFunction(h.fn, false); err != nil {
		return llvm.Value{}, err
	}
	return h.fn, nil
}

// taylorAddAuxDiff emits the helper for one auxiliary assignment.
func (cg *CodeGen) taylorAddAuxDiff(name string, nUvars, selfIdx uint32, e expr.Expr, partners map[uint32]uint32) (llvm.Value, error) {
	switch n := e.(type) {
	case *expr.Binary:
		return cg.taylorDiffBinary(name, nUvars, selfIdx, n)
	case *expr.FuncCall:
		return cg.taylorDiffCall(name, nUvars, selfIdx, n, partners)
	default:
		return llvm.Value{}, fmt.Errorf("%w: %q is not an elementary assignment", ErrLowerUnsupported, e.String())
	}
}

func (cg *CodeGen) taylorDiffBinary(name string, nUvars, selfIdx uint32, bo *expr.Binary) (llvm.Value, error) {
	lhs, err := taylorOperand(bo.Lhs())
	if err != nil {
		return llvm.Value{}, err
	}
	rhs, err := taylorOperand(bo.Rhs())
	if err != nil {
		return llvm.Value{}, err
	}
	if lhs.isNum && rhs.isNum {
		return llvm.Value{}, fmt.Errorf("%w: both operands of %q are numbers", ErrLowerUnsupported, bo.String())
	}

	h, err := cg.newTaylorHelper(name, nUvars)
	if err != nil {
		return llvm.Value{}, err
	}
	b := cg.builder

	switch bo.Op() {
	case '+':
		// A constant term vanishes at every order >= 1.
		switch {
		case lhs.isNum:
			b.CreateRet(h.loadDiff(h.order, rhs.idx, "diff_load"))
		case rhs.isNum:
			b.CreateRet(h.loadDiff(h.order, lhs.idx, "diff_load"))
		default:
			v0 := h.loadDiff(h.order, lhs.idx, "diff_load0")
			v1 := h.loadDiff(h.order, rhs.idx, "diff_load1")
			b.CreateRet(b.CreateFAdd(v0, v1, ""))
		}
	case '-':
		switch {
		case lhs.isNum:
			b.CreateRet(b.CreateFNeg(h.loadDiff(h.order, rhs.idx, "diff_load"), ""))
		case rhs.isNum:
			b.CreateRet(h.loadDiff(h.order, lhs.idx, "diff_load"))
		default:
			v0 := h.loadDiff(h.order, lhs.idx, "diff_load0")
			v1 := h.loadDiff(h.order, rhs.idx, "diff_load1")
			b.CreateRet(b.CreateFSub(v0, v1, ""))
		}
	case '*':
		switch {
		case lhs.isNum:
			b.CreateRet(b.CreateFMul(cg.f64(lhs.num), h.loadDiff(h.order, rhs.idx, "diff_load"), ""))
		case rhs.isNum:
			b.CreateRet(b.CreateFMul(cg.f64(rhs.num), h.loadDiff(h.order, lhs.idx, "diff_load"), ""))
		default:
			// Cauchy product: sum over j of d_{k-j}(a) * d_j(b).
			sum := h.sumLoop(0, func(j llvm.Value) llvm.Value {
				row := b.CreateSub(h.order, j, "")
				v0 := h.loadDiff(row, lhs.idx, "diff_load0")
				v1 := h.loadDiff(j, rhs.idx, "diff_load1")
				return b.CreateFMul(v0, v1, "")
			})
			b.CreateRet(sum)
		}
	default:
		// d_k(a/b) = (d_k(a) - sum_{j=1..k} d_j(b) * d_{k-j}(a/b)) / d_0(b).
		// The simplifier rewrites u/n into a multiplication at construction
		// for every non-zero n; a numeric divisor that still gets here (u/0,
		// or a node built with NewBinary) is rejected.
		if rhs.isNum {
			return llvm.Value{}, fmt.Errorf("%w: numeric divisor in %q", ErrLowerUnsupported, bo.String())
		}
		sum := h.sumLoop(1, func(j llvm.Value) llvm.Value {
			v0 := h.loadDiff(j, rhs.idx, "diff_load0")
			v1 := h.loadDiff(b.CreateSub(h.order, j, ""), selfIdx, "diff_load1")
			return b.CreateFMul(v0, v1, "")
		})
		ak := cg.f64(0)
		if !lhs.isNum {
			ak = h.loadDiff(h.order, lhs.idx, "diff_load_num")
		}
		b0 := h.loadDiff(cg.u32(0), rhs.idx, "diff_load_den")
		b.CreateRet(b.CreateFDiv(b.CreateFSub(ak, sum, ""), b0, ""))
	}

	if err := cg.verifyFunction(h.fn, false); err != nil {
		return llvm.Value{}, err
	}
	return h.fn, nil
}

func (cg *CodeGen) taylorDiffCall(name string, nUvars, selfIdx uint32, fc *expr.FuncCall, partners map[uint32]uint32) (llvm.Value, error) {
	if len(fc.Args()) != 1 {
		return llvm.Value{}, fmt.Errorf("%w: no Taylor recurrence for %q", ErrLowerUnsupported, fc.DisplayName())
	}
	arg, err := taylorOperand(fc.Args()[0])
	if err != nil {
		return llvm.Value{}, err
	}

	// The series whose preceding rows feed the recurrence: the entry itself
	// for exp, the partner entry for the sin/cos pair.
	series := selfIdx
	negate := false
	switch fc.Name() {
	case "llvm.exp":
	case "llvm.sin":
		series = partners[selfIdx]
	case "llvm.cos":
		series = partners[selfIdx]
		negate = true
	default:
		return llvm.Value{}, fmt.Errorf("%w: no Taylor recurrence for %q", ErrLowerUnsupported, fc.DisplayName())
	}

	h, err := cg.newTaylorHelper(name, nUvars)
	if err != nil {
		return llvm.Value{}, err
	}
	b := cg.builder

	if arg.isNum {
		// A constant argument has a constant series: zero at every order >= 1.
		b.CreateRet(cg.f64(0))
	} else {
		// d_k(f(a)) = (1/k) * sum_{j=1..k} j * d_j(a) * d_{k-j}(series).
		sum := h.sumLoop(1, func(j llvm.Value) llvm.Value {
			jf := b.CreateUIToFP(j, cg.doubleT, "j_fp")
			aj := h.loadDiff(j, arg.idx, "diff_load0")
			sj := h.loadDiff(b.CreateSub(h.order, j, ""), series, "diff_load1")
			return b.CreateFMul(b.CreateFMul(jf, aj, ""), sj, "")
		})
		ret := b.CreateFDiv(sum, h.orderFP(), "")
		if negate {
			ret = b.CreateFNeg(ret, "")
		}
		b.CreateRet(ret)
	}

	if err := cg.verifyFunction(h.fn, false); err != nil {
		return llvm.Value{}, err
	}
	return h.fn, nil
}

// taylorInit lowers the order-0 value of an auxiliary assignment, reading
// u-variable operands from the order-0 row of the derivatives array.
func (cg *CodeGen) taylorInit(e expr.Expr, basePtr llvm.Value) (llvm.Value, error) {
	b := cg.builder
	createOp := func(a expr.Expr) (llvm.Value, error) {
		op, err := taylorOperand(a)
		if err != nil {
			return llvm.Value{}, err
		}
		if op.isNum {
			return cg.f64(op.num), nil
		}
		ptr := b.CreateInBoundsGEP(cg.doubleT, basePtr, []llvm.Value{cg.u32(op.idx)}, "diff_ptr")
		return b.CreateLoad(cg.doubleT, ptr, "diff_load"), nil
	}

	switch n := e.(type) {
	case *expr.Binary:
		l, err := createOp(n.Lhs())
		if err != nil {
			return llvm.Value{}, err
		}
		r, err := createOp(n.Rhs())
		if err != nil {
			return llvm.Value{}, err
		}
		switch n.Op() {
		case '+':
			return b.CreateFAdd(l, r, "taylor_init_add"), nil
		case '-':
			return b.CreateFSub(l, r, "taylor_init_sub"), nil
		case '*':
			return b.CreateFMul(l, r, "taylor_init_mul"), nil
		default:
			return b.CreateFDiv(l, r, "taylor_init_div"), nil
		}
	case *expr.FuncCall:
		callee, ft, err := cg.resolveCallee(n)
		if err != nil {
			return llvm.Value{}, err
		}
		args := make([]llvm.Value, len(n.Args()))
		for i, a := range n.Args() {
			if args[i], err = createOp(a); err != nil {
				return llvm.Value{}, err
			}
		}
		call := b.CreateCall(ft, callee, args, "taylor_init_call")
		call.SetTailCall(true)
		return call, nil
	default:
		return createOp(e)
	}
}

// findPartners locates, for every sin (cos) entry, the cos (sin) entry over
// the same argument that the decomposer inserted alongside it.
func findPartners(dc []expr.Expr, nEq, nUvars int) (map[uint32]uint32, error) {
	partners := make(map[uint32]uint32)
	for j := nEq; j < nUvars; j++ {
		fc, ok := dc[j].(*expr.FuncCall)
		if !ok {
			continue
		}
		var want string
		switch fc.Name() {
		case "llvm.sin":
			want = "llvm.cos"
		case "llvm.cos":
			want = "llvm.sin"
		default:
			continue
		}
		found := -1
		for p := nEq; p < nUvars; p++ {
			pfc, ok := dc[p].(*expr.FuncCall)
			if ok && pfc.Name() == want && len(pfc.Args()) == 1 && len(fc.Args()) == 1 &&
				pfc.Args()[0].Equal(fc.Args()[0]) {
				found = p
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("%w: %q has no %s partner in the decomposition", ErrLowerUnsupported, fc.String(), want)
		}
		partners[uint32(j)] = uint32(found)
	}
	return partners, nil
}

// AddTaylor decomposes the ODE system sys and emits a stepper
//
//	name  void(f64 *in_out, f64 h, u32 order)
//
// advancing the state held in in_out by one Taylor step of the requested
// order, which must be in [1, maxOrder].
func (cg *CodeGen) AddTaylor(name string, sys []expr.Expr, maxOrder uint32) error {
	if cg.compiled {
		return ErrCompiled
	}
	if err := expr.CheckSymbolName(name); err != nil {
		return err
	}
	if !cg.module.NamedFunction(name).IsNil() {
		return fmt.Errorf("%w: %q", ErrNameCollision, name)
	}
	if maxOrder == 0 {
		return fmt.Errorf("%w: the maximum order cannot be zero", ErrOrderOverflow)
	}

	nEq := len(sys)
	dc, err := expr.TaylorDecompose(sys)
	if err != nil {
		return err
	}
	nUvars := len(dc) - nEq
	for i, ex := range dc {
		slog.Debug("taylor decomposition", "name", name, "slot", i, "expr", ex.String())
	}
	slog.Debug("taylor system", "name", name, "equations", nEq, "uvars", nUvars)

	// All indexing into the derivatives array is 32-bit.
	if uint64(nUvars) > math.MaxUint32 || uint64(nUvars) > uint64(math.MaxUint32)/uint64(maxOrder) {
		return fmt.Errorf("%w: %d u-variables at maximum order %d", ErrOrderOverflow, nUvars, maxOrder)
	}

	partners, err := findPartners(dc, nEq, nUvars)
	if err != nil {
		return err
	}

	// A failed emission must not leave the helper functions behind.
	var created []llvm.Value
	fail := func(err error) error {
		for _, f := range created {
			f.EraseFromParentAsFunction()
		}
		return err
	}

	svFuncs := make([]llvm.Value, nEq)
	for i := 0; i < nEq; i++ {
		fname := fmt.Sprintf("%s.sv_diff.%d", name, i)
		f, err := cg.taylorAddSVDiff(fname, uint32(nUvars), dc[nUvars+i])
		if err != nil {
			return fail(err)
		}
		svFuncs[i] = f
		created = append(created, f)
	}
	auxFuncs := make([]llvm.Value, nUvars)
	for j := nEq; j < nUvars; j++ {
		fname := fmt.Sprintf("%s.taylor_diff.%d", name, j)
		f, err := cg.taylorAddAuxDiff(fname, uint32(nUvars), uint32(j), dc[j], partners)
		if err != nil {
			return fail(err)
		}
		auxFuncs[j] = f
		created = append(created, f)
	}

	ft := llvm.FunctionType(cg.voidT, []llvm.Type{cg.ptrT, cg.doubleT, cg.i32T}, false)
	fn := llvm.AddFunction(cg.module, name, ft)
	cg.setFastMath(fn)
	inOut := fn.Param(0)
	inOut.SetName("in_out")
	hArg := fn.Param(1)
	hArg.SetName("h")
	orderArg := fn.Param(2)
	orderArg.SetName("order")

	b := cg.builder
	entry := llvm.AddBasicBlock(fn, "entry")
	b.SetInsertPointAtEnd(entry)

	arrType := llvm.ArrayType(cg.doubleT, nUvars*int(maxOrder))
	diffArr := b.CreateAlloca(arrType, "diff")
	basePtr := b.CreateInBoundsGEP(arrType, diffArr, []llvm.Value{cg.u32(0), cg.u32(0)}, "base_diff_ptr")

	svAcc := make([]llvm.Value, nEq)
	for i := range svAcc {
		svAcc[i] = b.CreateAlloca(cg.doubleT, fmt.Sprintf("sv_acc_%d", i))
	}
	hAcc := b.CreateAlloca(cg.doubleT, "h_acc")
	b.CreateStore(hArg, hAcc)

	// Order-0 row: copy the state in, then lower the auxiliary assignments.
	initBB := llvm.AddBasicBlock(fn, "order_0_init")
	b.CreateBr(initBB)
	b.SetInsertPointAtEnd(initBB)

	for i := 0; i < nEq; i++ {
		inPtr := b.CreateInBoundsGEP(cg.doubleT, inOut, []llvm.Value{cg.u32(uint32(i))}, "in_out_ptr")
		load := b.CreateLoad(cg.doubleT, inPtr, "in_out_load")
		diffPtr := b.CreateInBoundsGEP(cg.doubleT, basePtr, []llvm.Value{cg.u32(uint32(i))}, "diff_ptr")
		b.CreateStore(load, diffPtr)
		b.CreateStore(load, svAcc[i])
	}
	for j := nEq; j < nUvars; j++ {
		val, err := cg.taylorInit(dc[j], basePtr)
		if err != nil {
			fn.EraseFromParentAsFunction()
			return fail(err)
		}
		diffPtr := b.CreateInBoundsGEP(cg.doubleT, basePtr, []llvm.Value{cg.u32(uint32(j))}, "diff_ptr")
		b.CreateStore(val, diffPtr)
	}

	helperFT := llvm.FunctionType(cg.doubleT, []llvm.Type{cg.ptrT, cg.i32T}, false)

	// Outer loop over k in [1, order). The guard keeps an order-1 step down
	// to exactly state + h*f(state).
	guardEnd := b.GetInsertBlock()
	loopBB := llvm.AddBasicBlock(fn, "order_loop")
	afterBB := llvm.AddBasicBlock(fn, "afterloop")
	enter := b.CreateICmp(llvm.IntULT, cg.u32(1), orderArg, "order_loop_enter")
	b.CreateCondBr(enter, loopBB, afterBB)

	b.SetInsertPointAtEnd(loopBB)
	kv := b.CreatePHI(cg.i32T, "k")

	storeRow := func(idx uint32, val llvm.Value) {
		arrIdx := b.CreateAdd(b.CreateMul(kv, cg.u32(uint32(nUvars)), ""), cg.u32(idx), "")
		ptr := b.CreateInBoundsGEP(cg.doubleT, basePtr, []llvm.Value{arrIdx}, "diff_ptr")
		b.CreateStore(val, ptr)
	}

	rowVals := make([]llvm.Value, nEq)
	for i := 0; i < nEq; i++ {
		call := b.CreateCall(helperFT, svFuncs[i], []llvm.Value{basePtr, kv}, fmt.Sprintf("sv_diff_%d", i))
		call.SetTailCall(true)
		storeRow(uint32(i), call)
		rowVals[i] = call
	}
	for j := nEq; j < nUvars; j++ {
		call := b.CreateCall(helperFT, auxFuncs[j], []llvm.Value{basePtr, kv}, fmt.Sprintf("taylor_diff_%d", j))
		call.SetTailCall(true)
		storeRow(uint32(j), call)
	}
	for i := 0; i < nEq; i++ {
		acc := b.CreateLoad(cg.doubleT, svAcc[i], "")
		hv := b.CreateLoad(cg.doubleT, hAcc, "")
		b.CreateStore(b.CreateFAdd(acc, b.CreateFMul(hv, rowVals[i], ""), ""), svAcc[i])
	}
	b.CreateStore(b.CreateFMul(b.CreateLoad(cg.doubleT, hAcc, ""), hArg, ""), hAcc)

	nextK := b.CreateAdd(kv, cg.u32(1), "next_k")
	cond := b.CreateICmp(llvm.IntULT, nextK, orderArg, "order_loop_cond")
	loopEnd := b.GetInsertBlock()
	b.CreateCondBr(cond, loopBB, afterBB)
	kv.AddIncoming([]llvm.Value{cg.u32(1), nextK}, []llvm.BasicBlock{guardEnd, loopEnd})

	// Finalise: state + h_acc * (order-th normalised derivative).
	b.SetInsertPointAtEnd(afterBB)
	for i := 0; i < nEq; i++ {
		call := b.CreateCall(helperFT, svFuncs[i], []llvm.Value{basePtr, orderArg}, fmt.Sprintf("final_sv_diff_%d", i))
		call.SetTailCall(true)
		final := b.CreateFAdd(
			b.CreateLoad(cg.doubleT, svAcc[i], ""),
			b.CreateFMul(b.CreateLoad(cg.doubleT, hAcc, ""), call, ""),
			fmt.Sprintf("final_sv_%d", i))
		outPtr := b.CreateInBoundsGEP(cg.doubleT, inOut, []llvm.Value{cg.u32(uint32(i))}, "out_ptr")
		b.CreateStore(final, outPtr)
	}
	b.CreateRetVoid()

	if err := cg.verifyFunction(fn, false); err != nil {
		return fail(err)
	}
	if cg.optLevel > 0 {
		return cg.optimizeModule()
	}
	return nil
}
