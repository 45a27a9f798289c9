package jit

// The execution engine hands back raw code addresses; Go cannot jump to one
// directly, so a thin cgo thunk per ABI does the call. The four shapes match
// the entry points the code generator emits.

/*
#include <stdint.h>

static double lambdify_call_packed(uintptr_t f, const double *in)
{
	return ((double (*)(const double *))f)(in);
}

static void lambdify_call_batch(uintptr_t f, double *out, const double *in)
{
	((void (*)(double *, const double *))f)(out, in);
}

static void lambdify_call_taylor(uintptr_t f, double *state, double h, uint32_t order)
{
	((void (*)(double *, double, uint32_t))f)(state, h, order);
}

static double lambdify_call_v0(uintptr_t f)
{
	return ((double (*)(void))f)();
}

static double lambdify_call_v1(uintptr_t f, double a0)
{
	return ((double (*)(double))f)(a0);
}

static double lambdify_call_v2(uintptr_t f, double a0, double a1)
{
	return ((double (*)(double, double))f)(a0, a1);
}

static double lambdify_call_v3(uintptr_t f, double a0, double a1, double a2)
{
	return ((double (*)(double, double, double))f)(a0, a1, a2);
}

static double lambdify_call_v4(uintptr_t f, double a0, double a1, double a2, double a3)
{
	return ((double (*)(double, double, double, double))f)(a0, a1, a2, a3);
}

static double lambdify_call_v5(uintptr_t f, double a0, double a1, double a2, double a3, double a4)
{
	return ((double (*)(double, double, double, double, double))f)(a0, a1, a2, a3, a4);
}

static double lambdify_call_v6(uintptr_t f, double a0, double a1, double a2, double a3, double a4, double a5)
{
	return ((double (*)(double, double, double, double, double, double))f)(a0, a1, a2, a3, a4, a5);
}

static double lambdify_call_v7(uintptr_t f, double a0, double a1, double a2, double a3, double a4, double a5, double a6)
{
	return ((double (*)(double, double, double, double, double, double, double))f)(a0, a1, a2, a3, a4, a5, a6);
}

static double lambdify_call_v8(uintptr_t f, double a0, double a1, double a2, double a3, double a4, double a5, double a6, double a7)
{
	return ((double (*)(double, double, double, double, double, double, double, double))f)(a0, a1, a2, a3, a4, a5, a6, a7);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// MaxVarargArity is the largest arity the varargs thunks support.
const MaxVarargArity = 8

// PackedFn evaluates a compiled expression from a packed argument array of
// length equal to the expression's free-variable count.
type PackedFn func(in []float64) float64

// BatchFn runs a compiled expression over batchSize packed argument rows,
// writing one result per row.
type BatchFn func(out, in []float64)

// TaylorFn advances a state vector in place by one Taylor step of the given
// order with timestep h.
type TaylorFn func(state []float64, h float64, order uint32)

// VarargFn evaluates a compiled expression from one float64 per variable.
type VarargFn func(args ...float64) float64

func doublePtr(s []float64) *C.double {
	if len(s) == 0 {
		return nil
	}
	return (*C.double)(unsafe.Pointer(&s[0]))
}

// Packed adapts a raw entry address to the packed ABI.
func Packed(addr uintptr) PackedFn {
	return func(in []float64) float64 {
		return float64(C.lambdify_call_packed(C.uintptr_t(addr), doublePtr(in)))
	}
}

// Batch adapts a raw entry address to the batched ABI.
func Batch(addr uintptr) BatchFn {
	return func(out, in []float64) {
		C.lambdify_call_batch(C.uintptr_t(addr), doublePtr(out), doublePtr(in))
	}
}

// Taylor adapts a raw entry address to the Taylor-stepper ABI.
func Taylor(addr uintptr) TaylorFn {
	return func(state []float64, h float64, order uint32) {
		C.lambdify_call_taylor(C.uintptr_t(addr), doublePtr(state), C.double(h), C.uint32_t(order))
	}
}

// Vararg adapts a raw entry address to the varargs ABI with the given arity.
func Vararg(addr uintptr, arity int) (VarargFn, error) {
	if arity < 0 || arity > MaxVarargArity {
		return nil, fmt.Errorf("varargs arity %d is out of the supported range [0, %d]", arity, MaxVarargArity)
	}
	f := C.uintptr_t(addr)
	return func(args ...float64) float64 {
		if len(args) != arity {
			panic(fmt.Sprintf("varargs call with %d argument(s), want %d", len(args), arity))
		}
		a := args
		switch arity {
		case 0:
			return float64(C.lambdify_call_v0(f))
		case 1:
			return float64(C.lambdify_call_v1(f, C.double(a[0])))
		case 2:
			return float64(C.lambdify_call_v2(f, C.double(a[0]), C.double(a[1])))
		case 3:
			return float64(C.lambdify_call_v3(f, C.double(a[0]), C.double(a[1]), C.double(a[2])))
		case 4:
			return float64(C.lambdify_call_v4(f, C.double(a[0]), C.double(a[1]), C.double(a[2]), C.double(a[3])))
		case 5:
			return float64(C.lambdify_call_v5(f, C.double(a[0]), C.double(a[1]), C.double(a[2]), C.double(a[3]), C.double(a[4])))
		case 6:
			return float64(C.lambdify_call_v6(f, C.double(a[0]), C.double(a[1]), C.double(a[2]), C.double(a[3]), C.double(a[4]), C.double(a[5])))
		case 7:
			return float64(C.lambdify_call_v7(f, C.double(a[0]), C.double(a[1]), C.double(a[2]), C.double(a[3]), C.double(a[4]), C.double(a[5]), C.double(a[6])))
		default:
			return float64(C.lambdify_call_v8(f, C.double(a[0]), C.double(a[1]), C.double(a[2]), C.double(a[3]), C.double(a[4]), C.double(a[5]), C.double(a[6]), C.double(a[7])))
		}
	}, nil
}
