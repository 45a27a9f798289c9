package jit

import "testing"

func TestVarargArityRange(t *testing.T) {
	for _, arity := range []int{-1, MaxVarargArity + 1} {
		if _, err := Vararg(0, arity); err == nil {
			t.Errorf("arity %d must be rejected", arity)
		}
	}
	for arity := 0; arity <= MaxVarargArity; arity++ {
		fn, err := Vararg(0, arity)
		if err != nil {
			t.Fatalf("arity %d: %v", arity, err)
		}
		if fn == nil {
			t.Fatalf("arity %d: nil adapter", arity)
		}
	}
}

func TestVarargWrongArgumentCountPanics(t *testing.T) {
	fn, err := Vararg(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("calling a 2-ary adapter with one argument must panic")
		}
	}()
	fn(1.0)
}
