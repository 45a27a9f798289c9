package expr

import (
	"errors"
	"math"
	"testing"
)

func TestSimplificationRules(t *testing.T) {
	x := Var("x")
	tests := []struct {
		name string
		got  Expr
		want Expr
	}{
		{"n+0", Add(x.Clone(), Num(0)), x.Clone()},
		{"0+n", Add(Num(0), x.Clone()), x.Clone()},
		{"n-0", Sub(x.Clone(), Num(0)), x.Clone()},
		{"0-n", Sub(Num(0), x.Clone()), Mul(Num(-1), x.Clone())},
		{"n*0", Mul(x.Clone(), Num(0)), Num(0)},
		{"0*n", Mul(Num(0), x.Clone()), Num(0)},
		{"n*1", Mul(x.Clone(), Num(1)), x.Clone()},
		{"1*n", Mul(Num(1), x.Clone()), x.Clone()},
		{"n/1", Div(x.Clone(), Num(1)), x.Clone()},
		{"n/-1", Div(x.Clone(), Num(-1)), Mul(Num(-1), x.Clone())},
		{"fold-add", Add(Num(2), Num(3)), Num(5)},
		{"fold-sub", Sub(Num(2), Num(3)), Num(-1)},
		{"fold-mul", Mul(Num(2), Num(3)), Num(6)},
		{"fold-div", Div(Num(3), Num(2)), Num(1.5)},
		{"div-to-reciprocal", Div(x.Clone(), Num(4)), Mul(x.Clone(), Num(0.25))},
		{"neg-number", Neg(Num(7)), Num(-7)},
	}
	for _, tt := range tests {
		if !tt.got.Equal(tt.want) {
			t.Errorf("%s: got %s, want %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestSimplificationIdempotence(t *testing.T) {
	b := Var("b")
	first := Add(Num(0), b.Clone())
	second := Add(Num(0), first.Clone())
	if !first.Equal(b) {
		t.Fatalf("0+b = %s, want b", first)
	}
	if !first.Equal(second) {
		t.Fatalf("applying the operator twice changed the tree: %s vs %s", first, second)
	}
}

func TestInvalidConstruction(t *testing.T) {
	if _, err := NewBinary('%', Num(1), Num(2)); !errors.Is(err, ErrInvalidOperator) {
		t.Fatalf("NewBinary('%%') error = %v, want ErrInvalidOperator", err)
	}
	if _, err := NewVariable(""); !errors.Is(err, ErrInvalidSymbolName) {
		t.Fatalf("NewVariable(\"\") error = %v, want ErrInvalidSymbolName", err)
	}
	if _, err := NewVariable("a.b"); !errors.Is(err, ErrInvalidSymbolName) {
		t.Fatalf("NewVariable(\"a.b\") error = %v, want ErrInvalidSymbolName", err)
	}
	if v, err := NewVariable("x"); err != nil || v.Name() != "x" {
		t.Fatalf("NewVariable(\"x\") = %v, %v", v, err)
	}
}

func TestSetNameValidation(t *testing.T) {
	v, err := NewVariable("x")
	if err != nil {
		t.Fatal(err)
	}
	if err := v.SetName("y.z"); !errors.Is(err, ErrInvalidSymbolName) {
		t.Fatalf("SetName(\"y.z\") error = %v, want ErrInvalidSymbolName", err)
	}
	if v.Name() != "x" {
		t.Fatalf("a rejected SetName mutated the variable to %q", v.Name())
	}
	if err := v.SetName("y"); err != nil || v.Name() != "y" {
		t.Fatalf("SetName(\"y\") failed: %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	x, y := Var("x"), Var("y")
	e := Sub(Add(x.Clone(), x.Clone()), Mul(x.Clone(), y.Clone()))
	got, err := e.Evaluate(map[string]float64{"x": 3, "y": 2})
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("(x+x)-(x*y) at x=3,y=2 = %v, want 0", got)
	}

	if _, err := e.Evaluate(map[string]float64{"x": 3}); !errors.Is(err, ErrUndefinedVariable) {
		t.Fatalf("evaluate with missing y: error = %v, want ErrUndefinedVariable", err)
	}
}

func TestEvaluateBatch(t *testing.T) {
	x, y := Var("x"), Var("y")
	e := Add(Mul(x.Clone(), x.Clone()), y.Clone())

	var out []float64
	env := map[string][]float64{
		"x": {1, 2, 3},
		"y": {10, 20, 30},
	}
	if err := EvaluateBatch(e, env, &out); err != nil {
		t.Fatal(err)
	}
	want := []float64{11, 24, 39}
	if len(out) != len(want) {
		t.Fatalf("out has length %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestEvaluateBatchMissingColumnIsZero(t *testing.T) {
	x, y := Var("x"), Var("y")
	e := Add(x.Clone(), y.Clone())
	var out []float64
	if err := EvaluateBatch(e, map[string][]float64{"x": {1, 2}}, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0] != 1 || out[1] != 2 {
		t.Fatalf("missing column should read as zeros; out = %v", out)
	}
}

func TestEvaluateBatchLengthMismatch(t *testing.T) {
	e := Add(Var("x"), Var("y"))
	var out []float64
	env := map[string][]float64{"x": {1, 2}, "y": {1}}
	err := EvaluateBatch(e, env, &out)
	var cle *ColumnLengthError
	if !errors.As(err, &cle) {
		t.Fatalf("mismatched columns: error = %v, want ColumnLengthError", err)
	}
}

func TestVariables(t *testing.T) {
	e := Add(Mul(Var("z"), Var("a")), Sin(Var("m")))
	got := Variables(e)
	want := []string{"a", "m", "z"}
	if len(got) != len(want) {
		t.Fatalf("Variables = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Variables = %v, want %v", got, want)
		}
	}
	if len(Variables(Num(3))) != 0 {
		t.Fatal("a number has no free variables")
	}
}

func TestDiffRules(t *testing.T) {
	x, y := Var("x"), Var("y")
	env := map[string]float64{"x": 0.7, "y": -1.3}
	tests := []struct {
		name string
		e    Expr
		want float64 // d/dx at env
	}{
		{"constant", Num(5), 0},
		{"self", x.Clone(), 1},
		{"other", y.Clone(), 0},
		{"sum", Add(x.Clone(), y.Clone()), 1},
		{"difference", Sub(y.Clone(), x.Clone()), -1},
		{"product", Mul(x.Clone(), y.Clone()), -1.3},
		{"quotient", Div(x.Clone(), y.Clone()), 1 / -1.3},
		{"square", Mul(x.Clone(), x.Clone()), 2 * 0.7},
	}
	for _, tt := range tests {
		d, err := tt.e.Diff("x")
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		got, err := d.Evaluate(env)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("%s: d/dx = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDiffFoldsConstants(t *testing.T) {
	// d/dx of 3*x goes through the simplifying operators: 0*x + 3*1 -> 3.
	d, err := Mul(Num(3), Var("x")).Diff("x")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal(Num(3)) {
		t.Fatalf("d(3x)/dx = %s, want 3", d)
	}
}

func TestNonDifferentiable(t *testing.T) {
	fc := NewFuncCall("mystery", Var("x"))
	if _, err := Expr(fc).Diff("x"); !errors.Is(err, ErrNonDifferentiable) {
		t.Fatalf("diff of a callback-less call: error = %v, want ErrNonDifferentiable", err)
	}
}

func TestStructuralEquality(t *testing.T) {
	build := func() Expr {
		return Add(Mul(Var("x"), Var("y")), Sin(Var("x")))
	}
	a, b := build(), build()
	if !a.Equal(a) {
		t.Fatal("equality must be reflexive")
	}
	if !a.Equal(b) || !b.Equal(a) {
		t.Fatal("equality must be symmetric on identical shapes")
	}
	c := a.Clone()
	if !a.Equal(c) {
		t.Fatal("cloning must preserve structural equality")
	}
	if a.Equal(Add(Mul(Var("x"), Var("y")), Cos(Var("x")))) {
		t.Fatal("different function names must not compare equal")
	}
	if Num(1).Equal(Var("x")) {
		t.Fatal("different node kinds must not compare equal")
	}
}

func TestCloneIsDeep(t *testing.T) {
	b, err := NewBinary('+', Var("x"), Var("y"))
	if err != nil {
		t.Fatal(err)
	}
	clone := b.Clone().(*Binary)
	clone.SetLhs(Num(9))
	if _, ok := b.Lhs().(*Variable); !ok {
		t.Fatal("mutating a clone changed the original")
	}
}

func TestString(t *testing.T) {
	e := Add(Mul(Var("x"), Var("y")), Num(2))
	if got := e.String(); got != "((x * y) + 2)" {
		t.Fatalf("String = %q", got)
	}
	if got := Sin(Var("x")).String(); got != "sin(x)" {
		t.Fatalf("String = %q", got)
	}
}

func FuzzSimplifiedEvaluation(f *testing.F) {
	f.Add(1.5, -2.25, 0.0)
	f.Add(0.0, 1.0, -1.0)
	f.Add(4.0, 0.5, 2.0)
	f.Fuzz(func(t *testing.T, a, b, xv float64) {
		if math.IsNaN(a) || math.IsNaN(b) || math.IsNaN(xv) ||
			math.IsInf(a, 0) || math.IsInf(b, 0) || math.IsInf(xv, 0) {
			t.Skip()
		}
		x := Var("x")
		env := map[string]float64{"x": xv}
		// The simplifying constructors must not change the value of the tree.
		built := []struct {
			e    Expr
			want float64
		}{
			{Add(Num(a), Mul(Num(b), x.Clone())), a + b*xv},
			{Sub(Num(a), x.Clone()), a - xv},
			{Mul(Num(a), Add(x.Clone(), Num(b))), a * (xv + b)},
		}
		for _, c := range built {
			got, err := c.e.Evaluate(env)
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want && math.Abs(got-c.want) > 1e-9*math.Abs(c.want) {
				t.Fatalf("%s at x=%v: got %v, want %v", c.e, xv, got, c.want)
			}
		}
	})
}
