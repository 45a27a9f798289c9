package codegen

import (
	"errors"
	"math"
	"testing"

	"lambdify/internal/expr"
)

func vanDerPol() []expr.Expr {
	x, y := expr.Var("x"), expr.Var("y")
	return []expr.Expr{
		y.Clone(),
		expr.Sub(expr.Mul(expr.Sub(expr.Num(1), expr.Mul(x.Clone(), x.Clone())), y.Clone()), x.Clone()),
	}
}

func TestTaylorVanDerPolOrderOne(t *testing.T) {
	// One explicit Euler-equivalent step: [1 + 1.2*2, 2 + 1.2*((1-1)*2 - 1)].
	cg := mustNew(t, "vdp1", 0)
	if err := cg.AddTaylor("step", vanDerPol(), 20); err != nil {
		t.Fatal(err)
	}
	if err := cg.Compile(); err != nil {
		t.Fatal(err)
	}
	step, err := cg.FetchTaylor("step")
	if err != nil {
		t.Fatal(err)
	}
	state := []float64{1, 2}
	step(state, 1.2, 1)
	if math.Abs(state[0]-3.4) > 1e-14 || math.Abs(state[1]-0.8) > 1e-14 {
		t.Fatalf("state after one order-1 step = %v, want [3.4, 0.8]", state)
	}
}

func TestTaylorMatchesExplicitSeries(t *testing.T) {
	// x' = x has the exact solution exp(h); an order-k step must produce the
	// truncated exponential series sum_{j=0..k} h^j/j!.
	cg := mustNew(t, "expgrowth", 0)
	if err := cg.AddTaylor("step", []expr.Expr{expr.Var("x")}, 8); err != nil {
		t.Fatal(err)
	}
	if err := cg.Compile(); err != nil {
		t.Fatal(err)
	}
	step, err := cg.FetchTaylor("step")
	if err != nil {
		t.Fatal(err)
	}

	const h = 0.5
	for order := uint32(1); order <= 8; order++ {
		want := 0.0
		fact := 1.0
		for j := uint32(0); j <= order; j++ {
			if j > 0 {
				fact *= float64(j)
			}
			want += math.Pow(h, float64(j)) / fact
		}
		state := []float64{1}
		step(state, h, order)
		if math.Abs(state[0]-want) > 1e-12*want {
			t.Errorf("order %d: state = %v, want %v", order, state[0], want)
		}
	}
}

func TestTaylorHighOrderAccuracy(t *testing.T) {
	// A high-order Van der Pol step must agree with many small low-order
	// steps to much better than the low-order error.
	coarse := mustNew(t, "vdp_coarse", 2)
	if err := coarse.AddTaylor("step", vanDerPol(), 20); err != nil {
		t.Fatal(err)
	}
	if err := coarse.Compile(); err != nil {
		t.Fatal(err)
	}
	stepCoarse, err := coarse.FetchTaylor("step")
	if err != nil {
		t.Fatal(err)
	}

	// Reference trajectory: tiny order-8 steps.
	fine := mustNew(t, "vdp_fine", 2)
	if err := fine.AddTaylor("step", vanDerPol(), 8); err != nil {
		t.Fatal(err)
	}
	if err := fine.Compile(); err != nil {
		t.Fatal(err)
	}
	stepFine, err := fine.FetchTaylor("step")
	if err != nil {
		t.Fatal(err)
	}

	a := []float64{1, 2}
	stepCoarse(a, 0.1, 18)

	b := []float64{1, 2}
	for i := 0; i < 1000; i++ {
		stepFine(b, 0.0001, 8)
	}

	if math.Abs(a[0]-b[0]) > 1e-8 || math.Abs(a[1]-b[1]) > 1e-8 {
		t.Fatalf("one order-18 step %v diverges from the reference %v", a, b)
	}
}

func TestTaylorDivisionRecurrence(t *testing.T) {
	// x' = 1/x has the solution sqrt(2t + c); check one step against it.
	cg := mustNew(t, "reciprocal", 1)
	sys := []expr.Expr{expr.Div(expr.Num(1), expr.Var("x"))}
	if err := cg.AddTaylor("step", sys, 12); err != nil {
		t.Fatal(err)
	}
	if err := cg.Compile(); err != nil {
		t.Fatal(err)
	}
	step, err := cg.FetchTaylor("step")
	if err != nil {
		t.Fatal(err)
	}
	x0 := 2.0
	h := 0.05
	state := []float64{x0}
	step(state, h, 12)
	want := math.Sqrt(2*h + x0*x0)
	if math.Abs(state[0]-want) > 1e-12 {
		t.Fatalf("step of x'=1/x: %v, want %v", state[0], want)
	}
}

func TestTaylorSinCosRecurrence(t *testing.T) {
	// The pendulum x' = v, v' = -sin(x). Equations pair with the state
	// variables in sorted order, so the state vector is [v, x].
	x, v := expr.Var("x"), expr.Var("v")
	sys := []expr.Expr{expr.Neg(expr.Sin(x.Clone())), v.Clone()}

	cg := mustNew(t, "pendulum", 2)
	if err := cg.AddTaylor("step", sys, 16); err != nil {
		t.Fatal(err)
	}
	if err := cg.Compile(); err != nil {
		t.Fatal(err)
	}
	step, err := cg.FetchTaylor("step")
	if err != nil {
		t.Fatal(err)
	}

	// Energy E = v^2/2 - cos(x) is conserved; a high-order step must keep it.
	state := []float64{0.3, 0.8} // [v, x]
	energy := func(s []float64) float64 { return s[0]*s[0]/2 - math.Cos(s[1]) }
	e0 := energy(state)
	for i := 0; i < 100; i++ {
		step(state, 0.05, 14)
	}
	if math.Abs(energy(state)-e0) > 1e-10 {
		t.Fatalf("pendulum energy drifted from %v to %v", e0, energy(state))
	}
}

func TestTaylorExpRecurrence(t *testing.T) {
	// x' = exp(x) solves to -log(exp(-x0) - t).
	cg := mustNew(t, "expode", 1)
	if err := cg.AddTaylor("step", []expr.Expr{expr.Exp(expr.Var("x"))}, 14); err != nil {
		t.Fatal(err)
	}
	if err := cg.Compile(); err != nil {
		t.Fatal(err)
	}
	step, err := cg.FetchTaylor("step")
	if err != nil {
		t.Fatal(err)
	}
	x0, h := 0.1, 0.02
	state := []float64{x0}
	step(state, h, 14)
	want := -math.Log(math.Exp(-x0) - h)
	if math.Abs(state[0]-want) > 1e-11 {
		t.Fatalf("step of x'=exp(x): %v, want %v", state[0], want)
	}
}

func TestTaylorConstantDerivative(t *testing.T) {
	// x' = 2 exercises the constant rule for state variables: x moves
	// linearly whatever the order. y' = x + y keeps both state variables in
	// the system.
	cg := mustNew(t, "constode", 0)
	x, y := expr.Var("x"), expr.Var("y")
	sys := []expr.Expr{expr.Num(2), expr.Add(x.Clone(), y.Clone())}
	if err := cg.AddTaylor("step", sys, 6); err != nil {
		t.Fatal(err)
	}
	if err := cg.Compile(); err != nil {
		t.Fatal(err)
	}
	step, err := cg.FetchTaylor("step")
	if err != nil {
		t.Fatal(err)
	}
	for _, order := range []uint32{1, 3, 6} {
		state := []float64{1.5, 0}
		step(state, 0.25, order)
		if math.Abs(state[0]-(1.5+0.25*2)) > 1e-14 {
			t.Errorf("order %d: x = %v, want 2.0", order, state[0])
		}
	}
}

func TestAddTaylorErrors(t *testing.T) {
	cg := mustNew(t, "taylorerrs", 0)
	if err := cg.AddTaylor("t.x", vanDerPol(), 4); !errors.Is(err, expr.ErrInvalidSymbolName) {
		t.Fatalf("dotted name: error = %v, want ErrInvalidSymbolName", err)
	}
	if err := cg.AddTaylor("t", vanDerPol(), 0); !errors.Is(err, ErrOrderOverflow) {
		t.Fatalf("zero max order: error = %v, want ErrOrderOverflow", err)
	}
	sys := []expr.Expr{expr.Var("x"), expr.Add(expr.Var("y"), expr.Var("z"))}
	if err := cg.AddTaylor("t", sys, 4); !errors.Is(err, expr.ErrArityMismatch) {
		t.Fatalf("mismatched system: error = %v, want ErrArityMismatch", err)
	}
	// log has no Taylor recurrence.
	if err := cg.AddTaylor("t", []expr.Expr{expr.Log(expr.Var("x"))}, 4); !errors.Is(err, ErrLowerUnsupported) {
		t.Fatalf("log system: error = %v, want ErrLowerUnsupported", err)
	}
	if err := cg.AddTaylor("t", vanDerPol(), 4); err != nil {
		t.Fatalf("valid system after failures: %v", err)
	}
	if err := cg.AddTaylor("t", vanDerPol(), 4); !errors.Is(err, ErrNameCollision) {
		t.Fatalf("duplicate name: error = %v, want ErrNameCollision", err)
	}
}
