package expr

import (
	"errors"
	"testing"
)

func TestUNameRoundTrip(t *testing.T) {
	for _, idx := range []uint32{0, 1, 42, 1 << 20} {
		name := UName(idx)
		got, err := UIndex(name)
		if err != nil {
			t.Fatalf("UIndex(%q): %v", name, err)
		}
		if got != idx {
			t.Fatalf("UIndex(UName(%d)) = %d", idx, got)
		}
	}
	for _, bad := range []string{"x", "u", "u_", "u_x", "v_3"} {
		if _, err := UIndex(bad); err == nil {
			t.Errorf("UIndex(%q) should fail", bad)
		}
	}
}

func TestTaylorDecomposeVanDerPol(t *testing.T) {
	// x' = y, y' = (1 - x^2)*y - x.
	x, y := Var("x"), Var("y")
	sys := []Expr{
		y.Clone(),
		Sub(Mul(Sub(Num(1), Mul(x.Clone(), x.Clone())), y.Clone()), x.Clone()),
	}
	dc, err := TaylorDecompose(sys)
	if err != nil {
		t.Fatal(err)
	}

	want := []Expr{
		Var("u_0"),
		Var("u_1"),
		Mul(Var("u_0"), Var("u_0")),
		Sub(Num(1), Var("u_2")),
		Mul(Var("u_3"), Var("u_1")),
		Sub(Var("u_4"), Var("u_0")),
		Var("u_1"),
		Var("u_5"),
	}
	if len(dc) != len(want) {
		t.Fatalf("decomposition has %d entries, want %d: %v", len(dc), len(want), dc)
	}
	for i := range want {
		if !dc[i].Equal(want[i]) {
			t.Errorf("slot %d = %s, want %s", i, dc[i], want[i])
		}
	}
}

func TestTaylorDecomposeOperandsAreElementary(t *testing.T) {
	x, y := Var("x"), Var("y")
	sys := []Expr{
		Add(Mul(x.Clone(), Mul(y.Clone(), y.Clone())), Exp(x.Clone())),
		Sub(x.Clone(), Div(Num(1), y.Clone())),
	}
	dc, err := TaylorDecompose(sys)
	if err != nil {
		t.Fatal(err)
	}
	isLeaf := func(e Expr) bool {
		switch e.(type) {
		case *Number, *Variable:
			return true
		}
		return false
	}
	n := len(sys)
	for i, e := range dc {
		switch node := e.(type) {
		case *Binary:
			if i < n || i >= len(dc)-n {
				t.Errorf("slot %d: operators may only appear in the aux section", i)
			}
			if !isLeaf(node.Lhs()) || !isLeaf(node.Rhs()) {
				t.Errorf("slot %d: %s has non-elementary operands", i, e)
			}
		case *FuncCall:
			for _, a := range node.Args() {
				if !isLeaf(a) {
					t.Errorf("slot %d: %s has non-elementary operands", i, e)
				}
			}
		}
	}
	// The final n entries are the equations and must be plain leaves.
	for i := len(dc) - n; i < len(dc); i++ {
		if !isLeaf(dc[i]) {
			t.Errorf("rhs slot %d = %s, want a variable or number", i, dc[i])
		}
	}
}

func TestTaylorDecomposeSinInsertsCosPartner(t *testing.T) {
	x := Var("x")
	dc, err := TaylorDecompose([]Expr{Sin(x.Clone())})
	if err != nil {
		t.Fatal(err)
	}
	// Layout: u_0, sin(u_0), cos(u_0), rhs = u_1.
	want := []Expr{Var("u_0"), Sin(Var("u_0")), Cos(Var("u_0")), Var("u_1")}
	if len(dc) != len(want) {
		t.Fatalf("decomposition has %d entries, want %d: %v", len(dc), len(want), dc)
	}
	for i := range want {
		if !dc[i].Equal(want[i]) {
			t.Errorf("slot %d = %s, want %s", i, dc[i], want[i])
		}
	}
}

func TestTaylorDecomposeArityMismatch(t *testing.T) {
	// Two equations over three state variables.
	sys := []Expr{Var("x"), Add(Var("y"), Var("z"))}
	if _, err := TaylorDecompose(sys); !errors.Is(err, ErrArityMismatch) {
		t.Fatalf("error = %v, want ErrArityMismatch", err)
	}
}

func TestTaylorDecomposeRenamesSortedOrder(t *testing.T) {
	// Free variables rename to u_k following lexicographic order, whatever
	// the order of appearance.
	sys := []Expr{Var("b"), Var("a")}
	dc, err := TaylorDecompose(sys)
	if err != nil {
		t.Fatal(err)
	}
	// a -> u_0, b -> u_1; rhs entries are b, a.
	want := []Expr{Var("u_0"), Var("u_1"), Var("u_1"), Var("u_0")}
	for i := range want {
		if !dc[i].Equal(want[i]) {
			t.Fatalf("decomposition = %v, want %v", dc, want)
		}
	}
}
