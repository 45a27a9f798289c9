package expr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Taylor decomposition: rewriting a system of ODE right-hand sides into a
// straight-line sequence of elementary assignments over auxiliary
// "u-variables". The result has layout
//
//	[state_0 .. state_{n-1}, aux_n .. aux_{M-1}, rhs_0 .. rhs_{n-1}]
//
// where every aux entry is a binary operator or function call whose operands
// are u-variables or numbers, and every rhs entry is a u-variable or number.

const uPrefix = "u_"

// UName returns the name of the u-variable with the given index.
func UName(idx uint32) string {
	return uPrefix + strconv.FormatUint(uint64(idx), 10)
}

// UIndex extracts the index from a u-variable name.
func UIndex(name string) (uint32, error) {
	if !strings.HasPrefix(name, uPrefix) {
		return 0, fmt.Errorf("%w: %q is not of the form u_n", ErrInvalidSymbolName, name)
	}
	idx, err := strconv.ParseUint(name[len(uPrefix):], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not of the form u_n", ErrInvalidSymbolName, name)
	}
	return uint32(idx), nil
}

// renameVariables returns a copy of e with every variable renamed through
// repl. Variables not in repl are left untouched.
func renameVariables(e Expr, repl map[string]string) Expr {
	switch n := e.(type) {
	case *Variable:
		if to, ok := repl[n.name]; ok {
			return &Variable{name: to}
		}
		return n.Clone()
	case *Binary:
		return &Binary{op: n.op, lhs: renameVariables(n.lhs, repl), rhs: renameVariables(n.rhs, repl)}
	case *FuncCall:
		clone := n.Clone().(*FuncCall)
		for i, a := range clone.args {
			clone.args[i] = renameVariables(a, repl)
		}
		return clone
	default:
		return e.Clone()
	}
}

// decomposeInto rewrites e so that every binary operator and function call
// becomes its own entry in u, referenced through a fresh u-variable. The
// replacement expression for e itself is returned: a variable or number for
// trivial nodes, the u-variable of the appended entry otherwise.
func decomposeInto(e Expr, u *[]Expr) Expr {
	switch n := e.(type) {
	case *Number, *Variable:
		return n.Clone()
	case *Binary:
		rewritten := &Binary{
			op:  n.op,
			lhs: decomposeInto(n.lhs, u),
			rhs: decomposeInto(n.rhs, u),
		}
		idx := uint32(len(*u))
		*u = append(*u, rewritten)
		return &Variable{name: UName(idx)}
	case *FuncCall:
		rewritten := n.Clone().(*FuncCall)
		for i, a := range rewritten.args {
			rewritten.args[i] = decomposeInto(a, u)
		}
		idx := uint32(len(*u))
		*u = append(*u, rewritten)
		// Sine and cosine integrate as a coupled pair: the Taylor recurrence
		// for each one consumes the series of the other, so the partner entry
		// is inserted right behind.
		switch rewritten.name {
		case "llvm.sin":
			*u = append(*u, Cos(rewritten.args[0].Clone()))
		case "llvm.cos":
			*u = append(*u, Sin(rewritten.args[0].Clone()))
		}
		return &Variable{name: UName(idx)}
	default:
		return e.Clone()
	}
}

// TaylorDecompose rewrites the system sys into the straight-line layout
// described above. The free variables of the system, sorted lexicographically,
// become the state variables u_0 .. u_{n-1}; their count must equal the
// number of equations.
func TaylorDecompose(sys []Expr) ([]Expr, error) {
	seen := make(map[string]struct{})
	var names []string
	for _, eq := range sys {
		for _, name := range Variables(eq) {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	if len(names) != len(sys) {
		return nil, fmt.Errorf("%w: system has %d equation(s) but %d state variable(s)", ErrArityMismatch, len(sys), len(names))
	}
	sort.Strings(names)

	u := make([]Expr, 0, 2*len(sys))
	repl := make(map[string]string, len(names))
	for i, name := range names {
		repl[name] = UName(uint32(i))
		u = append(u, &Variable{name: repl[name]})
	}
	rhs := make([]Expr, 0, len(sys))
	for _, eq := range sys {
		renamed := renameVariables(eq, repl)
		rhs = append(rhs, decomposeInto(renamed, &u))
	}
	return append(u, rhs...), nil
}
