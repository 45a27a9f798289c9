package expr

import "fmt"

// Binary is an inner node applying one of the four arithmetic operators to
// two child expressions. It exclusively owns its children.
type Binary struct {
	op  byte
	lhs Expr
	rhs Expr
}

// NewBinary returns a binary node, validating the operator. The simplifying
// constructors Add, Sub, Mul and Div should normally be preferred; NewBinary
// builds the node verbatim.
func NewBinary(op byte, lhs, rhs Expr) (*Binary, error) {
	switch op {
	case '+', '-', '*', '/':
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperator, string(op))
	}
	return &Binary{op: op, lhs: lhs, rhs: rhs}, nil
}

// Op returns the operator character.
func (b *Binary) Op() byte { return b.op }

// Lhs returns the left child.
func (b *Binary) Lhs() Expr { return b.lhs }

// Rhs returns the right child.
func (b *Binary) Rhs() Expr { return b.rhs }

// SetLhs replaces the left child.
func (b *Binary) SetLhs(e Expr) { b.lhs = e }

// SetRhs replaces the right child.
func (b *Binary) SetRhs(e Expr) { b.rhs = e }

func (b *Binary) Clone() Expr {
	return &Binary{op: b.op, lhs: b.lhs.Clone(), rhs: b.rhs.Clone()}
}

func (b *Binary) String() string {
	return "(" + b.lhs.String() + " " + string(b.op) + " " + b.rhs.String() + ")"
}

func (b *Binary) Evaluate(env map[string]float64) (float64, error) {
	l, err := b.lhs.Evaluate(env)
	if err != nil {
		return 0, err
	}
	r, err := b.rhs.Evaluate(env)
	if err != nil {
		return 0, err
	}
	switch b.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	default:
		return l / r, nil
	}
}

func (b *Binary) evalBatch(env map[string][]float64, out []float64) error {
	tmp := make([]float64, len(out))
	if err := b.lhs.evalBatch(env, out); err != nil {
		return err
	}
	if err := b.rhs.evalBatch(env, tmp); err != nil {
		return err
	}
	switch b.op {
	case '+':
		for i := range out {
			out[i] += tmp[i]
		}
	case '-':
		for i := range out {
			out[i] -= tmp[i]
		}
	case '*':
		for i := range out {
			out[i] *= tmp[i]
		}
	default:
		for i := range out {
			out[i] /= tmp[i]
		}
	}
	return nil
}

func (b *Binary) Diff(name string) (Expr, error) {
	dl, err := b.lhs.Diff(name)
	if err != nil {
		return nil, err
	}
	dr, err := b.rhs.Diff(name)
	if err != nil {
		return nil, err
	}
	switch b.op {
	case '+':
		return Add(dl, dr), nil
	case '-':
		return Sub(dl, dr), nil
	case '*':
		return Add(Mul(dl, b.rhs.Clone()), Mul(b.lhs.Clone(), dr)), nil
	default:
		num := Sub(Mul(dl, b.rhs.Clone()), Mul(b.lhs.Clone(), dr))
		return Div(num, Mul(b.rhs.Clone(), b.rhs.Clone())), nil
	}
}

func (b *Binary) Equal(other Expr) bool {
	o, ok := other.(*Binary)
	return ok && o.op == b.op && b.lhs.Equal(o.lhs) && b.rhs.Equal(o.rhs)
}

func (b *Binary) connections(conns *[][]uint32, counter *uint32) {
	id := *counter
	*counter++
	*conns = append(*conns, make([]uint32, 2))
	(*conns)[id][0] = *counter
	b.lhs.connections(conns, counter)
	(*conns)[id][1] = *counter
	b.rhs.connections(conns, counter)
}

func (b *Binary) nodeValues(env map[string]float64, values []float64, conns [][]uint32, counter *uint32) error {
	id := *counter
	*counter++
	// Children fill their slots first so the combination below reads
	// committed values.
	if err := b.lhs.nodeValues(env, values, conns, counter); err != nil {
		return err
	}
	if err := b.rhs.nodeValues(env, values, conns, counter); err != nil {
		return err
	}
	l, r := values[conns[id][0]], values[conns[id][1]]
	switch b.op {
	case '+':
		values[id] = l + r
	case '-':
		values[id] = l - r
	case '*':
		values[id] = l * r
	default:
		values[id] = l / r
	}
	return nil
}

func (b *Binary) gradient(env map[string]float64, grad map[string]float64, values []float64, conns [][]uint32, counter *uint32, acc float64) error {
	id := *counter
	*counter++
	switch b.op {
	case '+':
		if err := b.lhs.gradient(env, grad, values, conns, counter, acc); err != nil {
			return err
		}
		return b.rhs.gradient(env, grad, values, conns, counter, acc)
	case '-':
		if err := b.lhs.gradient(env, grad, values, conns, counter, acc); err != nil {
			return err
		}
		return b.rhs.gradient(env, grad, values, conns, counter, -acc)
	case '*':
		// d(a*b)/da = b, d(a*b)/db = a.
		if err := b.lhs.gradient(env, grad, values, conns, counter, acc*values[conns[id][1]]); err != nil {
			return err
		}
		return b.rhs.gradient(env, grad, values, conns, counter, acc*values[conns[id][0]])
	default:
		// d(a/b)/da = 1/b, d(a/b)/db = -a/b^2.
		rv := values[conns[id][1]]
		if err := b.lhs.gradient(env, grad, values, conns, counter, acc/rv); err != nil {
			return err
		}
		return b.rhs.gradient(env, grad, values, conns, counter, -acc*values[conns[id][0]]/rv/rv)
	}
}
