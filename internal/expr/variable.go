package expr

import "fmt"

// Variable is a leaf node referencing a value by name. Two variables are
// equal iff their names match exactly.
type Variable struct {
	name string
}

// NewVariable returns a variable node, validating the name.
func NewVariable(name string) (*Variable, error) {
	if err := CheckSymbolName(name); err != nil {
		return nil, err
	}
	return &Variable{name: name}, nil
}

// Var returns a variable expression. It panics if the name is invalid; use
// NewVariable to obtain the error instead.
func Var(name string) Expr {
	v, err := NewVariable(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Name returns the variable name.
func (v *Variable) Name() string { return v.name }

// SetName replaces the variable name, re-validating it.
func (v *Variable) SetName(name string) error {
	if err := CheckSymbolName(name); err != nil {
		return err
	}
	v.name = name
	return nil
}

func (v *Variable) Clone() Expr { return &Variable{name: v.name} }

func (v *Variable) String() string { return v.name }

func (v *Variable) Evaluate(env map[string]float64) (float64, error) {
	val, ok := env[v.name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUndefinedVariable, v.name)
	}
	return val, nil
}

// evalBatch copies the variable's column into out. A missing column reads as
// all zeros; this asymmetry with the scalar form is deliberate.
func (v *Variable) evalBatch(env map[string][]float64, out []float64) error {
	col, ok := env[v.name]
	if !ok {
		for i := range out {
			out[i] = 0
		}
		return nil
	}
	copy(out, col)
	return nil
}

func (v *Variable) Diff(name string) (Expr, error) {
	if v.name == name {
		return Num(1), nil
	}
	return Num(0), nil
}

func (v *Variable) Equal(other Expr) bool {
	o, ok := other.(*Variable)
	return ok && o.name == v.name
}

func (v *Variable) connections(conns *[][]uint32, counter *uint32) {
	*conns = append(*conns, nil)
	*counter++
}

func (v *Variable) nodeValues(env map[string]float64, values []float64, _ [][]uint32, counter *uint32) error {
	values[*counter] = env[v.name]
	*counter++
	return nil
}

func (v *Variable) gradient(_ map[string]float64, grad map[string]float64, _ []float64, _ [][]uint32, counter *uint32, acc float64) error {
	grad[v.name] += acc
	*counter++
	return nil
}
