package expr

import "strconv"

// Number is a leaf node holding an immutable double-precision constant.
type Number struct {
	value float64
}

// Num returns a number literal expression.
func Num(v float64) Expr {
	return &Number{value: v}
}

// Value returns the constant.
func (n *Number) Value() float64 { return n.value }

// SetValue replaces the constant.
func (n *Number) SetValue(v float64) { n.value = v }

func (n *Number) Clone() Expr { return &Number{value: n.value} }

func (n *Number) String() string {
	return strconv.FormatFloat(n.value, 'g', -1, 64)
}

func (n *Number) Evaluate(map[string]float64) (float64, error) {
	return n.value, nil
}

func (n *Number) evalBatch(_ map[string][]float64, out []float64) error {
	for i := range out {
		out[i] = n.value
	}
	return nil
}

func (n *Number) Diff(string) (Expr, error) {
	return Num(0), nil
}

func (n *Number) Equal(other Expr) bool {
	o, ok := other.(*Number)
	return ok && o.value == n.value
}

func (n *Number) connections(conns *[][]uint32, counter *uint32) {
	*conns = append(*conns, nil)
	*counter++
}

func (n *Number) nodeValues(_ map[string]float64, values []float64, _ [][]uint32, counter *uint32) error {
	values[*counter] = n.value
	*counter++
	return nil
}

func (n *Number) gradient(_ map[string]float64, _ map[string]float64, _ []float64, _ [][]uint32, counter *uint32, _ float64) error {
	*counter++
	return nil
}
