package expr

// Reverse-mode automatic differentiation over the expression tree. The tree
// is first linearised into a dense node graph (Connections), then a forward
// pass stores every subtree value and a backward pass accumulates adjoints.
// All three walks are the same pre-order recursion, so a node receives the
// same id in each of them.

// Connections assigns a dense pre-order id to every node and returns, for
// each id, the ids of the node's immediate children in left-to-right order.
// Leaves map to empty lists.
func Connections(e Expr) [][]uint32 {
	var conns [][]uint32
	var counter uint32
	e.connections(&conns, &counter)
	return conns
}

// NodeValues runs the forward pass: it returns a slice holding, at each node
// id, the evaluation of that subtree under env. A variable missing from env
// reads as zero.
func NodeValues(e Expr, env map[string]float64, conns [][]uint32) ([]float64, error) {
	values := make([]float64, len(conns))
	var counter uint32
	if err := e.nodeValues(env, values, conns, &counter); err != nil {
		return nil, err
	}
	return values, nil
}

// Gradient runs the backward pass and returns the partial derivative of e
// with respect to every free variable, evaluated at env. conns must come
// from Connections on the same tree.
func Gradient(e Expr, env map[string]float64, conns [][]uint32) (map[string]float64, error) {
	values, err := NodeValues(e, env, conns)
	if err != nil {
		return nil, err
	}
	grad := make(map[string]float64)
	var counter uint32
	if err := e.gradient(env, grad, values, conns, &counter, 1); err != nil {
		return nil, err
	}
	return grad, nil
}
