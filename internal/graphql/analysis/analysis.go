// Package analysis implements static depth and cost analysis of GraphQL
// operations for admission control.
//
// Depth is the height of the selection tree: fields, inline fragments and
// fragment spreads each add one level. Cost is the sum of per-field weights
// looked up by "Type.field" coordinate, defaulting to 1, with introspection
// fields excluded.
//
// Root types are found by literal name: a query operation starts at the
// object type named "Query", a mutation at "Mutation", a subscription at
// "Subscription". Schemas that map roots through `schema { query: X }` to a
// differently named type report ErrRootTypeNotFound.
//
// A spread of an undeclared fragment adds no depth but fails cost analysis
// with ErrFragmentNotFound.
package analysis

// ComputeDepth returns the depth of the operation named operationName in
// operation. An empty operationName selects the only operation.
func ComputeDepth(operation, operationName string, opts ...Option) (int, error) {
	return NewDepthAnalyzer(opts...).Depth(operation, operationName)
}

// ComputeCost returns the cost of the operation named operationName in
// operation, evaluated against schema with the given weights.
func ComputeCost(schema, operation, operationName string, costs CostMap, opts ...Option) (Cost, error) {
	a, err := NewCostAnalyzer(schema, costs, opts...)
	if err != nil {
		return 0, err
	}
	return a.Cost(operation, operationName)
}
