package analysis

import (
	"math/bits"
	"strconv"
)

// DefaultWeight is the weight of a field whose coordinate is not in the cost map.
const DefaultWeight Cost = 1

// Cost is a non-negative operation cost.
type Cost uint64

// Add returns c+o, or ErrCostOverflow when the sum does not fit.
func (c Cost) Add(o Cost) (Cost, error) {
	sum, carry := bits.Add64(uint64(c), uint64(o), 0)
	if carry != 0 {
		return 0, ErrCostOverflow
	}
	return Cost(sum), nil
}

// Exceeds reports whether c is strictly greater than limit.
func (c Cost) Exceeds(limit Cost) bool {
	return c > limit
}

func (c Cost) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// CostMap maps a "Type.field" coordinate to its weight. It is read-only
// once handed to an analyzer.
type CostMap map[string]Cost

// Coordinate formats the lookup key for typeName.fieldName.
func Coordinate(typeName, fieldName string) string {
	return typeName + "." + fieldName
}

// Weight returns the configured weight of typeName.fieldName, or DefaultWeight.
func (m CostMap) Weight(typeName, fieldName string) Cost {
	if w, ok := m[Coordinate(typeName, fieldName)]; ok {
		return w
	}
	return DefaultWeight
}

// CostMapFromWeights converts configured weights. Negative weights are
// dropped so their coordinates fall back to DefaultWeight.
func CostMapFromWeights(weights map[string]int64) CostMap {
	m := make(CostMap, len(weights))
	for k, w := range weights {
		if w < 0 {
			continue
		}
		m[k] = Cost(w)
	}
	return m
}
