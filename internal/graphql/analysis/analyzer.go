package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/vyrodovalexey/gqlguard/internal/graphql/document"
)

// DepthAnalyzer computes operation depth. It holds no per-call state and
// is safe for concurrent use.
type DepthAnalyzer struct {
	opts options
}

// NewDepthAnalyzer creates a DepthAnalyzer.
func NewDepthAnalyzer(opts ...Option) *DepthAnalyzer {
	return &DepthAnalyzer{opts: newOptions(opts)}
}

// Depth parses operation and returns the depth of the selected operation.
func (a *DepthAnalyzer) Depth(operation, operationName string) (int, error) {
	doc, err := document.Parse(operation)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return a.DepthOf(doc, operationName)
}

// DepthOf returns the depth of the selected operation in an already parsed document.
func (a *DepthAnalyzer) DepthOf(doc *document.Document, operationName string) (int, error) {
	op, err := ResolveOperation(doc, operationName)
	if err != nil {
		return 0, err
	}
	return newDepthWalker(doc, a.opts.maxRecursion).maxDepth(op.SelectionSet, 0)
}

// Fingerprint identifies the settings that affect computed depths. Two
// analyzers with equal fingerprints compute equal depths.
func (a *DepthAnalyzer) Fingerprint() string {
	return "max-recursion=" + strconv.Itoa(a.opts.maxRecursion)
}

// CostAnalyzer computes operation cost against a schema loaded once at
// construction. The schema and cost map are never mutated afterwards, so a
// CostAnalyzer is safe for concurrent use.
type CostAnalyzer struct {
	schema      *ast.Schema
	costs       CostMap
	opts        options
	fingerprint string
}

// NewCostAnalyzer loads schemaSDL and takes a private copy of costs.
func NewCostAnalyzer(schemaSDL string, costs CostMap, opts ...Option) (*CostAnalyzer, error) {
	schema, err := document.LoadSchema(schemaSDL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	owned := make(CostMap, len(costs))
	maps.Copy(owned, costs)
	o := newOptions(opts)

	return &CostAnalyzer{
		schema:      schema,
		costs:       owned,
		opts:        o,
		fingerprint: fingerprint(schemaSDL, owned, o.maxRecursion),
	}, nil
}

// Cost parses operation against the analyzer's schema and returns the cost
// of the selected operation.
func (a *CostAnalyzer) Cost(operation, operationName string) (Cost, error) {
	doc, err := document.Parse(operation)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return a.CostOf(doc, operationName)
}

// CostOf returns the cost of the selected operation in an already parsed
// document. doc is rebound to the analyzer's schema.
func (a *CostAnalyzer) CostOf(doc *document.Document, operationName string) (Cost, error) {
	doc = doc.WithSchema(a.schema)

	op, err := ResolveOperation(doc, operationName)
	if err != nil {
		return 0, err
	}
	root, err := ResolveRootType(doc, op)
	if err != nil {
		return 0, err
	}
	return newCostWalker(doc, a.costs, a.opts).totalCost(op.SelectionSet, root.Name, 0)
}

// Schema returns the loaded schema. Callers must not modify it.
func (a *CostAnalyzer) Schema() *ast.Schema {
	return a.schema
}

// Fingerprint identifies the schema, cost map and recursion ceiling. Two analyzers with equal
// fingerprints compute equal costs.
func (a *CostAnalyzer) Fingerprint() string {
	return a.fingerprint
}

func fingerprint(schemaSDL string, costs CostMap, maxRecursion int) string {
	h := sha256.New()
	h.Write([]byte(schemaSDL))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(maxRecursion)))
	h.Write([]byte{0})
	for _, k := range slices.Sorted(maps.Keys(costs)) {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(strconv.FormatUint(uint64(costs[k]), 10)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
