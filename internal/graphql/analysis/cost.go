package analysis

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/vyrodovalexey/gqlguard/internal/graphql/document"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// costWalker sums per-field weights. The parent type name travels with the
// walk: fields move it to their own type, fragment spreads and typed inline
// fragments narrow it, untyped inline fragments keep it.
//
// A fragment's subtotal only depends on its own type condition, so each
// fragment is walked once per walker and later spreads reuse the result.
type costWalker struct {
	doc          *document.Document
	costs        CostMap
	logger       observability.Logger
	maxRecursion int
	active       map[string]bool
	fragments    map[string]fragmentCost

	// deepest is the highest level entered since the current fragment walk
	// began, relative to that fragment.
	deepest int
}

type fragmentCost struct {
	cost   Cost
	height int
}

func newCostWalker(doc *document.Document, costs CostMap, o options) *costWalker {
	return &costWalker{
		doc:          doc,
		costs:        costs,
		logger:       o.logger,
		maxRecursion: o.maxRecursion,
		active:       make(map[string]bool),
		fragments:    make(map[string]fragmentCost),
	}
}

func (w *costWalker) totalCost(set ast.SelectionSet, parentType string, level int) (Cost, error) {
	if level > w.maxRecursion {
		return 0, fmt.Errorf("%w (%d)", ErrRecursionLimit, w.maxRecursion)
	}
	w.deepest = max(w.deepest, level)

	var total Cost
	for _, sel := range set {
		var (
			c   Cost
			err error
		)

		switch s := sel.(type) {
		case *ast.Field:
			c, err = w.fieldCost(s, parentType, level)
		case *ast.FragmentSpread:
			c, err = w.spreadCost(s, level)
		case *ast.InlineFragment:
			typeName := parentType
			if s.TypeCondition != "" {
				typeName = s.TypeCondition
			}
			c, err = w.totalCost(s.SelectionSet, typeName, level+1)
		default:
			return 0, fmt.Errorf("unexpected selection %T", sel)
		}
		if err != nil {
			return 0, err
		}

		if total, err = total.Add(c); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (w *costWalker) fieldCost(field *ast.Field, parentType string, level int) (Cost, error) {
	typeName, ok := w.doc.FieldTypeName(parentType, field.Name)
	if !ok {
		w.logger.Warn("could not resolve field type, excluding it from operation cost",
			observability.String("coordinate", Coordinate(parentType, field.Name)),
		)
		return 0, nil
	}
	if document.IsIntrospectionName(typeName) {
		return 0, nil
	}

	sub, err := w.totalCost(field.SelectionSet, typeName, level+1)
	if err != nil {
		return 0, err
	}
	return w.costs.Weight(parentType, field.Name).Add(sub)
}

func (w *costWalker) spreadCost(spread *ast.FragmentSpread, level int) (Cost, error) {
	frag := w.doc.Fragment(spread.Name)
	if frag == nil {
		return 0, fmt.Errorf("%w: %q", ErrFragmentNotFound, spread.Name)
	}

	fc, err := w.fragmentSubtotal(frag)
	if err != nil {
		return 0, err
	}

	reached := level + 1 + fc.height
	if reached > w.maxRecursion {
		return 0, fmt.Errorf("%w (%d)", ErrRecursionLimit, w.maxRecursion)
	}
	w.deepest = max(w.deepest, reached)
	return fc.cost, nil
}

// fragmentSubtotal walks frag once with levels counted from its own selection
// set and remembers the subtotal and how deep the walk went.
func (w *costWalker) fragmentSubtotal(frag *ast.FragmentDefinition) (fragmentCost, error) {
	if fc, ok := w.fragments[frag.Name]; ok {
		return fc, nil
	}
	if w.active[frag.Name] {
		return fragmentCost{}, fmt.Errorf("%w: %q", ErrFragmentCycle, frag.Name)
	}

	outer := w.deepest
	w.deepest = 0
	w.active[frag.Name] = true
	c, err := w.totalCost(frag.SelectionSet, frag.TypeCondition, 0)
	delete(w.active, frag.Name)
	height := w.deepest
	w.deepest = outer
	if err != nil {
		return fragmentCost{}, err
	}

	fc := fragmentCost{cost: c, height: height}
	w.fragments[frag.Name] = fc
	return fc, nil
}
