package analysis

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/vyrodovalexey/gqlguard/internal/graphql/document"
)

// depthWalker computes the height of a selection tree. Fields, inline
// fragments and resolved fragment spreads each add one level. A spread of
// an undeclared fragment adds nothing.
//
// Each fragment is walked once per walker. Later spreads reuse its height,
// so documents that spread the same fragment many times stay linear.
type depthWalker struct {
	doc          *document.Document
	maxRecursion int
	active       map[string]bool
	heights      map[string]int
}

func newDepthWalker(doc *document.Document, maxRecursion int) *depthWalker {
	return &depthWalker{
		doc:          doc,
		maxRecursion: maxRecursion,
		active:       make(map[string]bool),
		heights:      make(map[string]int),
	}
}

// maxDepth returns the deepest level reached below set, where set itself
// sits at depth.
func (w *depthWalker) maxDepth(set ast.SelectionSet, depth int) (int, error) {
	if depth > w.maxRecursion {
		return 0, fmt.Errorf("%w (%d)", ErrRecursionLimit, w.maxRecursion)
	}

	deepest := depth
	for _, sel := range set {
		var (
			d   int
			err error
		)

		switch s := sel.(type) {
		case *ast.Field:
			d, err = w.maxDepth(s.SelectionSet, depth+1)
		case *ast.InlineFragment:
			d, err = w.maxDepth(s.SelectionSet, depth+1)
		case *ast.FragmentSpread:
			d, err = w.spreadDepth(s, depth)
		default:
			return 0, fmt.Errorf("unexpected selection %T", sel)
		}
		if err != nil {
			return 0, err
		}
		deepest = max(deepest, d)
	}
	return deepest, nil
}

func (w *depthWalker) spreadDepth(spread *ast.FragmentSpread, depth int) (int, error) {
	frag := w.doc.Fragment(spread.Name)
	if frag == nil {
		return depth, nil
	}

	height, err := w.fragmentHeight(frag)
	if err != nil {
		return 0, err
	}

	d := depth + 1 + height
	if d > w.maxRecursion {
		return 0, fmt.Errorf("%w (%d)", ErrRecursionLimit, w.maxRecursion)
	}
	return d, nil
}

// fragmentHeight returns how many levels frag's selection set reaches below
// the set itself.
func (w *depthWalker) fragmentHeight(frag *ast.FragmentDefinition) (int, error) {
	if h, ok := w.heights[frag.Name]; ok {
		return h, nil
	}
	if w.active[frag.Name] {
		return 0, fmt.Errorf("%w: %q", ErrFragmentCycle, frag.Name)
	}

	w.active[frag.Name] = true
	h, err := w.maxDepth(frag.SelectionSet, 0)
	delete(w.active, frag.Name)
	if err != nil {
		return 0, err
	}

	w.heights[frag.Name] = h
	return h, nil
}
