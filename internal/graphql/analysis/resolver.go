package analysis

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/vyrodovalexey/gqlguard/internal/graphql/document"
)

// ResolveOperation selects the operation to analyze. An empty name means
// no name was requested, in which case the document must hold exactly one
// operation. Name matching is exact and case-sensitive.
func ResolveOperation(doc *document.Document, name string) (*ast.OperationDefinition, error) {
	ops := doc.Operations()

	if name == "" {
		if len(ops) != 1 {
			return nil, fmt.Errorf("%w: document has %d operations and no operation name was given",
				ErrOperationNotFound, len(ops))
		}
		return ops[0], nil
	}

	for _, op := range ops {
		if op.Name == name {
			return op, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrOperationNotFound, name)
}

// ResolveRootType returns the object type whose name equals the operation
// kind rendered as "Query", "Mutation" or "Subscription". Root types remapped
// by an explicit schema definition are not followed.
func ResolveRootType(doc *document.Document, op *ast.OperationDefinition) (*ast.Definition, error) {
	name := document.KindName(op.Operation)
	def := doc.ObjectType(name)
	if def == nil {
		return nil, fmt.Errorf("%w: no object type named %q", ErrRootTypeNotFound, name)
	}
	return def, nil
}
