package middleware

import (
	"context"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/vyrodovalexey/gqlguard/internal/graphql/analysis"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/document"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// Introspection entry points. __typename is not one of them.
const (
	schemaField = "__schema"
	typeField   = "__type"
)

// IntrospectionGuard controls whether GraphQL introspection is allowed.
type IntrospectionGuard struct {
	enabled bool
	logger  observability.Logger
}

// NewIntrospectionGuard creates an introspection guard. When enabled is
// false, operations selecting __schema or __type are rejected.
func NewIntrospectionGuard(enabled bool, logger observability.Logger) *IntrospectionGuard {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &IntrospectionGuard{
		enabled: enabled,
		logger:  logger,
	}
}

// Enabled reports whether introspection is allowed.
func (g *IntrospectionGuard) Enabled() bool {
	return g.enabled
}

// Check parses query and validates the selected operation.
func (g *IntrospectionGuard) Check(query, operationName string) error {
	if g.enabled {
		return nil
	}
	doc, err := document.Parse(query)
	if err != nil {
		return fmt.Errorf("%w: %w", analysis.ErrParse, err)
	}
	return g.CheckDocument(context.Background(), doc, operationName)
}

// CheckDocument validates the selected operation of doc. When no single
// operation can be selected every operation is inspected.
func (g *IntrospectionGuard) CheckDocument(ctx context.Context, doc *document.Document, operationName string) error {
	if g.enabled {
		return nil
	}

	ops := doc.Operations()
	if op, err := analysis.ResolveOperation(doc, operationName); err == nil {
		ops = ast.OperationList{op}
	}

	visited := make(map[string]struct{})
	for _, op := range ops {
		if field, ok := findIntrospection(doc, op.SelectionSet, visited); ok {
			g.logger.WithContext(ctx).Warn("GraphQL introspection blocked",
				observability.String("operation_type", string(op.Operation)),
				observability.String("operation_name", op.Name),
				observability.String("field", field),
			)
			return fmt.Errorf("%w: field %s", ErrIntrospectionDisabled, field)
		}
	}
	return nil
}

// findIntrospection returns the first introspection entry point reachable
// from set. Each named fragment is inspected once.
func findIntrospection(doc *document.Document, set ast.SelectionSet, visited map[string]struct{}) (string, bool) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name == schemaField || s.Name == typeField {
				return s.Name, true
			}
			if name, ok := findIntrospection(doc, s.SelectionSet, visited); ok {
				return name, true
			}
		case *ast.InlineFragment:
			if name, ok := findIntrospection(doc, s.SelectionSet, visited); ok {
				return name, true
			}
		case *ast.FragmentSpread:
			if _, seen := visited[s.Name]; seen {
				continue
			}
			visited[s.Name] = struct{}{}
			frag := doc.Fragment(s.Name)
			if frag == nil {
				continue
			}
			if name, ok := findIntrospection(doc, frag.SelectionSet, visited); ok {
				return name, true
			}
		}
	}
	return "", false
}
