// Package document is the read-only GraphQL document model consumed by the
// depth and cost analyzers. It wraps gqlparser's AST and exposes operations,
// fragments, object types and per-field type lookups.
package document

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// TypenameField is the meta field available on every composite type.
const TypenameField = "__typename"

// IntrospectionPrefix marks reserved schema-metadata names.
const IntrospectionPrefix = "__"

// Document is an immutable view over a parsed operation document and,
// optionally, the schema it is analyzed against.
type Document struct {
	query  *ast.QueryDocument
	schema *ast.Schema
}

// Parse builds a schema-free Document from operation text.
func Parse(operation string) (*Document, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operation", Input: operation})
	if err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL operation: %w", err)
	}
	return &Document{query: doc}, nil
}

// LoadSchema parses and validates SDL. The built-in scalars and
// introspection types are included.
func LoadSchema(sdl string) (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema", Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("failed to load GraphQL schema: %w", err)
	}
	return schema, nil
}

// ParseWithSchema parses operation text and binds it to schema.
func ParseWithSchema(schema *ast.Schema, operation string) (*Document, error) {
	d, err := Parse(operation)
	if err != nil {
		return nil, err
	}
	return d.WithSchema(schema), nil
}

// WithSchema returns a Document sharing d's operations bound to schema.
func (d *Document) WithSchema(schema *ast.Schema) *Document {
	return &Document{query: d.query, schema: schema}
}

// HasSchema reports whether type lookups are available.
func (d *Document) HasSchema() bool {
	return d.schema != nil
}

// Operations returns the declared operations in source order.
func (d *Document) Operations() ast.OperationList {
	return d.query.Operations
}

// Fragments returns the declared fragments in source order.
func (d *Document) Fragments() ast.FragmentDefinitionList {
	return d.query.Fragments
}

// Fragment returns the named fragment, or nil.
func (d *Document) Fragment(name string) *ast.FragmentDefinition {
	return d.query.Fragments.ForName(name)
}

// ObjectType returns the object type definition called name, or nil when
// there is no schema or name is not an object type.
func (d *Document) ObjectType(name string) *ast.Definition {
	if d.schema == nil {
		return nil
	}
	def := d.schema.Types[name]
	if def == nil || def.Kind != ast.Object {
		return nil
	}
	return def
}

// FieldTypeName returns the named type of parentType.fieldName with list
// and non-null wrappers removed. The second result is false when the
// field cannot be resolved against the schema.
func (d *Document) FieldTypeName(parentType, fieldName string) (string, bool) {
	if d.schema == nil {
		return "", false
	}
	parent := d.schema.Types[parentType]
	if parent == nil {
		return "", false
	}
	if fieldName == TypenameField {
		return "String", true
	}
	field := parent.Fields.ForName(fieldName)
	if field == nil || field.Type == nil {
		return "", false
	}
	return field.Type.Name(), true
}

// KindName renders an operation kind the way root types are conventionally
// named: "Query", "Mutation" or "Subscription".
func KindName(op ast.Operation) string {
	s := string(op)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// IsIntrospectionName reports whether name is in the reserved "__" namespace.
func IsIntrospectionName(name string) bool {
	return strings.HasPrefix(name, IntrospectionPrefix)
}
