package document

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
)

const testSchema = `
type Query {
	user(id: ID!): User
	users: [User!]!
}

type Mutation {
	rename(id: ID!, name: String!): User
}

type User {
	id: ID!
	name: String
	friends: [User!]
}

interface Node { id: ID! }
`

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantOps   []string
		wantFrags []string
		wantErr   bool
	}{
		{
			name:    "anonymous query",
			input:   "{ hello }",
			wantOps: []string{""},
		},
		{
			name:      "named operations and fragment",
			input:     "query A { a } mutation B { b } fragment f on T { c }",
			wantOps:   []string{"A", "B"},
			wantFrags: []string{"f"},
		},
		{
			name:    "syntax error",
			input:   "{ hello ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			doc, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to parse GraphQL operation")
				return
			}
			require.NoError(t, err)
			assert.False(t, doc.HasSchema())

			var ops []string
			for _, op := range doc.Operations() {
				ops = append(ops, op.Name)
			}
			if diff := cmp.Diff(tt.wantOps, ops); diff != "" {
				t.Errorf("operations mismatch (-want +got):\n%s", diff)
			}

			var frags []string
			for _, f := range doc.Fragments() {
				frags = append(frags, f.Name)
			}
			if diff := cmp.Diff(tt.wantFrags, frags); diff != "" {
				t.Errorf("fragments mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadSchema(t *testing.T) {
	t.Parallel()

	schema, err := LoadSchema(testSchema)
	require.NoError(t, err)
	require.NotNil(t, schema.Types["User"])

	_, err = LoadSchema("type Query { broken: Missing }")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load GraphQL schema")
}

func TestDocument_TypeLookups(t *testing.T) {
	t.Parallel()

	schema, err := LoadSchema(testSchema)
	require.NoError(t, err)

	doc, err := ParseWithSchema(schema, "{ users { id } }")
	require.NoError(t, err)
	require.True(t, doc.HasSchema())

	t.Run("object types", func(t *testing.T) {
		t.Parallel()
		assert.NotNil(t, doc.ObjectType("Query"))
		assert.NotNil(t, doc.ObjectType("User"))
		assert.Nil(t, doc.ObjectType("Node"), "interfaces are not object types")
		assert.Nil(t, doc.ObjectType("Nope"))
	})

	tests := []struct {
		parent, field string
		want          string
		ok            bool
	}{
		{"Query", "users", "User", true},
		{"Query", "user", "User", true},
		{"User", "friends", "User", true},
		{"User", "name", "String", true},
		{"User", "__typename", "String", true},
		{"Query", "__schema", "__Schema", true},
		{"Query", "__type", "__Type", true},
		{"User", "missing", "", false},
		{"Unknown", "id", "", false},
		{"Unknown", "__typename", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.parent+"."+tt.field, func(t *testing.T) {
			t.Parallel()
			got, ok := doc.FieldTypeName(tt.parent, tt.field)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocument_SchemaFreeLookups(t *testing.T) {
	t.Parallel()

	doc, err := Parse("fragment f on User { id } { ...f }")
	require.NoError(t, err)

	assert.NotNil(t, doc.Fragment("f"))
	assert.Nil(t, doc.Fragment("g"))
	assert.Nil(t, doc.ObjectType("User"))

	_, ok := doc.FieldTypeName("User", "id")
	assert.False(t, ok)
}

func TestKindName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Query", KindName(ast.Query))
	assert.Equal(t, "Mutation", KindName(ast.Mutation))
	assert.Equal(t, "Subscription", KindName(ast.Subscription))
	assert.Equal(t, "", KindName(""))
}

func TestIsIntrospectionName(t *testing.T) {
	t.Parallel()

	assert.True(t, IsIntrospectionName("__Schema"))
	assert.True(t, IsIntrospectionName("__typename"))
	assert.False(t, IsIntrospectionName("_private"))
	assert.False(t, IsIntrospectionName("User"))
}
