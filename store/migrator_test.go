package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSQL(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "comments and blank lines",
			sql: `-- header
CREATE TABLE a (id TEXT);

/* block
comment */ CREATE INDEX a_idx ON a (id); -- trailing
`,
			want: []string{"CREATE TABLE a (id TEXT);", "CREATE INDEX a_idx ON a (id);"},
		},
		{
			name: "semicolon inside string",
			sql:  `INSERT INTO a VALUES ('x;y'); SELECT 1;`,
			want: []string{"INSERT INTO a VALUES ('x;y');", "SELECT 1;"},
		},
		{
			name: "dollar quoted body",
			sql: `CREATE FUNCTION f() RETURNS void AS $body$
BEGIN
  PERFORM 1;
END;
$body$ LANGUAGE plpgsql;
SELECT 2`,
			want: []string{
				"CREATE FUNCTION f() RETURNS void AS $body$\nBEGIN\n  PERFORM 1;\nEND;\n$body$ LANGUAGE plpgsql;",
				"SELECT 2",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSQL(tt.sql))
		})
	}
}

func TestRenderSchema(t *testing.T) {
	s := New(NewMockDriver(), nil)
	s.dimension = 1536

	statements, err := s.renderSchema()
	require.NoError(t, err)

	var tables, indexes int
	for _, stmt := range statements {
		switch {
		case len(stmt) > 12 && stmt[:12] == "CREATE TABLE":
			tables++
		case len(stmt) > 12 && stmt[:12] == "CREATE INDEX":
			indexes++
		}
	}
	assert.Equal(t, 4, tables)
	assert.Equal(t, 9, indexes)
	assert.Contains(t, statements[2], "vector(1536)")
}

func TestMissingTables(t *testing.T) {
	assert.Empty(t, missingTables([]string{"procedural_memory", "working_memory", "semantic_memory", "episodic_memory", "other"}))
	assert.Equal(t, []string{"semantic_memory", "procedural_memory"}, missingTables([]string{"episodic_memory", "working_memory"}))
}
