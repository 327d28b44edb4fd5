package store

import (
	"bytes"
	"context"
	"embed"
	"log/slog"
	"slices"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// Schema Overview:
//
// LATEST.sql holds the full schema as a template parameterized by the
// embedding dimension. Every statement is idempotent (IF NOT EXISTS), so
// EnsureSchema can run on every start. Statements are applied in file
// order inside one transaction, then the four tables are checked.

//go:embed migration
var migrationFS embed.FS

const (
	// LatestSchemaFileName is the name of the latest schema file.
	LatestSchemaFileName = "LATEST.sql"

	migrationBasePath = "migration/postgres/"
)

// memoryTables are the tables EnsureSchema must leave behind.
var memoryTables = []string{
	"episodic_memory",
	"semantic_memory",
	"working_memory",
	"procedural_memory",
}

type schemaParams struct {
	Dimension int
}

// EnsureSchema creates the vector extension, the memory tables and their indexes,
// then verifies the tables exist. Failures are reported as SchemaError.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.driver == nil {
		return NotInitialized()
	}
	statements, err := s.renderSchema()
	if err != nil {
		return SchemaError("failed to render schema", err)
	}

	slog.Info("applying memory schema", slog.Int("statements", len(statements)), slog.Int("dimension", s.dimension))
	if err := s.driver.ApplySchema(ctx, statements); err != nil {
		return SchemaError("failed to apply schema", err)
	}

	tables, err := s.driver.ListTables(ctx)
	if err != nil {
		return SchemaError("failed to list tables", err)
	}
	if missing := missingTables(tables); len(missing) > 0 {
		return SchemaError("schema validation failed: missing tables "+strings.Join(missing, ", "), nil)
	}
	return nil
}

func (s *Store) renderSchema() ([]string, error) {
	raw, err := migrationFS.ReadFile(migrationBasePath + LatestSchemaFileName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read latest schema file")
	}
	tmpl, err := template.New(LatestSchemaFileName).Parse(string(raw))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse latest schema file")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, schemaParams{Dimension: s.dimension}); err != nil {
		return nil, errors.Wrap(err, "failed to render latest schema file")
	}
	return splitSQL(buf.String()), nil
}

func missingTables(tables []string) []string {
	var missing []string
	for _, name := range memoryTables {
		if !slices.Contains(tables, name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// splitSQL splits a multi-statement SQL string into individual statements.
// It handles:
// - Dollar-quoted strings ($$...$$) for PostgreSQL function bodies
// - Single-quoted strings ('...')
// - SQL comments (-- ... and /* ... */)
func splitSQL(sql string) []string {
	var statements []string
	var currentStmt strings.Builder

	inDollarQuote := false
	dollarQuoteTag := ""
	inSingleQuote := false
	inMultiLineComment := false

	flush := func() {
		stmt := strings.TrimSpace(currentStmt.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
		currentStmt.Reset()
	}

	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inDollarQuote && !inSingleQuote && !inMultiLineComment {
			if strings.HasPrefix(trimmed, "--") {
				continue
			}
			if trimmed == "" {
				continue
			}
		}

		for i := 0; i < len(line); {
			ch := line[i]

			if inMultiLineComment {
				if i+1 < len(line) && line[i:i+2] == "*/" {
					inMultiLineComment = false
					i += 2
					continue
				}
				i++
				continue
			}

			if ch == '$' && !inSingleQuote {
				if end := strings.IndexByte(line[i+1:], '$'); end >= 0 {
					tag := line[i : i+end+2]
					if !inDollarQuote {
						inDollarQuote, dollarQuoteTag = true, tag
						currentStmt.WriteString(tag)
						i += len(tag)
						continue
					}
					if tag == dollarQuoteTag {
						inDollarQuote, dollarQuoteTag = false, ""
						currentStmt.WriteString(tag)
						i += len(tag)
						continue
					}
				}
			}

			if inDollarQuote {
				currentStmt.WriteByte(ch)
				i++
				continue
			}

			if ch == '\'' {
				inSingleQuote = !inSingleQuote
				currentStmt.WriteByte(ch)
				i++
				continue
			}

			if !inSingleQuote {
				if i+1 < len(line) && line[i:i+2] == "/*" {
					inMultiLineComment = true
					i += 2
					continue
				}
				if i+1 < len(line) && line[i:i+2] == "--" {
					break
				}
				if ch == ';' {
					currentStmt.WriteByte(ch)
					flush()
					i++
					continue
				}
			}

			currentStmt.WriteByte(ch)
			i++
		}

		if currentStmt.Len() > 0 {
			currentStmt.WriteString("\n")
		}
	}

	flush()
	return statements
}
