package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cast"

	"github.com/fluxwire/toolbus"
)

// Tools implements the toolbus.ToolBackend interface.
func (s *Server) Tools() []toolbus.ToolSpec {
	return []toolbus.ToolSpec{
		{
			Name: "query",
			Description: "Run a read-only SQL query against the database. Only SELECT " +
				"and WITH statements are accepted; rows are returned as objects keyed " +
				"by column name.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"sql":      {Type: "string", Description: "The SELECT statement to run"},
				"max_rows": {Type: "integer", Description: "Upper bound on returned rows", Default: 100},
			}, "sql"),
		},
		{
			Name:        "list_tables",
			Description: "List the tables in the public schema.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{}),
		},
		{
			Name:        "describe_table",
			Description: "Describe the columns of a table: name, data type and nullability.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"table": {Type: "string", Description: "Table name in the public schema"},
			}, "table"),
		},
	}
}

// ExecuteTool implements the toolbus.ToolBackend interface.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.logger.Debug("executing tool", slog.String("tool", name))

	switch name {
	case "query":
		return s.query(ctx, args)
	case "list_tables":
		return s.listTables(ctx)
	case "describe_table":
		return s.describeTable(ctx, cast.ToString(args["table"]))
	default:
		return nil, fmt.Errorf("tool not found: %s", name)
	}
}

// checkReadOnly rejects statements that could mutate the database. The check
// is on the leading keyword: the database user is still expected to hold only
// read privileges.
func checkReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}

	keyword := strings.ToUpper(strings.Fields(trimmed)[0])
	if keyword != "SELECT" && keyword != "WITH" {
		return fmt.Errorf("only SELECT queries are allowed, got %s", keyword)
	}
	return nil
}

func (s *Server) query(ctx context.Context, args map[string]any) (any, error) {
	query := cast.ToString(args["sql"])
	if err := checkReadOnly(query); err != nil {
		return nil, err
	}
	maxRows := cast.ToInt(args["max_rows"])

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	results := make([]map[string]any, 0, maxRows)
	for rows.Next() && len(results) < maxRows {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, column := range columns {
			// The driver hands text columns back as byte slices.
			if bs, ok := values[i].([]byte); ok {
				row[column] = cast.ToString(bs)
				continue
			}
			row[column] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return results, nil
}

func (s *Server) listTables(ctx context.Context) (any, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tables: %w", err)
	}

	return tables, nil
}

type columnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

func (s *Server) describeTable(ctx context.Context, table string) (any, error) {
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	defer rows.Close()

	var columns []columnInfo
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns = append(columns, columnInfo{
			Name:     name,
			DataType: dataType,
			Nullable: nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate columns: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table not found: %s", table)
	}
	return columns, nil
}
