package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/fluxwire/toolbus"
)

const tablesPrefix = "postgres://tables/"

// Resources implements the toolbus.ResourceBackend interface. Tables are an
// open set, so only the namespace itself is enumerated; individual tables are
// reachable through the claimed prefix.
func (s *Server) Resources() []toolbus.ResourceSpec {
	return []toolbus.ResourceSpec{
		{
			URI:         tablesPrefix,
			Name:        "tables",
			Description: "Column listings for tables in the public schema",
			MimeType:    "text/plain",
		},
	}
}

// ResourcePrefixes implements the toolbus.PrefixResourceBackend interface.
func (s *Server) ResourcePrefixes() []string {
	return []string{tablesPrefix}
}

// ResolveResource implements the toolbus.ResourceBackend interface. A table
// URI resolves to a plain-text column listing; the bare namespace URI
// resolves to the table list.
func (s *Server) ResolveResource(ctx context.Context, uri string) (toolbus.ResourceContents, error) {
	table := strings.TrimPrefix(uri, tablesPrefix)

	if table == "" {
		tables, err := s.listTables(ctx)
		if err != nil {
			return toolbus.ResourceContents{}, err
		}
		return toolbus.ResourceContents{
			URI:      uri,
			MimeType: "text/plain",
			Text:     strings.Join(tables.([]string), "\n"),
		}, nil
	}

	described, err := s.describeTable(ctx, table)
	if err != nil {
		return toolbus.ResourceContents{}, err
	}

	var text strings.Builder
	for _, column := range described.([]columnInfo) {
		nullable := "not null"
		if column.Nullable {
			nullable = "nullable"
		}
		fmt.Fprintf(&text, "%s %s %s\n", column.Name, column.DataType, nullable)
	}

	return toolbus.ResourceContents{
		URI:      uri,
		MimeType: "text/plain",
		Text:     text.String(),
	}, nil
}
