package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// DocstoreSchema defines the JSON schema for document-store inspection.
const DocstoreSchema = `{
  "type": "object",
  "properties": {
    "operation": {
      "type": "string",
      "enum": ["list_tables", "describe_table", "scan", "query", "get_item"],
      "description": "Inspection operation to run against the local document store"
    },
    "table": {
      "type": "string",
      "description": "Table to operate on"
    },
    "key_column": {
      "type": "string",
      "description": "Partition column to match for query/get_item"
    },
    "key_value": {
      "type": "string",
      "description": "Partition value to match for query/get_item"
    },
    "sort_column": {
      "type": "string",
      "description": "Optional sort column for query"
    },
    "sort_value": {
      "type": "string",
      "description": "Value compared against the sort column"
    },
    "sort_comparison": {
      "type": "string",
      "enum": ["eq", "lt", "lte", "gt", "gte"],
      "default": "eq",
      "description": "Comparison applied to the sort column"
    },
    "attribute": {
      "type": "string",
      "description": "Column filtered by the scan operation"
    },
    "value": {
      "type": "string",
      "description": "Value compared against the scan attribute"
    },
    "comparison": {
      "type": "string",
      "enum": ["eq", "ne", "lt", "lte", "gt", "gte", "contains"],
      "default": "eq",
      "description": "Comparison applied by the scan filter"
    },
    "limit": {
      "type": "integer",
      "minimum": 1,
      "maximum": 200,
      "default": 25
    }
  },
  "required": ["operation"],
  "additionalProperties": false
}`

// identifierRx restricts table and column names to plain identifiers so
// they can be interpolated into SQL safely.
var identifierRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DocstoreTool gives read-only access to the local tables backing the
// assistant: listing tables, describing columns, scanning rows, and keyed
// lookups. Writes are not exposed.
type DocstoreTool struct {
	db *sql.DB
}

func NewDocstoreTool(db *sql.DB) *DocstoreTool {
	return &DocstoreTool{db: db}
}

func (t *DocstoreTool) Name() string { return "docstore" }

func (t *DocstoreTool) Description() string {
	return "Inspects the local operational tables: list tables, describe a table's columns, scan rows with an optional attribute filter, or fetch rows matching a key with an optional sort-key condition."
}

func (t *DocstoreTool) Schema() []byte { return []byte(DocstoreSchema) }

func (t *DocstoreTool) Invoke(ctx context.Context, args json.RawMessage) ports.ToolResult {
	var params struct {
		Operation      string `json:"operation"`
		Table          string `json:"table"`
		KeyColumn      string `json:"key_column"`
		KeyValue       string `json:"key_value"`
		SortColumn     string `json:"sort_column"`
		SortValue      string `json:"sort_value"`
		SortComparison string `json:"sort_comparison"`
		Attribute      string `json:"attribute"`
		Value          string `json:"value"`
		Comparison     string `json:"comparison"`
		Limit          int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "invalid arguments: %v", err)
	}
	if params.Limit <= 0 {
		params.Limit = 25
	}
	if params.Limit > 200 {
		params.Limit = 200
	}

	switch params.Operation {
	case "list_tables":
		return t.listTables(ctx)
	case "describe_table":
		if err := requireIdentifier("table", params.Table); err != nil {
			return ports.FailResult(ports.ErrorKindBadRequest, "%v", err)
		}
		return t.describeTable(ctx, params.Table)
	case "scan":
		if err := requireIdentifier("table", params.Table); err != nil {
			return ports.FailResult(ports.ErrorKindBadRequest, "%v", err)
		}
		// A scan without an attribute is an unfiltered page.
		if params.Attribute == "" {
			query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", params.Table, params.Limit)
			return t.runQuery(ctx, query)
		}
		if err := requireIdentifier("attribute", params.Attribute); err != nil {
			return ports.FailResult(ports.ErrorKindBadRequest, "%v", err)
		}
		if params.Value == "" {
			return ports.FailResult(ports.ErrorKindBadRequest, "value is required when attribute is set")
		}
		clause, bind, err := comparisonClause(params.Attribute, params.Comparison, params.Value)
		if err != nil {
			return ports.FailResult(ports.ErrorKindBadRequest, "%v", err)
		}
		query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d",
			params.Table, clause, params.Limit)
		return t.runQuery(ctx, query, bind)
	case "query", "get_item":
		if err := requireIdentifier("table", params.Table); err != nil {
			return ports.FailResult(ports.ErrorKindBadRequest, "%v", err)
		}
		if err := requireIdentifier("key_column", params.KeyColumn); err != nil {
			return ports.FailResult(ports.ErrorKindBadRequest, "%v", err)
		}
		if params.KeyValue == "" {
			return ports.FailResult(ports.ErrorKindBadRequest, "key_value is required")
		}
		limit := params.Limit
		if params.Operation == "get_item" {
			limit = 1
		}
		conditions := fmt.Sprintf("%s = ?", params.KeyColumn)
		binds := []any{params.KeyValue}
		if params.SortColumn != "" {
			if params.Operation == "get_item" {
				return ports.FailResult(ports.ErrorKindBadRequest, "sort_column is not valid for get_item")
			}
			if err := requireIdentifier("sort_column", params.SortColumn); err != nil {
				return ports.FailResult(ports.ErrorKindBadRequest, "%v", err)
			}
			if params.SortValue == "" {
				return ports.FailResult(ports.ErrorKindBadRequest, "sort_value is required when sort_column is set")
			}
			comparison := params.SortComparison
			if comparison == "contains" || comparison == "ne" {
				return ports.FailResult(ports.ErrorKindBadRequest,
					"comparison %q is not valid for a sort column", comparison)
			}
			clause, bind, err := comparisonClause(params.SortColumn, comparison, params.SortValue)
			if err != nil {
				return ports.FailResult(ports.ErrorKindBadRequest, "%v", err)
			}
			conditions += " AND " + clause
			binds = append(binds, bind)
		}
		query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d",
			params.Table, conditions, limit)
		return t.runQuery(ctx, query, binds...)
	default:
		return ports.FailResult(ports.ErrorKindBadRequest, "unknown operation %q", params.Operation)
	}
}

func requireIdentifier(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !identifierRx.MatchString(value) {
		return fmt.Errorf("%s %q is not a valid identifier", field, value)
	}
	return nil
}

// comparisonOperators maps the filter vocabulary onto SQL. Only entries in
// this map ever reach the rendered clause; values are always bound.
var comparisonOperators = map[string]string{
	"eq":  "=",
	"ne":  "!=",
	"lt":  "<",
	"lte": "<=",
	"gt":  ">",
	"gte": ">=",
}

// comparisonClause renders one allow-listed comparison against a validated
// column. The returned bind value is passed as a query parameter, never
// interpolated. Bound strings still compare numerically against numeric
// columns because sqlite applies the column's affinity to them.
func comparisonClause(column, comparison, value string) (string, any, error) {
	if comparison == "" {
		comparison = "eq"
	}
	if comparison == "contains" {
		return fmt.Sprintf("instr(%s, ?) > 0", column), value, nil
	}
	op, ok := comparisonOperators[comparison]
	if !ok {
		return "", nil, fmt.Errorf("unsupported comparison %q", comparison)
	}
	return fmt.Sprintf("%s %s ?", column, op), value, nil
}

func (t *DocstoreTool) listTables(ctx context.Context) ports.ToolResult {
	rows, err := t.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name NOT LIKE 'goose_%'
		ORDER BY name`)
	if err != nil {
		return ports.FailResult(ports.ErrorKindStoreIO, "list tables: %v", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return ports.FailResult(ports.ErrorKindStoreIO, "list tables: %v", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return ports.FailResult(ports.ErrorKindStoreIO, "list tables: %v", err)
	}

	return ports.OKResult(map[string]any{
		"tables": tables,
		"total":  len(tables),
	})
}

func (t *DocstoreTool) describeTable(ctx context.Context, table string) ports.ToolResult {
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return ports.FailResult(ports.ErrorKindStoreIO, "describe %s: %v", table, err)
	}
	defer rows.Close()

	type column struct {
		Name       string `json:"name"`
		Type       string `json:"type"`
		NotNull    bool   `json:"not_null"`
		PrimaryKey bool   `json:"primary_key"`
	}
	var columns []column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return ports.FailResult(ports.ErrorKindStoreIO, "describe %s: %v", table, err)
		}
		columns = append(columns, column{
			Name: name, Type: ctype, NotNull: notNull != 0, PrimaryKey: pk != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return ports.FailResult(ports.ErrorKindStoreIO, "describe %s: %v", table, err)
	}
	if len(columns) == 0 {
		return ports.FailResult(ports.ErrorKindNotFound, "table %q does not exist", table)
	}

	return ports.OKResult(map[string]any{
		"table":   table,
		"columns": columns,
	})
}

// runQuery executes a read query and renders rows as generic maps.
func (t *DocstoreTool) runQuery(ctx context.Context, query string, queryArgs ...any) ports.ToolResult {
	rows, err := t.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return ports.FailResult(ports.ErrorKindNotFound, "table does not exist")
		}
		return ports.FailResult(ports.ErrorKindStoreIO, "query: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ports.FailResult(ports.ErrorKindStoreIO, "query columns: %v", err)
	}

	var items []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		scanTargets := make([]any, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return ports.FailResult(ports.ErrorKindStoreIO, "query scan: %v", err)
		}
		item := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				item[col] = string(b)
			} else {
				item[col] = values[i]
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return ports.FailResult(ports.ErrorKindStoreIO, "query rows: %v", err)
	}

	return ports.OKResult(map[string]any{
		"items": items,
		"total": len(items),
	})
}

// Ensure DocstoreTool implements the Tool interface.
var _ ports.Tool = (*DocstoreTool)(nil)
