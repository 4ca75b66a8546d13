package tools

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// FileScanSchema defines the JSON schema for local report-file access.
const FileScanSchema = `{
  "type": "object",
  "properties": {
    "operation": {
      "type": "string",
      "enum": ["list", "read", "search"],
      "description": "list report files, read one, or search lines across one"
    },
    "path": {
      "type": "string",
      "description": "File path relative to the report directory"
    },
    "pattern": {
      "type": "string",
      "description": "Case-insensitive substring for the search operation"
    },
    "delimiter": {
      "type": "string",
      "minLength": 1,
      "maxLength": 1,
      "default": ",",
      "description": "Field delimiter used when reading CSV files"
    },
    "columns": {
      "type": "array",
      "items": {"type": "string"},
      "description": "CSV columns to project; all columns when omitted"
    },
    "max_lines": {
      "type": "integer",
      "minimum": 1,
      "maximum": 1000,
      "default": 200
    }
  },
  "required": ["operation"],
  "additionalProperties": false
}`

// FileScanTool reads exported report files (CSV or plain text) from a
// single base directory. Paths are confined to that directory.
type FileScanTool struct {
	baseDir string
}

func NewFileScanTool(baseDir string) *FileScanTool {
	return &FileScanTool{baseDir: baseDir}
}

func (t *FileScanTool) Name() string { return "filescan" }

func (t *FileScanTool) Description() string {
	return "Reads exported report files from the local report directory: list files, read CSV or text content, or search for matching lines."
}

func (t *FileScanTool) Schema() []byte { return []byte(FileScanSchema) }

func (t *FileScanTool) Invoke(ctx context.Context, args json.RawMessage) ports.ToolResult {
	var params struct {
		Operation string   `json:"operation"`
		Path      string   `json:"path"`
		Pattern   string   `json:"pattern"`
		Delimiter string   `json:"delimiter"`
		Columns   []string `json:"columns"`
		MaxLines  int      `json:"max_lines"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "invalid arguments: %v", err)
	}
	if params.MaxLines <= 0 {
		params.MaxLines = 200
	}
	if params.MaxLines > 1000 {
		params.MaxLines = 1000
	}
	if params.Delimiter == "" {
		params.Delimiter = ","
	}
	delim := []rune(params.Delimiter)
	if len(delim) != 1 {
		return ports.FailResult(ports.ErrorKindBadRequest, "delimiter must be a single character")
	}

	switch params.Operation {
	case "list":
		return t.list()
	case "read":
		full, res := t.resolve(params.Path)
		if !res.OK {
			return res
		}
		return t.read(full, params.MaxLines, delim[0], params.Columns)
	case "search":
		if params.Pattern == "" {
			return ports.FailResult(ports.ErrorKindBadRequest, "pattern is required for search")
		}
		full, res := t.resolve(params.Path)
		if !res.OK {
			return res
		}
		return t.search(full, params.Pattern, params.MaxLines)
	default:
		return ports.FailResult(ports.ErrorKindBadRequest, "unknown operation %q", params.Operation)
	}
}

// resolve joins the relative path onto the base directory and rejects
// anything escaping it.
func (t *FileScanTool) resolve(rel string) (string, ports.ToolResult) {
	if rel == "" {
		return "", ports.FailResult(ports.ErrorKindBadRequest, "path is required")
	}
	if filepath.IsAbs(rel) || strings.Contains(rel, "..") {
		return "", ports.FailResult(ports.ErrorKindBadRequest, "path %q escapes the report directory", rel)
	}
	full := filepath.Join(t.baseDir, filepath.Clean("/"+rel))
	base, err := filepath.Abs(t.baseDir)
	if err != nil {
		return "", ports.FailResult(ports.ErrorKindStoreIO, "resolve base dir: %v", err)
	}
	abs, err := filepath.Abs(full)
	if err != nil || !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", ports.FailResult(ports.ErrorKindBadRequest, "path %q escapes the report directory", rel)
	}
	return full, ports.OKResult(nil)
}

func (t *FileScanTool) list() ports.ToolResult {
	var files []map[string]any
	err := filepath.WalkDir(t.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(t.baseDir, path)
		files = append(files, map[string]any{
			"path":     rel,
			"size":     info.Size(),
			"modified": info.ModTime().UTC().Format("2006-01-02 15:04:05"),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return ports.FailResult(ports.ErrorKindNotFound, "report directory %q does not exist", t.baseDir)
		}
		return ports.FailResult(ports.ErrorKindStoreIO, "list report files: %v", err)
	}
	return ports.OKResult(map[string]any{
		"files": files,
		"total": len(files),
	})
}

func (t *FileScanTool) read(path string, maxLines int, delimiter rune, columns []string) ports.ToolResult {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return t.readCSV(path, maxLines, delimiter, columns)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ports.FailResult(ports.ErrorKindNotFound, "file not found")
		}
		return ports.FailResult(ports.ErrorKindStoreIO, "open file: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	truncated := false
	for scanner.Scan() {
		if len(lines) >= maxLines {
			truncated = true
			break
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return ports.FailResult(ports.ErrorKindStoreIO, "read file: %v", err)
	}

	return ports.OKResult(map[string]any{
		"lines":     lines,
		"total":     len(lines),
		"truncated": truncated,
	})
}

// readCSV parses the file into header + row maps so callers get structured
// records instead of raw text. An optional column list projects the rows
// down to just those fields.
func (t *FileScanTool) readCSV(path string, maxRows int, delimiter rune, columns []string) ports.ToolResult {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ports.FailResult(ports.ErrorKindNotFound, "file not found")
		}
		return ports.FailResult(ports.ErrorKindStoreIO, "open file: %v", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = delimiter
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "parse csv: %v", err)
	}
	if len(records) == 0 {
		return ports.OKResult(map[string]any{"rows": []any{}, "total": 0})
	}

	header := records[0]
	if len(columns) > 0 {
		var missing []string
		known := make(map[string]bool, len(header))
		for _, col := range header {
			known[col] = true
		}
		for _, col := range columns {
			if !known[col] {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			return ports.FailResult(ports.ErrorKindBadRequest,
				"unknown columns: %s", strings.Join(missing, ", "))
		}
	}
	body := records[1:]
	truncated := false
	if len(body) > maxRows {
		body = body[:maxRows]
		truncated = true
	}

	project := make(map[string]bool, len(columns))
	for _, col := range columns {
		project[col] = true
	}
	outHeader := header
	if len(columns) > 0 {
		outHeader = columns
	}

	rows := make([]map[string]string, 0, len(body))
	for _, rec := range body {
		row := make(map[string]string, len(outHeader))
		for i, col := range header {
			if i < len(rec) && (len(columns) == 0 || project[col]) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}

	return ports.OKResult(map[string]any{
		"columns":   outHeader,
		"rows":      rows,
		"total":     len(rows),
		"truncated": truncated,
	})
}

func (t *FileScanTool) search(path, pattern string, maxLines int) ports.ToolResult {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ports.FailResult(ports.ErrorKindNotFound, "file not found")
		}
		return ports.FailResult(ports.ErrorKindStoreIO, "open file: %v", err)
	}
	defer f.Close()

	needle := strings.ToLower(pattern)
	type match struct {
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	var matches []match

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if strings.Contains(strings.ToLower(scanner.Text()), needle) {
			matches = append(matches, match{Line: lineNo, Text: scanner.Text()})
			if len(matches) >= maxLines {
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return ports.FailResult(ports.ErrorKindStoreIO, "search file: %v", err)
	}

	return ports.OKResult(map[string]any{
		"pattern": pattern,
		"matches": matches,
		"total":   len(matches),
	})
}

// Ensure FileScanTool implements the Tool interface.
var _ ports.Tool = (*FileScanTool)(nil)
