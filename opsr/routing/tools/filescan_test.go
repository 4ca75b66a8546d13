package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

func writeReportFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func invokeFileScan(t *testing.T, tool *FileScanTool, args string) ports.ToolResult {
	t.Helper()
	return tool.Invoke(context.Background(), json.RawMessage(args))
}

func TestFileScan_List(t *testing.T) {
	dir := t.TempDir()
	writeReportFile(t, dir, "export.csv", "uid,name\n1,edge-1\n")
	writeReportFile(t, dir, "notes.txt", "hello\n")
	tool := NewFileScanTool(dir)

	result := invokeFileScan(t, tool, `{"operation": "list"}`)
	require.True(t, result.OK, result.ErrorMessage)
	assert.EqualValues(t, 2, result.Payload["total"])
}

func TestFileScan_ReadCSV(t *testing.T) {
	dir := t.TempDir()
	writeReportFile(t, dir, "export.csv", "uid,name,state\nd1,edge-1,online\nd2,edge-2,offline\n")
	tool := NewFileScanTool(dir)

	result := invokeFileScan(t, tool, `{"operation": "read", "path": "export.csv"}`)
	require.True(t, result.OK, result.ErrorMessage)

	rows, ok := result.Payload["rows"].([]map[string]string)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, "edge-1", rows[0]["name"])
	assert.Equal(t, "offline", rows[1]["state"])
}

func TestFileScan_ReadCSVWithDelimiter(t *testing.T) {
	dir := t.TempDir()
	writeReportFile(t, dir, "export.csv", "uid;name;state\nd1;edge-1;online\n")
	tool := NewFileScanTool(dir)

	result := invokeFileScan(t, tool, `{"operation": "read", "path": "export.csv", "delimiter": ";"}`)
	require.True(t, result.OK, result.ErrorMessage)

	rows, ok := result.Payload["rows"].([]map[string]string)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "edge-1", rows[0]["name"])
}

func TestFileScan_ReadCSVProjectsColumns(t *testing.T) {
	dir := t.TempDir()
	writeReportFile(t, dir, "export.csv", "uid,name,state\nd1,edge-1,online\nd2,edge-2,offline\n")
	tool := NewFileScanTool(dir)

	result := invokeFileScan(t, tool,
		`{"operation": "read", "path": "export.csv", "columns": ["uid", "state"]}`)
	require.True(t, result.OK, result.ErrorMessage)

	assert.Equal(t, []string{"uid", "state"}, result.Payload["columns"])
	rows := result.Payload["rows"].([]map[string]string)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"uid": "d1", "state": "online"}, rows[0])
}

func TestFileScan_ReadCSVUnknownColumn(t *testing.T) {
	dir := t.TempDir()
	writeReportFile(t, dir, "export.csv", "uid,name\nd1,edge-1\n")
	tool := NewFileScanTool(dir)

	result := invokeFileScan(t, tool,
		`{"operation": "read", "path": "export.csv", "columns": ["uid", "ghost"]}`)
	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindBadRequest, result.ErrorKind)
	assert.Contains(t, result.ErrorMessage, "ghost")
}

func TestFileScan_RejectsMultiCharDelimiter(t *testing.T) {
	tool := NewFileScanTool(t.TempDir())

	result := invokeFileScan(t, tool,
		`{"operation": "read", "path": "export.csv", "delimiter": "||"}`)
	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindBadRequest, result.ErrorKind)
}

func TestFileScan_ReadTextTruncates(t *testing.T) {
	dir := t.TempDir()
	content := ""
	for i := 0; i < 10; i++ {
		content += "line\n"
	}
	writeReportFile(t, dir, "big.log", content)
	tool := NewFileScanTool(dir)

	result := invokeFileScan(t, tool, `{"operation": "read", "path": "big.log", "max_lines": 3}`)
	require.True(t, result.OK, result.ErrorMessage)
	assert.EqualValues(t, 3, result.Payload["total"])
	assert.Equal(t, true, result.Payload["truncated"])
}

func TestFileScan_Search(t *testing.T) {
	dir := t.TempDir()
	writeReportFile(t, dir, "events.log", "ok\nERROR timeout on edge-1\nok\nerror again\n")
	tool := NewFileScanTool(dir)

	result := invokeFileScan(t, tool, `{"operation": "search", "path": "events.log", "pattern": "error"}`)
	require.True(t, result.OK, result.ErrorMessage)
	assert.EqualValues(t, 2, result.Payload["total"])
}

func TestFileScan_RejectsPathEscape(t *testing.T) {
	tool := NewFileScanTool(t.TempDir())

	result := invokeFileScan(t, tool, `{"operation": "read", "path": "../../etc/passwd"}`)
	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindBadRequest, result.ErrorKind)
}

func TestFileScan_MissingFile(t *testing.T) {
	tool := NewFileScanTool(t.TempDir())

	result := invokeFileScan(t, tool, `{"operation": "read", "path": "nope.txt"}`)
	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindNotFound, result.ErrorKind)
}

func TestFileScan_UnknownOperation(t *testing.T) {
	tool := NewFileScanTool(t.TempDir())

	result := invokeFileScan(t, tool, `{"operation": "delete"}`)
	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindBadRequest, result.ErrorKind)
}
