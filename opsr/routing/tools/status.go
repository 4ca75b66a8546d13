package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// LastEventSchema defines the JSON schema for last-event lookups.
const LastEventSchema = `{
  "type": "object",
  "properties": {
    "stream_id": {
      "type": "string",
      "description": "Event stream scope the device reports into"
    },
    "device_uid": {
      "type": "string",
      "description": "Tracking id of the device"
    }
  },
  "required": ["stream_id", "device_uid"],
  "additionalProperties": false
}`

// LastEventTool looks up the last-known-activity record for a
// (stream, device) pair. An absent record is a successful lookup with
// found=false, not a failure.
type LastEventTool struct {
	db *sql.DB
}

func NewLastEventTool(db *sql.DB) *LastEventTool {
	return &LastEventTool{db: db}
}

func (t *LastEventTool) Name() string { return "last_event" }

func (t *LastEventTool) Description() string {
	return "Fetches the timestamp of the most recent event a device reported into a stream."
}

func (t *LastEventTool) Schema() []byte { return []byte(LastEventSchema) }

func (t *LastEventTool) Invoke(ctx context.Context, args json.RawMessage) ports.ToolResult {
	var params struct {
		StreamID  string `json:"stream_id"`
		DeviceUID string `json:"device_uid"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "invalid arguments: %v", err)
	}
	if params.StreamID == "" || params.DeviceUID == "" {
		return ports.FailResult(ports.ErrorKindBadRequest, "stream_id and device_uid are required")
	}

	var lastTimestamp, updatedAt int64
	err := t.db.QueryRowContext(ctx, `
		SELECT last_timestamp, updated_at
		FROM last_events
		WHERE stream_id = ? AND device_uid = ?`,
		params.StreamID, params.DeviceUID,
	).Scan(&lastTimestamp, &updatedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ports.OKResult(map[string]any{
			"found": false,
		})
	case err != nil:
		return ports.FailResult(ports.ErrorKindStoreIO, "last event lookup: %v", err)
	}

	return ports.OKResult(map[string]any{
		"found": true,
		"record": map[string]any{
			"stream_id":      params.StreamID,
			"device_uid":     params.DeviceUID,
			"last_timestamp": lastTimestamp,
			"updated_at":     updatedAt,
		},
	})
}

// RecordLastEvent upserts the last-seen timestamp for a (stream, device)
// pair. The event ingestion path and test fixtures share it.
func RecordLastEvent(ctx context.Context, db *sql.DB, streamID, deviceUID string, lastTimestamp, updatedAt int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO last_events (stream_id, device_uid, last_timestamp, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (stream_id, device_uid)
		DO UPDATE SET last_timestamp = excluded.last_timestamp, updated_at = excluded.updated_at`,
		streamID, deviceUID, lastTimestamp, updatedAt)
	return err
}

// Ensure LastEventTool implements the Tool interface.
var _ ports.Tool = (*LastEventTool)(nil)
