package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/procflow/pkg/schema"
)

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func versionConflict(resource, id string, version int64) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeConflict, "%s %q was modified concurrently", resource, id).
		WithDetails(map[string]any{"expected_version": version})
}

func storeErr(op string, err error) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func encodeDoc(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(b), nil
}

func decodeDoc(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func resumeAtMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
