package sqlutil

import (
	"encoding/json"

	"github.com/sqlc-dev/pqtype"
)

// ToNullString maps the empty string to NULL.
func ToNullString(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}

// FromNullString maps NULL to the empty string.
func FromNullString(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}

// ToNullRawMessage wraps a JSON document for a nullable jsonb column.
func ToNullRawMessage(raw json.RawMessage) pqtype.NullRawMessage {
	return pqtype.NullRawMessage{RawMessage: raw, Valid: len(raw) > 0}
}

// FromNullRawMessage returns nil for a NULL jsonb column.
func FromNullRawMessage(val pqtype.NullRawMessage) json.RawMessage {
	if !val.Valid {
		return nil
	}
	return val.RawMessage
}
