package mcp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/services"
)

// Argument decoding for tools/call payloads. MCP arguments arrive as
// map[string]any from JSON, so numbers are float64 and arrays are []any.

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", services.NewValidationError(key, "required")
	}
	s, ok := v.(string)
	if !ok {
		return "", services.NewValidationError(key, "must be a string")
	}
	if s == "" {
		return "", services.NewValidationError(key, "must not be empty")
	}
	return s, nil
}

func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", services.NewValidationError(key, "must be a string")
	}
	return s, nil
}

func optionalBool(args map[string]any, key string, def bool) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return def, services.NewValidationError(key, "must be a boolean")
	}
	return b, nil
}

func optionalInt(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return def, services.NewValidationError(key, "must be an integer")
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return def, services.NewValidationError(key, "must be an integer")
	}
}

func optionalFloat(args map[string]any, key string) (*float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case float64:
		return &n, nil
	case int:
		f := float64(n)
		return &f, nil
	default:
		return nil, services.NewValidationError(key, "must be a number")
	}
}

func optionalStringSlice(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, services.NewValidationError(key, "must be an array of strings")
	}
	out := make([]string, 0, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, services.NewValidationError(key, fmt.Sprintf("element %d must be a string", i))
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalMap(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, services.NewValidationError(key, "must be an object")
	}
	return m, nil
}

func requireFloat(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, services.NewValidationError(key, "required")
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, services.NewValidationError(key, "must be a number")
	}
}

func optionalIntPtr(args map[string]any, key string) (*int, error) {
	if _, ok := args[key]; !ok || args[key] == nil {
		return nil, nil
	}
	n, err := optionalInt(args, key, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func optionalTime(args map[string]any, key string) (*time.Time, error) {
	s, err := optionalString(args, key)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, services.NewValidationError(key, "must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// decodeObject unmarshals an object argument into dst via a JSON round-trip.
// Returns false when the key is absent.
func decodeObject(args map[string]any, key string, dst any) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return false, nil
	}
	if _, isMap := v.(map[string]any); !isMap {
		return false, services.NewValidationError(key, "must be an object")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false, services.NewValidationError(key, "must be a JSON object")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, services.NewValidationError(key, "malformed object")
	}
	return true, nil
}

// pageFromArgs decodes the shared keyset-pagination arguments: limit plus an
// opaque cursor of {created_at, id} echoed back from a previous page.
func pageFromArgs(args map[string]any) (models.Keyset, error) {
	var page models.Keyset
	limit, err := optionalInt(args, "limit", 0)
	if err != nil {
		return page, err
	}
	page.Limit = limit
	cursor, err := optionalMap(args, "cursor")
	if err != nil {
		return page, err
	}
	if cursor != nil {
		t, err := optionalTime(cursor, "created_at")
		if err != nil {
			return page, services.NewValidationError("cursor", "created_at must be an RFC 3339 timestamp")
		}
		id, err := optionalString(cursor, "id")
		if err != nil {
			return page, services.NewValidationError("cursor", "id must be a string")
		}
		page.CreatedAt = t
		page.ID = id
	}
	return page, nil
}

// opID extracts the client-supplied idempotency key, if any. WAL replay
// always sends one; interactive callers may omit it.
func opID(args map[string]any) (string, error) {
	return optionalString(args, "op_id")
}
