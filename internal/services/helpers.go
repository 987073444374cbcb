package services

import (
	"context"
	"encoding/json"
	"strings"

	"gorm.io/datatypes"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func clampPage(limit, offset, fallback, ceiling int) (int, int) {
	if limit <= 0 || limit > ceiling {
		limit = fallback
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func requireID(value string) (string, bool) {
	value = strings.TrimSpace(value)
	return value, value != ""
}
