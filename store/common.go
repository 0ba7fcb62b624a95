package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxJSONDepth and MaxJSONBytes bound JSON-valued columns (metadata, slots,
// template context). Payloads beyond either bound are rejected before any
// write is attempted.
const (
	MaxJSONDepth = 10
	MaxJSONBytes = 100 * 1024
)

// NewID returns a fresh opaque identifier for an entity row.
func NewID() string {
	return uuid.NewString()
}

// NowTs returns the current unix timestamp in seconds.
func NowTs() int64 {
	return time.Now().Unix()
}

// ValidateJSONValue checks a JSON-valued field against the depth and size
// bounds. A nil value is valid.
func ValidateJSONValue(v any) error {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "metadata is not serializable")
	}
	if len(raw) > MaxJSONBytes {
		return errors.Errorf("metadata exceeds %d bytes", MaxJSONBytes)
	}
	if depth := jsonDepth(v, 1); depth > MaxJSONDepth {
		return errors.Errorf("metadata exceeds nesting depth %d", MaxJSONDepth)
	}
	return nil
}

func jsonDepth(v any, depth int) int {
	max := depth
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if d := jsonDepth(child, depth+1); d > max {
				max = d
			}
		}
	case []any:
		for _, child := range t {
			if d := jsonDepth(child, depth+1); d > max {
				max = d
			}
		}
	}
	return max
}
