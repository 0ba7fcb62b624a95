package sqlite

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// marshalJSON serializes a JSON-valued column, mapping nil to its empty form
// so columns stay NOT NULL.
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal json column")
	}
	return string(raw), nil
}

func marshalStringSlice(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	return marshalJSON(v)
}

func unmarshalJSON(raw string, out any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errors.Wrap(err, "failed to unmarshal json column")
	}
	return nil
}
