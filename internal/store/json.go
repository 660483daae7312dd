package store

import "encoding/json"

// toJSONB marshals v for storage in a jsonb column. pgx sends jsonb
// parameters as plain bytes, so callers pass the result of this helper
// instead of a bare Go value.
func toJSONB(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// parseErrorColumn decodes a nullable jsonb error column scanned as raw
// bytes. A nil/empty slice (SQL NULL) maps to a nil *StoredError.
func parseErrorColumn(raw []byte) (*StoredError, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var e StoredError
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
