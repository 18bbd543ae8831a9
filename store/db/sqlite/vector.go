package sqlite

import (
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
)

// Vectors are stored as JSON-encoded float32 arrays. Similarity is computed
// in the application layer, so the column only needs to round-trip.

func vectorToJSON(vec []float32) (sql.NullString, error) {
	if len(vec) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "failed to marshal vector")
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func vectorFromJSON(raw sql.NullString) ([]float32, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw.String), &vec); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal vector")
	}
	return vec, nil
}

func int64sToJSON(ids []int64) string {
	if ids == nil {
		ids = []int64{}
	}
	raw, _ := json.Marshal(ids)
	return string(raw)
}

func int64sFromJSON(raw string) []int64 {
	var ids []int64
	if raw == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(raw), &ids)
	return ids
}

func stringsToJSON(values []string) string {
	if values == nil {
		values = []string{}
	}
	raw, _ := json.Marshal(values)
	return string(raw)
}

func stringsFromJSON(raw string) []string {
	var values []string
	if raw == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(raw), &values)
	return values
}
