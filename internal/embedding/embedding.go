// Package embedding contains the text embedders used to place element names
// in vector space, and the response handling they share.
package embedding

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyVector is returned when a provider answers without any values.
var ErrEmptyVector = errors.New("no embedding returned")

// ParseVector decodes a feature-extraction payload. Providers answer either
// with a flat vector or with a nested batch where the first row is the
// embedding of the single input; both are flattened to one vector.
func ParseVector(payload []byte) ([]float32, error) {
	var raw json.RawMessage = payload
	for depth := 0; depth < 4; depth++ {
		var rows []json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
		if len(rows) == 0 {
			return nil, ErrEmptyVector
		}
		var first float32
		if err := json.Unmarshal(rows[0], &first); err == nil {
			vec := make([]float32, len(rows))
			for i, r := range rows {
				if err := json.Unmarshal(r, &vec[i]); err != nil {
					return nil, fmt.Errorf("decode embedding value %d: %w", i, err)
				}
			}
			return vec, nil
		}
		raw = rows[0]
	}
	return nil, errors.New("embedding nested too deeply")
}
