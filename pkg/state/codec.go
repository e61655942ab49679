package state

import (
	"encoding/json"
	"fmt"
)

// Encode serialises a snapshot and its metadata for SQL-backed stores.
func Encode[T any](snapshot T, meta Meta) (payload []byte, metaJSON []byte, err error) {
	payload, err = json.Marshal(snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("state: encode snapshot: %w", err)
	}
	metaJSON, err = json.Marshal(meta)
	if err != nil {
		return nil, nil, fmt.Errorf("state: encode meta: %w", err)
	}
	return payload, metaJSON, nil
}

// Decode reverses Encode.
func Decode[T any](payload, metaJSON []byte) (T, Meta, error) {
	var snapshot T
	var meta Meta
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return snapshot, Meta{}, fmt.Errorf("state: decode snapshot: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return snapshot, Meta{}, fmt.Errorf("state: decode meta: %w", err)
		}
	}
	return snapshot, meta, nil
}
