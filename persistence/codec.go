package persistence

import "encoding/json"

// EncodeRecord renders a storage record (run, escalation) in its canonical
// json wire form. Both backends write through it so records stay portable
// between redis and badger.
func EncodeRecord[T any](record T) ([]byte, error) {
	return json.Marshal(record)
}

// DecodeRecord parses a record previously written by EncodeRecord.
func DecodeRecord[T any](data []byte) (*T, error) {
	var record T
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
