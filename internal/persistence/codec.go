package persistence

import (
	"bytes"
	"encoding/gob"

	"github.com/petrijr/flowpick/pkg/api"
)

// encodeTasks serializes a transition's task attachments with encoding/gob.
// nil and empty slices encode to nil so the column stays NULL.
func encodeTasks(tasks []api.TaskRef) ([]byte, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(tasks); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeTasks is the inverse of encodeTasks.
func decodeTasks(data []byte) ([]api.TaskRef, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var tasks []api.TaskRef
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// encodeGob serializes a typed record payload (used by the Redis store).
func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGob is the inverse of encodeGob.
func decodeGob[T any](data []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}
