package push

import (
	"encoding/json"
	"fmt"
)

// MarshalTask encodes a Task for the push-tasks stream.
func MarshalTask(t Task) ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("push: marshal task: %w", err)
	}
	return raw, nil
}

// UnmarshalTask decodes a Task read off the push-tasks stream.
func UnmarshalTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("push: unmarshal task: %w", err)
	}
	return t, nil
}
