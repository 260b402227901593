package storage

import (
	"encoding/json"
	"fmt"
)

func jsonMarshalAck(ack PersistenceAck) ([]byte, error) {
	raw, err := json.Marshal(ack)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal ack: %w", err)
	}
	return raw, nil
}
