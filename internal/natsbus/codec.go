package natsbus

import "encoding/json"

func marshalOrNil(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
