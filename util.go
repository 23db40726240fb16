package tinybase

import "encoding/json"

func loggableVal(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "<unprintable>"
	}
	return string(raw)
}
