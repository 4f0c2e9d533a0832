package persistence

import (
	"encoding/json"

	"github.com/jalehto/virta/pkg/api"
)

// Instance state and audit payloads are stored as JSON. The state is an
// open map of business fields that is also served over the HTTP surface, so
// the stored form must round-trip exactly with the wire form.

func encodeState(st api.State) ([]byte, error) {
	if st == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(st)
}

func decodeState(data []byte) (api.State, error) {
	if len(data) == 0 {
		return api.State{}, nil
	}
	var st api.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st == nil {
		st = api.State{}
	}
	return st, nil
}

func encodePayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

func decodePayload(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
