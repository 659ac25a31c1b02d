package broker

import "encoding/json"

type Envelope struct {
	Version string          `json:"version"`
	Kind    string          `json:"kind"`
	Account string          `json:"account_id,omitempty"`
	Height  uint64          `json:"height"`
	Payload json.RawMessage `json:"payload"`
}
