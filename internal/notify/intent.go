// Package notify delivers queue notifications to an Expo-compatible
// push endpoint. Intents are buffered through a queue (in-memory or
// SQS), drained by a worker pool, batched up to the transport limit,
// and retried a bounded number of times. Delivery is best-effort:
// failures are logged and never propagated to the engine.
package notify

import (
	"encoding/json"
	"fmt"
)

// Intent is one outbound push notification built after a queue
// transaction commits.
type Intent struct {
	To    string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// encodeIntents serializes a batch for the intent queue.
func encodeIntents(intents []Intent) (string, error) {
	raw, err := json.Marshal(intents)
	if err != nil {
		return "", fmt.Errorf("notify: encode intents: %w", err)
	}
	return string(raw), nil
}

func decodeIntents(body string) ([]Intent, error) {
	var intents []Intent
	if err := json.Unmarshal([]byte(body), &intents); err != nil {
		return nil, fmt.Errorf("notify: decode intents: %w", err)
	}
	return intents, nil
}
