package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config tunes a RedisQueue.
type Config struct {
	Workers    int           // concurrent handlers
	RetryLimit int           // retries before a message goes to the dead letter list
	RetryDelay time.Duration // first retry delay, doubled per attempt
	PollWait   time.Duration // BLMOVE block time
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

// ParsePayload decodes a message payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var result T
	if len(payload) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &result, nil
}
