package record

import (
	"encoding/json"
	"time"
)

// DLQMessage wraps a record that could not be processed so it can be
// inspected or replayed. OriginalValue is base64 on the wire.
type DLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int    `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key,omitempty"`
	OriginalValue     []byte `json:"original_value"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
	ErrorKind         string `json:"error_kind"`
	ErrorMessage      string `json:"error_message"`
}

// NewDLQMessage builds a wrapper for the given raw record and failure.
func NewDLQMessage(topic string, partition int, offset int64, key, value []byte, retries int, kind, msg string) *DLQMessage {
	return &DLQMessage{
		OriginalTopic:     topic,
		OriginalPartition: partition,
		OriginalOffset:    offset,
		OriginalKey:       string(key),
		OriginalValue:     value,
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        retries,
		ErrorKind:         kind,
		ErrorMessage:      msg,
	}
}

// Encode serializes the wrapper for publication.
func (d *DLQMessage) Encode() ([]byte, error) { return json.Marshal(d) }
