package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	HeaderBatchID       = "batch_id"
	HeaderSourceID      = "source_id"
	HeaderDryRun        = "dry_run"
	HeaderEventType     = "event_type"
	HeaderSchemaVersion = "schema_version"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	Batch *models.Batch
}

// ParseBatch decodes the value as a prepared batch. A missing batch id falls back to the header, then the key.
func (m *IncomingMessage) ParseBatch() error {
	var batch models.Batch
	if err := json.Unmarshal(m.Value, &batch); err != nil {
		return fmt.Errorf("decode batch at offset %d: %w", m.Offset, err)
	}
	if batch.ID == "" {
		batch.ID = m.Headers[HeaderBatchID]
	}
	if batch.ID == "" {
		batch.ID = m.Key
	}
	m.Batch = &batch
	return nil
}

// IsDryRun reports whether the producer asked for a rolled-back run.
func (m *IncomingMessage) IsDryRun() bool {
	v, err := strconv.ParseBool(m.Headers[HeaderDryRun])
	return err == nil && v
}
