package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/ingestion"
	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func batchMessage(t *testing.T, offset int64, id string, headers ...kafka.Header) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.Batch{
		ID:   id,
		Load: models.DataLoadSource{ID: "load-" + id, SourceID: "ec"},
	})
	require.NoError(t, err)
	return kafka.Message{Topic: "prepared-batches", Offset: offset, Key: []byte(id), Value: value, Headers: headers}
}

func TestConsumer_CommitPolicy(t *testing.T) {
	reader := &fakeReader{}
	reader.messages = []kafka.Message{
		batchMessage(t, 1, "ok"),
		{Topic: "prepared-batches", Offset: 2, Value: []byte("{not json")},
		batchMessage(t, 3, "invalid"),
		batchMessage(t, 4, "db-down"),
	}

	var seen []string
	handler := func(_ context.Context, msg *IncomingMessage) error {
		seen = append(seen, msg.Batch.ID)
		switch msg.Batch.ID {
		case "invalid":
			return fernerrors.NewValidationError("batch has no rows")
		case "db-down":
			return errors.New("connection reset")
		}
		return nil
	}

	consumer := &Consumer{reader: reader, topic: "prepared-batches", logger: testLogger(), handler: handler}
	consumer.wg.Add(1)
	consumer.consumeLoop(context.Background())

	assert.Equal(t, []string{"ok", "invalid", "db-down"}, seen)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed, "retryable failures stay uncommitted")
}

func TestIncomingMessage_ParseBatch(t *testing.T) {
	msg := &IncomingMessage{
		Key:     "key-1",
		Value:   []byte(`{"load":{"id":"l1","source_id":"ec"},"rows":[]}`),
		Headers: map[string]string{HeaderDryRun: "true"},
	}
	require.NoError(t, msg.ParseBatch())
	assert.Equal(t, "key-1", msg.Batch.ID)
	assert.True(t, msg.IsDryRun())

	msg.Headers[HeaderBatchID] = "header-id"
	require.NoError(t, msg.ParseBatch())
	assert.Equal(t, "header-id", msg.Batch.ID)

	msg.Headers[HeaderDryRun] = "nope"
	assert.False(t, msg.IsDryRun())
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	producer := &Producer{writer: w, logger: testLogger(), topic: "fern-events"}

	var sink events.Sink = producer
	err := sink.Publish(context.Background(),
		events.Event{ID: "e1", Type: events.TypeEntitiesCreated, SchemaVersion: events.SchemaVersion, BatchID: "b1", SourceID: "ec"},
		events.Event{ID: "e2", Type: events.TypeTransfersCreated, SchemaVersion: events.SchemaVersion, BatchID: "b1", SourceID: "ec"},
	)
	require.NoError(t, err)
	require.Len(t, w.messages, 2)

	first := w.messages[0]
	assert.Equal(t, "b1", string(first.Key))
	headers := map[string]string{}
	for _, h := range first.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, string(events.TypeEntitiesCreated), headers[HeaderEventType])
	assert.Equal(t, "1.0", headers[HeaderSchemaVersion])

	var decoded events.Event
	require.NoError(t, json.Unmarshal(first.Value, &decoded))
	assert.Equal(t, "e1", decoded.ID)

	w.err = errors.New("broker unavailable")
	assert.Error(t, producer.Publish(context.Background(), events.Event{ID: "e3"}))
	assert.NoError(t, producer.Publish(context.Background()))
}

type fakeIngester struct {
	batches []string
	dryRun  []bool
}

func (f *fakeIngester) Ingest(_ context.Context, batch models.Batch, opts ...ingestion.IngestOption) (*ingestion.Result, error) {
	f.batches = append(f.batches, batch.ID)
	f.dryRun = append(f.dryRun, len(opts) > 0)
	return &ingestion.Result{BatchID: batch.ID}, nil
}

func TestIngestHandler(t *testing.T) {
	ingester := &fakeIngester{}
	runner := jobs.NewRunner(jobs.NewLocalLocker(), testLogger(), jobs.Config{RescheduleBackoff: time.Millisecond})
	handler := IngestHandler(runner, ingester, testLogger())

	msg := &IncomingMessage{Batch: &models.Batch{ID: "b1"}, Headers: map[string]string{HeaderDryRun: "true"}}
	require.NoError(t, handler(context.Background(), msg))

	msg = &IncomingMessage{Batch: &models.Batch{ID: "b2"}, Headers: map[string]string{}}
	require.NoError(t, handler(context.Background(), msg))

	assert.Equal(t, []string{"b1", "b2"}, ingester.batches)
	assert.Equal(t, []bool{true, false}, ingester.dryRun)
}
