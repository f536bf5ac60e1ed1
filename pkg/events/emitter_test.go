package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type failingSink struct{}

func (failingSink) Publish(context.Context, ...Event) error { return errors.New("broker down") }

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestEmitter_Emit(t *testing.T) {
	sink := NewMemorySink()
	emitter := NewEmitter(sink, testLogger())
	meta := Meta{BatchID: "b-1", SourceID: "ec", LoadID: "l-1"}

	err := emitter.Emit(context.Background(), meta,
		[]models.Registry{models.RegistryROR},
		[]EntityRef{{ID: "e-1", Name: "Ghent University"}},
		nil,
		[]TransferRef{{ID: "t-1", EmitterID: "e-0", RecipientID: "e-1"}},
	)
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, TypeEntitiesCreated, events[0].Type)
	assert.Equal(t, []models.Registry{models.RegistryROR}, events[0].Registries)
	assert.Equal(t, TypeTransfersCreated, events[1].Type)
	assert.Equal(t, "b-1", events[1].Key())
	assert.Equal(t, SchemaVersion, events[1].SchemaVersion)
	assert.NotEmpty(t, events[1].ID)
}

func TestEmitter_NothingToEmit(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, NewEmitter(sink, testLogger()).Emit(context.Background(), Meta{BatchID: "b-1"}, nil, nil, nil, nil))
	assert.Empty(t, sink.Events())
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	mem := NewMemorySink()
	multi := MultiSink{failingSink{}, mem}

	err := multi.Publish(context.Background(), Event{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, mem.Events(), 1, "later sinks still receive the event")
}
