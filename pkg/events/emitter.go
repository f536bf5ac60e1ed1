package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, events ...Event) error
}

// Meta identifies the batch an event belongs to.
type Meta struct {
	BatchID  string
	SourceID string
	LoadID   string
}

// Emitter builds events and hands them to a sink
type Emitter struct {
	sink   Sink
	logger ectologger.Logger
	now    func() time.Time
}

// NewEmitter creates a new event emitter
func NewEmitter(sink Sink, logger ectologger.Logger) *Emitter {
	return &Emitter{
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Emitter) newEvent(meta Meta, t Type) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          t,
		SchemaVersion: SchemaVersion,
		BatchID:       meta.BatchID,
		SourceID:      meta.SourceID,
		LoadID:        meta.LoadID,
		Timestamp:     e.now(),
	}
}

// Emit publishes the batch signals, skipping the ones with nothing to report.
func (e *Emitter) Emit(ctx context.Context, meta Meta, registries []models.Registry, entities []EntityRef, merges []MergeRef, transfers []TransferRef) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Emit")
	defer span.End()

	var out []Event
	if len(entities) > 0 {
		ev := e.newEvent(meta, TypeEntitiesCreated)
		ev.Registries = registries
		ev.Entities = entities
		out = append(out, ev)
	}
	if len(merges) > 0 {
		ev := e.newEvent(meta, TypeEntitiesMerged)
		ev.Merges = merges
		out = append(out, ev)
	}
	if len(transfers) > 0 {
		ev := e.newEvent(meta, TypeTransfersCreated)
		ev.Transfers = transfers
		out = append(out, ev)
	}
	if len(out) == 0 {
		return nil
	}

	if err := e.sink.Publish(ctx, out...); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("batch_id", meta.BatchID).Error("Failed to emit batch events")
		return err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id":  meta.BatchID,
		"events":    len(out),
		"entities":  len(entities),
		"merges":    len(merges),
		"transfers": len(transfers),
	}).Debug("Emitted batch events")
	return nil
}

// MemorySink keeps published events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(_ context.Context, events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
