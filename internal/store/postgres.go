// Package store persists the ingestion corpus in postgres.
package store

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/dataloadsource"
	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/identifier"
	"github.com/Ramsey-B/fern/internal/repositories/transfer"
	"github.com/Ramsey-B/fern/pkg/corpus"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/ingestion"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var _ ingestion.Store = (*Postgres)(nil)

// Postgres is an ingestion.Store over the repositories.
type Postgres struct {
	db          database.DB
	logger      ectologger.Logger
	loads       *dataloadsource.Repository
	entities    *entity.Repository
	identifiers *identifier.Repository
	transfers   *transfer.Repository
}

func NewPostgres(db database.DB, logger ectologger.Logger) *Postgres {
	return &Postgres{
		db:          db,
		logger:      logger,
		loads:       dataloadsource.NewRepository(db, logger),
		entities:    entity.NewRepository(db, logger),
		identifiers: identifier.NewRepository(db, logger),
		transfers:   transfer.NewRepository(db, logger),
	}
}

// Identifiers exposes the identifier repository to the refresh job.
func (p *Postgres) Identifiers() *identifier.Repository {
	return p.identifiers
}

func (p *Postgres) Transfers() *transfer.Repository {
	return p.transfers
}

func (p *Postgres) Entities() *entity.Repository {
	return p.entities
}

func (p *Postgres) LoadSnapshot(ctx context.Context) (corpus.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "store.Postgres.LoadSnapshot")
	defer span.End()

	var (
		snap corpus.Snapshot
		err  error
	)
	if snap.Loads, err = p.loads.List(ctx); err != nil {
		return snap, err
	}
	if snap.Entities, err = p.entities.List(ctx); err != nil {
		return snap, err
	}
	if snap.Identifiers, err = p.identifiers.List(ctx); err != nil {
		return snap, err
	}
	if snap.OpenMatchings, err = p.identifiers.OpenMatchings(ctx); err != nil {
		return snap, err
	}
	if snap.Transfers, err = p.transfers.List(ctx); err != nil {
		return snap, err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"loads":       len(snap.Loads),
		"entities":    len(snap.Entities),
		"identifiers": len(snap.Identifiers),
		"transfers":   len(snap.Transfers),
	}).Debug("Loaded corpus snapshot")
	return snap, nil
}

// Flush applies deletions first, then upserts. Foreign keys are deferred to commit, so rows may
// reference each other in any order within the change set.
func (p *Postgres) Flush(ctx context.Context, cs corpus.ChangeSet) error {
	ctx, span := tracing.StartSpan(ctx, "store.Postgres.Flush")
	defer span.End()

	return p.WithinTx(ctx, func(ctx context.Context) error {
		if err := p.transfers.Delete(ctx, cs.DeletedTransferIDs); err != nil {
			return err
		}
		if err := p.loads.Delete(ctx, cs.DeletedLoadIDs); err != nil {
			return err
		}
		if err := p.loads.Upsert(ctx, cs.Loads); err != nil {
			return err
		}
		if err := p.entities.Upsert(ctx, cs.Entities); err != nil {
			return err
		}
		if err := p.identifiers.Upsert(ctx, cs.Identifiers); err != nil {
			return err
		}
		if err := p.identifiers.UpsertMatchings(ctx, cs.IdentifierMatchings); err != nil {
			return err
		}
		if err := p.transfers.Upsert(ctx, cs.Transfers); err != nil {
			return err
		}
		if err := p.transfers.LinkLoads(ctx, cs.TransferLoads); err != nil {
			return err
		}
		return p.transfers.InsertMatchings(ctx, cs.TransferMatchings)
	})
}

// WithinTx joins the transaction carried by ctx or opens one.
func (p *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithinTx(ctx, p.db, fn)
}
