package dataloadsource

import (
	"context"

	"github.com/Gobusters/ectologger"
	pkgerrors "github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "data_load_sources"

var columns = []string{"id", "source_id", "year", "full_data", "created_at"}

// Repository persists data load sources
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// List returns every load, oldest first
func (r *Repository) List(ctx context.Context) ([]models.DataLoadSource, error) {
	ctx, span := tracing.StartSpan(ctx, "dataloadsource.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).OrderBy("seq")

	query, args := sb.Build()
	var loads []models.DataLoadSource
	if err := r.db.Conn(ctx).SelectContext(ctx, &loads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list data load sources")
		return nil, pkgerrors.Wrap(err, "failed to list data load sources")
	}
	return loads, nil
}

func (r *Repository) Upsert(ctx context.Context, loads []models.DataLoadSource) error {
	ctx, span := tracing.StartSpan(ctx, "dataloadsource.Repository.Upsert")
	defer span.End()

	if len(loads) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder().InsertInto(table).Cols(columns...)
	for _, l := range loads {
		ib.Values(l.ID, l.SourceID, l.Year, l.FullData, l.CreatedAt)
	}
	ib.OnConflictUpdate([]string{"id"}, "source_id", "year", "full_data")

	query, args := ib.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(loads)).Error("Failed to upsert data load sources")
		return pkgerrors.Wrap(err, "failed to upsert data load sources")
	}
	return nil
}

// Delete removes loads. Their transfer links go with them.
func (r *Repository) Delete(ctx context.Context, ids []string) error {
	ctx, span := tracing.StartSpan(ctx, "dataloadsource.Repository.Delete")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	dlb := database.NewDeleteBuilder()
	dlb.DeleteFrom(table).Where(dlb.In("id", toAny(ids)...))

	query, args := dlb.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(ids)).Error("Failed to delete data load sources")
		return pkgerrors.Wrap(err, "failed to delete data load sources")
	}
	return nil
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
