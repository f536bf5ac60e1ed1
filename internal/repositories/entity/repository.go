package entity

import (
	"context"

	"github.com/Gobusters/ectologger"
	pkgerrors "github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	table = "entities"
	// 17 columns per row keeps a chunk well under the 65535 bind parameter limit
	chunkSize = 2000
)

var columns = []string{
	"id", "raw_name", "raw_country", "raw_website", "name", "country", "website", "short_name",
	"description", "latitude", "longitude", "merged_with", "merge_criteria", "is_active", "is_matchable",
	"created_at", "updated_at",
}

// created_at is kept from the first insert
var updateColumns = append(append([]string{}, columns[1:len(columns)-2]...), "updated_at")

// Repository persists entities
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// List returns every entity in insertion order
func (r *Repository) List(ctx context.Context) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).OrderBy("seq")

	query, args := sb.Build()
	var entities []models.Entity
	if err := r.db.Conn(ctx).SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list entities")
		return nil, pkgerrors.Wrap(err, "failed to list entities")
	}
	return entities, nil
}

func (r *Repository) Upsert(ctx context.Context, entities []models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Upsert")
	defer span.End()

	for _, chunk := range database.Chunk(entities, chunkSize) {
		ib := database.NewInsertBuilder().InsertInto(table).Cols(columns...)
		for _, e := range chunk {
			ib.Values(e.ID, e.RawName, e.RawCountry, e.RawWebsite, e.Name, e.Country, e.Website, e.ShortName,
				e.Description, e.Latitude, e.Longitude, e.MergedWith, e.MergeCriteria, e.IsActive, e.IsMatchable,
				e.CreatedAt, e.UpdatedAt)
		}
		ib.OnConflictUpdate([]string{"id"}, updateColumns...)

		query, args := ib.Build()
		if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("count", len(chunk)).Error("Failed to upsert entities")
			return pkgerrors.Wrap(err, "failed to upsert entities")
		}
	}
	return nil
}
