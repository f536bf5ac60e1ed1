package identifier

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	pkgerrors "github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	table         = "identifiers"
	matchingTable = "identifier_entity_matchings"
	chunkSize     = 5000
)

var (
	columns         = []string{"id", "registry_id", "value", "entity_id", "current_version_id", "created_at", "updated_at"}
	matchingColumns = []string{"id", "identifier_id", "entity_id", "date_start", "date_end", "match_criteria", "match_source", "comments"}
)

// Repository persists identifiers and their entity attachment history
type Repository struct {
	db     database.DB
	logger ectologger.Logger
	now    func() time.Time
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger, now: time.Now}
}

func (r *Repository) List(ctx context.Context) ([]models.Identifier, error) {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).OrderBy("seq")

	query, args := sb.Build()
	var identifiers []models.Identifier
	if err := r.db.Conn(ctx).SelectContext(ctx, &identifiers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list identifiers")
		return nil, pkgerrors.Wrap(err, "failed to list identifiers")
	}
	return identifiers, nil
}

func (r *Repository) Upsert(ctx context.Context, identifiers []models.Identifier) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.Upsert")
	defer span.End()

	for _, chunk := range database.Chunk(identifiers, chunkSize) {
		ib := database.NewInsertBuilder().InsertInto(table).Cols(columns...)
		for _, i := range chunk {
			ib.Values(i.ID, i.RegistryID, i.Value, i.EntityID, i.CurrentVersionID, i.CreatedAt, i.UpdatedAt)
		}
		ib.OnConflictUpdate([]string{"id"}, "entity_id", "current_version_id", "updated_at")

		query, args := ib.Build()
		if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("count", len(chunk)).Error("Failed to upsert identifiers")
			return pkgerrors.Wrap(err, "failed to upsert identifiers")
		}
	}
	return nil
}

// OpenMatchings returns the current attachment of every attached identifier
func (r *Repository) OpenMatchings(ctx context.Context) ([]models.IdentifierEntityMatching, error) {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.OpenMatchings")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(matchingColumns...).From(matchingTable).Where(sb.IsNull("date_end")).OrderBy("seq")

	query, args := sb.Build()
	var matchings []models.IdentifierEntityMatching
	if err := r.db.Conn(ctx).SelectContext(ctx, &matchings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list identifier matchings")
		return nil, pkgerrors.Wrap(err, "failed to list identifier matchings")
	}
	return matchings, nil
}

// UpsertMatchings writes closed intervals before open ones so a handover never holds two open rows.
func (r *Repository) UpsertMatchings(ctx context.Context, matchings []models.IdentifierEntityMatching) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.UpsertMatchings")
	defer span.End()

	var closed, open []models.IdentifierEntityMatching
	for _, m := range matchings {
		if m.DateEnd != nil {
			closed = append(closed, m)
		} else {
			open = append(open, m)
		}
	}

	for _, group := range [][]models.IdentifierEntityMatching{closed, open} {
		for _, chunk := range database.Chunk(group, chunkSize) {
			ib := database.NewInsertBuilder().InsertInto(matchingTable).Cols(matchingColumns...)
			for _, m := range chunk {
				ib.Values(m.ID, m.IdentifierID, m.EntityID, m.DateStart, m.DateEnd, m.MatchCriteria, m.MatchSource, m.Comments)
			}
			ib.OnConflictUpdate([]string{"id"}, "date_end", "match_criteria", "match_source", "comments")

			query, args := ib.Build()
			if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
				r.logger.WithContext(ctx).WithError(err).WithField("count", len(chunk)).Error("Failed to upsert identifier matchings")
				return pkgerrors.Wrap(err, "failed to upsert identifier matchings")
			}
		}
	}
	return nil
}

// StaleIdentifiers returns identifiers of registry never refreshed first, then least recently updated.
func (r *Repository) StaleIdentifiers(ctx context.Context, registry models.Registry, limit int) ([]models.Identifier, error) {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.StaleIdentifiers")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = 100
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).
		Where(sb.Equal("registry_id", registry)).
		OrderBy("current_version_id IS NOT NULL", "updated_at", "seq").
		Limit(limit)

	query, args := sb.Build()
	var identifiers []models.Identifier
	if err := r.db.Conn(ctx).SelectContext(ctx, &identifiers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("registry", registry).Error("Failed to list stale identifiers")
		return nil, pkgerrors.Wrap(err, "failed to list stale identifiers")
	}
	return identifiers, nil
}

func (r *Repository) SetCurrentVersion(ctx context.Context, identifierID, versionID string) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.SetCurrentVersion")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table).
		Set(ub.Assign("current_version_id", versionID), ub.Assign("updated_at", r.now().UTC())).
		Where(ub.Equal("id", identifierID))

	query, args := ub.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("identifier_id", identifierID).Error("Failed to set identifier version")
		return pkgerrors.Wrap(err, "failed to set identifier version")
	}
	return nil
}
