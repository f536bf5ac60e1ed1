package transfer

import (
	"context"

	"github.com/Gobusters/ectologger"
	pkgerrors "github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	table         = "transfers"
	loadTable     = "transfer_data_load_sources"
	matchingTable = "transfer_entity_matchings"
	chunkSize     = 1000
)

var matchingColumns = []string{
	"id", "transfer_id", "entity_id", "original_entity_id", "role", "match_criteria", "match_source", "comments", "created_at",
}

// created_at is kept from the first insert
var updateColumns = append(append([]string{}, columns[1:len(columns)-2]...), "updated_at")

// Repository persists transfers, their load links and their entity matchings
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// List returns every transfer in insertion order, with the loads that reported it
func (r *Repository) List(ctx context.Context) ([]models.Transfer, error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).OrderBy("seq")

	query, args := sb.Build()
	var rows []row
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list transfers")
		return nil, pkgerrors.Wrap(err, "failed to list transfers")
	}

	loads, err := r.listLoads(ctx)
	if err != nil {
		return nil, err
	}

	transfers := make([]models.Transfer, len(rows))
	for i, rw := range rows {
		transfers[i] = rw.toModel(loads[rw.ID])
	}
	return transfers, nil
}

func (r *Repository) listLoads(ctx context.Context) (map[string][]string, error) {
	sb := database.NewSelectBuilder()
	sb.Select("transfer_id", "data_load_source_id").From(loadTable).OrderBy("transfer_id", "data_load_source_id")

	query, args := sb.Build()
	var links []models.TransferLoad
	if err := r.db.Conn(ctx).SelectContext(ctx, &links, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list transfer loads")
		return nil, pkgerrors.Wrap(err, "failed to list transfer loads")
	}

	out := make(map[string][]string)
	for _, l := range links {
		out[l.TransferID] = append(out[l.TransferID], l.DataLoadSourceID)
	}
	return out, nil
}

func (r *Repository) Upsert(ctx context.Context, transfers []models.Transfer) error {
	ctx, span := tracing.StartSpan(ctx, "transfer.Repository.Upsert")
	defer span.End()

	for _, chunk := range database.Chunk(transfers, chunkSize) {
		ib := database.NewInsertBuilder().InsertInto(table).Cols(columns...)
		for _, t := range chunk {
			ib.Values(toRow(t).values()...)
		}
		ib.OnConflictUpdate([]string{"id"}, updateColumns...)

		query, args := ib.Build()
		if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("count", len(chunk)).Error("Failed to upsert transfers")
			return pkgerrors.Wrap(err, "failed to upsert transfers")
		}
	}
	return nil
}

// Delete removes transfers. Load links and entity matchings cascade.
func (r *Repository) Delete(ctx context.Context, ids []string) error {
	ctx, span := tracing.StartSpan(ctx, "transfer.Repository.Delete")
	defer span.End()

	for _, chunk := range database.Chunk(ids, chunkSize*10) {
		dlb := database.NewDeleteBuilder()
		dlb.DeleteFrom(table).Where(dlb.In("id", toAny(chunk)...))

		query, args := dlb.Build()
		if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("count", len(chunk)).Error("Failed to delete transfers")
			return pkgerrors.Wrap(err, "failed to delete transfers")
		}
	}
	return nil
}

// LinkLoads records which loads reported which transfers. Existing links are kept.
func (r *Repository) LinkLoads(ctx context.Context, links []models.TransferLoad) error {
	ctx, span := tracing.StartSpan(ctx, "transfer.Repository.LinkLoads")
	defer span.End()

	for _, chunk := range database.Chunk(links, chunkSize*10) {
		ib := database.NewInsertBuilder().InsertInto(loadTable).Cols("transfer_id", "data_load_source_id")
		for _, l := range chunk {
			ib.Values(l.TransferID, l.DataLoadSourceID)
		}
		ib.OnConflictDoNothing()

		query, args := ib.Build()
		if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("count", len(chunk)).Error("Failed to link transfer loads")
			return pkgerrors.Wrap(err, "failed to link transfer loads")
		}
	}
	return nil
}

// InsertMatchings appends to the transfer/entity audit trail.
func (r *Repository) InsertMatchings(ctx context.Context, matchings []models.TransferEntityMatching) error {
	ctx, span := tracing.StartSpan(ctx, "transfer.Repository.InsertMatchings")
	defer span.End()

	for _, chunk := range database.Chunk(matchings, chunkSize*5) {
		ib := database.NewInsertBuilder().InsertInto(matchingTable).Cols(matchingColumns...)
		for _, m := range chunk {
			ib.Values(m.ID, m.TransferID, m.EntityID, m.OriginalEntityID, m.Role, m.MatchCriteria, m.MatchSource, m.Comments, m.CreatedAt)
		}
		ib.OnConflictDoNothing()

		query, args := ib.Build()
		if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("count", len(chunk)).Error("Failed to insert transfer matchings")
			return pkgerrors.Wrap(err, "failed to insert transfer matchings")
		}
	}
	return nil
}

// ListMatchings returns the audit trail of one transfer
func (r *Repository) ListMatchings(ctx context.Context, transferID string) ([]models.TransferEntityMatching, error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.Repository.ListMatchings")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(matchingColumns...).From(matchingTable).Where(sb.Equal("transfer_id", transferID)).OrderBy("created_at", "role")

	query, args := sb.Build()
	var matchings []models.TransferEntityMatching
	if err := r.db.Conn(ctx).SelectContext(ctx, &matchings, query, args...); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list transfer matchings")
	}
	return matchings, nil
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
