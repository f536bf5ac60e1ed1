// Package ingestion runs one prepared batch through matching and merging as a single unit.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/corpus"
	"github.com/Ramsey-B/fern/pkg/currency"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/mergechain"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/report"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/validation"
)

var errDryRun = errors.New("dry run")

type Config struct {
	// ChainCap bounds merge chain walks.
	ChainCap          int
	DetachIdentifiers bool
	TransferMatcher   matching.TransferMatcherConfig
}

func DefaultConfig() Config {
	return Config{
		ChainCap:          mergechain.DefaultCap,
		DetachIdentifiers: merging.DefaultEntityMergerConfig().DetachIdentifiers,
		TransferMatcher:   matching.DefaultTransferMatcherConfig(),
	}
}

type Option func(*Coordinator)

// WithReportWriter stores the diagnostic of an ambiguous batch for manual review.
func WithReportWriter(w report.Writer) Option {
	return func(co *Coordinator) { co.reports = w }
}

// WithEmitter publishes completion signals after commit.
func WithEmitter(e *events.Emitter) Option {
	return func(co *Coordinator) { co.emitter = e }
}

// WithRates fills the multi-currency amount table of new transfers.
func WithRates(t *currency.Table) Option {
	return func(co *Coordinator) { co.rates = t }
}

// WithCorpusOptions is passed to every corpus the coordinator builds.
func WithCorpusOptions(opts ...corpus.Option) Option {
	return func(co *Coordinator) { co.corpusOpts = append(co.corpusOpts, opts...) }
}

type Coordinator struct {
	store           Store
	logger          ectologger.Logger
	config          Config
	entityMerger    *merging.EntityMerger
	transferMatcher *matching.TransferMatcher
	transferMerger  *merging.TransferMerger
	reports         report.Writer
	emitter         *events.Emitter
	rates           *currency.Table
	corpusOpts      []corpus.Option
}

func NewCoordinator(store Store, logger ectologger.Logger, config Config, opts ...Option) *Coordinator {
	if config.ChainCap <= 0 {
		config.ChainCap = mergechain.DefaultCap
	}
	co := &Coordinator{
		store:           store,
		logger:          logger,
		config:          config,
		entityMerger:    merging.NewEntityMerger(logger, merging.EntityMergerConfig{DetachIdentifiers: config.DetachIdentifiers}),
		transferMatcher: matching.NewTransferMatcher(logger, config.TransferMatcher),
		transferMerger:  merging.NewTransferMerger(logger),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Result summarizes what a batch changed.
type Result struct {
	BatchID          string
	LoadID           string
	ReplacedLoads    []string
	DeletedTransfers int
	Remerged         int
	EntitiesMatched  int
	EntitiesCreated  int
	EntitiesMerged   int
	TransfersCreated int
	TransfersMerged  int
	DryRun           bool
	Summary          corpus.Summary
}

type ingestOptions struct {
	dryRun bool
}

type IngestOption func(*ingestOptions)

// DryRun runs the whole batch and rolls it back.
func DryRun() IngestOption {
	return func(o *ingestOptions) { o.dryRun = true }
}

// Ingest validates and applies one batch. Either everything is committed or nothing is.
func (co *Coordinator) Ingest(ctx context.Context, batch models.Batch, opts ...IngestOption) (*Result, error) {
	ctx = fernctx.SetBatchID(ctx, batch.ID)
	ctx = fernctx.SetSourceID(ctx, batch.Load.SourceID)
	ctx, span := tracing.StartSpan(ctx, "ingestion.Coordinator.Ingest")
	defer span.End()

	var o ingestOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := co.logger.WithContext(ctx).WithFields(fernctx.Fields(ctx))
	start := time.Now()

	if err := validation.ValidateBatch(batch); err != nil {
		log.WithError(err).Warn("Rejected malformed batch")
		metrics.RecordBatch(batch.Load.SourceID, "invalid", time.Since(start).Seconds())
		return nil, err
	}

	var (
		result *Result
		c      *corpus.Corpus
		merged []models.MergeRequest
	)
	err := co.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		result, c, merged, err = co.ingest(ctx, batch)
		if err != nil {
			return err
		}
		if o.dryRun {
			return errDryRun
		}
		return nil
	})

	switch {
	case errors.Is(err, errDryRun):
		result.DryRun = true
		log.WithFields(resultFields(result)).Info("Dry run finished, batch rolled back")
		metrics.RecordBatch(batch.Load.SourceID, "dry_run", time.Since(start).Seconds())
		return result, nil
	case err != nil:
		co.writeReport(ctx, batch.ID, err)
		log.WithError(err).Error("Batch failed and was rolled back")
		metrics.RecordBatch(batch.Load.SourceID, outcome(err), time.Since(start).Seconds())
		return nil, err
	}

	metrics.RecordBatch(batch.Load.SourceID, "committed", time.Since(start).Seconds())
	metrics.RecordEntities("matched", result.EntitiesMatched)
	metrics.RecordEntities("created", result.EntitiesCreated)
	metrics.RecordEntities("merged", result.EntitiesMerged)
	metrics.RecordTransfers("created", result.TransfersCreated)
	metrics.RecordTransfers("merged", result.TransfersMerged)
	metrics.RecordTransfers("deleted", result.DeletedTransfers)
	metrics.RecordTransfers("remerged", result.Remerged)
	log.WithFields(resultFields(result)).Info("Batch committed")

	// signals go out only once the data is visible
	co.emit(ctx, c, events.Meta{BatchID: batch.ID, SourceID: batch.Load.SourceID, LoadID: result.LoadID}, merged)
	return result, nil
}

func (co *Coordinator) ingest(ctx context.Context, batch models.Batch) (*Result, *corpus.Corpus, []models.MergeRequest, error) {
	log := co.logger.WithContext(ctx).WithFields(fernctx.Fields(ctx))

	snap, err := co.store.LoadSnapshot(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	c, err := corpus.New(snap, co.config.ChainCap, co.corpusOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	log.WithFields(map[string]any{
		"entities":  len(snap.Entities),
		"transfers": len(snap.Transfers),
		"loads":     len(snap.Loads),
	}).Debug("Loaded corpus")

	// 1. supersession
	replaced, err := Supersede(c.Loads(), batch.Load)
	if err != nil {
		return nil, nil, nil, err
	}
	load := c.AddLoad(batch.Load)
	result := &Result{BatchID: batch.ID, LoadID: load.ID}
	for _, l := range replaced {
		result.ReplacedLoads = append(result.ReplacedLoads, l.ID)
	}

	// 2. retire replaced loads and re-dedup what they leave behind
	retired, err := co.retire(ctx, c, replaced)
	if err != nil {
		return nil, nil, nil, err
	}
	result.DeletedTransfers = len(retired.deleted)
	if len(retired.orphans) > 0 {
		pairs, err := co.transferMatcher.MatchBatch(ctx, c, retired.orphans)
		if err != nil {
			return nil, nil, nil, err
		}
		children, err := co.transferMerger.Merge(ctx, c, pairs)
		if err != nil {
			return nil, nil, nil, err
		}
		result.Remerged = len(children)
	}
	if err := co.flush(ctx, c, "supersession"); err != nil {
		return nil, nil, nil, err
	}

	// 3. entities
	entities, err := co.resolveEntities(ctx, c, load, batch.Rows)
	if err != nil {
		return nil, nil, nil, err
	}
	result.EntitiesMatched = entities.matched
	result.EntitiesCreated = entities.created
	result.EntitiesMerged = len(entities.merges.Merged)
	if err := co.flush(ctx, c, "entities"); err != nil {
		return nil, nil, nil, err
	}

	// 4. transfers
	created := co.createTransfers(ctx, c, load, batch.Rows, entities.resolved)
	result.TransfersCreated = len(created)
	if err := co.flush(ctx, c, "transfers"); err != nil {
		return nil, nil, nil, err
	}

	// 5. dedup against the corpus
	pairs, err := co.transferMatcher.MatchBatch(ctx, c, created)
	if err != nil {
		return nil, nil, nil, err
	}
	children, err := co.transferMerger.Merge(ctx, c, pairs)
	if err != nil {
		return nil, nil, nil, err
	}
	result.TransfersMerged = len(children)
	if err := co.flush(ctx, c, "merge"); err != nil {
		return nil, nil, nil, err
	}

	result.Summary = c.Summary()
	return result, c, entities.merges.Merged, nil
}

// MergeEntities applies merge requests outside of a batch, e.g. from manual review.
func (co *Coordinator) MergeEntities(ctx context.Context, requests []models.MergeRequest) (*merging.EntityMergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Coordinator.MergeEntities")
	defer span.End()

	for i, req := range requests {
		if req.EntityID == "" || req.MergedWithID == "" || req.MergeCriteria == "" {
			return nil, ferrors.NewValidationError("merge request needs entity_id, merged_with_id and merge_criteria").AddRow(i)
		}
	}

	var (
		result *merging.EntityMergeResult
		c      *corpus.Corpus
	)
	err := co.store.WithinTx(ctx, func(ctx context.Context) error {
		snap, err := co.store.LoadSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to load corpus: %w", err)
		}
		c, err = corpus.New(snap, co.config.ChainCap, co.corpusOpts...)
		if err != nil {
			return err
		}
		result, err = co.entityMerger.Merge(ctx, c, requests)
		if err != nil {
			return err
		}
		return co.flush(ctx, c, "entity_merge")
	})
	if err != nil {
		co.logger.WithContext(ctx).WithError(err).Error("Entity merge failed and was rolled back")
		return nil, err
	}

	metrics.RecordEntities("merged", len(result.Merged))
	co.emit(ctx, c, events.Meta{}, result.Merged)
	return result, nil
}

func (co *Coordinator) flush(ctx context.Context, c *corpus.Corpus, phase string) error {
	cs := c.Drain()
	if cs.IsEmpty() {
		return nil
	}
	start := time.Now()
	err := co.store.Flush(ctx, cs)
	metrics.RecordFlush(phase, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to flush %s changes: %w", phase, err)
	}
	co.logger.WithContext(ctx).WithFields(map[string]any{
		"phase":   phase,
		"records": cs.Size(),
	}).Debug("Flushed changes")
	return nil
}

// writeReport stores the diagnostic of a consistency failure and records where it went.
func (co *Coordinator) writeReport(ctx context.Context, batchID string, err error) {
	var cerr *ferrors.ConsistencyError
	if co.reports == nil || !errors.As(err, &cerr) || cerr.Report == nil {
		return
	}
	cerr.Report.BatchID = batchID
	path, werr := co.reports.Write(ctx, cerr.Report)
	if werr != nil {
		co.logger.WithContext(ctx).WithError(werr).Error("Failed to write diagnostic report")
		return
	}
	cerr.ReportPath = path
}

func (co *Coordinator) emit(ctx context.Context, c *corpus.Corpus, meta events.Meta, merged []models.MergeRequest) {
	if co.emitter == nil || c == nil {
		return
	}
	summary := c.Summary()

	entities := make([]events.EntityRef, 0, len(summary.EntityIDs))
	for _, id := range summary.EntityIDs {
		entities = append(entities, entityRef(c, id))
	}
	merges := make([]events.MergeRef, 0, len(merged))
	for _, m := range merged {
		merges = append(merges, events.MergeRef{EntityID: m.EntityID, MergedWithID: m.MergedWithID, Criteria: m.MergeCriteria})
	}
	transfers := make([]events.TransferRef, 0, len(summary.TransferIDs))
	for _, id := range summary.TransferIDs {
		transfers = append(transfers, transferRef(c, id))
	}

	if err := co.emitter.Emit(ctx, meta, summary.Registries, entities, merges, transfers); err != nil {
		// the batch is committed; consumers can rebuild from storage
		co.logger.WithContext(ctx).WithError(err).Warn("Batch committed but signals were not delivered")
	}
}

func entityRef(c *corpus.Corpus, id string) events.EntityRef {
	e := c.Entity(id)
	ref := events.EntityRef{ID: id, Name: deref(e.Name), Country: deref(e.Country), Website: deref(e.Website)}
	seen := map[models.Registry]bool{}
	for _, ident := range c.IdentifiersOf(id) {
		if !seen[ident.RegistryID] {
			seen[ident.RegistryID] = true
			ref.Registries = append(ref.Registries, ident.RegistryID)
		}
	}
	return ref
}

func transferRef(c *corpus.Corpus, id string) events.TransferRef {
	t := c.Transfer(id)
	ref := events.TransferRef{
		ID:          id,
		EmitterID:   deref(t.EmitterID),
		RecipientID: deref(t.RecipientID),
		AgentID:     deref(t.AgentID),
		Currency:    deref(t.Currency),
		HideAmount:  t.HideAmount,
		MergedFrom:  c.Parents(id),
	}
	if t.Amount.Valid {
		ref.Amount = t.Amount.Decimal.String()
	}
	if len(ref.MergedFrom) == 0 {
		ref.MergedFrom = nil
	}
	return ref
}

func outcome(err error) string {
	switch {
	case ferrors.IsValidationError(err):
		return "invalid"
	case ferrors.IsConsistencyError(err):
		return "inconsistent"
	case ferrors.IsBoundedIterationError(err):
		return "corrupt"
	}
	return "failed"
}

func resultFields(r *Result) map[string]any {
	return map[string]any{
		"load_id":           r.LoadID,
		"replaced_loads":    len(r.ReplacedLoads),
		"deleted_transfers": r.DeletedTransfers,
		"remerged":          r.Remerged,
		"entities_matched":  r.EntitiesMatched,
		"entities_created":  r.EntitiesCreated,
		"entities_merged":   r.EntitiesMerged,
		"transfers_created": r.TransfersCreated,
		"transfers_merged":  r.TransfersMerged,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
