package matching

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/fern/pkg/corpus"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/report"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	CriterionEmitter   Criterion = "emitter"
	CriterionRecipient Criterion = "recipient"
	CriterionAmount    Criterion = "amount"
)

type TransferMatcherConfig struct {
	// CrossCurrencyTolerance is the absolute difference allowed between a converted amount and the original.
	CrossCurrencyTolerance decimal.Decimal
	// SameCurrencyTolerance absorbs rounding noise between amounts in the same currency.
	SameCurrencyTolerance decimal.Decimal
}

func DefaultTransferMatcherConfig() TransferMatcherConfig {
	return TransferMatcherConfig{
		CrossCurrencyTolerance: decimal.NewFromFloat(0.1),
		SameCurrencyTolerance:  decimal.New(1, -6),
	}
}

type TransferMatcher struct {
	logger ectologger.Logger
	config TransferMatcherConfig
}

func NewTransferMatcher(logger ectologger.Logger, config TransferMatcherConfig) *TransferMatcher {
	defaults := DefaultTransferMatcherConfig()
	if config.CrossCurrencyTolerance.IsZero() {
		config.CrossCurrencyTolerance = defaults.CrossCurrencyTolerance
	}
	if config.SameCurrencyTolerance.IsZero() {
		config.SameCurrencyTolerance = defaults.SameCurrencyTolerance
	}
	return &TransferMatcher{logger: logger, config: config}
}

// Compare decides whether candidate a and existing b describe the same payment.
// On a mismatch it returns the first criterion that failed; date failures name the date field.
func (m *TransferMatcher) Compare(a, b *models.Transfer) (bool, Criterion) {
	if !sameEntity(a.EmitterID, b.EmitterID) {
		return false, CriterionEmitter
	}
	if !sameEntity(a.RecipientID, b.RecipientID) {
		return false, CriterionRecipient
	}

	for _, field := range models.DateFields {
		da, okA := a.Date(field)
		db, okB := b.Date(field)
		if okA && okB && !da.Equal(db) {
			return false, Criterion(field)
		}
	}

	if ok, field := containedIn(a, b); !ok {
		return false, Criterion(field)
	}
	if ok, field := containedIn(b, a); !ok {
		return false, Criterion(field)
	}

	if !m.sameAmount(a, b) {
		return false, CriterionAmount
	}
	return true, ""
}

func sameEntity(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

// containedIn checks dates reported only by x against y's [date_start, date_end] range.
// The first field that lands inside the range settles it.
func containedIn(x, y *models.Transfer) (bool, models.DateField) {
	start, okStart := y.Date(models.DateStart)
	end, okEnd := y.Date(models.DateEnd)
	if !okStart || !okEnd {
		return true, ""
	}

	for _, field := range models.DateFields {
		dx, okX := x.Date(field)
		if _, okY := y.Date(field); !okX || okY {
			continue
		}
		if !dx.Within(start, end) {
			return false, field
		}
		return true, ""
	}
	return true, ""
}

func (m *TransferMatcher) sameAmount(a, b *models.Transfer) bool {
	if a.Currency == nil || b.Currency == nil || !a.Amount.Valid || !b.Amount.Valid {
		return false
	}
	if *a.Currency == *b.Currency {
		return a.Amount.Decimal.Sub(b.Amount.Decimal).Abs().LessThanOrEqual(m.config.SameCurrencyTolerance)
	}
	converted, ok := b.AmountsInCurrencies[*a.Currency]
	if !ok {
		return false
	}
	return a.Amount.Decimal.Sub(converted).Abs().LessThanOrEqual(m.config.CrossCurrencyTolerance)
}

// Pair is an accepted match between a candidate transfer and an existing one.
type Pair struct {
	Candidate *models.Transfer
	Existing  *models.Transfer
}

type bucketKey struct {
	emitter   string
	recipient string
}

func keyOf(t *models.Transfer) (bucketKey, bool) {
	if t.EmitterID == nil || t.RecipientID == nil {
		return bucketKey{}, false
	}
	return bucketKey{emitter: *t.EmitterID, recipient: *t.RecipientID}, true
}

// MatchBatch compares every candidate against the canonical transfers of every other data source.
// Existing transfers are bucketed by (emitter, recipient) since both must be equal for a match.
// When any transfer takes part in more than one pair the whole batch is refused with a
// ConsistencyError carrying a diagnostic of every transfer involved.
func (m *TransferMatcher) MatchBatch(ctx context.Context, c *corpus.Corpus, candidateIDs []string) ([]Pair, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.TransferMatcher.MatchBatch")
	defer span.End()

	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"candidates": len(candidateIDs),
	})

	candidateOrder := make(map[string]int, len(candidateIDs))
	for i, id := range candidateIDs {
		candidateOrder[id] = i
	}

	buckets := map[bucketKey][]*models.Transfer{}
	for _, t := range c.CanonicalTransfers() {
		if key, ok := keyOf(t); ok {
			buckets[key] = append(buckets[key], t)
		}
	}

	var pairs []Pair
	compared := 0
	for i, id := range candidateIDs {
		a := c.Transfer(id)
		if a == nil || a.MergedInto != nil {
			continue
		}
		key, ok := keyOf(a)
		if !ok {
			continue
		}
		sourcesA := c.SourcesOf(a)

		for _, b := range buckets[key] {
			if b.ID == a.ID {
				continue
			}
			// candidates pair with each other only once
			if j, isCandidate := candidateOrder[b.ID]; isCandidate && j <= i {
				continue
			}
			if shareSource(sourcesA, c.SourcesOf(b)) {
				continue
			}
			compared++
			if ok, criterion := m.Compare(a, b); ok {
				pairs = append(pairs, Pair{Candidate: a, Existing: b})
			} else {
				log.WithFields(map[string]any{
					"candidate_id": a.ID,
					"existing_id":  b.ID,
					"criterion":    criterion,
				}).Debug("Transfers did not match")
			}
		}
	}

	if err := m.checkAmbiguity(ctx, c, pairs); err != nil {
		return nil, err
	}

	for _, p := range pairs {
		if c.IsMergeChild(p.Existing.ID) || c.IsMergeChild(p.Candidate.ID) {
			return nil, fernerrors.NewConsistencyError("transfer is already the result of a merge and cannot be merged again",
				p.Candidate.ID, p.Existing.ID).AddCriterion("merged_into")
		}
	}

	log.WithFields(map[string]any{
		"compared": compared,
		"matches":  len(pairs),
	}).Info("Matched batch transfers")
	return pairs, nil
}

func shareSource(a, b map[string]struct{}) bool {
	for s := range a {
		if _, ok := b[s]; ok {
			return true
		}
	}
	return false
}

func (m *TransferMatcher) checkAmbiguity(ctx context.Context, c *corpus.Corpus, pairs []Pair) error {
	counts := map[string]int{}
	for _, p := range pairs {
		counts[p.Candidate.ID]++
		counts[p.Existing.ID]++
	}

	var ambiguous []string
	for id, n := range counts {
		if n > 1 {
			ambiguous = append(ambiguous, id)
		}
	}
	if len(ambiguous) == 0 {
		return nil
	}
	sort.Strings(ambiguous)

	diag := m.diagnostic(c, pairs, counts)
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"ambiguous": len(ambiguous),
		"pairs":     len(pairs),
	}).Error("Transfers match more than one counterpart")

	return fernerrors.NewConsistencyError(
		fmt.Sprintf("%d transfers match more than one counterpart", len(ambiguous)), ambiguous...,
	).AddCriterion("ambiguous_match").AddReport(diag)
}

// diagnostic lists each transfer involved in any pair once. Transfers of the same connected
// set of pairs share a pair number; match is false whenever that set is not a single clean pair.
func (m *TransferMatcher) diagnostic(c *corpus.Corpus, pairs []Pair, counts map[string]int) *report.Diagnostic {
	group := map[string]int{}
	parent := map[string]string{}
	find := func(id string) string {
		for parent[id] != "" && parent[id] != id {
			id = parent[id]
		}
		return id
	}
	for _, p := range pairs {
		for _, id := range []string{p.Candidate.ID, p.Existing.ID} {
			if parent[id] == "" {
				parent[id] = id
			}
		}
		ra, rb := find(p.Candidate.ID), find(p.Existing.ID)
		if ra != rb {
			parent[rb] = ra
		}
	}

	diag := &report.Diagnostic{
		Title:     "ambiguous transfer matches",
		CreatedAt: c.Now(),
	}
	seen := map[string]bool{}
	clean := map[string]bool{}
	for _, p := range pairs {
		if counts[p.Candidate.ID] == 1 && counts[p.Existing.ID] == 1 {
			clean[p.Candidate.ID] = true
			clean[p.Existing.ID] = true
		}
	}

	addRow := func(t *models.Transfer, side string) {
		if seen[t.ID] {
			return
		}
		seen[t.ID] = true
		root := find(t.ID)
		if _, ok := group[root]; !ok {
			group[root] = len(group) + 1
		}
		diag.Rows = append(diag.Rows, transferRow(c, t, group[root], side, clean[t.ID]))
	}
	for _, p := range pairs {
		addRow(p.Candidate, "candidate")
		addRow(p.Existing, "existing")
	}
	return diag
}

func transferRow(c *corpus.Corpus, t *models.Transfer, pair int, side string, match bool) report.Row {
	row := report.Row{
		Pair:          pair,
		Side:          side,
		TransferID:    t.ID,
		SourceID:      c.SourceLabel(t),
		EmitterName:   entityLabel(c, t.EmitterID),
		RecipientName: entityLabel(c, t.RecipientID),
		Dates:         map[models.DateField]string{},
		Match:         match,
	}
	if t.OriginalID != nil {
		row.OriginalID = *t.OriginalID
	}
	if t.Amount.Valid {
		row.Amount = t.Amount.Decimal.String()
	}
	if t.Currency != nil {
		row.Currency = *t.Currency
	}
	for field, d := range t.Dates {
		row.Dates[field] = d.String()
	}
	return row
}

func entityLabel(c *corpus.Corpus, id *string) string {
	if id == nil {
		return ""
	}
	e := c.Entity(*id)
	if e == nil {
		return *id
	}
	if e.Name != nil {
		return *e.Name
	}
	if e.RawName != nil {
		return *e.RawName
	}
	return e.ID
}
