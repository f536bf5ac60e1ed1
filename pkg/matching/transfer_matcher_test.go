package matching

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/corpus"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

type dates = map[models.DateField]models.PreciseDate

func TestTransferMatcher_Compare(t *testing.T) {
	m := NewTransferMatcher(testLogger(), TransferMatcherConfig{})

	base := func(mod func(*models.Transfer)) *models.Transfer {
		tr := transfer("x", "l", "funder", "ugent", "100", "EUR", nil)
		if mod != nil {
			mod(&tr)
		}
		return &tr
	}

	tests := []struct {
		name      string
		a         *models.Transfer
		b         *models.Transfer
		match     bool
		criterion Criterion
	}{
		{
			name:  "identical",
			a:     base(nil),
			b:     base(nil),
			match: true,
		},
		{
			name:      "different emitter",
			a:         base(func(t *models.Transfer) { t.EmitterID = ptr("other") }),
			b:         base(nil),
			criterion: CriterionEmitter,
		},
		{
			name:      "missing recipient",
			a:         base(func(t *models.Transfer) { t.RecipientID = nil }),
			b:         base(nil),
			criterion: CriterionRecipient,
		},
		{
			name:  "year precision widens day",
			a:     base(func(t *models.Transfer) { t.Dates = dates{models.DatePayment: models.NewPreciseDate(2019, time.January, 1, models.PrecisionYear)} }),
			b:     base(func(t *models.Transfer) { t.Dates = dates{models.DatePayment: day(2019, time.July, 14)} }),
			match: true,
		},
		{
			name:      "different payment day",
			a:         base(func(t *models.Transfer) { t.Dates = dates{models.DatePayment: day(2019, time.July, 15)} }),
			b:         base(func(t *models.Transfer) { t.Dates = dates{models.DatePayment: day(2019, time.July, 14)} }),
			criterion: Criterion(models.DatePayment),
		},
		{
			name: "one-sided date inside the other side's range",
			a:    base(func(t *models.Transfer) { t.Dates = dates{models.DatePayment: day(2019, time.May, 3)} }),
			b: base(func(t *models.Transfer) {
				t.Dates = dates{models.DateStart: day(2019, time.January, 1), models.DateEnd: day(2019, time.December, 31)}
			}),
			match: true,
		},
		{
			name: "one-sided date outside the other side's range",
			a:    base(func(t *models.Transfer) { t.Dates = dates{models.DatePayment: day(2020, time.February, 3)} }),
			b: base(func(t *models.Transfer) {
				t.Dates = dates{models.DateStart: day(2019, time.January, 1), models.DateEnd: day(2019, time.December, 31)}
			}),
			criterion: Criterion(models.DatePayment),
		},
		{
			name: "containment checked from the existing side too",
			a: base(func(t *models.Transfer) {
				t.Dates = dates{models.DateStart: day(2019, time.January, 1), models.DateEnd: day(2019, time.June, 30)}
			}),
			b:         base(func(t *models.Transfer) { t.Dates = dates{models.DateInvoice: day(2019, time.August, 1)} }),
			criterion: Criterion(models.DateInvoice),
		},
		{
			name: "first contained field settles the direction",
			a: base(func(t *models.Transfer) {
				t.Dates = dates{models.DateAgreement: day(2019, time.March, 1), models.DatePayment: day(2021, time.March, 1)}
			}),
			b: base(func(t *models.Transfer) {
				t.Dates = dates{models.DateStart: day(2019, time.January, 1), models.DateEnd: day(2019, time.December, 31)}
			}),
			match: true,
		},
		{
			name: "no range means no containment check",
			a:    base(func(t *models.Transfer) { t.Dates = dates{models.DatePayment: day(2030, time.May, 3)} }),
			b:    base(func(t *models.Transfer) { t.Dates = dates{models.DateStart: day(2019, time.January, 1)} }),
			match: true,
		},
		{
			name:      "same currency different amount",
			a:         base(func(t *models.Transfer) { t.Amount = decimal.NewNullDecimal(decimal.RequireFromString("100.01")) }),
			b:         base(nil),
			criterion: CriterionAmount,
		},
		{
			name: "cross currency within tolerance",
			a:    base(func(t *models.Transfer) { t.Amount, t.Currency = amount("110.05", "USD") }),
			b: base(func(t *models.Transfer) {
				t.AmountsInCurrencies = map[string]decimal.Decimal{"USD": decimal.RequireFromString("110.00")}
			}),
			match: true,
		},
		{
			name: "cross currency exactly at tolerance",
			a:    base(func(t *models.Transfer) { t.Amount, t.Currency = amount("110.10", "USD") }),
			b: base(func(t *models.Transfer) {
				t.AmountsInCurrencies = map[string]decimal.Decimal{"USD": decimal.RequireFromString("110.00")}
			}),
			match: true,
		},
		{
			name: "cross currency outside tolerance",
			a:    base(func(t *models.Transfer) { t.Amount, t.Currency = amount("110.11", "USD") }),
			b: base(func(t *models.Transfer) {
				t.AmountsInCurrencies = map[string]decimal.Decimal{"USD": decimal.RequireFromString("110.00")}
			}),
			criterion: CriterionAmount,
		},
		{
			name:      "cross currency without conversion table",
			a:         base(func(t *models.Transfer) { t.Amount, t.Currency = amount("110", "USD") }),
			b:         base(nil),
			criterion: CriterionAmount,
		},
		{
			name:      "missing currency",
			a:         base(func(t *models.Transfer) { t.Currency = nil }),
			b:         base(nil),
			criterion: CriterionAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, criterion := m.Compare(tt.a, tt.b)
			assert.Equal(t, tt.match, ok)
			assert.Equal(t, tt.criterion, criterion)
		})
	}
}

func batchCorpus(t *testing.T, transfers ...models.Transfer) *corpus.Corpus {
	return newCorpus(t, corpus.Snapshot{
		Loads: []models.DataLoadSource{
			{ID: "l-a", SourceID: "src-a"},
			{ID: "l-a2", SourceID: "src-a"},
			{ID: "l-b", SourceID: "src-b"},
		},
		Entities: []models.Entity{
			entity("funder", "Funder", nil, nil),
			entity("ugent", "Ghent University", ptr("BE"), nil),
		},
		Transfers: transfers,
	})
}

func TestTransferMatcher_MatchBatch(t *testing.T) {
	ctx := context.Background()
	m := NewTransferMatcher(testLogger(), DefaultTransferMatcherConfig())
	payment := dates{models.DatePayment: day(2019, time.July, 14)}

	c := batchCorpus(t,
		transfer("b1", "l-b", "funder", "ugent", "100", "EUR", payment),
		transfer("b2", "l-b", "funder", "ugent", "250", "EUR", payment),
		transfer("a-old", "l-a", "funder", "ugent", "100", "EUR", payment),
		transfer("a1", "l-a2", "funder", "ugent", "100", "EUR", payment),
	)

	pairs, err := m.MatchBatch(ctx, c, []string{"a1"})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "a1", pairs[0].Candidate.ID)
	assert.Equal(t, "b1", pairs[0].Existing.ID, "transfers of the same data source are never compared")
}

func TestTransferMatcher_MatchBatch_Ambiguous(t *testing.T) {
	ctx := context.Background()
	m := NewTransferMatcher(testLogger(), DefaultTransferMatcherConfig())
	payment := dates{models.DatePayment: day(2019, time.July, 14)}

	c := batchCorpus(t,
		transfer("b1", "l-b", "funder", "ugent", "100", "EUR", payment),
		transfer("b2", "l-b", "funder", "ugent", "100", "EUR", payment),
		transfer("a1", "l-a", "funder", "ugent", "100", "EUR", payment),
	)

	pairs, err := m.MatchBatch(ctx, c, []string{"a1"})
	require.Error(t, err)
	assert.Nil(t, pairs)

	var consistency *fernerrors.ConsistencyError
	require.ErrorAs(t, err, &consistency)
	assert.Equal(t, []string{"a1"}, consistency.RecordIDs)
	require.NotNil(t, consistency.Report)
	require.Len(t, consistency.Report.Rows, 3)

	ids := []string{}
	for _, row := range consistency.Report.Rows {
		assert.False(t, row.Match)
		assert.Equal(t, 1, row.Pair)
		assert.Equal(t, "Ghent University", row.RecipientName)
		ids = append(ids, row.TransferID)
	}
	assert.ElementsMatch(t, []string{"a1", "b1", "b2"}, ids)
}

func TestTransferMatcher_MatchBatch_CandidatesPairOnce(t *testing.T) {
	ctx := context.Background()
	m := NewTransferMatcher(testLogger(), DefaultTransferMatcherConfig())

	c := batchCorpus(t,
		transfer("a1", "l-a", "funder", "ugent", "100", "EUR", nil),
		transfer("b1", "l-b", "funder", "ugent", "100", "EUR", nil),
	)

	pairs, err := m.MatchBatch(ctx, c, []string{"a1", "b1"})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
}

func TestTransferMatcher_MatchBatch_RefusesMergeChildren(t *testing.T) {
	ctx := context.Background()
	m := NewTransferMatcher(testLogger(), DefaultTransferMatcherConfig())

	parent := transfer("p", "l-b", "funder", "ugent", "100", "EUR", nil)
	parent.MergedInto = ptr("child")
	child := transfer("child", "l-b", "funder", "ugent", "100", "EUR", nil)
	c := batchCorpus(t, parent, child, transfer("a1", "l-a", "funder", "ugent", "100", "EUR", nil))

	_, err := m.MatchBatch(ctx, c, []string{"a1"})
	require.Error(t, err)
	assert.True(t, fernerrors.IsConsistencyError(err))
}
