package matching

import (
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/corpus"
	"github.com/Ramsey-B/fern/pkg/mergechain"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func ptr[T any](v T) *T { return &v }

func newCorpus(t *testing.T, snap corpus.Snapshot) *corpus.Corpus {
	t.Helper()
	n := 0
	c, err := corpus.New(snap, mergechain.DefaultCap,
		corpus.WithClock(func() time.Time { return time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC) }),
		corpus.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("new-%d", n)
		}),
	)
	require.NoError(t, err)
	return c
}

func entity(id, name string, country, website *string) models.Entity {
	return models.Entity{ID: id, Name: &name, RawName: &name, Country: country, Website: website, IsActive: true, IsMatchable: true}
}

func amount(v string, currency string) (decimal.NullDecimal, *string) {
	return decimal.NewNullDecimal(decimal.RequireFromString(v)), &currency
}

func day(y int, m time.Month, d int) models.PreciseDate {
	return models.NewPreciseDate(y, m, d, models.PrecisionDay)
}

func transfer(id, load, emitter, recipient, value, currency string, dates map[models.DateField]models.PreciseDate) models.Transfer {
	amt, cur := amount(value, currency)
	return models.Transfer{
		ID:                id,
		EmitterID:         &emitter,
		RecipientID:       &recipient,
		Amount:            amt,
		Currency:          cur,
		Dates:             dates,
		OriginalID:        ptr("orig-" + id),
		DataLoadSourceIDs: []string{load},
	}
}
