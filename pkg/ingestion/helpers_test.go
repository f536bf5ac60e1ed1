package ingestion

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/fern/pkg/corpus"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func ptr[T any](v T) *T { return &v }

type harness struct {
	store       *MemoryStore
	sink        *events.MemorySink
	coordinator *Coordinator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	n := 0
	store := NewMemoryStore()
	sink := events.NewMemorySink()
	opts = append([]Option{
		WithEmitter(events.NewEmitter(sink, testLogger())),
		WithCorpusOptions(
			corpus.WithClock(func() time.Time { return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC) }),
			corpus.WithIDGenerator(func() string {
				n++
				return fmt.Sprintf("id-%04d", n)
			}),
		),
	}, opts...)
	return &harness{
		store:       store,
		sink:        sink,
		coordinator: NewCoordinator(store, testLogger(), DefaultConfig(), opts...),
	}
}

func party(name string, country string) models.PartyRow {
	p := models.PartyRow{Name: &name}
	if country != "" {
		p.Country = &country
	}
	return p
}

func year(y int) models.PreciseDate {
	return models.NewPreciseDate(y, time.January, 1, models.PrecisionYear)
}

func day(y int, m time.Month, d int) models.PreciseDate {
	return models.NewPreciseDate(y, m, d, models.PrecisionDay)
}

func row(originalID string, emitter, recipient models.PartyRow, amount string, payment models.PreciseDate) models.TransferRow {
	return models.TransferRow{
		OriginalID: originalID,
		Emitter:    emitter,
		Recipient:  recipient,
		Amount:     decimal.NewNullDecimal(decimal.RequireFromString(amount)),
		Currency:   ptr("EUR"),
		Dates:      map[models.DateField]models.PreciseDate{models.DatePayment: payment},
		Raw:        json.RawMessage(fmt.Sprintf(`{"line":%q}`, originalID)),
	}
}

func batch(id, source string, loadYear *int, full bool, rows ...models.TransferRow) models.Batch {
	return models.Batch{
		ID:   id,
		Load: models.DataLoadSource{SourceID: source, Year: loadYear, FullData: full},
		Rows: rows,
	}
}

func transferByOriginal(transfers []models.Transfer, originalID string) *models.Transfer {
	for i := range transfers {
		if transfers[i].OriginalID != nil && *transfers[i].OriginalID == originalID {
			return &transfers[i]
		}
	}
	return nil
}

func entityByName(entities []models.Entity, name string) *models.Entity {
	for i := range entities {
		if entities[i].Name != nil && *entities[i].Name == name {
			return &entities[i]
		}
	}
	return nil
}
