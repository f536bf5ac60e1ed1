package ingestion

import (
	"context"
	"encoding/json"

	"github.com/Ramsey-B/fern/pkg/corpus"
	"github.com/Ramsey-B/fern/pkg/models"
)

// createTransfers adds one transfer per row on the resolved entities and records why each
// entity fills its role.
func (co *Coordinator) createTransfers(ctx context.Context, c *corpus.Corpus, load *models.DataLoadSource, rows []models.TransferRow, resolved map[partyKey]resolution) []string {
	ids := make([]string, 0, len(rows))
	for i, row := range rows {
		t := models.Transfer{
			Amount:            row.Amount,
			Currency:          row.Currency,
			HideAmount:        row.HideAmount,
			Description:       row.Description,
			DataLoadSourceIDs: []string{load.ID},
		}
		if len(row.Dates) > 0 {
			t.Dates = make(map[models.DateField]models.PreciseDate, len(row.Dates))
			for field, d := range row.Dates {
				t.Dates[field] = d
			}
		}
		originalID := row.OriginalID
		t.OriginalID = &originalID
		if len(row.Raw) > 0 {
			t.RawData = map[string]json.RawMessage{load.SourceID: row.Raw}
		}
		if co.rates != nil && row.Amount.Valid && row.Currency != nil {
			t.AmountsInCurrencies = co.rates.AmountsFor(row.Amount.Decimal, *row.Currency, rateYear(row, load, c))
		}

		for _, role := range models.Roles {
			res, ok := resolved[partyKey{i, role}]
			if !ok {
				continue
			}
			entityID := res.entityID
			t.SetEntity(role, &entityID)
		}

		created := c.AddTransfer(t)
		ids = append(ids, created.ID)

		for _, role := range models.Roles {
			res, ok := resolved[partyKey{i, role}]
			if !ok {
				continue
			}
			criteria := res.criterion
			source := load.SourceID
			c.AddTransferMatching(models.TransferEntityMatching{
				TransferID:    created.ID,
				EntityID:      res.entityID,
				Role:          role,
				MatchCriteria: &criteria,
				MatchSource:   &source,
			})
		}
	}

	co.logger.WithContext(ctx).WithField("transfers", len(ids)).Info("Created batch transfers")
	return ids
}

// rateYear picks the year whose exchange rates apply: the first date of the row, else the
// year of the load, else the current year.
func rateYear(row models.TransferRow, load *models.DataLoadSource, c *corpus.Corpus) int {
	for _, field := range models.DateFields {
		if d, ok := row.Dates[field]; ok {
			return d.Time.Year()
		}
	}
	if load.Year != nil {
		return *load.Year
	}
	return c.Now().Year()
}
