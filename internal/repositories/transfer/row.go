package transfer

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

// row is the table shape of a transfer: one date/precision column pair per date field.
type row struct {
	ID                     string                                     `db:"id"`
	EmitterID              *string                                    `db:"emitter_id"`
	RecipientID            *string                                    `db:"recipient_id"`
	AgentID                *string                                    `db:"agent_id"`
	Amount                 decimal.NullDecimal                        `db:"amount"`
	Currency               *string                                    `db:"currency"`
	AmountsInCurrencies    database.JSONB[map[string]decimal.Decimal] `db:"amounts_in_currencies"`
	HideAmount             bool                                       `db:"hide_amount"`
	DateAgreement          sql.NullTime                               `db:"date_agreement"`
	DateAgreementPrecision models.Precision                           `db:"date_agreement_precision"`
	DateInvoice            sql.NullTime                               `db:"date_invoice"`
	DateInvoicePrecision   models.Precision                           `db:"date_invoice_precision"`
	DatePayment            sql.NullTime                               `db:"date_payment"`
	DatePaymentPrecision   models.Precision                           `db:"date_payment_precision"`
	DateStart              sql.NullTime                               `db:"date_start"`
	DateStartPrecision     models.Precision                           `db:"date_start_precision"`
	DateEnd                sql.NullTime                               `db:"date_end"`
	DateEndPrecision       models.Precision                           `db:"date_end_precision"`
	OriginalID             *string                                    `db:"original_id"`
	Description            *string                                    `db:"description"`
	RawData                database.JSONB[map[string]json.RawMessage] `db:"raw_data"`
	MergedInto             *string                                    `db:"merged_into"`
	CreatedAt              time.Time                                  `db:"created_at"`
	UpdatedAt              time.Time                                  `db:"updated_at"`
}

var columns = []string{
	"id", "emitter_id", "recipient_id", "agent_id", "amount", "currency", "amounts_in_currencies", "hide_amount",
	"date_agreement", "date_agreement_precision", "date_invoice", "date_invoice_precision",
	"date_payment", "date_payment_precision", "date_start", "date_start_precision", "date_end", "date_end_precision",
	"original_id", "description", "raw_data", "merged_into", "created_at", "updated_at",
}

func (r *row) date(field models.DateField) (*sql.NullTime, *models.Precision) {
	switch field {
	case models.DateAgreement:
		return &r.DateAgreement, &r.DateAgreementPrecision
	case models.DateInvoice:
		return &r.DateInvoice, &r.DateInvoicePrecision
	case models.DatePayment:
		return &r.DatePayment, &r.DatePaymentPrecision
	case models.DateStart:
		return &r.DateStart, &r.DateStartPrecision
	case models.DateEnd:
		return &r.DateEnd, &r.DateEndPrecision
	}
	return nil, nil
}

func toRow(t models.Transfer) row {
	r := row{
		ID:                  t.ID,
		EmitterID:           t.EmitterID,
		RecipientID:         t.RecipientID,
		AgentID:             t.AgentID,
		Amount:              t.Amount,
		Currency:            t.Currency,
		AmountsInCurrencies: database.NewJSONB(t.AmountsInCurrencies),
		HideAmount:          t.HideAmount,
		OriginalID:          t.OriginalID,
		Description:         t.Description,
		RawData:             database.NewJSONB(t.RawData),
		MergedInto:          t.MergedInto,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
	for _, field := range models.DateFields {
		d, ok := t.Dates[field]
		if !ok {
			continue
		}
		at, precision := r.date(field)
		*at = sql.NullTime{Time: d.Time, Valid: true}
		*precision = d.Precision
	}
	return r
}

func (r row) values() []any {
	return []any{
		r.ID, r.EmitterID, r.RecipientID, r.AgentID, r.Amount, r.Currency, r.AmountsInCurrencies, r.HideAmount,
		r.DateAgreement, nullablePrecision(r.DateAgreementPrecision), r.DateInvoice, nullablePrecision(r.DateInvoicePrecision),
		r.DatePayment, nullablePrecision(r.DatePaymentPrecision), r.DateStart, nullablePrecision(r.DateStartPrecision),
		r.DateEnd, nullablePrecision(r.DateEndPrecision),
		r.OriginalID, r.Description, r.RawData, r.MergedInto, r.CreatedAt, r.UpdatedAt,
	}
}

func (r row) toModel(loads []string) models.Transfer {
	t := models.Transfer{
		ID:                  r.ID,
		EmitterID:           r.EmitterID,
		RecipientID:         r.RecipientID,
		AgentID:             r.AgentID,
		Amount:              r.Amount,
		Currency:            r.Currency,
		AmountsInCurrencies: r.AmountsInCurrencies.Data,
		HideAmount:          r.HideAmount,
		OriginalID:          r.OriginalID,
		Description:         r.Description,
		RawData:             r.RawData.Data,
		MergedInto:          r.MergedInto,
		DataLoadSourceIDs:   loads,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	for _, field := range models.DateFields {
		at, precision := r.date(field)
		if !at.Valid {
			continue
		}
		if t.Dates == nil {
			t.Dates = make(map[models.DateField]models.PreciseDate)
		}
		p := *precision
		if p == 0 {
			p = models.PrecisionDay
		}
		t.Dates[field] = models.PreciseDate{Time: at.Time.UTC(), Precision: p}
	}
	return t
}

func nullablePrecision(p models.Precision) *string {
	if p == 0 {
		return nil
	}
	s := p.String()
	return &s
}
