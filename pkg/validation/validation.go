// Package validation rejects malformed batches before the coordinator touches any state.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterStructValidation(transferRowRules, models.TransferRow{})
}

// ValidateBatch checks struct tags and the cross-field rules of every row.
// The first failure is returned as a ValidationError naming the row and field.
func ValidateBatch(batch models.Batch) error {
	if err := validate.Struct(batch.Load); err != nil {
		return toValidationError(err, nil)
	}
	if len(batch.Rows) == 0 {
		return ferrors.NewValidationError("batch has no rows").AddField("rows")
	}
	seen := make(map[string]int, len(batch.Rows))
	for i, row := range batch.Rows {
		if err := validate.Struct(row); err != nil {
			return toValidationError(err, &i)
		}
		if prev, ok := seen[row.OriginalID]; ok {
			return ferrors.NewValidationErrorf("original id %q already used by row %d", row.OriginalID, prev).
				AddField("original_id").AddRow(i)
		}
		seen[row.OriginalID] = i
	}
	return nil
}

func transferRowRules(sl validator.StructLevel) {
	row := sl.Current().Interface().(models.TransferRow)

	if row.Emitter.IsEmpty() {
		sl.ReportError(row.Emitter, "emitter", "Emitter", "party", "")
	}
	if row.Recipient.IsEmpty() {
		sl.ReportError(row.Recipient, "recipient", "Recipient", "party", "")
	}
	if row.Agent != nil && row.Agent.IsEmpty() {
		sl.ReportError(row.Agent, "agent", "Agent", "party", "")
	}
	hasCurrency := row.Currency != nil && *row.Currency != ""
	if row.Amount.Valid != hasCurrency {
		sl.ReportError(row.Currency, "currency", "Currency", "amount_currency", "")
	}
	if row.Amount.Valid && row.Amount.Decimal.IsNegative() {
		sl.ReportError(row.Amount, "amount", "Amount", "gte", "0")
	}
	for field := range row.Dates {
		if !isDateField(field) {
			sl.ReportError(row.Dates, string(field), string(field), "date_field", "")
		}
	}
	start, hasStart := row.Dates[models.DateStart]
	end, hasEnd := row.Dates[models.DateEnd]
	if hasStart && hasEnd && start.Compare(end) > 0 {
		sl.ReportError(end, string(models.DateEnd), "DateEnd", "gtefield", string(models.DateStart))
	}
}

func isDateField(field models.DateField) bool {
	for _, f := range models.DateFields {
		if f == field {
			return true
		}
	}
	return false
}

func toValidationError(err error, row *int) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return ferrors.NewValidationError(err.Error())
	}
	fe := verrs[0]
	msg := fmt.Sprintf("failed %s validation for field '%s'", fe.Tag(), fe.Field())
	if fe.Param() != "" {
		msg += fmt.Sprintf(": expected '%s'", fe.Param())
	}
	if len(verrs) > 1 {
		others := make([]string, 0, len(verrs)-1)
		for _, other := range verrs[1:] {
			others = append(others, other.Field())
		}
		msg += fmt.Sprintf(" (also: %s)", strings.Join(others, ", "))
	}
	verr := ferrors.NewValidationError(msg).AddField(fe.Field())
	if row != nil {
		verr.AddRow(*row)
	}
	return verr
}
