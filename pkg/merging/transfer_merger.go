package merging

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/fern/pkg/corpus"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	TransferMergeCriteria = "merged"
	TransferMergeSource   = "transfer_merge"
)

type TransferMerger struct {
	logger ectologger.Logger
}

func NewTransferMerger(logger ectologger.Logger) *TransferMerger {
	return &TransferMerger{logger: logger}
}

// Merge creates one canonical child per pair and retires both parents into it.
// Candidate values win over existing ones wherever both are present.
func (m *TransferMerger) Merge(ctx context.Context, c *corpus.Corpus, pairs []matching.Pair) ([]*models.Transfer, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.TransferMerger.Merge")
	defer span.End()

	log := m.logger.WithContext(ctx)

	for _, p := range pairs {
		for _, parent := range []*models.Transfer{p.Candidate, p.Existing} {
			if parent.MergedInto != nil {
				return nil, fernerrors.NewConsistencyError(
					fmt.Sprintf("transfer %s is already merged into %s", parent.ID, *parent.MergedInto),
					p.Candidate.ID, p.Existing.ID,
				).AddCriterion("merged_into")
			}
		}
	}

	children := make([]*models.Transfer, 0, len(pairs))
	for _, p := range pairs {
		child := c.AddTransfer(buildChild(p.Candidate, p.Existing))
		c.SetMergedInto(p.Candidate.ID, &child.ID)
		c.SetMergedInto(p.Existing.ID, &child.ID)

		for _, role := range models.Roles {
			entityID := child.Entity(role)
			if entityID == nil {
				continue
			}
			criteria := TransferMergeCriteria
			source := TransferMergeSource
			comment := fmt.Sprintf("merged from %s and %s", p.Candidate.ID, p.Existing.ID)
			c.AddTransferMatching(models.TransferEntityMatching{
				TransferID:    child.ID,
				EntityID:      *entityID,
				Role:          role,
				MatchCriteria: &criteria,
				MatchSource:   &source,
				Comments:      &comment,
			})
		}

		log.WithFields(map[string]any{
			"child_id":     child.ID,
			"candidate_id": p.Candidate.ID,
			"existing_id":  p.Existing.ID,
		}).Debug("Merged transfers")
		children = append(children, child)
	}

	if len(children) > 0 {
		log.WithFields(map[string]any{"children": len(children)}).Info("Merged matched transfers")
	}
	return children, nil
}

func buildChild(a, b *models.Transfer) models.Transfer {
	child := models.Transfer{
		EmitterID:         firstPtr(a.EmitterID, b.EmitterID),
		RecipientID:       firstPtr(a.RecipientID, b.RecipientID),
		AgentID:           firstPtr(a.AgentID, b.AgentID),
		HideAmount:        a.HideAmount && b.HideAmount,
		Dates:             finerDates(a.Dates, b.Dates),
		Description:       firstPtr(a.Description, b.Description),
		RawData:           unionRaw(a.RawData, b.RawData),
		DataLoadSourceIDs: unionIDs(a.DataLoadSourceIDs, b.DataLoadSourceIDs),
	}

	amountFrom := a
	if !a.Amount.Valid {
		amountFrom = b
	}
	child.Amount = amountFrom.Amount
	child.Currency = amountFrom.Currency
	if amountFrom.AmountsInCurrencies != nil {
		child.AmountsInCurrencies = make(map[string]decimal.Decimal, len(amountFrom.AmountsInCurrencies))
		for k, v := range amountFrom.AmountsInCurrencies {
			child.AmountsInCurrencies[k] = v
		}
	}

	if a.OriginalID != nil || b.OriginalID != nil {
		id := fmt.Sprintf("%s|%s", deref(a.OriginalID), deref(b.OriginalID))
		child.OriginalID = &id
	}
	return child
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
