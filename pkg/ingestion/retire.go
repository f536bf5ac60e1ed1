package ingestion

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/corpus"
	"github.com/Ramsey-B/fern/pkg/models"
)

type retirement struct {
	deleted []string
	orphans []string
}

// retire deletes the transfers of the replaced loads together with every merge child built on
// them. Parents of a deleted child that survive are detached from it and returned as orphans.
func (co *Coordinator) retire(ctx context.Context, c *corpus.Corpus, loads []*models.DataLoadSource) (retirement, error) {
	var out retirement
	if len(loads) == 0 {
		return out, nil
	}

	replaced := map[string]bool{}
	for _, l := range loads {
		replaced[l.ID] = true
	}

	doomed := map[string]bool{}
	for _, t := range c.Transfers() {
		for _, loadID := range t.DataLoadSourceIDs {
			if !replaced[loadID] {
				continue
			}
			// children of doomed transfers go with them
			descendants, err := c.Descendants(t.ID)
			if err != nil {
				return out, err
			}
			doomed[t.ID] = true
			for _, id := range descendants {
				doomed[id] = true
			}
			break
		}
	}

	for _, t := range c.Transfers() {
		if !doomed[t.ID] && t.MergedInto != nil && doomed[*t.MergedInto] {
			out.orphans = append(out.orphans, t.ID)
		}
	}
	for _, id := range out.orphans {
		c.SetMergedInto(id, nil)
	}
	for _, t := range c.Transfers() {
		if doomed[t.ID] {
			out.deleted = append(out.deleted, t.ID)
		}
	}
	for _, id := range out.deleted {
		c.DeleteTransfer(id)
	}
	for _, l := range loads {
		c.DeleteLoad(l.ID)
	}

	co.logger.WithContext(ctx).WithFields(map[string]any{
		"replaced_loads":    len(loads),
		"deleted_transfers": len(out.deleted),
		"orphans":           len(out.orphans),
	}).Info("Retired superseded data loads")
	return out, nil
}
