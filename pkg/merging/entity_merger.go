// Package merging consolidates records found to describe the same thing.
package merging

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/corpus"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type EntityMergerConfig struct {
	// DetachIdentifiers releases the merged entity's identifiers instead of leaving them on it.
	DetachIdentifiers bool
}

func DefaultEntityMergerConfig() EntityMergerConfig {
	return EntityMergerConfig{DetachIdentifiers: true}
}

type EntityMerger struct {
	logger ectologger.Logger
	config EntityMergerConfig
}

func NewEntityMerger(logger ectologger.Logger, config EntityMergerConfig) *EntityMerger {
	return &EntityMerger{logger: logger, config: config}
}

type EntityMergeResult struct {
	Merged  []models.MergeRequest
	Skipped []models.MergeRequest
	// Transfers lists the transfers whose roles were re-pointed.
	Transfers []string
}

// Merge folds each request's entity into its target. All requests are validated before
// anything changes: self merges are dropped, an entity with two different targets fails the
// whole call with a ConsistencyError.
func (m *EntityMerger) Merge(ctx context.Context, c *corpus.Corpus, requests []models.MergeRequest) (*EntityMergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.EntityMerger.Merge")
	defer span.End()

	log := m.logger.WithContext(ctx)
	result := &EntityMergeResult{}

	accepted, skipped, err := m.validate(ctx, c, requests)
	if err != nil {
		return nil, err
	}
	result.Skipped = skipped

	touched := map[string]bool{}
	for _, req := range accepted {
		source, err := c.ResolveEntity(req.EntityID)
		if err != nil {
			return nil, err
		}
		target, err := c.ResolveEntity(req.MergedWithID)
		if err != nil {
			return nil, err
		}
		if source == target {
			// an earlier request in this call already joined them
			result.Skipped = append(result.Skipped, req)
			continue
		}

		transfers, err := m.mergeOne(ctx, c, source, target, req)
		if err != nil {
			return nil, err
		}
		for _, id := range transfers {
			if !touched[id] {
				touched[id] = true
				result.Transfers = append(result.Transfers, id)
			}
		}
		result.Merged = append(result.Merged, req)
	}

	log.WithFields(map[string]any{
		"merged":    len(result.Merged),
		"skipped":   len(result.Skipped),
		"transfers": len(result.Transfers),
	}).Info("Merged entities")
	return result, nil
}

func (m *EntityMerger) validate(ctx context.Context, c *corpus.Corpus, requests []models.MergeRequest) ([]models.MergeRequest, []models.MergeRequest, error) {
	log := m.logger.WithContext(ctx)

	var accepted, skipped []models.MergeRequest
	targets := map[string]string{}
	for _, req := range requests {
		if c.Entity(req.EntityID) == nil || c.Entity(req.MergedWithID) == nil {
			return nil, nil, fernerrors.NewValidationErrorf("merge references unknown entity %s -> %s", req.EntityID, req.MergedWithID).AddField("entity_id")
		}

		source, err := c.ResolveEntity(req.EntityID)
		if err != nil {
			return nil, nil, err
		}
		target, err := c.ResolveEntity(req.MergedWithID)
		if err != nil {
			return nil, nil, err
		}

		if source == target {
			log.WithFields(map[string]any{
				"entity_id":      req.EntityID,
				"merged_with_id": req.MergedWithID,
			}).Info("Dropping merge of an entity into itself")
			skipped = append(skipped, req)
			continue
		}

		if existing, ok := targets[req.EntityID]; ok {
			if existing != target {
				return nil, nil, fernerrors.NewConsistencyError(
					fmt.Sprintf("entity %s is asked to merge into both %s and %s", req.EntityID, existing, target),
					req.EntityID, existing, target,
				).AddCriterion(req.MergeCriteria)
			}
			skipped = append(skipped, req)
			continue
		}
		targets[req.EntityID] = target
		accepted = append(accepted, req)
	}
	return accepted, skipped, nil
}

func (m *EntityMerger) mergeOne(ctx context.Context, c *corpus.Corpus, sourceID, targetID string, req models.MergeRequest) ([]string, error) {
	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":      sourceID,
		"merged_with_id": targetID,
		"merge_criteria": req.MergeCriteria,
	})

	source := c.Entity(sourceID)
	target := c.Entity(targetID)

	mergedWith := targetID
	criteria := req.MergeCriteria
	source.IsActive = false
	source.MergedWith = &mergedWith
	source.MergeCriteria = &criteria
	c.TouchEntity(sourceID)
	c.LinkEntity(sourceID, targetID)

	if filled := coalesceEntity(target, source); len(filled) > 0 {
		c.TouchEntity(targetID)
		log.WithFields(map[string]any{"filled": filled}).Debug("Filled empty target fields from merged entity")
	}

	var transfers []string
	for _, t := range c.Transfers() {
		changed := false
		for _, role := range models.Roles {
			current := t.Entity(role)
			if current == nil || *current != sourceID {
				continue
			}
			newID := targetID
			t.SetEntity(role, &newID)
			original := sourceID
			c.AddTransferMatching(models.TransferEntityMatching{
				TransferID:       t.ID,
				EntityID:         targetID,
				OriginalEntityID: &original,
				Role:             role,
				MatchCriteria:    optional(req.MatchCriteria),
				MatchSource:      optional(req.MatchSource),
				Comments:         optional(fmt.Sprintf("entity %s merged into %s (%s)", sourceID, targetID, req.MergeCriteria)),
			})
			changed = true
		}
		if changed {
			c.TouchTransfer(t.ID)
			transfers = append(transfers, t.ID)
		}
	}

	detached := 0
	if m.config.DetachIdentifiers {
		for _, ident := range c.IdentifiersOf(sourceID) {
			c.DetachIdentifier(ident.ID, fmt.Sprintf("entity %s merged into %s", sourceID, targetID))
			detached++
		}
	}

	log.WithFields(map[string]any{
		"transfers":            len(transfers),
		"detached_identifiers": detached,
	}).Debug("Merged entity")
	return transfers, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
