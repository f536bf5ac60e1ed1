package ingestion

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/corpus"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// candidate is one party of one batch row.
type candidate struct {
	row   int
	role  models.Role
	party models.PartyRow
}

type partyKey struct {
	row  int
	role models.Role
}

// resolution is the entity a party ended up on and the criterion that put it there.
type resolution struct {
	entityID  string
	criterion string
}

type entityPhase struct {
	resolved map[partyKey]resolution
	matched  int
	created  int
	merges   *merging.EntityMergeResult
}

func extractCandidates(rows []models.TransferRow) []candidate {
	var out []candidate
	for i, row := range rows {
		for _, role := range models.Roles {
			p := row.Party(role)
			if p == nil || p.IsEmpty() {
				continue
			}
			out = append(out, candidate{row: i, role: role, party: *p})
		}
	}
	return out
}

// resolveEntities matches every party of the batch, merges entities whose identifiers collide
// and creates one entity per group of unmatched parties.
func (co *Coordinator) resolveEntities(ctx context.Context, c *corpus.Corpus, load *models.DataLoadSource, rows []models.TransferRow) (*entityPhase, error) {
	log := co.logger.WithContext(ctx)
	phase := &entityPhase{resolved: map[partyKey]resolution{}}

	matcher, err := matching.NewEntityMatcher(ctx, c, co.logger)
	if err != nil {
		return nil, err
	}

	candidates := extractCandidates(rows)
	matches := make([]matching.EntityMatch, len(candidates))
	var requests []models.MergeRequest
	requested := map[string]bool{}
	var unmatched []int

	for i, cand := range candidates {
		m := matcher.Match(ctx, cand.party)
		matches[i] = m
		if !m.Matched() {
			unmatched = append(unmatched, i)
			continue
		}
		for _, col := range m.Collisions {
			key := col.EntityID + "->" + m.EntityID
			if requested[key] {
				continue
			}
			requested[key] = true
			requests = append(requests, models.MergeRequest{
				EntityID:      col.EntityID,
				MergedWithID:  m.EntityID,
				MergeCriteria: "pid_collision:" + string(col.Registry),
				MatchCriteria: string(col.Registry),
				MatchSource:   load.SourceID,
			})
		}
	}

	phase.merges, err = co.entityMerger.Merge(ctx, c, requests)
	if err != nil {
		return nil, err
	}

	for i, cand := range candidates {
		m := matches[i]
		if !m.Matched() {
			continue
		}
		entityID, err := c.ResolveEntity(m.EntityID)
		if err != nil {
			return nil, err
		}
		phase.resolved[partyKey{cand.row, cand.role}] = resolution{entityID: entityID, criterion: string(m.Criterion)}
		phase.matched++
		if err := co.attachPIDs(ctx, c, cand.party, entityID, string(m.Criterion), load.SourceID); err != nil {
			return nil, err
		}
	}

	parties := make([]models.PartyRow, len(unmatched))
	for i, idx := range unmatched {
		parties[i] = candidates[idx].party
	}
	for _, g := range matching.GroupCandidates(parties) {
		entity := c.AddEntity(newEntity(g.Party))
		phase.created++

		for _, registry := range models.Registries {
			for _, value := range g.PIDs[registry] {
				if _, err := c.AttachIdentifier(corpus.Attachment{
					Registry:      registry,
					Value:         value,
					EntityID:      entity.ID,
					MatchCriteria: string(g.Criterion),
					MatchSource:   load.SourceID,
				}); err != nil {
					// owned by an existing entity the matcher did not pick
					log.WithError(err).WithField("entity_id", entity.ID).Warn("Identifier not attached to new entity")
				}
			}
		}

		criterion := "new_entity:" + string(g.Criterion)
		for _, member := range g.Members {
			cand := candidates[unmatched[member]]
			phase.resolved[partyKey{cand.row, cand.role}] = resolution{entityID: entity.ID, criterion: criterion}
		}
	}

	log.WithFields(map[string]any{
		"candidates": len(candidates),
		"matched":    phase.matched,
		"created":    phase.created,
		"merged":     len(phase.merges.Merged),
	}).Info("Resolved batch entities")
	return phase, nil
}

// attachPIDs gives a matched entity the identifiers the candidate carried that nobody owns yet.
func (co *Coordinator) attachPIDs(ctx context.Context, c *corpus.Corpus, party models.PartyRow, entityID, criterion, source string) error {
	for _, registry := range models.Registries {
		value := party.PID(registry)
		if value == nil || *value == "" {
			continue
		}
		if ident := c.IdentifierByValue(registry, *value); ident != nil && ident.EntityID != nil {
			owner, err := c.ResolveEntity(*ident.EntityID)
			if err != nil {
				return err
			}
			if owner != entityID {
				co.logger.WithContext(ctx).WithFields(map[string]any{
					"registry":  registry,
					"value":     *value,
					"owner_id":  owner,
					"entity_id": entityID,
				}).Warn("Identifier stays with its current owner")
			}
			continue
		}
		if _, err := c.AttachIdentifier(corpus.Attachment{
			Registry:      registry,
			Value:         *value,
			EntityID:      entityID,
			MatchCriteria: criterion,
			MatchSource:   source,
		}); err != nil {
			return err
		}
	}
	return nil
}

func newEntity(p models.PartyRow) models.Entity {
	e := models.Entity{
		RawName:     p.Name,
		RawCountry:  p.Country,
		RawWebsite:  p.Website,
		IsActive:    true,
		IsMatchable: true,
	}
	if name := normalizers.Ptr(p.Name, normalizers.CollapseWhitespace); name != "" {
		e.Name = &name
	}
	if country := normalizers.Ptr(p.Country, normalizers.Country); country != "" {
		e.Country = &country
	}
	if website := normalizers.Ptr(p.Website, normalizers.Trim); website != "" {
		e.Website = &website
	}
	return e
}
