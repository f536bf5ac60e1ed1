// Package matching finds which stored entities and transfers incoming records refer to.
package matching

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/corpus"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Criterion names the rule that produced (or failed) a match.
type Criterion string

const (
	CriterionCustomID    Criterion = "custom_id"
	CriterionROR         Criterion = "ror"
	CriterionWikidata    Criterion = "wikidata"
	CriterionNameCountry Criterion = "name_country"
	CriterionNameWebsite Criterion = "name_website"
	CriterionName        Criterion = "name"
)

func pidCriterion(r models.Registry) Criterion {
	switch r {
	case models.RegistryCustom:
		return CriterionCustomID
	case models.RegistryROR:
		return CriterionROR
	default:
		return CriterionWikidata
	}
}

// Collision is a candidate PID that points at a different entity than the one matched.
type Collision struct {
	Registry models.Registry
	Value    string
	EntityID string
}

// EntityMatch is the outcome for one candidate. An empty EntityID means no match.
type EntityMatch struct {
	EntityID   string
	Criterion  Criterion
	Collisions []Collision
}

func (m EntityMatch) Matched() bool {
	return m.EntityID != ""
}

// EntityMatcher indexes the canonical entity set once and answers candidates against it.
type EntityMatcher struct {
	logger        ectologger.Logger
	byPID         map[models.Registry]map[string]string
	byNameCountry map[string][]string
	byNameWebsite map[string][]string
	byName        map[string][]string
}

// NewEntityMatcher builds the match indexes from the corpus. Identifier owners are
// chain-resolved so identifiers left on merged entities still lead to the survivor.
func NewEntityMatcher(ctx context.Context, c *corpus.Corpus, logger ectologger.Logger) (*EntityMatcher, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.EntityMatcher.New")
	defer span.End()

	m := &EntityMatcher{
		logger:        logger,
		byPID:         make(map[models.Registry]map[string]string),
		byNameCountry: make(map[string][]string),
		byNameWebsite: make(map[string][]string),
		byName:        make(map[string][]string),
	}

	hasPID := map[string]bool{}
	for _, ident := range c.Identifiers() {
		if ident.EntityID == nil {
			continue
		}
		owner, err := c.ResolveEntity(*ident.EntityID)
		if err != nil {
			return nil, err
		}
		if m.byPID[ident.RegistryID] == nil {
			m.byPID[ident.RegistryID] = make(map[string]string)
		}
		m.byPID[ident.RegistryID][normalizers.PID(ident.Value)] = owner
		hasPID[owner] = true
	}

	for _, e := range c.CanonicalEntities() {
		if !e.IsMatchable {
			continue
		}
		name := entityName(e)
		if name == "" {
			continue
		}
		country := normalizers.Ptr(e.Country, normalizers.Country)
		website := normalizers.Ptr(e.Website, normalizers.Website)

		if country != "" {
			key := joinKey(name, country)
			m.byNameCountry[key] = append(m.byNameCountry[key], e.ID)
		}
		if website != "" {
			key := joinKey(name, website)
			m.byNameWebsite[key] = append(m.byNameWebsite[key], e.ID)
		}
		if country == "" && website == "" && !hasPID[e.ID] {
			m.byName[name] = append(m.byName[name], e.ID)
		}
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"name_country_keys": len(m.byNameCountry),
		"name_website_keys": len(m.byNameWebsite),
		"bare_name_keys":    len(m.byName),
	}).Debug("Built entity match indexes")

	return m, nil
}

func entityName(e *models.Entity) string {
	if e.Name != nil && *e.Name != "" {
		return normalizers.Name(*e.Name)
	}
	return normalizers.Ptr(e.RawName, normalizers.Name)
}

func joinKey(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

// Match runs the criteria cascade for one candidate; the first hit wins.
// A candidate that carries any PID is matched by PID only.
func (m *EntityMatcher) Match(ctx context.Context, candidate models.PartyRow) EntityMatch {
	if candidate.HasPID() {
		return m.matchPID(ctx, candidate)
	}

	name := normalizers.Ptr(candidate.Name, normalizers.Name)
	if name == "" {
		return EntityMatch{}
	}

	if country := normalizers.Ptr(candidate.Country, normalizers.Country); country != "" {
		if id, ok := m.pick(ctx, CriterionNameCountry, m.byNameCountry[joinKey(name, country)]); ok {
			return EntityMatch{EntityID: id, Criterion: CriterionNameCountry}
		}
	}
	if website := normalizers.Ptr(candidate.Website, normalizers.Website); website != "" {
		if id, ok := m.pick(ctx, CriterionNameWebsite, m.byNameWebsite[joinKey(name, website)]); ok {
			return EntityMatch{EntityID: id, Criterion: CriterionNameWebsite}
		}
	}
	if id, ok := m.pick(ctx, CriterionName, m.byName[name]); ok {
		return EntityMatch{EntityID: id, Criterion: CriterionName}
	}
	return EntityMatch{}
}

func (m *EntityMatcher) matchPID(ctx context.Context, candidate models.PartyRow) EntityMatch {
	var match EntityMatch
	for _, registry := range models.Registries {
		value := candidate.PID(registry)
		if value == nil || *value == "" {
			continue
		}
		id, ok := m.byPID[registry][normalizers.PID(*value)]
		if !ok {
			continue
		}
		if !match.Matched() {
			match.EntityID = id
			match.Criterion = pidCriterion(registry)
			continue
		}
		if id != match.EntityID {
			match.Collisions = append(match.Collisions, Collision{Registry: registry, Value: *value, EntityID: id})
		}
	}

	if len(match.Collisions) > 0 {
		m.logger.WithContext(ctx).WithFields(map[string]any{
			"entity_id":  match.EntityID,
			"criterion":  match.Criterion,
			"collisions": len(match.Collisions),
		}).Warn("Candidate identifiers point at different entities")
	}
	return match
}

// pick resolves a heuristic hit. Several hits mean duplicates already exist; the oldest wins.
func (m *EntityMatcher) pick(ctx context.Context, criterion Criterion, ids []string) (string, bool) {
	switch len(ids) {
	case 0:
		return "", false
	case 1:
		return ids[0], true
	}
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"criterion": criterion,
		"entities":  strings.Join(ids, ","),
	}).Warn("Several canonical entities share a match key, using the oldest")
	return ids[0], true
}
