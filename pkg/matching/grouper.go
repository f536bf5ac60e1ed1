package matching

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Group is a set of unmatched candidates that describe the same new entity.
type Group struct {
	// Members are indexes into the slice given to GroupCandidates, in input order.
	Members []int
	// Party holds the first non-null value of every field across the members.
	Party models.PartyRow
	// PIDs holds the distinct identifier values seen per registry, in first-seen order.
	PIDs map[models.Registry][]string
	// Criterion is the key the group was formed on.
	Criterion Criterion
}

var groupRegistries = []models.Registry{models.RegistryROR, models.RegistryWikidata, models.RegistryCustom}

// GroupCandidates partitions unmatched candidates of a batch. Candidates are grouped by ROR id,
// then Wikidata id, then custom id, each pass taking its rows out of consideration, and the
// rest by normalized name and country (a missing country is a key of its own). PID groups that
// share any identifier value across registries are joined into the earliest of them.
func GroupCandidates(candidates []models.PartyRow) []Group {
	remaining := make([]bool, len(candidates))
	for i := range remaining {
		remaining[i] = true
	}

	var groups []Group
	for _, registry := range groupRegistries {
		index := map[string]int{}
		for i, cand := range candidates {
			if !remaining[i] {
				continue
			}
			value := cand.PID(registry)
			if value == nil || *value == "" {
				continue
			}
			key := normalizers.PID(*value)
			g, ok := index[key]
			if !ok {
				g = len(groups)
				index[key] = g
				groups = append(groups, Group{Criterion: pidCriterion(registry)})
			}
			groups[g].Members = append(groups[g].Members, i)
			remaining[i] = false
		}
	}
	groups = joinSharedPIDs(candidates, groups)

	index := map[string]int{}
	for i, cand := range candidates {
		if !remaining[i] {
			continue
		}
		country := "\x00"
		if cand.Country != nil && *cand.Country != "" {
			country = normalizers.Country(*cand.Country)
		}
		key := joinKey(normalizers.Ptr(cand.Name, normalizers.Name), country)
		g, ok := index[key]
		if !ok {
			g = len(groups)
			index[key] = g
			groups = append(groups, Group{Criterion: CriterionNameCountry})
		}
		groups[g].Members = append(groups[g].Members, i)
	}

	for g := range groups {
		groups[g].Party, groups[g].PIDs = coalesceParties(candidates, groups[g].Members)
	}
	return groups
}

func joinSharedPIDs(candidates []models.PartyRow, groups []Group) []Group {
	root := make([]int, len(groups))
	for g := range root {
		root[g] = g
	}
	var find func(int) int
	find = func(g int) int {
		if root[g] != g {
			root[g] = find(root[g])
		}
		return root[g]
	}

	owner := map[string]int{}
	for g := range groups {
		for _, i := range groups[g].Members {
			for _, registry := range groupRegistries {
				value := candidates[i].PID(registry)
				if value == nil || *value == "" {
					continue
				}
				key := joinKey(string(registry), normalizers.PID(*value))
				o, ok := owner[key]
				if !ok {
					owner[key] = g
					continue
				}
				a, b := find(o), find(g)
				if a > b {
					a, b = b, a
				}
				root[b] = a
			}
		}
	}

	joined := make([]Group, 0, len(groups))
	at := map[int]int{}
	for g := range groups {
		r := find(g)
		if j, ok := at[r]; ok {
			joined[j].Members = append(joined[j].Members, groups[g].Members...)
			continue
		}
		at[r] = len(joined)
		joined = append(joined, groups[g])
	}
	for j := range joined {
		sort.Ints(joined[j].Members)
	}
	return joined
}

func coalesceParties(candidates []models.PartyRow, members []int) (models.PartyRow, map[models.Registry][]string) {
	var party models.PartyRow
	pids := map[models.Registry][]string{}
	seen := map[models.Registry]map[string]bool{}

	for _, i := range members {
		cand := candidates[i]
		party.Name = firstNonEmpty(party.Name, cand.Name)
		party.Country = firstNonEmpty(party.Country, cand.Country)
		party.Website = firstNonEmpty(party.Website, cand.Website)
		party.RorID = firstNonEmpty(party.RorID, cand.RorID)
		party.WikidataID = firstNonEmpty(party.WikidataID, cand.WikidataID)
		party.CustomID = firstNonEmpty(party.CustomID, cand.CustomID)

		for _, registry := range models.Registries {
			value := cand.PID(registry)
			if value == nil || *value == "" {
				continue
			}
			key := normalizers.PID(*value)
			if seen[registry] == nil {
				seen[registry] = map[string]bool{}
			}
			if seen[registry][key] {
				continue
			}
			seen[registry][key] = true
			pids[registry] = append(pids[registry], *value)
		}
	}
	return party, pids
}

func firstNonEmpty(current, next *string) *string {
	if current != nil && *current != "" {
		return current
	}
	if next != nil && *next != "" {
		return next
	}
	return current
}
