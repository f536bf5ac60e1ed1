package corpus

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ChangeSet is everything written since the previous drain, in write order.
type ChangeSet struct {
	Loads               []models.DataLoadSource
	Entities            []models.Entity
	Identifiers         []models.Identifier
	IdentifierMatchings []models.IdentifierEntityMatching
	Transfers           []models.Transfer
	TransferLoads       []models.TransferLoad
	TransferMatchings   []models.TransferEntityMatching
	DeletedTransferIDs  []string
	DeletedLoadIDs      []string
}

func (cs ChangeSet) Size() int {
	return len(cs.Loads) + len(cs.Entities) + len(cs.Identifiers) + len(cs.IdentifierMatchings) +
		len(cs.Transfers) + len(cs.TransferLoads) + len(cs.TransferMatchings) +
		len(cs.DeletedTransferIDs) + len(cs.DeletedLoadIDs)
}

func (cs ChangeSet) IsEmpty() bool {
	return cs.Size() == 0
}

// Drain returns the pending changes and starts a new change set.
func (c *Corpus) Drain() ChangeSet {
	var cs ChangeSet

	for _, id := range sortedKeys(c.dirtyLoads) {
		if l, ok := c.loads[id]; ok {
			cs.Loads = append(cs.Loads, *l)
		}
	}
	for _, id := range sortedKeys(c.dirtyEntities) {
		cs.Entities = append(cs.Entities, *c.entities[id])
	}
	for _, id := range sortedKeys(c.dirtyIdentifiers) {
		cs.Identifiers = append(cs.Identifiers, *c.identifiers[id])
	}
	matchingIDs := make([]string, 0, len(c.dirtyMatchings))
	for id := range c.dirtyMatchings {
		matchingIDs = append(matchingIDs, id)
	}
	sort.Strings(matchingIDs)
	for _, id := range matchingIDs {
		cs.IdentifierMatchings = append(cs.IdentifierMatchings, *c.dirtyMatchings[id])
	}
	for _, id := range sortedKeys(c.dirtyTransfers) {
		if t, ok := c.transfers[id]; ok {
			cs.Transfers = append(cs.Transfers, t.Clone())
		}
	}

	deleted := set{}
	for _, id := range c.deletedTransfers {
		deleted.add(id)
	}
	for _, link := range c.transferLoads {
		if _, gone := deleted[link.TransferID]; !gone {
			cs.TransferLoads = append(cs.TransferLoads, link)
		}
	}
	for _, m := range c.transferMatching {
		if _, gone := deleted[m.TransferID]; !gone {
			cs.TransferMatchings = append(cs.TransferMatchings, m)
		}
	}
	cs.DeletedTransferIDs = append(cs.DeletedTransferIDs, c.deletedTransfers...)
	cs.DeletedLoadIDs = append(cs.DeletedLoadIDs, c.deletedLoads...)

	c.dirtyLoads = set{}
	c.dirtyEntities = set{}
	c.dirtyIdentifiers = set{}
	c.dirtyMatchings = make(map[string]*models.IdentifierEntityMatching)
	c.dirtyTransfers = set{}
	c.deletedTransfers = nil
	c.deletedLoads = nil
	c.transferLoads = nil
	c.transferMatching = nil

	return cs
}

// Summary lists what the batch created, for completion signals.
type Summary struct {
	EntityIDs   []string
	Registries  []models.Registry
	TransferIDs []string
}

func (c *Corpus) Summary() Summary {
	s := Summary{}
	registries := map[models.Registry]bool{}
	for _, id := range c.createdEntities {
		if _, ok := c.entities[id]; !ok {
			continue
		}
		s.EntityIDs = append(s.EntityIDs, id)
		for _, ident := range c.IdentifiersOf(id) {
			registries[ident.RegistryID] = true
		}
	}
	for _, r := range models.Registries {
		if registries[r] {
			s.Registries = append(s.Registries, r)
		}
	}
	for _, id := range c.createdTransfers {
		if _, ok := c.transfers[id]; ok {
			s.TransferIDs = append(s.TransferIDs, id)
		}
	}
	return s
}

func sortedKeys(s set) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
