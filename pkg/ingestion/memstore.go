package ingestion

import (
	"context"
	"sort"
	"sync"

	"github.com/Ramsey-B/fern/pkg/corpus"
	"github.com/Ramsey-B/fern/pkg/models"
)

// MemoryStore keeps the corpus in process. Transactions snapshot the state and restore it on
// error. It backs dry runs without a database and the coordinator tests.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	loads             map[string]models.DataLoadSource
	entities          map[string]models.Entity
	identifiers       map[string]models.Identifier
	matchings         map[string]models.IdentifierEntityMatching
	transfers         map[string]models.Transfer
	transferMatchings []models.TransferEntityMatching
	seq               map[string]int
	next              int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{
		loads:       map[string]models.DataLoadSource{},
		entities:    map[string]models.Entity{},
		identifiers: map[string]models.Identifier{},
		matchings:   map[string]models.IdentifierEntityMatching{},
		transfers:   map[string]models.Transfer{},
		seq:         map[string]int{},
	}}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		loads:             make(map[string]models.DataLoadSource, len(s.loads)),
		entities:          make(map[string]models.Entity, len(s.entities)),
		identifiers:       make(map[string]models.Identifier, len(s.identifiers)),
		matchings:         make(map[string]models.IdentifierEntityMatching, len(s.matchings)),
		transfers:         make(map[string]models.Transfer, len(s.transfers)),
		transferMatchings: append([]models.TransferEntityMatching(nil), s.transferMatchings...),
		seq:               make(map[string]int, len(s.seq)),
		next:              s.next,
	}
	for k, v := range s.loads {
		out.loads[k] = v
	}
	for k, v := range s.entities {
		out.entities[k] = v
	}
	for k, v := range s.identifiers {
		out.identifiers[k] = v
	}
	for k, v := range s.matchings {
		out.matchings[k] = v
	}
	for k, v := range s.transfers {
		out.transfers[k] = v.Clone()
	}
	for k, v := range s.seq {
		out.seq[k] = v
	}
	return out
}

func (s *memoryState) order(id string) int {
	if n, ok := s.seq[id]; ok {
		return n
	}
	s.next++
	s.seq[id] = s.next
	return s.next
}

func (s *memoryState) sortedIDs(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool { return s.seq[ids[i]] < s.seq[ids[j]] })
	return ids
}

func (m *MemoryStore) LoadSnapshot(_ context.Context) (corpus.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.state

	var snap corpus.Snapshot
	for _, id := range s.sortedIDs(keys(s.loads)) {
		snap.Loads = append(snap.Loads, s.loads[id])
	}
	for _, id := range s.sortedIDs(keys(s.entities)) {
		snap.Entities = append(snap.Entities, s.entities[id])
	}
	for _, id := range s.sortedIDs(keys(s.identifiers)) {
		snap.Identifiers = append(snap.Identifiers, s.identifiers[id])
	}
	for _, id := range s.sortedIDs(keys(s.matchings)) {
		if s.matchings[id].DateEnd == nil {
			snap.OpenMatchings = append(snap.OpenMatchings, s.matchings[id])
		}
	}
	for _, id := range s.sortedIDs(keys(s.transfers)) {
		snap.Transfers = append(snap.Transfers, s.transfers[id].Clone())
	}
	return snap, nil
}

func (m *MemoryStore) Flush(_ context.Context, cs corpus.ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.state

	deleted := map[string]bool{}
	for _, id := range cs.DeletedTransferIDs {
		deleted[id] = true
		delete(s.transfers, id)
	}
	if len(deleted) > 0 {
		kept := s.transferMatchings[:0]
		for _, tm := range s.transferMatchings {
			if !deleted[tm.TransferID] {
				kept = append(kept, tm)
			}
		}
		s.transferMatchings = kept
	}
	for _, id := range cs.DeletedLoadIDs {
		delete(s.loads, id)
		for tid, t := range s.transfers {
			t.DataLoadSourceIDs = without(t.DataLoadSourceIDs, id)
			s.transfers[tid] = t
		}
	}

	for _, l := range cs.Loads {
		s.order(l.ID)
		s.loads[l.ID] = l
	}
	for _, e := range cs.Entities {
		s.order(e.ID)
		s.entities[e.ID] = e
	}
	for _, ident := range cs.Identifiers {
		s.order(ident.ID)
		s.identifiers[ident.ID] = ident
	}
	for _, im := range cs.IdentifierMatchings {
		s.order(im.ID)
		s.matchings[im.ID] = im
	}
	for _, t := range cs.Transfers {
		s.order(t.ID)
		s.transfers[t.ID] = t.Clone()
	}
	s.transferMatchings = append(s.transferMatchings, cs.TransferMatchings...)
	return nil
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	saved := m.state.clone()
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.state = saved
		m.mu.Unlock()
		return err
	}
	return nil
}

// Entities returns the stored entities, oldest first.
func (m *MemoryStore) Entities() []models.Entity {
	snap, _ := m.LoadSnapshot(context.Background())
	return snap.Entities
}

// Transfers returns the stored transfers, oldest first.
func (m *MemoryStore) Transfers() []models.Transfer {
	snap, _ := m.LoadSnapshot(context.Background())
	return snap.Transfers
}

func (m *MemoryStore) Identifiers() []models.Identifier {
	snap, _ := m.LoadSnapshot(context.Background())
	return snap.Identifiers
}

func (m *MemoryStore) Loads() []models.DataLoadSource {
	snap, _ := m.LoadSnapshot(context.Background())
	return snap.Loads
}

func (m *MemoryStore) TransferMatchings() []models.TransferEntityMatching {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TransferEntityMatching(nil), m.state.transferMatchings...)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
