// Package corpus holds the in-memory view of the stored entities and transfers that a batch
// works against. Every mutation is recorded so it can be flushed to storage in bulk.
package corpus

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/mergechain"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Snapshot is the stored state loaded at the start of a batch.
type Snapshot struct {
	Loads         []models.DataLoadSource
	Entities      []models.Entity
	Identifiers   []models.Identifier
	OpenMatchings []models.IdentifierEntityMatching
	Transfers     []models.Transfer
}

type set map[string]struct{}

func (s set) add(id string) { s[id] = struct{}{} }

type Corpus struct {
	loads     map[string]*models.DataLoadSource
	loadOrder []string

	entities    map[string]*models.Entity
	entityOrder []string
	resolver    *mergechain.Resolver

	identifiers     map[string]*models.Identifier
	identifierOrder []string
	identifierKeys  map[models.Registry]map[string]string
	openMatchings   map[string]*models.IdentifierEntityMatching

	transfers     map[string]*models.Transfer
	transferOrder []string
	children      map[string]set
	chainCap      int

	dirtyLoads       set
	dirtyEntities    set
	dirtyIdentifiers set
	dirtyMatchings   map[string]*models.IdentifierEntityMatching
	dirtyTransfers   set
	deletedLoads     []string
	deletedTransfers []string
	transferLoads    []models.TransferLoad
	transferMatching []models.TransferEntityMatching

	createdEntities  []string
	createdTransfers []string

	now   func() time.Time
	newID func() string
}

type Option func(*Corpus)

// WithClock fixes the time stamped on created and updated rows.
func WithClock(now func() time.Time) Option {
	return func(c *Corpus) { c.now = now }
}

// WithIDGenerator replaces uuid generation, mostly for tests.
func WithIDGenerator(newID func() string) Option {
	return func(c *Corpus) { c.newID = newID }
}

// New indexes a snapshot. Merge chains are resolved up front so corrupt chains fail the batch
// before any matching starts.
func New(snap Snapshot, chainCap int, opts ...Option) (*Corpus, error) {
	c := &Corpus{
		loads:            make(map[string]*models.DataLoadSource, len(snap.Loads)),
		entities:         make(map[string]*models.Entity, len(snap.Entities)),
		resolver:         mergechain.New(chainCap),
		identifiers:      make(map[string]*models.Identifier, len(snap.Identifiers)),
		identifierKeys:   make(map[models.Registry]map[string]string),
		openMatchings:    make(map[string]*models.IdentifierEntityMatching),
		transfers:        make(map[string]*models.Transfer, len(snap.Transfers)),
		children:         make(map[string]set),
		chainCap:         chainCap,
		dirtyLoads:       set{},
		dirtyEntities:    set{},
		dirtyIdentifiers: set{},
		dirtyMatchings:   make(map[string]*models.IdentifierEntityMatching),
		dirtyTransfers:   set{},
		now:              func() time.Time { return time.Now().UTC() },
		newID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	for i := range snap.Loads {
		l := snap.Loads[i]
		c.loads[l.ID] = &l
		c.loadOrder = append(c.loadOrder, l.ID)
	}

	for i := range snap.Entities {
		e := snap.Entities[i]
		c.entities[e.ID] = &e
		c.entityOrder = append(c.entityOrder, e.ID)
		if e.MergedWith != nil {
			c.resolver.Link(e.ID, *e.MergedWith)
		}
	}
	for _, id := range c.entityOrder {
		if _, err := c.resolver.Find(id); err != nil {
			return nil, err
		}
	}

	for i := range snap.Identifiers {
		ident := snap.Identifiers[i]
		c.indexIdentifier(&ident)
	}
	for i := range snap.OpenMatchings {
		m := snap.OpenMatchings[i]
		if m.DateEnd == nil {
			c.openMatchings[m.IdentifierID] = &m
		}
	}

	for i := range snap.Transfers {
		t := snap.Transfers[i].Clone()
		c.transfers[t.ID] = &t
		c.transferOrder = append(c.transferOrder, t.ID)
	}
	transferChains := mergechain.New(chainCap)
	for _, t := range c.transfers {
		if t.MergedInto != nil {
			c.addChild(*t.MergedInto, t.ID)
			transferChains.Link(t.ID, *t.MergedInto)
		}
	}
	for _, id := range c.transferOrder {
		if _, err := transferChains.Find(id); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Corpus) Now() time.Time { return c.now() }

func (c *Corpus) NewID() string { return c.newID() }

// Loads

func (c *Corpus) Loads() []*models.DataLoadSource {
	out := make([]*models.DataLoadSource, 0, len(c.loadOrder))
	for _, id := range c.loadOrder {
		if l, ok := c.loads[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (c *Corpus) Load(id string) *models.DataLoadSource {
	return c.loads[id]
}

func (c *Corpus) AddLoad(l models.DataLoadSource) *models.DataLoadSource {
	if l.ID == "" {
		l.ID = c.newID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = c.now()
	}
	c.loads[l.ID] = &l
	c.loadOrder = append(c.loadOrder, l.ID)
	c.dirtyLoads.add(l.ID)
	return &l
}

func (c *Corpus) DeleteLoad(id string) {
	if _, ok := c.loads[id]; !ok {
		return
	}
	delete(c.loads, id)
	delete(c.dirtyLoads, id)
	c.deletedLoads = append(c.deletedLoads, id)
}

// Entities

func (c *Corpus) Entity(id string) *models.Entity {
	return c.entities[id]
}

// Entities returns every entity in load order, merged ones included.
func (c *Corpus) Entities() []*models.Entity {
	out := make([]*models.Entity, 0, len(c.entityOrder))
	for _, id := range c.entityOrder {
		out = append(out, c.entities[id])
	}
	return out
}

// CanonicalEntities returns entities that have not been merged away.
func (c *Corpus) CanonicalEntities() []*models.Entity {
	out := make([]*models.Entity, 0, len(c.entityOrder))
	for _, id := range c.entityOrder {
		if e := c.entities[id]; e.MergedWith == nil {
			out = append(out, e)
		}
	}
	return out
}

func (c *Corpus) AddEntity(e models.Entity) *models.Entity {
	if e.ID == "" {
		e.ID = c.newID()
	}
	now := c.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	c.entities[e.ID] = &e
	c.entityOrder = append(c.entityOrder, e.ID)
	c.dirtyEntities.add(e.ID)
	c.createdEntities = append(c.createdEntities, e.ID)
	return &e
}

// TouchEntity marks an entity as modified.
func (c *Corpus) TouchEntity(id string) {
	if e, ok := c.entities[id]; ok {
		e.UpdatedAt = c.now()
		c.dirtyEntities.add(id)
	}
}

// ResolveEntity follows merged-with links to the canonical entity id.
func (c *Corpus) ResolveEntity(id string) (string, error) {
	return c.resolver.Find(id)
}

// LinkEntity records a merge in the chain resolver.
func (c *Corpus) LinkEntity(id, target string) {
	c.resolver.Link(id, target)
}

// Identifiers

func (c *Corpus) indexIdentifier(ident *models.Identifier) {
	if _, ok := c.identifiers[ident.ID]; !ok {
		c.identifierOrder = append(c.identifierOrder, ident.ID)
	}
	c.identifiers[ident.ID] = ident
	keys, ok := c.identifierKeys[ident.RegistryID]
	if !ok {
		keys = make(map[string]string)
		c.identifierKeys[ident.RegistryID] = keys
	}
	keys[normalizers.PID(ident.Value)] = ident.ID
}

func (c *Corpus) Identifier(id string) *models.Identifier {
	return c.identifiers[id]
}

// IdentifierByValue looks an identifier up by registry and normalized value.
func (c *Corpus) IdentifierByValue(registry models.Registry, value string) *models.Identifier {
	id, ok := c.identifierKeys[registry][normalizers.PID(value)]
	if !ok {
		return nil
	}
	return c.identifiers[id]
}

func (c *Corpus) Identifiers() []*models.Identifier {
	out := make([]*models.Identifier, 0, len(c.identifierOrder))
	for _, id := range c.identifierOrder {
		out = append(out, c.identifiers[id])
	}
	return out
}

// IdentifiersOf returns the identifiers currently attached to entityID.
func (c *Corpus) IdentifiersOf(entityID string) []*models.Identifier {
	var out []*models.Identifier
	for _, id := range c.identifierOrder {
		ident := c.identifiers[id]
		if ident.EntityID != nil && *ident.EntityID == entityID {
			out = append(out, ident)
		}
	}
	return out
}

func (c *Corpus) OpenMatching(identifierID string) *models.IdentifierEntityMatching {
	return c.openMatchings[identifierID]
}

// Attachment describes why an identifier is being attached to an entity.
type Attachment struct {
	Registry      models.Registry
	Value         string
	EntityID      string
	MatchCriteria string
	MatchSource   string
}

// AttachIdentifier attaches (creating it when unknown) the identifier to an entity and opens an
// attachment interval. An identifier owned by another entity is left alone and reported.
func (c *Corpus) AttachIdentifier(a Attachment) (*models.Identifier, error) {
	now := c.now()
	ident := c.IdentifierByValue(a.Registry, a.Value)
	if ident == nil {
		ident = &models.Identifier{
			ID:         c.newID(),
			RegistryID: a.Registry,
			Value:      a.Value,
			CreatedAt:  now,
		}
		c.indexIdentifier(ident)
	}

	if ident.EntityID != nil {
		if *ident.EntityID == a.EntityID {
			return ident, nil
		}
		return ident, fmt.Errorf("%s identifier %s already belongs to entity %s", a.Registry, a.Value, *ident.EntityID)
	}

	c.closeMatching(ident.ID, nil)

	entityID := a.EntityID
	ident.EntityID = &entityID
	ident.UpdatedAt = now
	c.dirtyIdentifiers.add(ident.ID)

	m := &models.IdentifierEntityMatching{
		ID:            c.newID(),
		IdentifierID:  ident.ID,
		EntityID:      a.EntityID,
		DateStart:     now,
		MatchCriteria: optional(a.MatchCriteria),
		MatchSource:   optional(a.MatchSource),
	}
	c.openMatchings[ident.ID] = m
	c.dirtyMatchings[m.ID] = m
	return ident, nil
}

// DetachIdentifier clears the owner and closes the open interval with comment.
func (c *Corpus) DetachIdentifier(identifierID, comment string) {
	ident, ok := c.identifiers[identifierID]
	if !ok || ident.EntityID == nil {
		return
	}
	ident.EntityID = nil
	ident.UpdatedAt = c.now()
	c.dirtyIdentifiers.add(identifierID)
	c.closeMatching(identifierID, optional(comment))
}

// SetCurrentVersion records the latest registry record fetched for an identifier.
func (c *Corpus) SetCurrentVersion(identifierID, versionID string) {
	ident, ok := c.identifiers[identifierID]
	if !ok {
		return
	}
	ident.CurrentVersionID = &versionID
	ident.UpdatedAt = c.now()
	c.dirtyIdentifiers.add(identifierID)
}

func (c *Corpus) closeMatching(identifierID string, comment *string) {
	m, ok := c.openMatchings[identifierID]
	if !ok {
		return
	}
	end := c.now()
	m.DateEnd = &end
	if comment != nil {
		m.Comments = comment
	}
	delete(c.openMatchings, identifierID)
	c.dirtyMatchings[m.ID] = m
}

// Transfers

func (c *Corpus) Transfer(id string) *models.Transfer {
	return c.transfers[id]
}

// Transfers returns every live transfer, merged parents included.
func (c *Corpus) Transfers() []*models.Transfer {
	out := make([]*models.Transfer, 0, len(c.transfers))
	for _, id := range c.transferOrder {
		if t, ok := c.transfers[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// CanonicalTransfers returns transfers not merged into a child.
func (c *Corpus) CanonicalTransfers() []*models.Transfer {
	out := make([]*models.Transfer, 0, len(c.transfers))
	for _, t := range c.Transfers() {
		if t.MergedInto == nil {
			out = append(out, t)
		}
	}
	return out
}

// AddTransfer stores a new transfer and links it to its data load sources.
func (c *Corpus) AddTransfer(t models.Transfer) *models.Transfer {
	if t.ID == "" {
		t.ID = c.newID()
	}
	now := c.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	c.transfers[t.ID] = &t
	c.transferOrder = append(c.transferOrder, t.ID)
	c.dirtyTransfers.add(t.ID)
	c.createdTransfers = append(c.createdTransfers, t.ID)
	for _, loadID := range t.DataLoadSourceIDs {
		c.transferLoads = append(c.transferLoads, models.TransferLoad{TransferID: t.ID, DataLoadSourceID: loadID})
	}
	if t.MergedInto != nil {
		c.addChild(*t.MergedInto, t.ID)
	}
	return &t
}

func (c *Corpus) TouchTransfer(id string) {
	if t, ok := c.transfers[id]; ok {
		t.UpdatedAt = c.now()
		c.dirtyTransfers.add(id)
	}
}

// SetMergedInto points parent at child (or clears the link when child is nil).
func (c *Corpus) SetMergedInto(parentID string, child *string) {
	t, ok := c.transfers[parentID]
	if !ok {
		return
	}
	if t.MergedInto != nil {
		delete(c.children[*t.MergedInto], parentID)
	}
	t.MergedInto = child
	if child != nil {
		c.addChild(*child, parentID)
	}
	c.TouchTransfer(parentID)
}

// Descendants follows merged_into links from id and returns every transfer reached, nearest first.
func (c *Corpus) Descendants(id string) ([]string, error) {
	return mergechain.Walk(id, c.chainCap, func(current string) (string, bool) {
		t, ok := c.transfers[current]
		if !ok || t.MergedInto == nil {
			return "", false
		}
		return *t.MergedInto, true
	})
}

// Parents returns the transfers merged into id.
func (c *Corpus) Parents(id string) []string {
	parents := make([]string, 0, len(c.children[id]))
	for p := range c.children[id] {
		parents = append(parents, p)
	}
	sort.Strings(parents)
	return parents
}

// IsMergeChild reports whether other transfers were merged into id.
func (c *Corpus) IsMergeChild(id string) bool {
	return len(c.children[id]) > 0
}

func (c *Corpus) addChild(child, parent string) {
	if c.children[child] == nil {
		c.children[child] = set{}
	}
	c.children[child].add(parent)
}

func (c *Corpus) DeleteTransfer(id string) {
	t, ok := c.transfers[id]
	if !ok {
		return
	}
	if t.MergedInto != nil {
		delete(c.children[*t.MergedInto], id)
	}
	delete(c.transfers, id)
	delete(c.dirtyTransfers, id)
	delete(c.children, id)
	c.deletedTransfers = append(c.deletedTransfers, id)
}

// SourcesOf returns the data source ids a transfer was reported by.
func (c *Corpus) SourcesOf(t *models.Transfer) map[string]struct{} {
	sources := make(map[string]struct{}, len(t.DataLoadSourceIDs))
	for _, loadID := range t.DataLoadSourceIDs {
		if l, ok := c.loads[loadID]; ok {
			sources[l.SourceID] = struct{}{}
		}
	}
	return sources
}

// SourceLabel joins the data source ids of a transfer for reports and logs.
func (c *Corpus) SourceLabel(t *models.Transfer) string {
	sources := c.SourcesOf(t)
	ids := make([]string, 0, len(sources))
	for s := range sources {
		ids = append(ids, s)
	}
	sort.Strings(ids)
	label := ""
	for i, s := range ids {
		if i > 0 {
			label += "+"
		}
		label += s
	}
	return label
}

func (c *Corpus) AddTransferMatching(m models.TransferEntityMatching) {
	if m.ID == "" {
		m.ID = c.newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = c.now()
	}
	c.transferMatching = append(c.transferMatching, m)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
