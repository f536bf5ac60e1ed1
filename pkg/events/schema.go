// Package events describes the completion signals emitted after a batch commits.
package events

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

type Type string

const (
	TypeEntitiesCreated  Type = "entities.created"
	TypeEntitiesMerged   Type = "entities.merged"
	TypeTransfersCreated Type = "transfers.created"
)

// EntityRef is the part of an entity downstream consumers project.
type EntityRef struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Country    string            `json:"country,omitempty"`
	Website    string            `json:"website,omitempty"`
	Registries []models.Registry `json:"registries,omitempty"`
}

// MergeRef records one entity folded into another.
type MergeRef struct {
	EntityID     string `json:"entity_id"`
	MergedWithID string `json:"merged_with_id"`
	Criteria     string `json:"criteria"`
}

// TransferRef is a created transfer. MergedFrom is set on canonical children.
type TransferRef struct {
	ID          string   `json:"id"`
	EmitterID   string   `json:"emitter_id,omitempty"`
	RecipientID string   `json:"recipient_id,omitempty"`
	AgentID     string   `json:"agent_id,omitempty"`
	Amount      string   `json:"amount,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	HideAmount  bool     `json:"hide_amount,omitempty"`
	MergedFrom  []string `json:"merged_from,omitempty"`
}

// Event is one completion signal of a batch.
type Event struct {
	ID            string            `json:"id"`
	Type          Type              `json:"type"`
	SchemaVersion string            `json:"schema_version"`
	BatchID       string            `json:"batch_id"`
	SourceID      string            `json:"source_id"`
	LoadID        string            `json:"load_id"`
	Registries    []models.Registry `json:"registries,omitempty"`
	Entities      []EntityRef       `json:"entities,omitempty"`
	Merges        []MergeRef        `json:"merges,omitempty"`
	Transfers     []TransferRef     `json:"transfers,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Key partitions events of one batch together.
func (e Event) Key() string {
	if e.BatchID != "" {
		return e.BatchID
	}
	return e.ID
}
