package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the part an entity plays on a transfer.
type Role string

const (
	RoleEmitter   Role = "emitter"
	RoleRecipient Role = "recipient"
	RoleAgent     Role = "agent"
)

var Roles = []Role{RoleEmitter, RoleRecipient, RoleAgent}

// Transfer is one reported payment. A transfer with MergedInto set has been
// superseded by the canonical child it points to.
type Transfer struct {
	ID                  string                     `json:"id"`
	EmitterID           *string                    `json:"emitter_id,omitempty"`
	RecipientID         *string                    `json:"recipient_id,omitempty"`
	AgentID             *string                    `json:"agent_id,omitempty"`
	Amount              decimal.NullDecimal        `json:"amount"`
	Currency            *string                    `json:"currency,omitempty"`
	AmountsInCurrencies map[string]decimal.Decimal `json:"amounts_in_currencies,omitempty"`
	HideAmount          bool                       `json:"hide_amount"`
	Dates               map[DateField]PreciseDate  `json:"dates,omitempty"`
	OriginalID          *string                    `json:"original_id,omitempty"`
	Description         *string                    `json:"description,omitempty"`
	RawData             map[string]json.RawMessage `json:"raw_data,omitempty"`
	MergedInto          *string                    `json:"merged_into,omitempty"`
	DataLoadSourceIDs   []string                   `json:"data_load_source_ids"`
	CreatedAt           time.Time                  `json:"created_at"`
	UpdatedAt           time.Time                  `json:"updated_at"`
}

func (t *Transfer) Entity(role Role) *string {
	switch role {
	case RoleEmitter:
		return t.EmitterID
	case RoleRecipient:
		return t.RecipientID
	case RoleAgent:
		return t.AgentID
	}
	return nil
}

func (t *Transfer) SetEntity(role Role, id *string) {
	switch role {
	case RoleEmitter:
		t.EmitterID = id
	case RoleRecipient:
		t.RecipientID = id
	case RoleAgent:
		t.AgentID = id
	}
}

func (t *Transfer) Date(field DateField) (PreciseDate, bool) {
	d, ok := t.Dates[field]
	return d, ok
}

// Clone copies the transfer deep enough that mutating maps or slices of the copy leaves t intact.
func (t Transfer) Clone() Transfer {
	c := t
	if t.AmountsInCurrencies != nil {
		c.AmountsInCurrencies = make(map[string]decimal.Decimal, len(t.AmountsInCurrencies))
		for k, v := range t.AmountsInCurrencies {
			c.AmountsInCurrencies[k] = v
		}
	}
	if t.Dates != nil {
		c.Dates = make(map[DateField]PreciseDate, len(t.Dates))
		for k, v := range t.Dates {
			c.Dates[k] = v
		}
	}
	if t.RawData != nil {
		c.RawData = make(map[string]json.RawMessage, len(t.RawData))
		for k, v := range t.RawData {
			c.RawData[k] = v
		}
	}
	c.DataLoadSourceIDs = append([]string(nil), t.DataLoadSourceIDs...)
	return c
}

// TransferEntityMatching records which entity fills a role on a transfer and why.
type TransferEntityMatching struct {
	ID               string    `json:"id" db:"id"`
	TransferID       string    `json:"transfer_id" db:"transfer_id"`
	EntityID         string    `json:"entity_id" db:"entity_id"`
	OriginalEntityID *string   `json:"original_entity_id,omitempty" db:"original_entity_id"`
	Role             Role      `json:"role" db:"role"`
	MatchCriteria    *string   `json:"match_criteria,omitempty" db:"match_criteria"`
	MatchSource      *string   `json:"match_source,omitempty" db:"match_source"`
	Comments         *string   `json:"comments,omitempty" db:"comments"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// TransferLoad links a transfer to a data load source it was reported in.
type TransferLoad struct {
	TransferID       string `json:"transfer_id" db:"transfer_id"`
	DataLoadSourceID string `json:"data_load_source_id" db:"data_load_source_id"`
}
