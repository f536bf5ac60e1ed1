package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Batch is a prepared load: one data load source and its transfer rows.
type Batch struct {
	ID   string         `json:"id"`
	Load DataLoadSource `json:"load" validate:"required"`
	Rows []TransferRow  `json:"rows" validate:"dive"`
}

// PartyRow describes an entity as a source reported it.
type PartyRow struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,min=1"`
	Country    *string `json:"country,omitempty" validate:"omitempty,iso3166_1_alpha2"`
	Website    *string `json:"website,omitempty"`
	RorID      *string `json:"ror_id,omitempty"`
	WikidataID *string `json:"wikidata_id,omitempty"`
	CustomID   *string `json:"custom_id,omitempty"`
}

// PID returns the party's identifier in registry, if any.
func (p PartyRow) PID(registry Registry) *string {
	switch registry {
	case RegistryROR:
		return p.RorID
	case RegistryWikidata:
		return p.WikidataID
	case RegistryCustom:
		return p.CustomID
	}
	return nil
}

func (p PartyRow) HasPID() bool {
	for _, r := range Registries {
		if v := p.PID(r); v != nil && *v != "" {
			return true
		}
	}
	return false
}

func (p PartyRow) IsEmpty() bool {
	return (p.Name == nil || *p.Name == "") && !p.HasPID()
}

// TransferRow is one prepared transfer of a batch.
type TransferRow struct {
	OriginalID  string                    `json:"original_id" validate:"required"`
	Emitter     PartyRow                  `json:"emitter"`
	Recipient   PartyRow                  `json:"recipient"`
	Agent       *PartyRow                 `json:"agent,omitempty"`
	Amount      decimal.NullDecimal       `json:"amount"`
	Currency    *string                   `json:"currency,omitempty" validate:"omitempty,iso4217"`
	HideAmount  bool                      `json:"hide_amount"`
	Dates       map[DateField]PreciseDate `json:"dates,omitempty"`
	Description *string                   `json:"description,omitempty"`
	Raw         json.RawMessage           `json:"raw,omitempty"`
}

func (r TransferRow) Party(role Role) *PartyRow {
	switch role {
	case RoleEmitter:
		return &r.Emitter
	case RoleRecipient:
		return &r.Recipient
	case RoleAgent:
		return r.Agent
	}
	return nil
}
