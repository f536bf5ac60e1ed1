package models

import "time"

// Registry identifies the persistent-identifier namespace an Identifier belongs to.
type Registry string

const (
	RegistryROR      Registry = "ror"
	RegistryWikidata Registry = "wikidata"
	RegistryCustom   Registry = "custom"
)

// Registries in match priority order.
var Registries = []Registry{RegistryCustom, RegistryROR, RegistryWikidata}

// Entity is an organization. Merged entities stay in place with IsActive=false and MergedWith set.
type Entity struct {
	ID            string    `json:"id" db:"id"`
	RawName       *string   `json:"raw_name,omitempty" db:"raw_name"`
	RawCountry    *string   `json:"raw_country,omitempty" db:"raw_country"`
	RawWebsite    *string   `json:"raw_website,omitempty" db:"raw_website"`
	Name          *string   `json:"name,omitempty" db:"name"`
	Country       *string   `json:"country,omitempty" db:"country"`
	Website       *string   `json:"website,omitempty" db:"website"`
	ShortName     *string   `json:"short_name,omitempty" db:"short_name"`
	Description   *string   `json:"description,omitempty" db:"description"`
	Latitude      *float64  `json:"latitude,omitempty" db:"latitude"`
	Longitude     *float64  `json:"longitude,omitempty" db:"longitude"`
	MergedWith    *string   `json:"merged_with,omitempty" db:"merged_with"`
	MergeCriteria *string   `json:"merge_criteria,omitempty" db:"merge_criteria"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	IsMatchable   bool      `json:"is_matchable" db:"is_matchable"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Identifier is a persistent identifier, unique per (RegistryID, Value).
type Identifier struct {
	ID               string    `json:"id" db:"id"`
	RegistryID       Registry  `json:"registry_id" db:"registry_id"`
	Value            string    `json:"value" db:"value"`
	EntityID         *string   `json:"entity_id,omitempty" db:"entity_id"`
	CurrentVersionID *string   `json:"current_version_id,omitempty" db:"current_version_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// IdentifierEntityMatching is one attachment interval of an identifier to an entity.
// An identifier has at most one open interval (DateEnd == nil).
type IdentifierEntityMatching struct {
	ID            string     `json:"id" db:"id"`
	IdentifierID  string     `json:"identifier_id" db:"identifier_id"`
	EntityID      string     `json:"entity_id" db:"entity_id"`
	DateStart     time.Time  `json:"date_start" db:"date_start"`
	DateEnd       *time.Time `json:"date_end,omitempty" db:"date_end"`
	MatchCriteria *string    `json:"match_criteria,omitempty" db:"match_criteria"`
	MatchSource   *string    `json:"match_source,omitempty" db:"match_source"`
	Comments      *string    `json:"comments,omitempty" db:"comments"`
}

// MergeRequest asks for EntityID to be folded into MergedWithID.
type MergeRequest struct {
	EntityID      string `json:"entity_id" validate:"required"`
	MergedWithID  string `json:"merged_with_id" validate:"required"`
	MergeCriteria string `json:"merge_criteria" validate:"required"`
	MatchCriteria string `json:"match_criteria"`
	MatchSource   string `json:"match_source"`
}
