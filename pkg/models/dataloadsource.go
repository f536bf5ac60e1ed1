package models

import "time"

// DataLoadSource is one ingested batch from a data source.
type DataLoadSource struct {
	ID        string    `json:"id" db:"id"`
	SourceID  string    `json:"source_id" db:"source_id" validate:"required"`
	Year      *int      `json:"year,omitempty" db:"year" validate:"omitempty,gte=1900,lte=2100"`
	FullData  bool      `json:"full_data" db:"full_data"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (d DataLoadSource) SameYear(other DataLoadSource) bool {
	if d.Year == nil || other.Year == nil {
		return d.Year == nil && other.Year == nil
	}
	return *d.Year == *other.Year
}
