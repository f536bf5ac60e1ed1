package merging

import (
	"encoding/json"

	"github.com/Ramsey-B/fern/pkg/models"
)

// coalesce adopts src into dst only when dst holds nothing. It reports whether dst changed.
func coalesce[T any](dst **T, src *T) bool {
	if *dst != nil || src == nil {
		return false
	}
	v := *src
	*dst = &v
	return true
}

// coalesceString treats an empty string like a missing value.
func coalesceString(dst **string, src *string) bool {
	if (*dst != nil && **dst != "") || src == nil || *src == "" {
		return false
	}
	v := *src
	*dst = &v
	return true
}

// coalesceEntity fills the target's empty attributes from the source and returns the names of
// the fields it filled. Existing target values are never overwritten.
func coalesceEntity(target, source *models.Entity) []string {
	var filled []string
	for _, f := range []struct {
		name string
		dst  **string
		src  *string
	}{
		{"raw_name", &target.RawName, source.RawName},
		{"raw_country", &target.RawCountry, source.RawCountry},
		{"raw_website", &target.RawWebsite, source.RawWebsite},
		{"name", &target.Name, source.Name},
		{"country", &target.Country, source.Country},
		{"website", &target.Website, source.Website},
		{"short_name", &target.ShortName, source.ShortName},
		{"description", &target.Description, source.Description},
	} {
		if coalesceString(f.dst, f.src) {
			filled = append(filled, f.name)
		}
	}
	if coalesce(&target.Latitude, source.Latitude) {
		filled = append(filled, "latitude")
	}
	if coalesce(&target.Longitude, source.Longitude) {
		filled = append(filled, "longitude")
	}
	return filled
}

// finerDates keeps, per field, the more precise of the two dates; a wins ties.
func finerDates(a, b map[models.DateField]models.PreciseDate) map[models.DateField]models.PreciseDate {
	out := make(map[models.DateField]models.PreciseDate)
	for _, field := range models.DateFields {
		da, okA := a[field]
		db, okB := b[field]
		switch {
		case okA && okB:
			if db.Precision < da.Precision {
				out[field] = db
			} else {
				out[field] = da
			}
		case okA:
			out[field] = da
		case okB:
			out[field] = db
		}
	}
	return out
}

// unionRaw merges raw payloads keyed by data source; a wins on a shared key.
func unionRaw(a, b map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(a)+len(b))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}

func unionIDs(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func firstPtr[T any](a, b *T) *T {
	if a != nil {
		return a
	}
	return b
}
