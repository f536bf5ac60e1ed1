package ingestion

import (
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Supersede returns the loads of the same source that incoming replaces.
//
// A full load for a year replaces partial and earlier full loads of that year and every load
// without a year. A partial load for a year is refused when that year already has full data.
// A full load without a year replaces earlier loads without a year. Other partial loads add
// to what is there.
func Supersede(existing []*models.DataLoadSource, incoming models.DataLoadSource) ([]*models.DataLoadSource, error) {
	var replaced []*models.DataLoadSource
	for _, l := range existing {
		if l.SourceID != incoming.SourceID {
			continue
		}
		if incoming.ID != "" && l.ID == incoming.ID {
			return nil, ferrors.NewValidationErrorf("data load %s was already ingested", l.ID).AddField("load.id")
		}

		switch {
		case incoming.Year != nil && incoming.FullData:
			if l.Year == nil || *l.Year == *incoming.Year {
				replaced = append(replaced, l)
			}
		case incoming.Year != nil:
			if l.Year != nil && *l.Year == *incoming.Year && l.FullData {
				return nil, ferrors.NewValidationErrorf(
					"source %s already has full data for %d (load %s), partial data is rejected",
					incoming.SourceID, *incoming.Year, l.ID,
				).AddField("load.full_data")
			}
		case incoming.FullData:
			if l.Year == nil {
				replaced = append(replaced, l)
			}
		}
	}
	return replaced, nil
}
