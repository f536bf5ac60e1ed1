package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/report"
)

func TestCoordinator_GhentUniversity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res1, err := h.coordinator.Ingest(ctx, batch("b-1", "ec", ptr(2023), false,
		row("EC-1", party("European Commission", ""), party("Ghent University", "BE"), "1000", year(2023)),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, res1.EntitiesCreated)
	assert.Equal(t, 1, res1.TransfersCreated)
	assert.Equal(t, 0, res1.TransfersMerged)

	res2, err := h.coordinator.Ingest(ctx, batch("b-2", "nwo", ptr(2023), false,
		row("NWO-7", party("European Commission", ""), party("ghent  university ", "BE"), "1000", day(2023, 1, 1)),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, res2.EntitiesMatched)
	assert.Equal(t, 0, res2.EntitiesCreated)
	assert.Equal(t, 1, res2.TransfersCreated)
	assert.Equal(t, 1, res2.TransfersMerged)

	entities := h.store.Entities()
	require.Len(t, entities, 2, "the entity was reused, not duplicated")
	ghent := entityByName(entities, "Ghent University")
	require.NotNil(t, ghent)

	transfers := h.store.Transfers()
	require.Len(t, transfers, 3)
	first := transferByOriginal(transfers, "EC-1")
	second := transferByOriginal(transfers, "NWO-7")
	child := transferByOriginal(transfers, "NWO-7|EC-1")
	require.NotNil(t, first)
	require.NotNil(t, second)
	require.NotNil(t, child)

	assert.Equal(t, ghent.ID, *second.RecipientID)
	require.NotNil(t, first.MergedInto)
	require.NotNil(t, second.MergedInto)
	assert.Equal(t, child.ID, *first.MergedInto)
	assert.Equal(t, child.ID, *second.MergedInto)
	assert.Nil(t, child.MergedInto)

	assert.Contains(t, child.RawData, "ec")
	assert.Contains(t, child.RawData, "nwo")
	assert.Len(t, child.DataLoadSourceIDs, 2)
	assert.Equal(t, models.PrecisionDay, child.Dates[models.DatePayment].Precision)

	criteria := map[string]string{}
	for _, tm := range h.store.TransferMatchings() {
		if tm.TransferID == second.ID {
			criteria[string(tm.Role)] = *tm.MatchCriteria
		}
	}
	assert.Equal(t, map[string]string{"emitter": "name", "recipient": "name_country"}, criteria)

	published := h.sink.Events()
	require.Len(t, published, 3)
	assert.Equal(t, events.TypeEntitiesCreated, published[0].Type)
	last := published[2]
	assert.Equal(t, events.TypeTransfersCreated, last.Type)
	assert.Equal(t, "b-2", last.BatchID)
	require.Len(t, last.Transfers, 2)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, last.Transfers[1].MergedFrom)
}

func TestCoordinator_AmbiguousMatchAborts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	h := newHarness(t, WithReportWriter(report.NewExcelWriter(dir, testLogger())))

	funder, lab := party("Funder", ""), party("Lab", "NL")
	_, err := h.coordinator.Ingest(ctx, batch("b-a", "a", nil, false, row("Y", funder, lab, "500", day(2023, 1, 10))))
	require.NoError(t, err)
	res, err := h.coordinator.Ingest(ctx, batch("b-b", "b", nil, false, row("Z", funder, lab, "500", day(2023, 2, 20))))
	require.NoError(t, err)
	require.Equal(t, 0, res.TransfersMerged, "Y and Z differ on the payment day")
	eventsBefore := len(h.sink.Events())

	_, err = h.coordinator.Ingest(ctx, batch("b-c", "c", nil, false, row("X", funder, lab, "500", year(2023))))
	require.Error(t, err)

	var cerr *ferrors.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Len(t, cerr.RecordIDs, 1, "only X takes part in two pairs")
	require.NotNil(t, cerr.Report)
	assert.Len(t, cerr.Report.Rows, 3)
	assert.Equal(t, "b-c", cerr.Report.BatchID)
	require.NotEmpty(t, cerr.ReportPath)

	f, err := excelize.OpenFile(cerr.ReportPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("matches")
	require.NoError(t, err)
	assert.Len(t, rows, 5, "title, header and one row per transfer")

	assert.Len(t, h.store.Transfers(), 2, "nothing from the aborted batch was kept")
	assert.Len(t, h.store.Loads(), 2)
	for _, tr := range h.store.Transfers() {
		assert.Nil(t, tr.MergedInto)
	}
	assert.Len(t, h.sink.Events(), eventsBefore, "no signals for a failed batch")
}

func TestCoordinator_FullLoadSupersedesPartial(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	funder, lab := party("Funder", ""), party("Lab", "NL")

	res1, err := h.coordinator.Ingest(ctx, batch("b-1", "ec", ptr(2023), false, row("EC-1", funder, lab, "1000", year(2023))))
	require.NoError(t, err)
	res2, err := h.coordinator.Ingest(ctx, batch("b-2", "nwo", nil, false, row("NWO-1", funder, lab, "1000", day(2023, 3, 3))))
	require.NoError(t, err)
	require.Equal(t, 1, res2.TransfersMerged)

	res3, err := h.coordinator.Ingest(ctx, batch("b-3", "ec", ptr(2023), true, row("EC-2", funder, lab, "1000", day(2023, 3, 3))))
	require.NoError(t, err)
	assert.Equal(t, []string{res1.LoadID}, res3.ReplacedLoads)
	assert.Equal(t, 2, res3.DeletedTransfers, "the replaced transfer and the child built on it")
	assert.Equal(t, 0, res3.Remerged)
	assert.Equal(t, 1, res3.TransfersMerged)

	transfers := h.store.Transfers()
	require.Len(t, transfers, 3)
	assert.Nil(t, transferByOriginal(transfers, "EC-1"))
	orphan := transferByOriginal(transfers, "NWO-1")
	child := transferByOriginal(transfers, "EC-2|NWO-1")
	require.NotNil(t, orphan)
	require.NotNil(t, child)
	require.NotNil(t, orphan.MergedInto)
	assert.Equal(t, child.ID, *orphan.MergedInto)
	assert.Equal(t, []string{res2.LoadID}, orphan.DataLoadSourceIDs)

	loads := h.store.Loads()
	require.Len(t, loads, 2)
	for _, l := range loads {
		assert.NotEqual(t, res1.LoadID, l.ID)
	}
}

func TestCoordinator_SupersessionRemergesOrphans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	funder, lab := party("Funder", ""), party("Lab", "NL")

	ec := row("EC-1", funder, lab, "1000", year(2023))
	ec.Dates[models.DateAgreement] = year(2022)
	_, err := h.coordinator.Ingest(ctx, batch("b-1", "ec", ptr(2023), false, ec))
	require.NoError(t, err)
	res, err := h.coordinator.Ingest(ctx, batch("b-2", "nwo", nil, false, row("NWO-1", funder, lab, "1000", day(2023, 3, 3))))
	require.NoError(t, err)
	require.Equal(t, 1, res.TransfersMerged)

	// the agreement year keeps ZON-1 apart from the EC-1/NWO-1 child but not from NWO-1 itself
	zon := row("ZON-1", funder, lab, "1000", day(2023, 3, 3))
	zon.Dates[models.DateAgreement] = year(2021)
	res, err = h.coordinator.Ingest(ctx, batch("b-3", "zon", nil, false, zon))
	require.NoError(t, err)
	require.Equal(t, 0, res.TransfersMerged)

	res, err = h.coordinator.Ingest(ctx, batch("b-4", "ec", ptr(2023), true,
		row("EC-2", funder, party("Other Lab", "NL"), "75", day(2023, 5, 1))))
	require.NoError(t, err)
	assert.Equal(t, 2, res.DeletedTransfers)
	assert.Equal(t, 1, res.Remerged)
	assert.Equal(t, 0, res.TransfersMerged)

	transfers := h.store.Transfers()
	require.Len(t, transfers, 4)
	assert.Nil(t, transferByOriginal(transfers, "EC-1"))
	assert.Nil(t, transferByOriginal(transfers, "NWO-1|EC-1"))

	orphan := transferByOriginal(transfers, "NWO-1")
	survivor := transferByOriginal(transfers, "ZON-1")
	child := transferByOriginal(transfers, "NWO-1|ZON-1")
	require.NotNil(t, orphan)
	require.NotNil(t, survivor)
	require.NotNil(t, child)
	require.NotNil(t, orphan.MergedInto)
	require.NotNil(t, survivor.MergedInto)
	assert.Equal(t, child.ID, *orphan.MergedInto)
	assert.Equal(t, child.ID, *survivor.MergedInto)
	assert.True(t, year(2021).Equal(child.Dates[models.DateAgreement]))
	assert.NotNil(t, transferByOriginal(transfers, "EC-2"))
}

func TestCoordinator_RejectsPartialAfterFull(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	funder, lab := party("Funder", ""), party("Lab", "NL")

	_, err := h.coordinator.Ingest(ctx, batch("b-1", "ec", ptr(2023), true, row("EC-1", funder, lab, "1000", year(2023))))
	require.NoError(t, err)

	_, err = h.coordinator.Ingest(ctx, batch("b-2", "ec", ptr(2023), false, row("EC-2", funder, lab, "10", year(2023))))
	require.Error(t, err)
	assert.True(t, ferrors.IsValidationError(err))
	assert.Len(t, h.store.Loads(), 1)
	assert.Len(t, h.store.Transfers(), 1)
}

func TestCoordinator_PIDCollisionMergesEntities(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	funder := party("Funder", "")

	ror := party("Ghent University", "BE")
	ror.RorID = ptr("00cv9y106")
	_, err := h.coordinator.Ingest(ctx, batch("b-1", "a", nil, false, row("A-1", funder, ror, "1000", day(2023, 1, 1))))
	require.NoError(t, err)

	custom := party("UGent", "")
	custom.CustomID = ptr("ugent")
	_, err = h.coordinator.Ingest(ctx, batch("b-2", "b", nil, false, row("B-1", funder, custom, "2000", day(2023, 1, 1))))
	require.NoError(t, err)
	require.Len(t, h.store.Entities(), 3)

	both := party("Ghent University", "")
	both.RorID = ptr("00cv9y106")
	both.CustomID = ptr("ugent")
	res, err := h.coordinator.Ingest(ctx, batch("b-3", "c", nil, false, row("C-1", funder, both, "3000", day(2023, 1, 1))))
	require.NoError(t, err)
	assert.Equal(t, 1, res.EntitiesMerged)
	assert.Equal(t, 0, res.EntitiesCreated)

	entities := h.store.Entities()
	byROR := entityByName(entities, "Ghent University")
	byCustom := entityByName(entities, "UGent")
	require.NotNil(t, byROR)
	require.NotNil(t, byCustom)

	assert.False(t, byROR.IsActive)
	require.NotNil(t, byROR.MergedWith)
	assert.Equal(t, byCustom.ID, *byROR.MergedWith)
	assert.Equal(t, "pid_collision:ror", *byROR.MergeCriteria)
	require.NotNil(t, byCustom.Country)
	assert.Equal(t, "BE", *byCustom.Country, "empty target fields are filled from the merged entity")

	for _, ident := range h.store.Identifiers() {
		require.NotNil(t, ident.EntityID)
		assert.Equal(t, byCustom.ID, *ident.EntityID, "%s identifier", ident.RegistryID)
	}
	for _, tr := range h.store.Transfers() {
		assert.Equal(t, byCustom.ID, *tr.RecipientID)
	}

	var merged *events.Event
	for _, ev := range h.sink.Events() {
		if ev.Type == events.TypeEntitiesMerged {
			ev := ev
			merged = &ev
		}
	}
	require.NotNil(t, merged)
	assert.Equal(t, []events.MergeRef{{EntityID: byROR.ID, MergedWithID: byCustom.ID, Criteria: "pid_collision:ror"}}, merged.Merges)
}

func TestCoordinator_DryRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.coordinator.Ingest(ctx, batch("b-1", "ec", nil, false,
		row("EC-1", party("Funder", ""), party("Lab", "NL"), "1000", year(2023)),
	), DryRun())
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.EntitiesCreated)
	assert.Equal(t, 1, res.TransfersCreated)

	assert.Empty(t, h.store.Entities())
	assert.Empty(t, h.store.Transfers())
	assert.Empty(t, h.store.Loads())
	assert.Empty(t, h.sink.Events())
}

func TestCoordinator_RejectsMalformedBatch(t *testing.T) {
	h := newHarness(t)
	bad := row("EC-1", party("Funder", ""), party("Lab", "NL"), "1000", year(2023))
	bad.Currency = nil

	_, err := h.coordinator.Ingest(context.Background(), batch("b-1", "ec", nil, false, bad))
	require.Error(t, err)
	var verr *ferrors.ValidationError
	require.ErrorAs(t, err, &verr)
	require.NotNil(t, verr.Row)
	assert.Equal(t, 0, *verr.Row)
	assert.Empty(t, h.store.Loads())
}

func TestCoordinator_MergeEntities(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	funder := party("Funder", "")

	_, err := h.coordinator.Ingest(ctx, batch("b-1", "ec", nil, false,
		row("EC-1", funder, party("Lab A", "NL"), "1000", year(2023)),
		row("EC-2", funder, party("Lab B", "NL"), "2000", year(2023)),
	))
	require.NoError(t, err)
	entities := h.store.Entities()
	a, b := entityByName(entities, "Lab A"), entityByName(entities, "Lab B")
	require.NotNil(t, a)
	require.NotNil(t, b)

	_, err = h.coordinator.MergeEntities(ctx, []models.MergeRequest{{EntityID: b.ID}})
	require.Error(t, err)
	assert.True(t, ferrors.IsValidationError(err))

	result, err := h.coordinator.MergeEntities(ctx, []models.MergeRequest{{EntityID: b.ID, MergedWithID: a.ID, MergeCriteria: "manual"}})
	require.NoError(t, err)
	assert.Len(t, result.Merged, 1)
	assert.Len(t, result.Transfers, 1)

	merged := entityByName(h.store.Entities(), "Lab B")
	assert.False(t, merged.IsActive)
	assert.Equal(t, a.ID, *merged.MergedWith)

	published := h.sink.Events()
	assert.Equal(t, events.TypeEntitiesMerged, published[len(published)-1].Type)
}
