package merging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/corpus"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

func mergeSnapshot() corpus.Snapshot {
	return corpus.Snapshot{
		Loads: []models.DataLoadSource{{ID: "l1", SourceID: "src"}},
		Entities: []models.Entity{
			{ID: "a", Name: ptr("Ghent Univ."), Website: ptr("ugent.be"), Latitude: ptr(51.05), IsActive: true, IsMatchable: true},
			{ID: "b", Name: ptr("Ghent University"), Country: ptr("BE"), IsActive: true, IsMatchable: true},
			{ID: "c", Name: ptr("Other"), IsActive: true, IsMatchable: true},
		},
		Identifiers: []models.Identifier{
			{ID: "i1", RegistryID: models.RegistryWikidata, Value: "Q1137665", EntityID: ptr("a")},
		},
		OpenMatchings: []models.IdentifierEntityMatching{
			{ID: "m1", IdentifierID: "i1", EntityID: "a"},
		},
		Transfers: []models.Transfer{
			{ID: "t1", EmitterID: ptr("c"), RecipientID: ptr("a"), DataLoadSourceIDs: []string{"l1"}},
			{ID: "t2", EmitterID: ptr("a"), RecipientID: ptr("a"), AgentID: ptr("c"), DataLoadSourceIDs: []string{"l1"}},
			{ID: "t3", EmitterID: ptr("c"), RecipientID: ptr("c"), DataLoadSourceIDs: []string{"l1"}},
		},
	}
}

func TestEntityMerger_Merge(t *testing.T) {
	ctx := context.Background()
	c := newCorpus(t, mergeSnapshot())
	m := NewEntityMerger(testLogger(), DefaultEntityMergerConfig())

	result, err := m.Merge(ctx, c, []models.MergeRequest{
		{EntityID: "a", MergedWithID: "b", MergeCriteria: "manual", MatchCriteria: "name", MatchSource: "curation"},
	})
	require.NoError(t, err)
	assert.Len(t, result.Merged, 1)
	assert.ElementsMatch(t, []string{"t1", "t2"}, result.Transfers)

	source := c.Entity("a")
	assert.False(t, source.IsActive)
	assert.Equal(t, "b", *source.MergedWith)
	assert.Equal(t, "manual", *source.MergeCriteria)

	target := c.Entity("b")
	assert.Equal(t, "Ghent University", *target.Name, "existing target values are kept")
	assert.Equal(t, "BE", *target.Country)
	assert.Equal(t, "ugent.be", *target.Website, "empty target values are filled")
	assert.Equal(t, 51.05, *target.Latitude)

	assert.Equal(t, "b", *c.Transfer("t1").RecipientID)
	assert.Equal(t, "b", *c.Transfer("t2").EmitterID)
	assert.Equal(t, "b", *c.Transfer("t2").RecipientID)
	assert.Equal(t, "c", *c.Transfer("t2").AgentID)

	assert.Nil(t, c.Identifier("i1").EntityID)
	assert.Nil(t, c.OpenMatching("i1"))

	final, err := c.ResolveEntity("a")
	require.NoError(t, err)
	assert.Equal(t, "b", final)

	cs := c.Drain()
	require.Len(t, cs.TransferMatchings, 3)
	for _, tem := range cs.TransferMatchings {
		assert.Equal(t, "b", tem.EntityID)
		assert.Equal(t, "a", *tem.OriginalEntityID)
		assert.Equal(t, "name", *tem.MatchCriteria)
	}
	assert.Len(t, cs.Entities, 2)
	assert.Len(t, cs.Transfers, 2)
	require.Len(t, cs.IdentifierMatchings, 1)
	assert.NotNil(t, cs.IdentifierMatchings[0].DateEnd)
}

func TestEntityMerger_KeepsIdentifiersWhenConfigured(t *testing.T) {
	c := newCorpus(t, mergeSnapshot())
	m := NewEntityMerger(testLogger(), EntityMergerConfig{DetachIdentifiers: false})

	_, err := m.Merge(context.Background(), c, []models.MergeRequest{{EntityID: "a", MergedWithID: "b", MergeCriteria: "manual"}})
	require.NoError(t, err)
	assert.Equal(t, "a", *c.Identifier("i1").EntityID)
}

func TestEntityMerger_DropsSelfMerges(t *testing.T) {
	c := newCorpus(t, mergeSnapshot())
	m := NewEntityMerger(testLogger(), DefaultEntityMergerConfig())

	result, err := m.Merge(context.Background(), c, []models.MergeRequest{
		{EntityID: "a", MergedWithID: "a", MergeCriteria: "manual"},
		{EntityID: "b", MergedWithID: "c", MergeCriteria: "manual"},
		{EntityID: "c", MergedWithID: "b", MergeCriteria: "manual"},
	})
	require.NoError(t, err)

	assert.Len(t, result.Merged, 1)
	assert.Len(t, result.Skipped, 2)
	assert.True(t, c.Entity("a").IsActive)
	assert.Equal(t, "c", *c.Entity("b").MergedWith)
	assert.Nil(t, c.Entity("c").MergedWith, "no entity ends up merged into itself")
}

func TestEntityMerger_ConflictingTargets(t *testing.T) {
	c := newCorpus(t, mergeSnapshot())
	m := NewEntityMerger(testLogger(), DefaultEntityMergerConfig())

	_, err := m.Merge(context.Background(), c, []models.MergeRequest{
		{EntityID: "a", MergedWithID: "b", MergeCriteria: "manual"},
		{EntityID: "a", MergedWithID: "c", MergeCriteria: "manual"},
	})
	require.Error(t, err)

	var consistency *fernerrors.ConsistencyError
	require.ErrorAs(t, err, &consistency)
	assert.Equal(t, []string{"a", "b", "c"}, consistency.RecordIDs)
	assert.True(t, c.Entity("a").IsActive, "nothing is applied when validation fails")
	assert.True(t, c.Drain().IsEmpty())
}

func TestEntityMerger_DuplicateRequestsCollapse(t *testing.T) {
	c := newCorpus(t, mergeSnapshot())
	m := NewEntityMerger(testLogger(), DefaultEntityMergerConfig())

	result, err := m.Merge(context.Background(), c, []models.MergeRequest{
		{EntityID: "a", MergedWithID: "b", MergeCriteria: "manual"},
		{EntityID: "a", MergedWithID: "b", MergeCriteria: "manual"},
	})
	require.NoError(t, err)
	assert.Len(t, result.Merged, 1)
	assert.Len(t, result.Skipped, 1)
}

func TestEntityMerger_UnknownEntity(t *testing.T) {
	c := newCorpus(t, mergeSnapshot())
	m := NewEntityMerger(testLogger(), DefaultEntityMergerConfig())

	_, err := m.Merge(context.Background(), c, []models.MergeRequest{{EntityID: "missing", MergedWithID: "b", MergeCriteria: "manual"}})
	require.Error(t, err)
	assert.True(t, fernerrors.IsValidationError(err))
}
