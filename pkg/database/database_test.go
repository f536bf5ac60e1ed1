package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk([]int(nil), 2))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2, 3}}, Chunk([]int{1, 2, 3}, 0))
}

func TestInsertBuilder_OnConflictUpdate(t *testing.T) {
	query, args := NewInsertBuilder().
		InsertInto("entities").
		Cols("id", "name").
		Values("e-1", "Ghent University").
		OnConflictUpdate([]string{"id"}, "name").
		Build()

	assert.Equal(t, "INSERT INTO entities (id, name) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name", query)
	assert.Equal(t, []any{"e-1", "Ghent University"}, args)
}

func TestJSONB(t *testing.T) {
	v, err := NewJSONB(map[string]int{"a": 1}).Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(v.([]byte)))

	var j JSONB[map[string]int]
	require.NoError(t, j.Scan([]byte(`{"b":2}`)))
	assert.Equal(t, map[string]int{"b": 2}, j.Data)

	require.NoError(t, j.Scan(`{"c":3}`))
	assert.Equal(t, map[string]int{"c": 3}, j.Data)

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j.Data)

	assert.Error(t, j.Scan(42))
}

func TestLatestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000001_init.up.sql", "000001_init.down.sql", "000003_refresh.up.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	v, err := LatestVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = LatestVersion(t.TempDir())
	assert.Error(t, err)
}

func TestTxFromContext_Empty(t *testing.T) {
	_, ok := TxFromContext(context.Background())
	assert.False(t, ok)
}
