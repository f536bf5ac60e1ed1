package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := rootCommand()
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"serve", "ingest", "merge", "migrate"})
}

func TestIngestCommand_RequiresFile(t *testing.T) {
	_, err := execute(t, "ingest")
	assert.Error(t, err)

	_, err = execute(t, "ingest", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open")
}

func TestMergeCommand_Arguments(t *testing.T) {
	_, err := execute(t, "merge")
	assert.EqualError(t, err, "pass either two entity ids or --file")

	_, err = execute(t, "merge", "e-1", "e-2", "--file", "merges.yaml")
	assert.EqualError(t, err, "pass either two entity ids or --file")

	_, err = execute(t, "merge", "e-1", "e-2", "e-3")
	assert.Error(t, err)
}
