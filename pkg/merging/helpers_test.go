package merging

import (
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/corpus"
	"github.com/Ramsey-B/fern/pkg/mergechain"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func ptr[T any](v T) *T { return &v }

func newCorpus(t *testing.T, snap corpus.Snapshot) *corpus.Corpus {
	t.Helper()
	n := 0
	c, err := corpus.New(snap, mergechain.DefaultCap,
		corpus.WithClock(func() time.Time { return time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC) }),
		corpus.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("new-%d", n)
		}),
	)
	require.NoError(t, err)
	return c
}
