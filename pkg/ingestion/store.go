package ingestion

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/corpus"
)

// Store loads and persists the corpus a batch works on.
type Store interface {
	// LoadSnapshot reads the stored state. Entities must come back oldest first.
	LoadSnapshot(ctx context.Context) (corpus.Snapshot, error)
	// Flush writes a change set. Deletions are applied before upserts.
	Flush(ctx context.Context, cs corpus.ChangeSet) error
	// WithinTx runs fn in one transaction; an error rolls everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
