// Package registry refreshes identifiers against their external registries under a shared rate limit.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultBatchSize = 100

// Fetcher looks an identifier up in its registry and returns the current record version.
type Fetcher interface {
	Fetch(ctx context.Context, identifier models.Identifier) (versionID string, err error)
}

type IdentifierStore interface {
	// StaleIdentifiers returns identifiers of registry ordered by last refresh, oldest first.
	StaleIdentifiers(ctx context.Context, registry models.Registry, limit int) ([]models.Identifier, error)
	SetCurrentVersion(ctx context.Context, identifierID, versionID string) error
}

// Source pairs a registry's client with the bucket throttling it.
type Source struct {
	Fetcher Fetcher
	Bucket  ratelimit.Bucket
}

type RefreshResult struct {
	Registry  models.Registry
	Refreshed []string
	Failed    []string
	// Remaining counts identifiers left for the next run because the bucket ran dry.
	Remaining  int
	RetryAfter time.Duration
}

// Partial reports whether the bucket cut the run short.
func (r *RefreshResult) Partial() bool {
	return r.Remaining > 0
}

type Refresher struct {
	store     IdentifierStore
	sources   map[models.Registry]Source
	batchSize int
	logger    ectologger.Logger
}

func NewRefresher(store IdentifierStore, sources map[models.Registry]Source, batchSize int, logger ectologger.Logger) *Refresher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Refresher{store: store, sources: sources, batchSize: batchSize, logger: logger}
}

// Refresh updates up to one batch of stale identifiers of registry.
// Running out of tokens is not an error: the result is partial and carries the wait before the next run.
func (r *Refresher) Refresh(ctx context.Context, registry models.Registry) (*RefreshResult, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Refresher.Refresh")
	defer span.End()

	source, ok := r.sources[registry]
	if !ok {
		return nil, fmt.Errorf("no source configured for registry %q", registry)
	}

	log := r.logger.WithContext(ctx).WithField("registry", registry)
	result := &RefreshResult{Registry: registry}

	stale, err := r.store.StaleIdentifiers(ctx, registry, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list stale %s identifiers: %w", registry, err)
	}
	stale = ectolinq.Filter(stale, func(id models.Identifier) bool {
		return id.RegistryID == registry && id.Value != ""
	})
	if len(stale) == 0 {
		return result, nil
	}

	grant, err := source.Bucket.Take(ctx, len(stale))
	if err != nil {
		return nil, fmt.Errorf("take %d %s tokens: %w", len(stale), registry, err)
	}
	result.Remaining = len(stale) - grant.Granted
	result.RetryAfter = grant.RetryAfter

	for _, identifier := range stale[:grant.Granted] {
		version, err := source.Fetcher.Fetch(ctx, identifier)
		if err == nil {
			err = r.store.SetCurrentVersion(ctx, identifier.ID, version)
		}
		if err != nil {
			log.WithError(err).WithField("identifier", identifier.Value).Warn("Failed to refresh identifier")
			result.Failed = append(result.Failed, identifier.ID)
			continue
		}
		result.Refreshed = append(result.Refreshed, identifier.ID)
	}

	log.WithFields(map[string]any{
		"refreshed":   len(result.Refreshed),
		"failed":      len(result.Failed),
		"remaining":   result.Remaining,
		"retry_after": result.RetryAfter.String(),
	}).Info("Identifier refresh finished")

	return result, nil
}

// RefreshAll refreshes every configured registry concurrently, in registry order in the result.
func (r *Refresher) RefreshAll(ctx context.Context) ([]*RefreshResult, error) {
	registries := make([]models.Registry, 0, len(r.sources))
	for registry := range r.sources {
		registries = append(registries, registry)
	}
	sort.Slice(registries, func(i, j int) bool { return registries[i] < registries[j] })

	results := make([]*RefreshResult, len(registries))
	g, gctx := errgroup.WithContext(ctx)
	for i, registry := range registries {
		g.Go(func() error {
			res, err := r.Refresh(gctx, registry)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RetryAfter is the longest wait any partial result asked for.
func RetryAfter(results []*RefreshResult) time.Duration {
	var longest time.Duration
	for _, res := range ectolinq.Filter(results, func(res *RefreshResult) bool { return res != nil && res.Partial() }) {
		if res.RetryAfter > longest {
			longest = res.RetryAfter
		}
	}
	return longest
}
