package kafka

import (
	"context"

	"github.com/Gobusters/ectologger"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/ingestion"
	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Ingester runs one batch.
type Ingester interface {
	Ingest(ctx context.Context, batch models.Batch, opts ...ingestion.IngestOption) (*ingestion.Result, error)
}

// IngestHandler runs each batch as an ingest job, so batches from every consumer are serialized by the ingest lock.
func IngestHandler(runner *jobs.Runner, ingester Ingester, logger ectologger.Logger) MessageHandler {
	return func(ctx context.Context, msg *IncomingMessage) error {
		batch := *msg.Batch
		ctx = fernctx.SetBatchID(ctx, batch.ID)

		var opts []ingestion.IngestOption
		if msg.IsDryRun() {
			opts = append(opts, ingestion.DryRun())
		}

		return runner.Run(ctx, jobs.Job{
			Class: jobs.ClassIngest,
			ID:    batch.ID,
			Run: func(ctx context.Context) error {
				result, err := ingester.Ingest(ctx, batch, opts...)
				if err != nil {
					return err
				}
				logger.WithContext(ctx).WithFields(map[string]any{
					"batch_id":          result.BatchID,
					"transfers_created": result.TransfersCreated,
					"offset":            msg.Offset,
				}).Debug("Batch consumed")
				return nil
			},
		})
	}
}
