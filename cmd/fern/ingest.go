package main

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/pkg/ingestion"
	"github.com/Ramsey-B/fern/pkg/jobs"
)

func ingestCommand(load configLoader) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "ingest <batch-file>",
		Short: "Run one prepared batch (YAML or JSON) and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := app.ReadBatchFile(args[0])
			if err != nil {
				return err
			}
			if batch.ID == "" {
				batch.ID = uuid.NewString()
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.WithoutCancel(ctx)) }()

			var opts []ingestion.IngestOption
			if dryRun {
				opts = append(opts, ingestion.DryRun())
			}

			var result *ingestion.Result
			err = a.Runner.Run(ctx, jobs.Job{
				Class: jobs.ClassIngest,
				ID:    batch.ID,
				Run: func(ctx context.Context) error {
					var err error
					result, err = a.Coordinator.Ingest(ctx, batch, opts...)
					return err
				},
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the whole batch and roll it back")
	return cmd
}
