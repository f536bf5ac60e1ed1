package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
)

func mergeCommand(load configLoader) *cobra.Command {
	var (
		file     string
		criteria string
	)

	cmd := &cobra.Command{
		Use:   "merge [<entity-id> <into-entity-id>]",
		Short: "Merge entities by hand, from arguments or a YAML/JSON list",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var requests []models.MergeRequest
			switch {
			case file != "" && len(args) == 0:
				var err error
				if requests, err = app.ReadMergeRequestsFile(file); err != nil {
					return err
				}
			case file == "" && len(args) == 2:
				requests = []models.MergeRequest{{EntityID: args[0], MergedWithID: args[1], MergeCriteria: criteria}}
			default:
				return errors.New("pass either two entity ids or --file")
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

			var result *merging.EntityMergeResult
			err = a.Runner.Run(ctx, jobs.Job{
				Class: jobs.ClassEntityMerge,
				ID:    requests[0].EntityID,
				Run: func(ctx context.Context) error {
					var err error
					result, err = a.Coordinator.MergeEntities(ctx, requests)
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
	cmd.Flags().StringVar(&file, "file", "", "YAML or JSON list of merge requests")
	cmd.Flags().StringVar(&criteria, "criteria", "manual", "merge criteria recorded on the merged entity")
	return cmd
}
