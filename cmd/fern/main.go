package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "fern",
		Short:         "Identity resolution and deduplication of funding transfers",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file read before the environment")

	load := func() (*config.Config, error) {
		return config.Load(envFile)
	}

	root.AddCommand(
		serveCommand(load),
		ingestCommand(load),
		mergeCommand(load),
		migrateCommand(load),
	)
	return root
}

type configLoader func() (*config.Config, error)
