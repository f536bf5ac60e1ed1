package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/registry"
)

func serveCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume prepared batches, publish completion events and refresh identifiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := app.New(ctx, cfg, app.WithMigrations())
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}
			log := a.Logger.WithContext(ctx)

			server := health.NewServer(cfg.AppName, a.Checker, a.Logger)
			go func() {
				if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithError(err).Error("Health server stopped")
				}
			}()

			var consumer *kafka.Consumer
			if cfg.KafkaConsumerEnabled {
				consumer = kafka.NewConsumer(kafka.ConsumerConfig{
					Brokers:       cfg.KafkaBrokers,
					Topic:         cfg.KafkaInputTopic,
					ConsumerGroup: cfg.KafkaConsumerGroup,
				}, a.Logger, kafka.IngestHandler(a.Runner, a.Coordinator, a.Logger))
				if err := consumer.Start(ctx); err != nil {
					return err
				}
				a.Checker.Register("kafka-consumer", func(context.Context) error {
					if !consumer.Health() {
						return errors.New("consumer is not running")
					}
					return nil
				})
			}

			refresher, err := a.Refresher()
			if err != nil {
				return err
			}
			refreshDone := make(chan struct{})
			go func() {
				defer close(refreshDone)
				if refresher != nil {
					refreshLoop(ctx, a, refresher)
				}
			}()

			a.Checker.SetReady(true)
			log.WithField("port", cfg.Port).Info("Service started")

			<-ctx.Done()
			log.Info("Shutting down")
			a.Checker.SetReady(false)

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()

			if consumer != nil {
				if err := consumer.Stop(); err != nil {
					log.WithError(err).Warn("Failed to stop consumer")
				}
			}
			<-refreshDone
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Failed to stop health server")
			}
			if err := a.Runner.Wait(); err != nil {
				log.WithError(err).Warn("A background job failed")
			}
			return a.Stop(shutdownCtx)
		},
	}
}

// refreshLoop runs the identifier refresh job on the configured interval. A throttled run is retried as soon
// as its buckets can grant again.
func refreshLoop(ctx context.Context, a *app.App, refresher *registry.Refresher) {
	log := a.Logger.WithContext(ctx)
	wait := time.Duration(0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		var results []*registry.RefreshResult
		err := a.Runner.Run(ctx, jobs.Job{
			Class: jobs.ClassIdentifierRefresh,
			ID:    time.Now().UTC().Format(time.RFC3339),
			Run: func(ctx context.Context) error {
				var err error
				results, err = refresher.RefreshAll(ctx)
				return err
			},
		})

		wait = a.Config.RegistryRefreshInterval
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			log.WithError(err).Error("Identifier refresh failed")
		default:
			if retry := registry.RetryAfter(results); retry > 0 && retry < wait {
				wait = retry
			}
		}
	}
}
