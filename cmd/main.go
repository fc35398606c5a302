package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daniel-vizcarra/IntegraHub/api"
	"github.com/daniel-vizcarra/IntegraHub/config"
	"github.com/daniel-vizcarra/IntegraHub/kafka"
	"github.com/daniel-vizcarra/IntegraHub/notify"
	"github.com/daniel-vizcarra/IntegraHub/retry"
	"github.com/daniel-vizcarra/IntegraHub/service/fulfillment"
	"github.com/daniel-vizcarra/IntegraHub/service/ingest"
	"github.com/daniel-vizcarra/IntegraHub/store"
)

const versionTimeFormat = "20060102150405"

func main() {
	rootCmd := &cobra.Command{Use: "integrahub"}
	rootCmd.AddCommand(
		createMigrationCommand(),
		migrateCommand(),
		apiCommand(),
		workerCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func createMigrationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-create [name]",
		Short: "create sql migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := config.Load()
			version := time.Now().Format(versionTimeFormat)
			name := args[0]
			up := fmt.Sprintf("%s/%s_%s.up.sql", conf.MigrationDir, version, name)
			down := fmt.Sprintf("%s/%s_%s.down.sql", conf.MigrationDir, version, name)

			if err := os.WriteFile(up, []byte{}, 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(down, []byte{}, 0o644); err != nil {
				return err
			}

			fmt.Println("Created SQL up script:", up)
			fmt.Println("Created SQL down script:", down)
			return nil
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-up",
		Short: "migrate all the way up",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := config.Load()
			m, err := migrate.New(
				fmt.Sprintf("file://%s", conf.MigrationDir),
				fmt.Sprintf("mysql://%s", conf.DatabaseDSN),
			)
			if err != nil {
				return err
			}

			err = m.Up()
			if errors.Is(err, migrate.ErrNoChange) {
				fmt.Println("No change in migration")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println("Migrated up")
			return nil
		},
	}
}

func apiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := config.Load()
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := store.Connect(conf.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			producer, err := kafka.NewProducer(conf.KafkaHost, conf.OrdersTopic)
			if err != nil {
				return err
			}

			server := api.NewServer(store.NewOrderRepo(db), store.NewInventoryRepo(db), producer, logger)
			httpServer := &http.Server{Addr: conf.HTTPAddr, Handler: server.Router()}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			logger.Info("api listening", zap.String("addr", conf.HTTPAddr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func workerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "run the fulfillment consumer, retry scheduler and file ingester",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := config.Load()
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := store.Connect(conf.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			consumer, err := kafka.NewConsumer(conf.KafkaHost, conf.OrdersTopic, conf.ConsumerGroup)
			if err != nil {
				return err
			}
			ordersProducer, err := kafka.NewProducer(conf.KafkaHost, conf.OrdersTopic)
			if err != nil {
				return err
			}
			dlqProducer, err := kafka.NewProducer(conf.KafkaHost, conf.DeadLetterTopic)
			if err != nil {
				return err
			}

			retryQueue, err := retry.NewRedisQueue(conf.RedisURL)
			if err != nil {
				return err
			}

			notifier := notify.FromConfig(conf.WebhookURL, conf.WebhookTimeout, logger)
			if conf.WebhookURL == "" {
				logger.Info("no webhook configured, alerts go to the log sink")
			}

			fulfillmentSvc := fulfillment.NewService(
				store.NewOrderRepo(db),
				store.NewInventoryRepo(db),
				retryQueue,
				dlqProducer,
				notifier,
				fulfillment.Policy{
					MaxAttempts: conf.MaxAttempts,
					BackoffBase: conf.RetryBackoffBase,
					BackoffMax:  conf.RetryBackoffMax,
					WorkerCount: conf.WorkerCount,
				},
				logger,
			)
			scheduler := retry.NewScheduler(retryQueue, ordersProducer, conf.RetryInterval, logger)
			ingester := ingest.NewService(
				store.NewInventoryRepo(db),
				notifier,
				ingest.Options{
					InboxDir:        conf.InboxDir,
					ProcessedSuffix: conf.ProcessedSuffix,
					Interval:        conf.IngestInterval,
				},
				logger,
			)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var wg sync.WaitGroup
			wg.Add(3)
			go func() {
				defer wg.Done()
				fulfillmentSvc.Consume(ctx, consumer)
			}()
			go func() {
				defer wg.Done()
				scheduler.Run(ctx)
			}()
			go func() {
				defer wg.Done()
				ingester.Run(ctx)
			}()

			<-ctx.Done()
			logger.Info("shutdown signal received, draining in-flight work")
			wg.Wait()
			return consumer.Close()
		},
	}
}
