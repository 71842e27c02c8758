package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kohakuhub/kohakuhub/internal/gc"
	"github.com/kohakuhub/kohakuhub/internal/storage"
)

func init() {
	rootCmd.AddCommand(gcCmd)
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "run the garbage collector worker, draining the GC queue until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, store, log, err := bootstrap()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		gw, err := storage.New(cmd.Context(), storage.Config{
			Endpoint:         cfg.S3.Endpoint,
			PublicEndpoint:   cfg.S3.PublicEndpoint,
			Bucket:           cfg.S3.Bucket,
			AccessKey:        cfg.S3.AccessKey,
			SecretKey:        cfg.S3.SecretKey,
			Region:           cfg.S3.Region,
			ForcePathStyle:   cfg.S3.ForcePathStyle,
			SignatureVersion: cfg.S3.SignatureVersion,
		}, log.WithField("component", "storage"))
		if err != nil {
			log.Fatalf("connecting to storage: %v", err)
		}

		queue, err := gc.NewQueue(cmd.Context(), cfg.GCRedisURL, "kohakuhub:gc")
		if err != nil {
			log.Fatalf("connecting to gc queue: %v", err)
		}

		worker := &gc.Worker{
			Queue: queue,
			Collector: &gc.Collector{
				Store:   store,
				Storage: gw,
				Keep:    cfg.LFSHistoryKeep,
				Log:     log.WithField("component", "gc-collector"),
			},
			Log: log.WithField("component", "gc-worker"),
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-quit
			log.Info("gc worker shutting down")
			cancel()
		}()

		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("gc worker stopped: %v", err)
		}
	},
}
