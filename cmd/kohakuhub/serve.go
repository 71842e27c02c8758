package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kohakuhub/kohakuhub/internal/commit"
	"github.com/kohakuhub/kohakuhub/internal/config"
	"github.com/kohakuhub/kohakuhub/internal/gc"
	"github.com/kohakuhub/kohakuhub/internal/gitbridge"
	"github.com/kohakuhub/kohakuhub/internal/gitbridge/objcache"
	"github.com/kohakuhub/kohakuhub/internal/httpapi"
	"github.com/kohakuhub/kohakuhub/internal/hublog"
	"github.com/kohakuhub/kohakuhub/internal/lfs"
	"github.com/kohakuhub/kohakuhub/internal/lifecycle"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/storage"
	"github.com/kohakuhub/kohakuhub/internal/versionstore"
)

var servePort string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "HTTP listen port")
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP API server",
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

		vs := versionstore.New(versionstore.Config{
			Endpoint:  cfg.LakeFS.Endpoint,
			AccessKey: cfg.LakeFS.AccessKey,
			SecretKey: cfg.LakeFS.SecretKey,
		})

		commitPipeline := &commit.Pipeline{
			Store:                store,
			VersionStore:         vs,
			Storage:              gw,
			Fanout:               cfg.CommitFanout,
			InlineThresholdBytes: cfg.InlineThresholdBytes,
			BaseURL:              cfg.BaseURL,
		}

		lfsSvc := lfs.NewService(gw,
			time.Duration(cfg.PresignUploadExpirySeconds)*time.Second,
			time.Duration(cfg.PresignDownloadExpirySeconds)*time.Second,
		)

		gcQueue, err := gc.NewQueue(cmd.Context(), cfg.GCRedisURL, "kohakuhub:gc")
		if err != nil {
			log.Fatalf("connecting to gc queue: %v", err)
		}

		lifecycleSvc := &lifecycle.Service{
			Store:            store,
			VersionStore:     vs,
			Storage:          gw,
			Commit:           commitPipeline,
			GC:               gcQueue,
			BaseURL:          cfg.BaseURL,
			GiteaMirrorURL:   cfg.GiteaMirrorURL,
			Log:              log.WithField("component", "lifecycle"),
		}

		cacheDir := os.Getenv("KOHAKU_GITBRIDGE_CACHE_DIR")
		if cacheDir == "" {
			cacheDir = "."
		}
		objCache, err := objcache.Open(filepath.Join(cacheDir, "gitbridge-objects.db"))
		if err != nil {
			log.Fatalf("opening git bridge object cache: %v", err)
		}

		translator := &gitbridge.Translator{
			Meta:         store,
			VersionStore: vs,
			Cache:        objCache,
			LFSThreshold: cfg.GitLFSThresholdBytes,
		}
		gitSvc := &gitbridge.Service{
			Meta:       store,
			Translator: translator,
			Log:        log.WithField("component", "gitbridge"),
		}

		identityVerifier, err := httpapi.NewIdentityVerifier(cmd.Context(), cfg.OIDCIssuerURL,
			time.Duration(cfg.OIDCJWKSCacheTTLSecs)*time.Second, store)
		if err != nil {
			log.Fatalf("setting up identity verifier: %v", err)
		}

		e := httpapi.New(httpapi.Deps{
			Store:        store,
			VersionStore: vs,
			Commit:       commitPipeline,
			LFS:          lfsSvc,
			GC:           gcQueue,
			Lifecycle:    lifecycleSvc,
			GitBridge:    gitSvc,
			Identity:     identityVerifier,
			Config:       cfg,
			Metrics:      httpapi.NewMetrics("kohakuhub"),
			Log:          log,
		})

		go func() {
			log.Infof("listening on :%s", servePort)
			if err := e.Start(":" + servePort); err != nil && err != http.ErrServerClosed {
				log.Fatalf("server failed: %v", err)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			log.Error(err)
		}
	},
}

// bootstrap loads config, connects the Metadata Store, and builds the
// shared logger every subcommand needs before wiring its own collaborators.
func bootstrap() (*config.Config, *metadata.Store, *logrus.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg := hublog.DefaultConfig()
	logCfg.Format = cfg.LogFormat
	log := hublog.New(logCfg)

	store, err := metadata.Open(cfg.DBURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to metadata store: %w", err)
	}

	return cfg, store, log, nil
}
