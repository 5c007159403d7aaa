package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"genomevault/internal/api"
	"genomevault/internal/blob"
	"genomevault/internal/config"
	"genomevault/internal/metadata"
	"genomevault/internal/objectstore"
	"genomevault/internal/pipeline"
	"genomevault/internal/ratelimit"
	"genomevault/internal/registry"
	"genomevault/internal/scanner"
	"genomevault/internal/tuner"
)

func main() {
	root := &cobra.Command{
		Use:           "genomevaultd",
		Short:         "Genomic data intake server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the intake pipeline and HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret := []byte(cfg.ServerSecret)
	if len(secret) == 0 {
		// Ephemeral secret: deletion proofs stay verifiable only for
		// this process lifetime. Set SERVER_SECRET in production.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate server secret: %w", err)
		}
		log.Warn("SERVER_SECRET not set, using an ephemeral secret")
	}

	meta, err := metadata.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer meta.Close()

	blobs, err := blob.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := objectstore.New(blobs, meta, cfg.Algorithm, secret, log)
	if err != nil {
		return err
	}

	ids := scanner.NewIDS(nil, cfg.IDSScoreCeiling)
	aml, err := scanner.NewAML(cfg.ModelPath, cfg.ThresholdPath, scanner.DefaultMaxBody, log)
	if err != nil {
		return err
	}

	params := tuner.NewParams(cfg.IDSThreshold, 0, cfg.Workers)
	watcher := tuner.NewWatcher(cfg.GAParamsPath, params, cfg.GAPollInterval, log)
	watcher.Load()
	go watcher.Run(ctx)

	reg := registry.New(cfg.SubscriberBuffer)
	pool := pipeline.New(cfg, reg, store, ids, aml, nil, params, log)
	pool.Start()
	go pool.RunJanitor(ctx)

	var limiter *ratelimit.UploadLimiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.NewUploadLimiter(client, cfg)
	}

	server := api.New(cfg, pool, reg, store, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	go func() {
		log.Infow("api listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	pool.Stop()
	return nil
}
