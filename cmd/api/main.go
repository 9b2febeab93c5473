package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"formvault/api/internal/app"
	"formvault/api/internal/config"
	"formvault/api/internal/forms"
	"formvault/api/internal/notify"
	"formvault/api/internal/objectstore"
	"formvault/api/internal/search"
	"formvault/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	objects, err := objectstore.New(ctx, cfg.ObjectStoreEndpoint, cfg.ObjectStoreAccessKey,
		cfg.ObjectStoreSecretKey, cfg.ObjectStoreBucket, cfg.ObjectStoreUseSSL)
	if err != nil {
		log.Fatalf("object store connection failed: %v", err)
	}

	var publisher forms.Publisher
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisPublisher, err := notify.NewRedisPublisher(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisPublisher.Close()
		publisher = redisPublisher
	} else {
		log.Printf("REDIS_URL empty, lifecycle notifications disabled")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	service := forms.NewService(forms.Options{
		Docs:              dataStore,
		Objects:           objects,
		History:           dataStore,
		Publisher:         publisher,
		Indexer:           searchService,
		Searcher:          searchService,
		SnapshotPolicy:    cfg.SnapshotPolicy,
		AlwaysObjectStore: cfg.AlwaysObjectStore,
		BackendTimeout:    cfg.BackendTimeout,
		LifecycleStream:   cfg.LifecycleStream,
	})

	httpServer := app.NewHTTPServer(service, cfg.TokenSecret, cfg.CORSOrigin)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("FormVault API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
