// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

// Package main is the entry point for the DPOrdesk archival service.
//
// DPOrdesk is a multi-tenant GDPR compliance portal. This service runs
// its history-archival core: the live keyed store holding audit-log
// entries for the three register modules (traitements, demandes,
// violations), the archiver that cold-tiers entries older than the
// retention threshold into year-partitioned object storage, and the
// in-process response cache fronting history reads.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 loading (defaults, YAML, env)
//  2. Keyed store: BadgerDB holding live audit-log entries and tenants
//  3. Blob store: S3-compatible (or filesystem) cold storage
//  4. Archiver: bucket setup, optional background sweep scheduler
//  5. Response cache: TTL cache with a 5-minute expiry sweep
//  6. HTTP server: admin API, health, Prometheus metrics
//
// # Configuration
//
// Environment variables use the DPORDESK_ prefix with double
// underscores between sections:
//
//	export DPORDESK_STORE__PATH=/data/dpordesk/store
//	export DPORDESK_BLOB__BACKEND=s3
//	export DPORDESK_BLOB__ENDPOINT=minio:9000
//	export DPORDESK_ARCHIVE__RETENTION_YEARS=2
//	./dpordesk-server
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: it stops
// accepting connections, waits for in-flight requests (10s timeout),
// stops the sweep scheduler and cache, and closes the keyed store. An
// archive sweep interrupted mid-run is safe: partitions already
// migrated are durable, and anything in flight is re-run safely later.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dpordesk/dpordesk/internal/api"
	"github.com/dpordesk/dpordesk/internal/archive"
	"github.com/dpordesk/dpordesk/internal/blob"
	"github.com/dpordesk/dpordesk/internal/cache"
	"github.com/dpordesk/dpordesk/internal/config"
	"github.com/dpordesk/dpordesk/internal/history"
	"github.com/dpordesk/dpordesk/internal/kvstore"
	"github.com/dpordesk/dpordesk/internal/logging"
	"github.com/dpordesk/dpordesk/internal/tenants"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config not yet available.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Str("blob_backend", cfg.Blob.Backend).
		Str("archive_bucket", cfg.Archive.Bucket).
		Msg("Starting DPOrdesk archival service")

	store, err := openStore(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open keyed store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing keyed store")
		}
	}()

	blobs, err := openBlobStore(cfg.Blob)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize blob store")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	directory := tenants.NewStoreDirectory(store)
	archiver := archive.New(store, blobs, directory, archive.Config{
		Bucket:            cfg.Archive.Bucket,
		RetentionYears:    cfg.Archive.RetentionYears,
		MaxUploadBytes:    cfg.Archive.MaxUploadBytes,
		TenantConcurrency: cfg.Archive.TenantConcurrency,
	})

	// Non-fatal: uploads retry bucket-dependent failures and archival
	// self-corrects once storage is reachable.
	if err := archiver.EnsureStorageReady(ctx); err != nil {
		logging.Warn().Err(err).Msg("Archive storage not ready; archival will retry")
	}

	reader := archive.NewReader(blobs, cfg.Archive.Bucket)

	respCache := cache.New(cfg.Cache.TTL)
	defer respCache.Close()

	recorder := history.NewRecorder(store)
	recorder.OnAppend(func(module history.Module, tenantID string) {
		// Writes invalidate every cached history view for the tenant.
		// The trailing colon scopes the prefix to exactly this tenant.
		respCache.Invalidate("history:" + tenantID + ":")
	})
	archiver.OnArchive(func(module history.Module, tenantID string) {
		// Archival deletes live entries and rewrites year partitions;
		// both the live and ?year= views for the tenant are stale.
		respCache.Invalidate("history:" + tenantID + ":")
	})

	handler := api.NewHandler(store, archiver, reader, respCache, recorder)
	router := api.NewRouter(handler, cfg.API)

	scheduler := archive.NewScheduler(archiver, cfg.Archive.Interval)
	go scheduler.Run(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	go func() {
		logging.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Info().Msg("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

// openStore opens the configured keyed store. An empty path selects an
// in-memory store, for development only.
func openStore(cfg config.StoreConfig) (*kvstore.Badger, error) {
	if cfg.Path == "" {
		logging.Warn().Msg("No store path configured; using in-memory store (data will not survive restarts)")
		return kvstore.OpenInMemory()
	}
	return kvstore.Open(cfg.Path)
}

// openBlobStore initializes the configured blob store backend.
func openBlobStore(cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Backend {
	case "s3":
		return blob.NewMinio(blob.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
		})
	case "fs":
		return blob.NewFS(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
