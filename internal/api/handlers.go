// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

// Package api provides the admin HTTP surface for the history-archival
// service: triggering archive runs, reading live and archived history,
// and observing the response cache.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/dpordesk/dpordesk/internal/archive"
	"github.com/dpordesk/dpordesk/internal/cache"
	"github.com/dpordesk/dpordesk/internal/history"
	"github.com/dpordesk/dpordesk/internal/kvstore"
	"github.com/dpordesk/dpordesk/internal/metrics"
)

// Archiver is the interface for archival operations.
type Archiver interface {
	ArchiveModuleForTenant(ctx context.Context, module history.Module, tenantID string) (archive.ModuleResult, error)
	ArchiveAllTenants(ctx context.Context) archive.Report
}

// ArchiveReader is the interface for cold-storage reads.
type ArchiveReader interface {
	ArchivedHistory(ctx context.Context, module history.Module, tenantID string, year int) []history.Entry
	ArchivedYears(ctx context.Context, module history.Module, tenantID string) ([]int, error)
}

// ResponseCache is the cache contract the read path depends on.
type ResponseCache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Invalidate(prefix string) int
	Clear()
	GetStats() cache.Stats
}

// Handler holds the dependencies of all admin endpoints.
type Handler struct {
	store    kvstore.Store
	archiver Archiver
	reader   ArchiveReader
	cache    ResponseCache
	recorder *history.Recorder
}

// NewHandler creates the admin API handler.
func NewHandler(store kvstore.Store, archiver Archiver, reader ArchiveReader, respCache ResponseCache, recorder *history.Recorder) *Handler {
	return &Handler{
		store:    store,
		archiver: archiver,
		reader:   reader,
		cache:    respCache,
		recorder: recorder,
	}
}

// moduleFromPath parses and validates the {module} URL parameter.
func moduleFromPath(w http.ResponseWriter, r *http.Request) (history.Module, bool) {
	module, err := history.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_MODULE", "Module must be traitement, demande, or violation", err)
		return "", false
	}
	return module, true
}

// tenantFromPath extracts the {tenantID} URL parameter.
func tenantFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "MISSING_TENANT", "Tenant ID is required", nil)
		return "", false
	}
	return tenantID, true
}

// RunArchiveSweep triggers the fleet-wide archive sweep and returns its
// report. Failures are reported through the counters, never as an HTTP
// error: the admin UI shows totalErrors as a non-blocking warning.
func (h *Handler) RunArchiveSweep(w http.ResponseWriter, r *http.Request) {
	report := h.archiver.ArchiveAllTenants(r.Context())
	respondSuccess(w, http.StatusOK, report)
}

// RunArchivePair archives one (module, tenant) pair.
func (h *Handler) RunArchivePair(w http.ResponseWriter, r *http.Request) {
	module, ok := moduleFromPath(w, r)
	if !ok {
		return
	}
	tenantID, ok := tenantFromPath(w, r)
	if !ok {
		return
	}

	result, err := h.archiver.ArchiveModuleForTenant(r.Context(), module, tenantID)
	if errors.Is(err, archive.ErrArchiveInProgress) {
		respondError(w, http.StatusConflict, "ARCHIVE_IN_PROGRESS", "An archival run for this module and tenant is already in flight", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ARCHIVE_FAILED", "Archival run failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, result)
}

// historyQuery identifies one history read for cache keying.
type historyQuery struct {
	Module   history.Module `json:"module"`
	TenantID string         `json:"tenant_id"`
	Year     int            `json:"year,omitempty"`
}

// GetHistory returns history entries for a (module, tenant) pair.
// Without a year parameter it serves the live store; with ?year= it
// serves that year's archive partition. Responses are cached.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	module, ok := moduleFromPath(w, r)
	if !ok {
		return
	}
	tenantID, ok := tenantFromPath(w, r)
	if !ok {
		return
	}

	query := historyQuery{Module: module, TenantID: tenantID}
	if yearParam := r.URL.Query().Get("year"); yearParam != "" {
		year, err := strconv.Atoi(yearParam)
		// Same 4-digit range the reader accepts when listing years.
		if err != nil || year < 1000 || year > 9999 {
			respondError(w, http.StatusBadRequest, "INVALID_YEAR", "Year must be a 4-digit integer", err)
			return
		}
		query.Year = year
	}

	key := cache.GenerateKey("history:"+tenantID, query)
	if cached, hit := h.cache.Get(key); hit {
		metrics.CacheHitsTotal.Inc()
		respondSuccess(w, http.StatusOK, cached)
		return
	}
	metrics.CacheMissesTotal.Inc()

	var entries []history.Entry
	if query.Year != 0 {
		entries = h.reader.ArchivedHistory(r.Context(), module, tenantID, query.Year)
	} else {
		var err error
		entries, err = history.LiveHistory(r.Context(), h.store, module, tenantID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "HISTORY_READ_FAILED", "Could not read history", err)
			return
		}
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	h.cache.Set(key, entries)
	respondSuccess(w, http.StatusOK, entries)
}

// GetArchivedYears lists the years with an archive partition for a
// (module, tenant) pair, most recent first.
func (h *Handler) GetArchivedYears(w http.ResponseWriter, r *http.Request) {
	module, ok := moduleFromPath(w, r)
	if !ok {
		return
	}
	tenantID, ok := tenantFromPath(w, r)
	if !ok {
		return
	}

	years, err := h.reader.ArchivedYears(r.Context(), module, tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ARCHIVE_LIST_FAILED", "Could not list archived years", err)
		return
	}
	if years == nil {
		years = []int{}
	}
	respondSuccess(w, http.StatusOK, years)
}

// appendRequest is the body of a history append.
type appendRequest struct {
	Action    history.Action                 `json:"action"`
	Changes   map[string]history.FieldChange `json:"changes,omitempty"`
	UserEmail *string                        `json:"user_email,omitempty"`
	CreatedBy *string                        `json:"created_by,omitempty"`
	Extra     map[string]json.RawMessage     `json:"extra,omitempty"`
}

// AppendHistory records one audit-log entry for a tracked record
// change.
func (h *Handler) AppendHistory(w http.ResponseWriter, r *http.Request) {
	module, ok := moduleFromPath(w, r)
	if !ok {
		return
	}
	tenantID, ok := tenantFromPath(w, r)
	if !ok {
		return
	}

	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON", err)
		return
	}

	key, err := h.recorder.Append(r.Context(), module, tenantID, history.Entry{
		Action:    req.Action,
		Changes:   req.Changes,
		UserEmail: req.UserEmail,
		CreatedBy: req.CreatedBy,
		Extra:     req.Extra,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "APPEND_FAILED", "Could not record history entry", err)
		return
	}
	respondSuccess(w, http.StatusCreated, map[string]string{"key": key})
}

// CacheStats returns the response cache statistics for the admin
// "Performance Settings" panel.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.GetStats()
	metrics.CacheSize.Set(float64(stats.Size))
	respondSuccess(w, http.StatusOK, stats)
}

// CacheClear empties the response cache ("vider le cache"). Lifetime
// hit/miss statistics survive the clear.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	h.cache.Clear()
	respondSuccess(w, http.StatusOK, h.cache.GetStats())
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}
