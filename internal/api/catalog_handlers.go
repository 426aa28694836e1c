package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

const (
	defaultHitsLimit = 100
	maxHitsLimit     = 1000
	readTimeout      = 3 * time.Second
)

// CatalogReader is the read side of the catalog store.
type CatalogReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (catalog.DiscoveryRun, error)
	store.Reader
}

// CatalogHandler exposes persisted runs and items.
type CatalogHandler struct {
	repo    CatalogReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewCatalogHandler wires the repository and logger.
func NewCatalogHandler(repo CatalogReader, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{repo: repo, timeout: readTimeout, logger: logger}
}

// GetRun handles GET /v1/runs/{run_id}.
func (h *CatalogHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		h.notFoundOr500(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// ListRunHits handles GET /v1/runs/{run_id}/hits?limit=&offset=.
func (h *CatalogHandler) ListRunHits(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultHitsLimit, maxHitsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	hits, err := h.repo.ListHits(ctx, runID)
	if err != nil {
		h.logger.Error("list hits failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list hits")
		return
	}
	total := len(hits)
	start := min(offset, total)
	end := min(start+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"hits":  hits[start:end],
	})
}

type itemView struct {
	Item   catalog.Item        `json:"item"`
	Name   string              `json:"effective_name"`
	Price  *int64              `json:"effective_price,omitempty"`
	Queue  *catalog.QueueEntry `json:"queue,omitempty"`
	Images []catalog.ItemImage `json:"images"`
}

// GetItem handles GET /v1/items/{item_id}. The queue row is omitted when the item was never queued.
func (h *CatalogHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	item, err := h.repo.GetItem(ctx, id)
	if err != nil {
		h.notFoundOr500(w, err, "item")
		return
	}
	view := itemView{Item: item, Name: item.EffectiveName(), Price: item.EffectivePrice()}
	entry, err := h.repo.GetQueueEntry(ctx, id)
	switch {
	case err == nil:
		view.Queue = &entry
	case !errors.Is(err, store.ErrNotFound):
		h.logger.Error("get queue entry failed", zap.Int64("item_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	images, err := h.repo.ListImages(ctx, id)
	if err != nil {
		h.logger.Error("list images failed", zap.Int64("item_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	view.Images = images
	if view.Images == nil {
		view.Images = []catalog.ItemImage{}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CatalogHandler) notFoundOr500(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	h.logger.Error("get "+what+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
