package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

const (
	defaultCategoryLimit = 50
	maxCategoryLimit     = 500
	progressTimeout      = 3 * time.Second
)

// ProgressHandler exposes read-only run progress endpoints.
type ProgressHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.ProgressRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// Routes mounts the handlers on r.
func (h *ProgressHandler) Routes(r chi.Router) {
	r.Get("/api/run", h.GetRun)
	r.Get("/api/run/categories", h.ListCategories)
	r.Get("/api/run/categories/{name}", h.GetCategory)
}

// GetRun handles GET /api/run. It returns {"run": {...}} on success, 404
// before the run has started, or 503 when the repository is missing.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not started")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListCategories handles GET /api/run/categories?state=&limit=&offset=. It
// returns {"categories": [...]} on success or 400 for invalid filters.
func (h *ProgressHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultCategoryLimit, maxCategoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var state *crawler.State
	if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
		parsed, parseErr := parseState(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		state = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	categories, err := h.repo.ListCategories(ctx, state, limit, offset)
	if err != nil {
		h.logger.Error("list categories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": toCategoryDTOs(categories),
	})
}

// GetCategory handles GET /api/run/categories/{name}. It returns
// {"category": {...}} or 404 for unknown names.
func (h *ProgressHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "category name is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	category, err := h.repo.GetCategory(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		h.logger.Error("get category failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load category")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": toCategoryDTO(category)})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
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

func parseState(input string) (crawler.State, error) {
	state := crawler.State(strings.ToLower(input))
	switch state {
	case crawler.StateInit, crawler.StateFirstPageFetched, crawler.StatePagesFanned,
		crawler.StateLeavesFanned, crawler.StateDone, crawler.StateFailed:
		return state, nil
	default:
		return "", errors.New("invalid state")
	}
}

func toRunDTO(run store.RunSnapshot) runDTO {
	return runDTO{
		RunID:      run.RunID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Records:    run.Records,
		ElapsedMs:  run.Elapsed.Milliseconds(),
		Note:       run.Note,
	}
}

func toCategoryDTOs(in []store.CategorySnapshot) []categoryDTO {
	out := make([]categoryDTO, 0, len(in))
	for _, c := range in {
		out = append(out, toCategoryDTO(c))
	}
	return out
}

func toCategoryDTO(c store.CategorySnapshot) categoryDTO {
	return categoryDTO{
		Category:       c.Category,
		State:          string(c.State),
		PagesCompleted: c.PagesCompleted,
		PagesFailed:    c.PagesFailed,
		PagesTotal:     c.PagesTotal,
		TotalKnown:     c.TotalKnown,
		Records:        c.Records,
		LastUpdate:     c.LastUpdate,
	}
}

type runDTO struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Records    int        `json:"records"`
	ElapsedMs  int64      `json:"elapsed_ms"`
	Note       string     `json:"note,omitempty"`
}

type categoryDTO struct {
	Category       string    `json:"category"`
	State          string    `json:"state"`
	PagesCompleted int       `json:"pages_completed"`
	PagesFailed    int       `json:"pages_failed"`
	PagesTotal     int       `json:"pages_total"`
	TotalKnown     bool      `json:"total_known"`
	Records        int       `json:"records"`
	LastUpdate     time.Time `json:"last_update"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
