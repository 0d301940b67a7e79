package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

const defaultPeekLimit = 50

// HandleQueue runs one queue action.
// GET/POST /api/admin/queue?action=enqueue|expedite|peek|release|claim&task=&externalId=&priority=&id=&limit=&includeLeased=1
func (h *Handlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()
	kind := models.TaskKind(q.Get("task"))
	if kind == "" {
		kind = models.TaskCatalogPage
	}
	limit := defaultPeekLimit
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = min(v, 1000)
	}

	switch action := q.Get("action"); action {
	case "", "peek":
		tasks, err := h.store.Peek(ctx, kind, limit)
		if err != nil {
			h.internalError(w, "peek", err)
			return
		}
		total, err := h.store.CountTasks(ctx, kind)
		if err != nil {
			h.internalError(w, "count", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": kind, "total": total, "tasks": nonNil(tasks)})

	case "enqueue":
		payload, err := models.DecodePayload(kind, q.Get("externalId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		priority, _ := strconv.Atoi(q.Get("priority"))
		if err := h.store.Enqueue(ctx, []models.EnqueueRequest{{Payload: payload, Priority: priority}}); err != nil {
			h.internalError(w, "enqueue", err)
			return
		}
		task, err := h.store.GetTask(ctx, kind, payload.ExternalID())
		if err != nil {
			h.internalError(w, "enqueue", err)
			return
		}
		writeJSON(w, http.StatusOK, task)

	case "expedite":
		n, err := h.store.Expedite(ctx, kind, q.Get("includeLeased") == "1")
		if err != nil {
			h.internalError(w, "expedite", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": kind, "expedited": n})

	case "release":
		id, err := strconv.ParseInt(q.Get("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id")
			return
		}
		if err := h.store.Release(ctx, id); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				writeError(w, http.StatusNotFound, err.Error(), "id", id)
				return
			}
			h.internalError(w, "release", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"released": id})

	case "claim":
		owner := "admin:" + strings.ReplaceAll(uuid.NewString(), "-", "")
		tasks, err := h.store.Claim(ctx, kind, limit, owner)
		if err != nil {
			h.internalError(w, "claim", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "tasks": nonNil(tasks)})

	default:
		writeError(w, http.StatusBadRequest, "unknown action", "action", action)
	}
}

// HandleStats serves row counts.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context())
	if err != nil {
		h.internalError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleProbe fetches a raw upstream path through the fetch client.
// GET /api/admin/probe?path=/Sport/1181
func (h *Handlers) HandleProbe(w http.ResponseWriter, r *http.Request) {
	if h.prober == nil {
		writeError(w, http.StatusServiceUnavailable, "probe not configured")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	res, err := h.prober.Probe(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error(), "path", path)
		return
	}
	if r.URL.Query().Get("raw") == "1" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(res.Status)
		_, _ = w.Write([]byte(res.Text))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":        path,
		"status":      res.Status,
		"finalUrl":    res.FinalURL,
		"contentType": res.ContentType,
		"length":      len(res.Text),
		"preview":     preview(res.Text, 2000),
	})
}

// HandleStatscore fetches live meta of one event, storing it with persist=1.
func (h *Handlers) HandleStatscore(w http.ResponseWriter, r *http.Request) {
	lsID := mux.Vars(r)["lsId"]
	if h.statscore == nil {
		writeError(w, http.StatusServiceUnavailable, "statscore not configured")
		return
	}
	meta, err := h.statscore.LiveMeta(r.Context(), lsID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error(), "lsId", lsID)
		return
	}
	persisted := false
	if r.URL.Query().Get("persist") == "1" {
		if err := h.store.UpsertLiveMeta(r.Context(), []models.LiveMeta{meta}); err != nil {
			h.internalError(w, "live meta upsert", err)
			return
		}
		persisted = true
	}
	writeJSON(w, http.StatusOK, map[string]any{"meta": meta, "persisted": persisted})
}

// HandleRun runs one crawl job synchronously.
// POST /api/admin/run/{discover|hourly|live|prematch}?batch=
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if h.crawler == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler not configured")
		return
	}
	job := mux.Vars(r)["job"]
	batch, _ := strconv.Atoi(r.URL.Query().Get("batch"))
	ctx := r.Context()

	var (
		res any
		err error
	)
	switch job {
	case "discover":
		res, err = h.crawler.Discover(ctx, max(batch, 3))
	case "hourly":
		res, err = h.crawler.Hourly(ctx, max(batch, 5))
	case "live":
		res, err = h.crawler.Live(ctx)
	case "prematch":
		res, err = h.crawler.Prematch(ctx)
	default:
		writeError(w, http.StatusNotFound, "unknown job", "job", job)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error(), "job", job)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("admin request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
