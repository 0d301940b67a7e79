package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Vodeneev/tounesbet/internal/crawler"
	"github.com/Vodeneev/tounesbet/internal/parser/parsers/tounesbet"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
	"github.com/Vodeneev/tounesbet/internal/pkg/performance"
	"github.com/Vodeneev/tounesbet/internal/pkg/storage"
)

// Prober fetches raw upstream pages for diagnostics.
type Prober interface {
	Probe(ctx context.Context, path string) (*tounesbet.FetchResult, error)
}

// LiveMetaSource refreshes live meta of one statscore event.
type LiveMetaSource interface {
	LiveMeta(ctx context.Context, lsID string) (models.LiveMeta, error)
}

// Handlers serves the read API, admin and ops routes.
type Handlers struct {
	store     storage.Store
	crawler   *crawler.Service
	prober    Prober
	statscore LiveMetaSource
	tracker   *performance.Tracker
	logger    *slog.Logger
	now       func() time.Time
}

// Deps are the collaborators of Handlers. Prober and Statscore may be nil;
// their routes then answer 503.
type Deps struct {
	Store     storage.Store
	Crawler   *crawler.Service
	Prober    Prober
	Statscore LiveMetaSource
	Logger    *slog.Logger
}

func New(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		store:     d.Store,
		crawler:   d.Crawler,
		prober:    d.Prober,
		statscore: d.Statscore,
		logger:    logger.With("component", "api"),
		now:       time.Now,
	}
	if d.Crawler != nil {
		h.tracker = d.Crawler.Tracker()
	} else {
		h.tracker = performance.NewTracker()
	}
	return h
}

// Register mounts every route on r.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/ping", HandlePing).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", h.HandleMetrics).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)
	api.HandleFunc("/odds/prematch/{sportKey}", h.HandleOdds(false)).Methods(http.MethodGet)
	api.HandleFunc("/odds/live/{sportKey}", h.HandleOdds(true)).Methods(http.MethodGet)
	api.HandleFunc("/prematch/match/{matchId}/markets", h.HandleMatchMarkets).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/queue", h.HandleQueue).Methods(http.MethodGet, http.MethodPost)
	admin.HandleFunc("/stats", h.HandleStats).Methods(http.MethodGet)
	admin.HandleFunc("/probe", h.HandleProbe).Methods(http.MethodGet)
	admin.HandleFunc("/statscore/{lsId}", h.HandleStatscore).Methods(http.MethodGet, http.MethodPost)
	admin.HandleFunc("/run/{job}", h.HandleRun).Methods(http.MethodPost)
}

// NewRouter returns a router with every route of h.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, extra ...any) {
	body := map[string]any{"error": msg}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			body[k] = extra[i+1]
		}
	}
	writeJSON(w, status, body)
}
