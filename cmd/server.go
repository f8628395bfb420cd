package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/labelmatch/internal/match"
	"github.com/sells-group/labelmatch/internal/store"
)

const (
	maxRequestBytes  = 1 << 20
	maxLabelsPerCall = 1000
)

// newRouter builds the HTTP API over env.
func newRouter(env *resolverEnv) http.Handler {
	h := &apiHandler{env: env}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/resolve", h.resolve)
		r.Post("/match", h.match)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{runID}", h.getRun)
	})

	return r
}

type apiHandler struct {
	env *resolverEnv
}

func (h *apiHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"recipients": len(h.env.Resolver.Records()),
		"store":      h.env.Store != nil,
		"breakers":   h.env.Breakers.States(),
	})
}

type resolveRequest struct {
	Texts   []string `json:"texts"`
	Explain int      `json:"explain"`
}

func (h *apiHandler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "texts is required")
		return
	}
	if len(req.Texts) > maxLabelsPerCall {
		writeError(w, http.StatusBadRequest, "too many texts (max "+strconv.Itoa(maxLabelsPerCall)+")")
		return
	}

	res := h.env.Resolver
	batch := res.ResolveAll(r.Context(), req.Texts)
	writeJSON(w, http.StatusOK, newBatchReport(batch, res.Matcher(), res.Records(), req.Explain))
}

type matchRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Explain int    `json:"explain"`
}

type matchResponse struct {
	Result  match.Result      `json:"result"`
	Ranking []match.Candidate `json:"ranking,omitempty"`
}

func (h *apiHandler) match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res := h.env.Resolver
	resp := matchResponse{Result: res.Matcher().Match(req.Name, req.Address, res.Records())}
	if req.Explain > 0 {
		resp.Ranking = res.Matcher().Rank(req.Name, req.Address, res.Records(), req.Explain)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *apiHandler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.env.Store == nil {
		writeError(w, http.StatusNotImplemented, "store is disabled")
		return
	}

	filter := store.RunFilter{Status: store.RunStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	runs, err := h.env.Store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *apiHandler) getRun(w http.ResponseWriter, r *http.Request) {
	if h.env.Store == nil {
		writeError(w, http.StatusNotImplemented, "store is disabled")
		return
	}

	runID := chi.URLParam(r, "runID")
	run, err := h.env.Store.GetRun(r.Context(), runID)
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}

	outcomes, err := h.env.Store.ListOutcomes(r.Context(), runID)
	if err != nil {
		zap.L().Error("api: list outcomes failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list outcomes failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "outcomes": outcomes})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs each request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
		)
	})
}
