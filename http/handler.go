// Package http exposes the engine over a JSON API.
//
//	POST /api/v1/iter                     ranged query batches
//	POST /api/v1/tail                     cursor-driven live polling
//	POST /api/v1/indices/{name}/events    event ingestion
//	GET  /api/v1/indices                  index listing
//	GET  /api/v1/indices/{name}           index stats and schema
//	GET  /health
//	GET  /metrics
package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/logsift/logsift/engine"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/models"
)

// Handler routes the API onto an engine.
type Handler struct {
	engine *engine.Engine
	log    *zap.Logger
	token  string
	router chi.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithAuthToken requires a bearer token on the API routes.
func WithAuthToken(token string) Option {
	return func(h *Handler) { h.token = token }
}

// NewHandler builds the router. The gatherer serves /metrics; pass the same
// registry the engine publishes on.
func NewHandler(e *engine.Engine, gatherer prometheus.Gatherer, opts ...Option) *Handler {
	h := &Handler{engine: e, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", h.handleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/iter", h.handleIter)
		r.Post("/tail", h.handleTail)
		r.Get("/indices", h.handleListIndices)
		r.Get("/indices/{name}", h.handleShowIndex)
		r.Post("/indices/{name}/events", h.handleWriteEvent)
	})
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != h.token {
				h.encodeError(w, r, errors.New(errors.EUnauthorized, "missing or invalid token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type iterRequest struct {
	Query   string   `json:"query"`
	LastID  string   `json:"lastId"`
	Indexes []string `json:"indexes"`
	Limit   int      `json:"limit"`
	Reverse bool     `json:"reverse"`
	Fields  []string `json:"fields"`
}

// handleIter responds with a JSON array: a meta row followed by event rows.
func (h *Handler) handleIter(w http.ResponseWriter, r *http.Request) {
	var req iterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.encodeError(w, r, errors.New(errors.EValidate, "malformed request body: %s", err))
		return
	}
	res, err := h.engine.Iter(r.Context(), engine.IterRequest{
		Query:   req.Query,
		LastID:  req.LastID,
		Indexes: req.Indexes,
		Limit:   req.Limit,
		Reverse: req.Reverse,
		Fields:  req.Fields,
	})
	if err != nil {
		h.encodeError(w, r, err)
		return
	}

	rows := make([]interface{}, 0, len(res.Events)+1)
	rows = append(rows, map[string]interface{}{
		"runtime": res.Runtime.Seconds(),
		"fields":  res.Fields,
	})
	for _, ev := range res.Events {
		rows = append(rows, eventRow(ev))
	}
	encodeJSON(w, rows)
}

type tailRequest struct {
	Query   string   `json:"query"`
	LastID  string   `json:"lastId"`
	Indexes []string `json:"indexes"`
	Limit   int      `json:"limit"`
	Fields  []string `json:"fields"`
}

// handleTail responds like iter, with the next cursor carried in the meta row.
func (h *Handler) handleTail(w http.ResponseWriter, r *http.Request) {
	var req tailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.encodeError(w, r, errors.New(errors.EValidate, "malformed request body: %s", err))
		return
	}
	res, err := h.engine.Tail(r.Context(), engine.TailRequest{
		Query:   req.Query,
		LastID:  req.LastID,
		Indexes: req.Indexes,
		Limit:   req.Limit,
		Fields:  req.Fields,
	})
	if err != nil {
		h.encodeError(w, r, err)
		return
	}

	rows := make([]interface{}, 0, len(res.Events)+1)
	rows = append(rows, map[string]interface{}{
		"runtime": res.Runtime.Seconds(),
		"lastId":  res.LastID.String(),
		"fields":  res.Fields,
	})
	for _, ev := range res.Events {
		rows = append(rows, eventRow(ev))
	}
	encodeJSON(w, rows)
}

func (h *Handler) handleListIndices(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	list := h.engine.ListIndices()
	rows := make([]interface{}, 0, len(list)+1)
	rows = append(rows, map[string]interface{}{"runtime": time.Since(started).Seconds()})
	for _, s := range list {
		rows = append(rows, s.Name)
	}
	encodeJSON(w, rows)
}

func (h *Handler) handleShowIndex(w http.ResponseWriter, r *http.Request) {
	stats, fields, err := h.engine.ShowIndex(chi.URLParam(r, "name"))
	if err != nil {
		h.encodeError(w, r, err)
		return
	}
	rows := make([]interface{}, 0, len(fields)+1)
	rows = append(rows, map[string]interface{}{
		"name":         stats.Name,
		"size":         stats.Size,
		"lastModified": stats.LastModified.UTC().Format(time.RFC3339),
		"lastId":       stats.LastID.String(),
	})
	for _, f := range fields {
		rows = append(rows, map[string]interface{}{"name": f.Name, "type": f.Type})
	}
	encodeJSON(w, rows)
}

type writeEventRequest struct {
	Fields []writeEventField `json:"fields"`
}

type writeEventField struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

func (h *Handler) handleWriteEvent(w http.ResponseWriter, r *http.Request) {
	var req writeEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.encodeError(w, r, errors.New(errors.EValidate, "malformed request body: %s", err))
		return
	}
	fields := make([]models.EventField, 0, len(req.Fields))
	for _, f := range req.Fields {
		v, err := models.FromInterface(f.Value)
		if err != nil {
			h.encodeError(w, r, errors.New(errors.EValidate, "field %q: %s", f.Name, err))
			return
		}
		fields = append(fields, models.EventField{Name: f.Name, Type: f.Type, Value: v})
	}

	id, err := h.engine.WriteEvent(r.Context(), chi.URLParam(r, "name"), fields)
	if err != nil {
		h.encodeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id.String()})
}

// eventRow flattens an event into one JSON object alongside its identifier
// and timestamp.
func eventRow(ev *models.Event) map[string]interface{} {
	row := map[string]interface{}{
		"id": ev.ID.String(),
		"ts": int64(ev.ID.TS),
	}
	for _, f := range ev.Fields {
		row[f.Name] = f.Value.ToInterface()
	}
	return row
}

func encodeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(v)
}
