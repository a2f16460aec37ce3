// Package hotspots exposes the query service over HTTP.
package hotspots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/inference"
	"github.com/kilianp07/crimecast/core/location"
	"github.com/kilianp07/crimecast/core/query"
	"github.com/kilianp07/crimecast/infra/render"
	"github.com/kilianp07/crimecast/pkg/export"
)

// Querier is the subset of query.Service used by the handlers.
type Querier interface {
	GetHotspots(ctx context.Context, city string, threshold float64, date time.Time) (query.HotspotsResult, error)
	GetStatistics(ctx context.Context, city string) (query.Statistics, error)
	Predict(ctx context.Context, date time.Time, target query.Target) (query.PointForecast, error)
	SearchLocation(ctx context.Context, q string) ([]location.Place, error)
}

// Options configures the handler.
type Options struct {
	// Token, when non-empty, must be sent as "Bearer <token>" on every route
	// except health.
	Token string
	// Threshold is used when a request does not carry one.
	Threshold float64
	Grid      *grid.Index
	Heatmap   render.HeatmapOptions
	// Status reports the serving tier for the health route.
	Status func() any
}

// PredictRequest is the body of POST /api/predict.
type PredictRequest struct {
	Date string  `json:"date,omitempty"`
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

type handler struct {
	q    Querier
	opts Options
}

// NewHandler returns the API routes:
//
//	GET  /api/health
//	GET  /api/hotspots?city=&threshold=&date=&format=json|csv
//	GET  /api/statistics?city=
//	POST /api/predict
//	GET  /api/locations?q=
//	GET  /api/render?date=&threshold=
func NewHandler(q Querier, opts Options) http.Handler {
	h := &handler{q: q, opts: opts}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.health)
	mux.Handle("GET /api/hotspots", h.auth(h.hotspots))
	mux.Handle("GET /api/statistics", h.auth(h.statistics))
	mux.Handle("POST /api/predict", h.auth(h.predict))
	mux.Handle("GET /api/locations", h.auth(h.locations))
	mux.Handle("GET /api/render", h.auth(h.render))
	return mux
}

func (h *handler) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+h.opts.Token {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next(w, r)
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{"status": "ok", "time": time.Now().UTC()}
	if h.opts.Status != nil {
		out["predictor"] = h.opts.Status()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) hotspots(w http.ResponseWriter, r *http.Request) {
	res, ok := h.forecast(w, r)
	if !ok {
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		_ = export.WriteJSON(w, res)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=hotspots-%s.csv", res.Date.Format(time.DateOnly)))
		_ = export.WriteCSV(w, res)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown format %q", format))
	}
}

func (h *handler) forecast(w http.ResponseWriter, r *http.Request) (query.HotspotsResult, bool) {
	q := r.URL.Query()
	threshold := h.opts.Threshold
	if s := q.Get("threshold"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("threshold: %w", err))
			return query.HotspotsResult{}, false
		}
		threshold = v
	}
	date, err := parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return query.HotspotsResult{}, false
	}
	res, err := h.q.GetHotspots(r.Context(), q.Get("city"), threshold, date)
	if err != nil {
		writeError(w, statusFor(err), err)
		return query.HotspotsResult{}, false
	}
	return res, true
}

func (h *handler) statistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.q.GetStatistics(r.Context(), r.URL.Query().Get("city"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.q.Predict(r.Context(), date, query.Target{Name: strings.TrimSpace(req.Name), Lat: req.Lat, Lon: req.Lon})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) locations(w http.ResponseWriter, r *http.Request) {
	places, err := h.q.SearchLocation(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, places)
}

func (h *handler) render(w http.ResponseWriter, r *http.Request) {
	if h.opts.Grid == nil {
		writeError(w, http.StatusNotImplemented, errors.New("rendering is not configured"))
		return
	}
	res, ok := h.forecast(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := render.Heatmap(w, res.Forecast, h.opts.Grid, h.opts.Heatmap); err != nil {
		writeError(w, http.StatusInternalServerError, err)
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func statusFor(err error) int {
	var unknown *query.UnknownCityError
	switch {
	case errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.Is(err, query.ErrInvalidThreshold),
		errors.Is(err, query.ErrOutsideGrid),
		errors.Is(err, inference.ErrBeforeRange):
		return http.StatusBadRequest
	case errors.Is(err, inference.ErrNoSamples):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
