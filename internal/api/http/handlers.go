package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sacline/collegescvis/internal/chart"
	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/internal/observability"
	"github.com/sacline/collegescvis/internal/query"
)

// Source is the read side the handlers serve. *query.Reader implements it.
type Source interface {
	CollegeNames(ctx context.Context) ([]string, error)
	YearTables(ctx context.Context) ([]int, error)
	Metrics(ctx context.Context) (query.MetricSet, error)
	Series(ctx context.Context, req query.SeriesRequest) (query.Series, error)
}

// CollegesResponse lists college names.
type CollegesResponse struct {
	Colleges  []string `json:"colleges"`
	Count     int      `json:"count"`
	RequestID string   `json:"request_id"`
}

// YearsResponse lists year tables.
type YearsResponse struct {
	Years     []int  `json:"years"`
	RequestID string `json:"request_id"`
}

// MetricsResponse lists plottable columns.
type MetricsResponse struct {
	query.MetricSet
	RequestID string `json:"request_id"`
}

// SeriesResponse carries one series.
type SeriesResponse struct {
	query.Series
	RequestID string `json:"request_id"`
}

// StatsResponse reports what the API has been asked for.
type StatsResponse struct {
	observability.Summary
	RequestID string `json:"request_id"`
}

// statsWindow is how long an unused metric or college stays in /v1/stats.
const statsWindow = time.Hour

const statsTopN = 10

// Handler serves the query API.
type Handler struct {
	src       Source
	chartOpts chart.Options
	stats     *observability.QueryStats
}

// NewHandler creates a handler over src.
func NewHandler(src Source) *Handler {
	return &Handler{
		src:       src,
		chartOpts: chart.DefaultOptions(),
		stats:     observability.NewQueryStats(statsWindow),
	}
}

// Routes registers every endpoint behind the default middleware chain.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/colleges", h.getOnly(h.colleges))
	mux.HandleFunc("/v1/years", h.getOnly(h.years))
	mux.HandleFunc("/v1/metrics", h.getOnly(h.metrics))
	mux.HandleFunc("/v1/series", h.getOnly(h.series))
	mux.HandleFunc("/v1/chart", h.getOnly(h.chart))
	mux.HandleFunc("/v1/stats", h.getOnly(h.statsSummary))
	mux.HandleFunc("/health", h.getOnly(h.health))
	return DefaultMiddleware()(mux)
}

func (h *Handler) getOnly(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", GetRequestID(r.Context()))
			return
		}
		fn(w, r)
	}
}

func (h *Handler) colleges(w http.ResponseWriter, r *http.Request) {
	names, err := h.src.CollegeNames(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, CollegesResponse{
		Colleges:  names,
		Count:     len(names),
		RequestID: GetRequestID(r.Context()),
	})
}

func (h *Handler) years(w http.ResponseWriter, r *http.Request) {
	years, err := h.src.YearTables(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if years == nil {
		years = []int{}
	}
	writeJSON(w, http.StatusOK, YearsResponse{Years: years, RequestID: GetRequestID(r.Context())})
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	set, err := h.src.Metrics(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if set.College == nil {
		set.College = []query.Metric{}
	}
	if set.Year == nil {
		set.Year = []query.Metric{}
	}
	writeJSON(w, http.StatusOK, MetricsResponse{MetricSet: set, RequestID: GetRequestID(r.Context())})
}

// seriesRequests parses college (repeatable), metric, start and end. Missing
// bounds default to the first and last year table.
func (h *Handler) seriesRequests(r *http.Request) ([]query.SeriesRequest, error) {
	q := r.URL.Query()
	colleges := q["college"]
	if len(colleges) == 0 {
		return nil, scerrors.NewInvalidInput("college is required")
	}
	metric := q.Get("metric")
	if metric == "" {
		return nil, scerrors.NewInvalidInput("metric is required")
	}

	start, err := yearParam(q.Get("start"))
	if err != nil {
		return nil, err
	}
	end, err := yearParam(q.Get("end"))
	if err != nil {
		return nil, err
	}
	if start == 0 || end == 0 {
		years, err := h.src.YearTables(r.Context())
		if err != nil {
			return nil, err
		}
		if len(years) == 0 {
			return nil, scerrors.NewNotFound("database has no year tables", nil)
		}
		if start == 0 {
			start = years[0]
		}
		if end == 0 {
			end = years[len(years)-1]
		}
	}

	reqs := make([]query.SeriesRequest, len(colleges))
	for i, c := range colleges {
		reqs[i] = query.SeriesRequest{College: c, Metric: metric, StartYear: start, EndYear: end}
	}
	return reqs, nil
}

func yearParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	year, err := strconv.Atoi(v)
	if err != nil || year <= 0 {
		return 0, scerrors.NewInvalidInput(fmt.Sprintf("invalid year %q", v))
	}
	return year, nil
}

func (h *Handler) series(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.seriesRequests(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if len(reqs) > 1 {
		writeFailure(w, r, scerrors.NewInvalidInput("series takes a single college; use /v1/chart to compare"))
		return
	}
	s, err := h.src.Series(r.Context(), reqs[0])
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	h.record(s)
	if s.Points == nil {
		s.Points = []query.Point{}
	}
	writeJSON(w, http.StatusOK, SeriesResponse{Series: s, RequestID: GetRequestID(r.Context())})
}

func (h *Handler) chart(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.seriesRequests(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	all := make([]query.Series, 0, len(reqs))
	for _, req := range reqs {
		s, err := h.src.Series(r.Context(), req)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		h.record(s)
		all = append(all, s)
	}

	var buf bytes.Buffer
	if err := chart.Render(&buf, all, h.chartOpts); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) record(s query.Series) {
	h.stats.RecordSeries(observability.SeriesEvent{
		Metric:      s.Metric.Name,
		College:     s.College,
		Empty:       s.Empty,
		YearsPruned: s.YearsPruned,
	})
}

func (h *Handler) statsSummary(w http.ResponseWriter, r *http.Request) {
	h.stats.Prune()
	writeJSON(w, http.StatusOK, StatsResponse{Summary: h.stats.Summary(statsTopN), RequestID: GetRequestID(r.Context())})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
