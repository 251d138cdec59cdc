package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/internal/query"
	"github.com/sacline/collegescvis/pkg/types"
)

type fakeSource struct {
	names    []string
	years    []int
	metrics  query.MetricSet
	requests []query.SeriesRequest
	err      error
	panic    bool
}

func (f *fakeSource) CollegeNames(ctx context.Context) ([]string, error) {
	if f.panic {
		panic("boom")
	}
	return f.names, f.err
}

func (f *fakeSource) YearTables(ctx context.Context) ([]int, error) {
	return f.years, nil
}

func (f *fakeSource) Metrics(ctx context.Context) (query.MetricSet, error) {
	return f.metrics, f.err
}

func (f *fakeSource) Series(ctx context.Context, req query.SeriesRequest) (query.Series, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return query.Series{}, f.err
	}
	return query.Series{
		College: req.College,
		Metric:  query.Metric{Name: req.Metric, Type: types.Real},
		Points:  []query.Point{{Year: req.StartYear, Value: 0.5}, {Year: req.EndYear, Value: 0.75}},
	}, nil
}

func serve(t *testing.T, src Source, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	NewHandler(src).Routes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestColleges(t *testing.T) {
	rec := serve(t, &fakeSource{names: []string{"Alpha", "Beta"}}, http.MethodGet, "/v1/colleges")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp CollegesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Alpha", "Beta"}, resp.Colleges)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), resp.RequestID)
}

func TestColleges_EmptyIsArray(t *testing.T) {
	rec := serve(t, &fakeSource{}, http.MethodGet, "/v1/colleges")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"colleges":[]`)
}

func TestYearsAndMetrics(t *testing.T) {
	src := &fakeSource{
		years: []int{1999, 2000},
		metrics: query.MetricSet{
			College: []query.Metric{{Name: "CITY", Type: types.Text}},
			Year:    []query.Metric{{Name: "ADM_RATE", Type: types.Real}},
		},
	}

	rec := serve(t, src, http.MethodGet, "/v1/years")
	require.Equal(t, http.StatusOK, rec.Code)
	var years YearsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &years))
	assert.Equal(t, []int{1999, 2000}, years.Years)

	rec = serve(t, src, http.MethodGet, "/v1/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	var metrics MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, src.metrics.Year, metrics.Year)
	assert.Equal(t, src.metrics.College, metrics.College)
}

func TestSeries(t *testing.T) {
	src := &fakeSource{years: []int{1999, 2000, 2001}}
	rec := serve(t, src, http.MethodGet, "/v1/series?college=Beta+College&metric=ADM_RATE&start=2000")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, src.requests, 1)
	assert.Equal(t, query.SeriesRequest{College: "Beta College", Metric: "ADM_RATE", StartYear: 2000, EndYear: 2001}, src.requests[0])

	var resp SeriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Beta College", resp.College)
	assert.Len(t, resp.Points, 2)
}

func TestSeries_BadRequests(t *testing.T) {
	src := &fakeSource{years: []int{2000}}
	for _, target := range []string{
		"/v1/series?metric=ADM_RATE",
		"/v1/series?college=A",
		"/v1/series?college=A&metric=ADM_RATE&start=abc",
		"/v1/series?college=A&college=B&metric=ADM_RATE",
	} {
		rec := serve(t, src, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{scerrors.NewInvalidInput("bad"), http.StatusBadRequest},
		{scerrors.NewUnsafeIdentifier("bad"), http.StatusBadRequest},
		{scerrors.NewNotFound("missing", nil), http.StatusNotFound},
		{scerrors.NewQueryError(scerrors.CodeUnexpected, "broken"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := serve(t, &fakeSource{years: []int{2000}, err: tt.err}, http.MethodGet, "/v1/series?college=A&metric=M")
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, scerrors.GetCode(tt.err), resp.Code)
		if tt.want == http.StatusInternalServerError {
			assert.Equal(t, "internal server error", resp.Error)
		}
	}
}

func TestChart(t *testing.T) {
	src := &fakeSource{years: []int{2000, 2001}}
	rec := serve(t, src, http.MethodGet, "/v1/chart?college=A&college=B&metric=ADM_RATE")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte{0x89, 'P', 'N', 'G'}))
	assert.Len(t, src.requests, 2)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := serve(t, &fakeSource{}, http.MethodPost, "/v1/colleges")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecovery(t *testing.T) {
	rec := serve(t, &fakeSource{panic: true}, http.MethodGet, "/v1/colleges")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := serve(t, &fakeSource{}, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequestIDPropagated(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	NewHandler(&fakeSource{}).Routes().ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}

func TestStats(t *testing.T) {
	src := &fakeSource{years: []int{2000, 2001}}
	routes := NewHandler(src).Routes()
	for _, target := range []string{
		"/v1/series?college=A&metric=ADM_RATE",
		"/v1/series?college=B&metric=ADM_RATE",
		"/v1/chart?college=A&metric=SAT_AVG",
	} {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code, target)
	}

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Requests)
	require.Len(t, resp.TopMetrics, 2)
	assert.Equal(t, "ADM_RATE", resp.TopMetrics[0].Key)
	assert.Equal(t, int64(2), resp.TopMetrics[0].Frequency)
	require.Len(t, resp.TopColleges, 2)
	assert.Equal(t, "A", resp.TopColleges[0].Key)
}
