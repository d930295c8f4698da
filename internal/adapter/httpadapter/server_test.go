package httpadapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tornado-season/internal/adapter/httpadapter"
	"github.com/couchcryptid/tornado-season/internal/domain"
	"github.com/couchcryptid/tornado-season/internal/pipeline"
	"github.com/couchcryptid/tornado-season/internal/report"
)

type mockResults struct {
	res *pipeline.Results
	err error
}

func (m *mockResults) CheckReadiness(_ context.Context) error {
	if m.res == nil {
		return errors.New("not ready yet")
	}
	return nil
}

func (m *mockResults) Latest() (*pipeline.Results, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.res == nil {
		return nil, pipeline.ErrNoResults
	}
	return m.res, nil
}

func sampleResults() *pipeline.Results {
	var daily []domain.DayCount
	for _, y := range []int{2010, 2011} {
		for d := 1; d <= domain.DaysInDomain; d++ {
			nt := 0
			if d%50 == 0 {
				nt = y - 2008
			}
			daily = append(daily, domain.DayCount{Year: y, D: d, NT: nt})
		}
	}
	cum := domain.Cumulate(daily)
	return &pipeline.Results{
		RunID:      "run-1",
		Daily:      daily,
		Cumulative: cum,
		Fits: report.FitsReport{
			RunID: "run-1",
			Years: []int{2010, 2011},
			Models: []report.ModelReport{
				{Model: "nls", Kind: "nls", Params: []domain.ParamEstimate{{Name: "A", Value: 20}}},
			},
		},
	}
}

func get(t *testing.T, srv *httpadapter.Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockResults{}, slog.Default())
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)
}

func TestReadyz(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockResults{}, slog.Default())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, "/readyz").Code)

	srv = httpadapter.NewServer(":0", &mockResults{res: sampleResults()}, slog.Default())
	assert.Equal(t, http.StatusOK, get(t, srv, "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockResults{}, slog.Default())
	rec := get(t, srv, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestYears(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockResults{res: sampleResults()}, slog.Default())
	rec := get(t, srv, "/api/v1/years")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []httpadapter.YearTotal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	// Seven nonzero days per year: d = 50, 100, ..., 350.
	assert.Equal(t, []httpadapter.YearTotal{{Year: 2010, Total: 14}, {Year: 2011, Total: 21}}, body)
}

func TestCounts(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockResults{res: sampleResults()}, slog.Default())
	rec := get(t, srv, "/api/v1/counts?year=2011")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var rows []domain.CumulativeCount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, domain.DaysInDomain)
	assert.Equal(t, 2011, rows[0].Year)
	assert.Equal(t, 21, rows[len(rows)-1].C)
	assert.NoError(t, domain.CheckCumulative(rows))
}

func TestCounts_Errors(t *testing.T) {
	tests := []struct {
		name    string
		results *mockResults
		target  string
		want    int
	}{
		{"missing year", &mockResults{res: sampleResults()}, "/api/v1/counts", http.StatusBadRequest},
		{"non-numeric year", &mockResults{res: sampleResults()}, "/api/v1/counts?year=abc", http.StatusBadRequest},
		{"year not analyzed", &mockResults{res: sampleResults()}, "/api/v1/counts?year=1980", http.StatusNotFound},
		{"no run yet", &mockResults{}, "/api/v1/counts?year=2010", http.StatusServiceUnavailable},
		{"results error", &mockResults{err: errors.New("boom")}, "/api/v1/counts?year=2010", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httpadapter.NewServer(":0", tt.results, slog.Default())
			rec := get(t, srv, tt.target)
			assert.Equal(t, tt.want, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestFits(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockResults{res: sampleResults()}, slog.Default())
	rec := get(t, srv, "/api/v1/fits")
	require.Equal(t, http.StatusOK, rec.Code)

	back, err := report.ReadFits(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "run-1", back.RunID)
	require.Len(t, back.Models, 1)
	assert.Equal(t, "nls", back.Models[0].Model)
}

func TestFits_BeforeFirstRun(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockResults{}, slog.Default())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, "/api/v1/fits").Code)
}
