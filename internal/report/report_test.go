package report

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tornado-season/internal/domain"
	"github.com/couchcryptid/tornado-season/internal/fit"
)

func TestWriteDaily(t *testing.T) {
	var buf bytes.Buffer
	err := WriteDaily(&buf, []domain.DayCount{{Year: 2020, D: 1, NT: 2}, {Year: 2020, D: 2, NT: 0}})
	require.NoError(t, err)
	assert.Equal(t, "year,d,nt\n2020,1,2\n2020,2,0\n", buf.String())
}

func TestCumulative_RoundTrip(t *testing.T) {
	daily := []domain.DayCount{{Year: 2021, D: 1, NT: 2}, {Year: 2021, D: 2, NT: 0}, {Year: 2021, D: 3, NT: 1}}
	rows := domain.Cumulate(daily)

	var buf bytes.Buffer
	require.NoError(t, WriteCumulative(&buf, rows))
	assert.True(t, strings.HasPrefix(buf.String(), "year,d,nt,c,ty,df\n2021,1,2,2,3,"))

	got, err := ReadCumulative(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(rows, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCumulative_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		is    error
	}{
		{"empty", "", domain.ErrEmptyTable},
		{"bad header", "year,day,nt,c,ty,df\n", ErrBadHeader},
		{"bad int", "year,d,nt,c,ty,df\n2020,x,0,0,0,0.1\n", nil},
		{"bad float", "year,d,nt,c,ty,df\n2020,1,0,0,0,abc\n", nil},
		{"short row", "year,d,nt,c,ty,df\n2020,1,0\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCumulative(strings.NewReader(tt.input))
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestWriteFits_DropsNonFinite(t *testing.T) {
	r := FitsReport{
		RunID:       "run-1",
		GeneratedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Years:       []int{2020},
		Models: []ModelReport{
			{
				Model:  "nls",
				Kind:   "nls",
				Params: []domain.ParamEstimate{{Name: "A", Value: 1000, SD: math.NaN()}},
				Stats:  map[string]float64{"rss": 12, "aic": math.Inf(1)},
			},
			{
				Model:     "bayes-mixture",
				Kind:      "bayes",
				Posterior: []fit.ParamSummary{{Name: "w", Mean: 0.4, Rhat: math.NaN()}},
			},
			{Model: "gnls", Kind: "gnls", Error: "did not converge"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFits(&buf, r))
	assert.True(t, json.Valid(buf.Bytes()))

	got, err := ReadFits(&buf)
	require.NoError(t, err)
	require.Len(t, got.Models, 3)
	assert.Equal(t, map[string]float64{"rss": 12}, got.Models[0].Stats)
	assert.Equal(t, 0.0, got.Models[0].Params[0].SD)
	assert.Equal(t, 0.0, got.Models[1].Posterior[0].Rhat)
	assert.Equal(t, "did not converge", got.Models[2].Error)
	assert.True(t, math.IsNaN(r.Models[0].Params[0].SD), "input untouched")
}

func TestWriteTracks(t *testing.T) {
	tracks := []domain.Track{
		{
			ID: "2011-1", Year: 2011, DayOfYear: 117, Magnitude: 4, State: "AL",
			Date:  time.Date(2011, 4, 27, 0, 0, 0, 0, time.UTC),
			Start: orb.Point{-87.6, 33.0},
			Path:  orb.LineString{{-87.6, 33.0}, {-87.2, 33.3}},
		},
		{ID: "2011-2", Year: 2011, Start: orb.Point{-90, 35}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTracks(&buf, tracks))

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	first := fc.Features[0]
	assert.Equal(t, "LineString", first.Geometry.GeoJSONType())
	assert.Equal(t, "2011-1", first.ID)
	assert.Equal(t, "AL", first.Properties.MustString("state"))
	assert.Equal(t, "2011-04-27", first.Properties.MustString("date"))
	assert.Greater(t, first.Properties.MustFloat64("path_km"), 40.0)

	assert.Equal(t, "Point", fc.Features[1].Geometry.GeoJSONType())
}
