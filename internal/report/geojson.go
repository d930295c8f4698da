package report

import (
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/tornado-season/internal/domain"
)

// TracksCollection converts tracks to a GeoJSON feature collection of
// line strings. Tracks without a usable path become point features at
// their touchdown location.
func TracksCollection(tracks []domain.Track) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, t := range tracks {
		var g orb.Geometry = t.Path
		if len(t.Path) < 2 {
			g = t.Start
		}
		f := geojson.NewFeature(g)
		f.ID = t.ID
		f.Properties["date"] = t.Date.Format("2006-01-02")
		f.Properties["year"] = t.Year
		f.Properties["doy"] = t.DayOfYear
		f.Properties["mag"] = t.Magnitude
		f.Properties["state"] = t.State
		f.Properties["len_mi"] = t.LengthMi
		f.Properties["wid_yd"] = t.WidthYd
		f.Properties["path_km"] = t.PathLengthKm()
		fc.Append(f)
	}
	return fc
}

// WriteTracks writes tracks as GeoJSON.
func WriteTracks(w io.Writer, tracks []domain.Track) error {
	b, err := TracksCollection(tracks).MarshalJSON()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
