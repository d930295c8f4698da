// Package shapefile reads tornado tracks from ESRI shapefiles.
package shapefile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/tornado-season/internal/domain"
)

// ErrNoShapefile is returned when a directory holds no .shp file.
var ErrNoShapefile = errors.New("no shapefile found")

// Loader parses tracks from a .shp/.dbf pair, a directory containing one,
// or a zip archive.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load reads every record of the shapefile at path. Records without a
// usable date are skipped and counted in the returned skip total.
func (l *Loader) Load(path string) ([]domain.Track, int, error) {
	shpPath, err := resolve(path)
	if err != nil {
		return nil, 0, err
	}

	r, err := open(shpPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open shapefile %s: %w", shpPath, err)
	}
	defer r.Close()

	fields := make([]string, len(r.Fields()))
	for i, f := range r.Fields() {
		fields[i] = strings.ToLower(f.String())
	}

	var (
		tracks  []domain.Track
		skipped int
	)
	for r.Next() {
		_, shape := r.Shape()
		rec := make(domain.RawTrackRecord, len(fields))
		for i, name := range fields {
			rec[name] = attribute(r.Attribute(i))
		}
		t, err := domain.ParseTrack(rec, lineString(shape))
		if err != nil {
			skipped++
			l.logger.Debug("skipping track", "error", err)
			continue
		}
		tracks = append(tracks, t)
	}
	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("read shapefile %s: %w", shpPath, err)
	}

	l.logger.Info("shapefile loaded", "path", shpPath, "tracks", len(tracks), "skipped", skipped)
	return tracks, skipped, nil
}

// resolve finds the .shp (or .zip) to read for path.
func resolve(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return path, nil
	}

	var found []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".shp") {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoShapefile, path)
	}
	sort.Strings(found)
	return found[0], nil
}

func open(path string) (shp.SequentialReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return shp.OpenZip(path)
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))
	shpFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dbfFile, err := openSibling(base, ".dbf")
	if err != nil {
		shpFile.Close()
		return nil, err
	}
	return shp.SequentialReaderFromExt(shpFile, dbfFile), nil
}

// openSibling opens base+ext in either letter case.
func openSibling(base, ext string) (*os.File, error) {
	f, err := os.Open(base + ext)
	if err == nil {
		return f, nil
	}
	if upper, uerr := os.Open(base + strings.ToUpper(ext)); uerr == nil {
		return upper, nil
	}
	return nil, err
}

// lineString flattens a polyline's parts into one path. Other shape types
// yield nil and the track falls back to its start/end coordinates.
func lineString(s shp.Shape) orb.LineString {
	pl, ok := s.(*shp.PolyLine)
	if !ok || pl == nil || len(pl.Points) == 0 {
		return nil
	}
	ls := make(orb.LineString, len(pl.Points))
	for i, p := range pl.Points {
		ls[i] = orb.Point{p.X, p.Y}
	}
	return ls
}

// attribute strips the space and NUL padding of a fixed-width dbf field.
func attribute(v string) string {
	return strings.TrimSpace(strings.TrimRight(v, "\x00"))
}
