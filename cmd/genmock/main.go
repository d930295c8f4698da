// Command genmock writes a synthetic tornado-track shapefile with the SPC
// column layout. Yearly counts follow a two-component season curve with
// Poisson daily noise and a lognormal year effect on the total, so the
// model ladder has a known answer to recover.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -start 1994 -end 2023 -seed 7
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/jonas-p/go-shp"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/couchcryptid/tornado-season/internal/curve"
	"github.com/couchcryptid/tornado-season/internal/domain"
)

// season is the population curve in curve.Mixture order: A w m1 s1 m2 s2.
var season = []float64{1200, 0.35, 0.30, 7, 0.52, 5}

// yearSD is the lognormal spread of the yearly total.
const yearSD = 0.15

// magnitudes and their weights roughly mirror the modern (E)F mix.
var (
	magnitudes = []string{"UNK", "0", "1", "2", "3", "4", "5"}
	magWeights = []float64{0.02, 0.55, 0.28, 0.10, 0.04, 0.008, 0.002}
)

var states = []string{"TX", "OK", "KS", "NE", "IA", "MO", "AR", "LA", "MS", "AL", "TN", "IL", "IN", "GA", "FL"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/mock", "output directory for torn.shp/.shx/.dbf")
	start := flag.Int("start", 1994, "first year")
	end := flag.Int("end", 2023, "last year")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	if *end < *start {
		flag.Usage()
		return fmt.Errorf("-end %d is before -start %d", *end, *start)
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(*seed, 1))
	mags := distuv.NewCategorical(magWeights, rng)

	path := filepath.Join(*out, "torn.shp")
	w, err := shp.Create(path, shp.POLYLINE)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer w.Close()

	if err := w.SetFields([]shp.Field{
		shp.NumberField("om", 10),
		shp.NumberField("yr", 4),
		shp.NumberField("mo", 2),
		shp.NumberField("dy", 2),
		shp.StringField("date", 10),
		shp.StringField("mag", 3),
		shp.StringField("st", 2),
		shp.FloatField("slat", 10, 4),
		shp.FloatField("slon", 10, 4),
		shp.FloatField("elat", 10, 4),
		shp.FloatField("elon", 10, 4),
		shp.FloatField("len", 8, 2),
		shp.NumberField("wid", 6),
	}); err != nil {
		return err
	}

	total := 0
	for year := *start; year <= *end; year++ {
		p := append([]float64(nil), season...)
		p[0] *= math.Exp(yearSD * rng.NormFloat64())

		n := 0
		days := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
		for d := 1; d <= days; d++ {
			lambda := curve.Mixture.Eval(p, domain.DayFraction(d)) - curve.Mixture.Eval(p, domain.DayFraction(d-1))
			if lambda <= 0 {
				continue
			}
			date := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d-1)
			k := int(distuv.Poisson{Lambda: lambda, Src: rng}.Rand())
			for range k {
				n++
				if err := writeTrack(w, rng, n, date, magnitudes[int(mags.Rand())]); err != nil {
					return fmt.Errorf("year %d: %w", year, err)
				}
			}
		}
		log.Printf("%d: %d tracks", year, n)
		total += n
	}

	log.Printf("wrote %d tracks to %s", total, path)
	return nil
}

func writeTrack(w *shp.Writer, rng *rand.Rand, om int, date time.Time, mag string) error {
	slat := 30 + 12*rng.Float64()
	slon := -102 + 17*rng.Float64()
	lengthMi := rng.ExpFloat64() * 4
	bearing := (35 + 30*rng.Float64()) * math.Pi / 180
	elat := slat + lengthMi/69*math.Cos(bearing)
	elon := slon + lengthMi/(69*math.Cos(slat*math.Pi/180))*math.Sin(bearing)

	idx := int(w.Write(shp.NewPolyLine([][]shp.Point{{{X: slon, Y: slat}, {X: elon, Y: elat}}})))
	values := []any{
		om,
		date.Year(),
		int(date.Month()),
		date.Day(),
		date.Format("2006-01-02"),
		mag,
		states[rng.IntN(len(states))],
		slat, slon, elat, elon,
		lengthMi,
		10 + rng.IntN(500),
	}
	for i, v := range values {
		if err := w.WriteAttribute(idx, i, v); err != nil {
			return err
		}
	}
	return nil
}
