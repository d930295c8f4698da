// Command validate checks the artifacts of a finished run: the daily and
// cumulative count tables must agree and satisfy the table invariants, and
// fits.json must cover the same years and carry every requested model.
//
// Usage:
//
//	go run ./cmd/validate -out out
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/tornado-season/internal/domain"
	"github.com/couchcryptid/tornado-season/internal/report"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	outDir := flag.String("out", "out", "run output directory")
	flag.Parse()

	os.Exit(run(*outDir))
}

func run(outDir string) int {
	fmt.Println("=== Tornado Season Artifact Validation ===")
	fmt.Println()

	cumulative, err := loadCumulative(filepath.Join(outDir, "cumulative_counts.csv"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load cumulative table: %v\n", err)
		return 1
	}
	daily, err := loadDaily(filepath.Join(outDir, "daily_counts.csv"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load daily table: %v\n", err)
		return 1
	}
	fits, err := loadFits(filepath.Join(outDir, "fits.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load fits.json: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateCumulative(cumulative),
		validateDailyParity(daily, cumulative),
		validateFits(fits, cumulative),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d daily, %d cumulative; %d years; %d models\n",
		len(daily), len(cumulative), len(domain.Years(cumulative)), len(fits.Models))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadCumulative(path string) ([]domain.CumulativeCount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return report.ReadCumulative(f)
}

// loadDaily reads daily_counts.csv. The table is simple enough that the
// report package only writes it.
func loadDaily(path string) ([]domain.DayCount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) < 2 {
		return nil, domain.ErrEmptyTable
	}
	rows := make([]domain.DayCount, 0, len(all)-1)
	for i, rec := range all[1:] {
		var v [3]int
		for j := range v {
			if j >= len(rec) {
				return nil, fmt.Errorf("line %d: want 3 fields", i+2)
			}
			if v[j], err = strconv.Atoi(rec[j]); err != nil {
				return nil, fmt.Errorf("line %d: %w", i+2, err)
			}
		}
		rows = append(rows, domain.DayCount{Year: v[0], D: v[1], NT: v[2]})
	}
	return rows, nil
}

func loadFits(path string) (report.FitsReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return report.FitsReport{}, err
	}
	defer f.Close()
	return report.ReadFits(f)
}

// ── Phase 1: Cumulative invariants ──

func validateCumulative(rows []domain.CumulativeCount) *phase {
	p := &phase{name: "Phase 1: Cumulative table invariants"}
	if err := domain.CheckCumulative(rows); err != nil {
		p.errorf("%v", err)
	}
	return p
}

// ── Phase 2: Daily/cumulative parity ──
// Recomputing the cumulative table from the daily one must reproduce it.

func validateDailyParity(daily []domain.DayCount, cumulative []domain.CumulativeCount) *phase {
	p := &phase{name: "Phase 2: Daily/cumulative parity"}
	want := domain.Cumulate(daily)
	if len(want) != len(cumulative) {
		p.errorf("daily table yields %d cumulative rows, file has %d", len(want), len(cumulative))
		return p
	}
	for i := range want {
		if want[i] != cumulative[i] {
			p.errorf("row %d: recomputed %+v, file has %+v", i+1, want[i], cumulative[i])
			if len(p.errors) >= 10 {
				p.errorf("further mismatches suppressed")
				break
			}
		}
	}
	return p
}

// ── Phase 3: Fit report coverage ──

func validateFits(fits report.FitsReport, cumulative []domain.CumulativeCount) *phase {
	p := &phase{name: "Phase 3: Fit report coverage"}
	years := domain.Years(cumulative)
	if len(fits.Years) != len(years) {
		p.errorf("fits.json covers %d years, table has %d", len(fits.Years), len(years))
	} else {
		for i := range years {
			if fits.Years[i] != years[i] {
				p.errorf("year %d: fits.json has %d", years[i], fits.Years[i])
			}
		}
	}
	if len(fits.Models) == 0 {
		p.errorf("fits.json has no models")
	}
	for _, m := range fits.Models {
		if m.Error != "" {
			p.errorf("model %s failed: %s", m.Model, m.Error)
			continue
		}
		if len(m.Params) == 0 {
			p.errorf("model %s has no parameter estimates", m.Model)
		}
		if m.Landmarks != nil && !(m.Landmarks.Onset <= m.Landmarks.Peak && m.Landmarks.Peak <= m.Landmarks.Decline) {
			p.errorf("model %s: landmarks out of order (onset %.1f, peak %.1f, decline %.1f)",
				m.Model, m.Landmarks.Onset, m.Landmarks.Peak, m.Landmarks.Decline)
		}
	}
	return p
}
