package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultDataURL is the SPC Severe Weather GIS tornado-track archive.
const DefaultDataURL = "https://www.spc.noaa.gov/gis/svrgis/zipped/1950-2023-torn-aspath.zip"

// DefaultModels is the full model ladder, simplest first.
var DefaultModels = []string{
	"negbin",
	"nls",
	"gnls",
	"bayes-single-re",
	"bayes-mixture",
	"bayes-mixture-re",
	"bayes-mixture-re-shape",
}

// Config holds all run settings, populated from environment variables.
type Config struct {
	// Data acquisition.
	DataURL      string
	DataDir      string
	FetchForce   bool
	FetchTimeout time.Duration

	// Aggregation thresholds.
	MinYear      int
	MinMagnitude int

	// Model fitting.
	Models      []string
	Priors      map[string]string
	BayesChains int
	BayesWarmup int
	BayesDraws  int
	BayesSeed   uint64
	PPCDraws    int

	// Outputs.
	OutputDir    string
	PlotsEnabled bool
	FacetYears   []int

	// Optional surfaces.
	HTTPAddr     string
	KafkaBrokers []string
	KafkaTopic   string

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("FETCH_TIMEOUT", "5m"))
	if err != nil || fetchTimeout <= 0 {
		return nil, errors.New("invalid FETCH_TIMEOUT")
	}

	minYear, err := parsePositiveInt("MIN_YEAR", 1994)
	if err != nil {
		return nil, err
	}
	minMag, err := parseInt("MIN_MAGNITUDE", 1)
	if err != nil {
		return nil, err
	}
	if minMag < 0 || minMag > 5 {
		return nil, errors.New("MIN_MAGNITUDE must be between 0 and 5")
	}

	chains, err := parsePositiveInt("BAYES_CHAINS", 4)
	if err != nil {
		return nil, err
	}
	warmup, err := parsePositiveInt("BAYES_WARMUP", 1000)
	if err != nil {
		return nil, err
	}
	draws, err := parsePositiveInt("BAYES_DRAWS", 1000)
	if err != nil {
		return nil, err
	}
	ppcDraws, err := parsePositiveInt("PPC_DRAWS", 50)
	if err != nil {
		return nil, err
	}

	seed := uint64(time.Now().UnixNano())
	if s := os.Getenv("BAYES_SEED"); s != "" {
		seed, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, errors.New("invalid BAYES_SEED")
		}
	}

	models := DefaultModels
	if s := os.Getenv("MODELS"); s != "" {
		models = splitList(s)
		for _, m := range models {
			if !knownModel(m) {
				return nil, fmt.Errorf("MODELS: unknown model %q", m)
			}
		}
	}

	priors, err := parsePriors(os.Getenv("PRIORS"))
	if err != nil {
		return nil, err
	}

	facets, err := parseYears(os.Getenv("FACET_YEARS"))
	if err != nil {
		return nil, err
	}

	var brokers []string
	if s := os.Getenv("KAFKA_BROKERS"); s != "" {
		brokers = sharedcfg.ParseBrokers(s)
	}

	cfg := &Config{
		DataURL:      sharedcfg.EnvOrDefault("DATA_URL", DefaultDataURL),
		DataDir:      sharedcfg.EnvOrDefault("DATA_DIR", "data"),
		FetchForce:   os.Getenv("FETCH_FORCE") == "true",
		FetchTimeout: fetchTimeout,

		MinYear:      minYear,
		MinMagnitude: minMag,

		Models:      models,
		Priors:      priors,
		BayesChains: chains,
		BayesWarmup: warmup,
		BayesDraws:  draws,
		BayesSeed:   seed,
		PPCDraws:    ppcDraws,

		OutputDir:    sharedcfg.EnvOrDefault("OUTPUT_DIR", "out"),
		PlotsEnabled: sharedcfg.EnvOrDefault("PLOTS_ENABLED", "true") == "true",
		FacetYears:   facets,

		HTTPAddr:     os.Getenv("HTTP_ADDR"),
		KafkaBrokers: brokers,
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "tornado-season-fits"),

		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.DataURL == "" {
		return nil, errors.New("DATA_URL is required")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("OUTPUT_DIR is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_BROKERS is set but KAFKA_TOPIC is empty")
	}

	return cfg, nil
}

// KafkaEnabled reports whether season summaries should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	n, err := parseInt(key, def)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return n, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func knownModel(name string) bool {
	for _, m := range DefaultModels {
		if m == name {
			return true
		}
	}
	return false
}

// parsePriors reads "name=dist(args);name=dist(args)" pairs. Values are
// validated by the fit package when the sampler is configured.
func parsePriors(s string) (map[string]string, error) {
	priors := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return priors, nil
	}
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, spec, ok := strings.Cut(pair, "=")
		name, spec = strings.TrimSpace(name), strings.TrimSpace(spec)
		if !ok || name == "" || spec == "" {
			return nil, fmt.Errorf("PRIORS: malformed entry %q", pair)
		}
		priors[name] = spec
	}
	return priors, nil
}

func parseYears(s string) ([]int, error) {
	var years []int
	for _, p := range splitList(s) {
		y, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("FACET_YEARS: invalid year %q", p)
		}
		years = append(years, y)
	}
	return years, nil
}
