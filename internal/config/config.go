package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrConfiguration marks fatal configuration problems. Every validation
// failure wraps it so callers can abort before any computation starts.
var ErrConfiguration = eris.New("configuration error")

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig              `yaml:"store" mapstructure:"store"`
	Server        ServerConfig             `yaml:"server" mapstructure:"server"`
	Log           LogConfig                `yaml:"log" mapstructure:"log"`
	Scoring       ScoringConfig            `yaml:"scoring" mapstructure:"scoring"`
	Surcharge     SurchargeConfig          `yaml:"surcharge" mapstructure:"surcharge"`
	Matching      MatchingConfig           `yaml:"matching" mapstructure:"matching"`
	Resolve       ResolveConfig            `yaml:"resolve" mapstructure:"resolve"`
	Ingest        IngestConfig             `yaml:"ingest" mapstructure:"ingest"`
	Export        ExportConfig             `yaml:"export" mapstructure:"export"`
	Analyses      []AnalysisConfig         `yaml:"analyses" mapstructure:"analyses"`
	Profiles      map[string]ProfileConfig `yaml:"profiles" mapstructure:"profiles"`
	ProfilesFile  string                   `yaml:"profiles_file" mapstructure:"profiles_file"`
	ActiveProfile string                   `yaml:"active_profile" mapstructure:"active_profile"`
}

// StoreConfig configures the run-history database backend.
type StoreConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL     string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns        int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns        int32  `yaml:"min_conns" mapstructure:"min_conns"`
	ConnectAttempts int    `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

// ServerConfig configures the HTTP query server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// RateLimit caps /v1 requests per second and client; 0 disables it.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// Dir, when set, tees logs into a timestamped file in this directory.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// WeightsConfig holds the four indicator weights. Pointers distinguish a
// missing key from an explicit zero.
type WeightsConfig struct {
	Alpha *float64 `yaml:"alpha" mapstructure:"alpha"`
	Beta  *float64 `yaml:"beta" mapstructure:"beta"`
	Gamma *float64 `yaml:"gamma" mapstructure:"gamma"`
	Delta *float64 `yaml:"delta" mapstructure:"delta"`
}

// Normalization bases for the premium-share and per-capita terms.
const (
	BasisRaw       = "raw"
	BasisMax       = "max"
	BasisPortfolio = "portfolio"
	BasisFixed     = "fixed"
)

// ScoringConfig configures the risk score formula.
type ScoringConfig struct {
	Weights WeightsConfig `yaml:"weights" mapstructure:"weights"`
	// PremiumShareBasis is raw, max or fixed.
	PremiumShareBasis string  `yaml:"premium_share_basis" mapstructure:"premium_share_basis"`
	PremiumShareValue float64 `yaml:"premium_share_value" mapstructure:"premium_share_value"`
	// PerCapitaBasis is max, portfolio or fixed.
	PerCapitaBasis string  `yaml:"per_capita_basis" mapstructure:"per_capita_basis"`
	PerCapitaValue float64 `yaml:"per_capita_value" mapstructure:"per_capita_value"`
	Round          bool    `yaml:"round" mapstructure:"round"`
}

// SurchargeConfig configures the score-to-surcharge curve.
type SurchargeConfig struct {
	Weight    float64 `yaml:"weight" mapstructure:"weight"`
	Scale     float64 `yaml:"scale" mapstructure:"scale"`
	Decay     float64 `yaml:"decay" mapstructure:"decay"`
	Offset    float64 `yaml:"offset" mapstructure:"offset"`
	Ceiling   float64 `yaml:"ceiling" mapstructure:"ceiling"`
	Precision int     `yaml:"precision" mapstructure:"precision"`
}

// MatchingConfig configures condition-tree lookups.
type MatchingConfig struct {
	Modes []string `yaml:"modes" mapstructure:"modes"`
	// DefaultCoefficient opts into a fixed coefficient for records no mode
	// could resolve. Nil keeps them as not-found outcomes.
	DefaultCoefficient *float64 `yaml:"default_coefficient" mapstructure:"default_coefficient"`
}

// ResolveConfig configures the application phase.
type ResolveConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// IngestConfig configures input parsing.
type IngestConfig struct {
	// Columns overrides header names per logical field.
	Columns map[string]string `yaml:"columns" mapstructure:"columns"`
	Sheet   string            `yaml:"sheet" mapstructure:"sheet"`
	// Encoding forces a text encoding for CSV input (e.g. gbk). Empty means
	// UTF-8 with a GB18030 fallback.
	Encoding string `yaml:"encoding" mapstructure:"encoding"`
}

// ExportConfig configures result writers.
type ExportConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	JSON      bool   `yaml:"json" mapstructure:"json"`
	JSONPath  string `yaml:"json_path" mapstructure:"json_path"`
	SkipExcel bool   `yaml:"skip_excel" mapstructure:"skip_excel"`
}

// AnalysisConfig names one grouping analysis. Tree analyses also feed the
// condition tree.
type AnalysisConfig struct {
	Name       string   `yaml:"name" mapstructure:"name"`
	Dimensions []string `yaml:"dimensions" mapstructure:"dimensions"`
	Tree       bool     `yaml:"tree" mapstructure:"tree"`
}

// RenewalLabels maps the renewal flag to the insurer's labels.
type RenewalLabels struct {
	New     string `yaml:"new" mapstructure:"new"`
	Renewal string `yaml:"renewal" mapstructure:"renewal"`
}

// ProfileConfig holds insurer-specific enumerations.
type ProfileConfig struct {
	// IndustryPattern formats classification labels; {code} and {name} are replaced.
	IndustryPattern string        `yaml:"industry_pattern" mapstructure:"industry_pattern"`
	IndustryDepth   int           `yaml:"industry_depth" mapstructure:"industry_depth"`
	Classification  string        `yaml:"classification" mapstructure:"classification"`
	AmountBrackets  []float64     `yaml:"amount_brackets" mapstructure:"amount_brackets"`
	DisabilityTiers []string      `yaml:"disability_tiers" mapstructure:"disability_tiers"`
	RenewalLabels   RenewalLabels `yaml:"renewal_labels" mapstructure:"renewal_labels"`
}

// Load reads configuration from file and environment. An empty path searches
// for config.yaml in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Weights deliberately have no defaults.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "risk.db")
	v.SetDefault("store.connect_attempts", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("scoring.premium_share_basis", BasisRaw)
	v.SetDefault("scoring.per_capita_basis", BasisMax)
	v.SetDefault("surcharge.weight", 1.0)
	v.SetDefault("surcharge.scale", 1000.0)
	v.SetDefault("surcharge.decay", 0.046)
	v.SetDefault("surcharge.offset", 0.01)
	v.SetDefault("surcharge.precision", 1)
	v.SetDefault("matching.modes", []string{"exact", "industry_degrade", "basic"})
	v.SetDefault("resolve.concurrency", 4)
	v.SetDefault("export.output_dir", "output")
	v.SetDefault("active_profile", DefaultProfileName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.ProfilesFile != "" {
		profiles, err := LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return nil, err
		}
		if cfg.Profiles == nil {
			cfg.Profiles = make(map[string]ProfileConfig, len(profiles))
		}
		for name, p := range profiles {
			cfg.Profiles[name] = p
		}
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = map[string]ProfileConfig{DefaultProfileName: DefaultProfile()}
	}
	if len(cfg.Analyses) == 0 {
		cfg.Analyses = DefaultAnalyses()
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: assess,
// apply, query, serve.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "assess", "apply", "query", "serve":
	default:
		return eris.Wrapf(ErrConfiguration, "config: unknown mode %q", mode)
	}

	var errs []string

	if _, err := c.Profile(); err != nil {
		errs = append(errs, err.Error())
	}

	if mode == "assess" {
		errs = append(errs, c.Scoring.Problems()...)
		if len(c.Analyses) == 0 {
			errs = append(errs, "at least one analysis is required")
		}
		for i, a := range c.Analyses {
			if a.Name == "" {
				errs = append(errs, fmt.Sprintf("analyses[%d]: name is required", i))
			}
			if len(a.Dimensions) == 0 {
				errs = append(errs, fmt.Sprintf("analyses[%d]: dimensions are required", i))
			}
		}
	}

	errs = append(errs, c.Surcharge.problems()...)
	if len(c.Matching.Modes) == 0 {
		errs = append(errs, "matching.modes must not be empty")
	}
	if c.Resolve.Concurrency < 1 {
		errs = append(errs, "resolve.concurrency must be >= 1")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if mode == "serve" && c.Server.RateLimit < 0 {
		errs = append(errs, "server.rate_limit must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Wrapf(ErrConfiguration, "config: %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

// Problems lists every weight and normalization problem of the scoring section.
func (s ScoringConfig) Problems() []string {
	var errs []string
	sum, present := 0.0, 0
	for _, w := range []struct {
		name string
		val  *float64
	}{
		{"alpha", s.Weights.Alpha},
		{"beta", s.Weights.Beta},
		{"gamma", s.Weights.Gamma},
		{"delta", s.Weights.Delta},
	} {
		if w.val == nil {
			errs = append(errs, fmt.Sprintf("scoring.weights.%s is required", w.name))
		} else if *w.val < 0 {
			errs = append(errs, fmt.Sprintf("scoring.weights.%s must be >= 0", w.name))
		} else {
			sum += *w.val
			present++
		}
	}
	if present == 4 && sum <= 0 {
		errs = append(errs, "scoring.weights must sum to a positive total")
	}
	switch s.PremiumShareBasis {
	case BasisRaw, BasisMax:
	case BasisFixed:
		if s.PremiumShareValue <= 0 {
			errs = append(errs, "scoring.premium_share_value must be > 0 for the fixed basis")
		}
	default:
		errs = append(errs, fmt.Sprintf("scoring.premium_share_basis %q is not one of raw, max, fixed", s.PremiumShareBasis))
	}
	switch s.PerCapitaBasis {
	case BasisMax, BasisPortfolio:
	case BasisFixed:
		if s.PerCapitaValue <= 0 {
			errs = append(errs, "scoring.per_capita_value must be > 0 for the fixed basis")
		}
	default:
		errs = append(errs, fmt.Sprintf("scoring.per_capita_basis %q is not one of max, portfolio, fixed", s.PerCapitaBasis))
	}
	return errs
}

func (s SurchargeConfig) problems() []string {
	var errs []string
	if s.Weight <= 0 {
		errs = append(errs, "surcharge.weight must be > 0")
	}
	if s.Scale <= 0 {
		errs = append(errs, "surcharge.scale must be > 0")
	}
	if s.Decay <= 0 {
		errs = append(errs, "surcharge.decay must be > 0")
	}
	if s.Ceiling < 0 {
		errs = append(errs, "surcharge.ceiling must be >= 0")
	}
	if s.Precision < 0 {
		errs = append(errs, "surcharge.precision must be >= 0")
	}
	return errs
}

// Profile returns the active insurer profile.
func (c *Config) Profile() (ProfileConfig, error) {
	name := strings.ToLower(c.ActiveProfile)
	p, ok := c.Profiles[name]
	if !ok {
		return ProfileConfig{}, eris.Wrapf(ErrConfiguration, "config: insurer profile %q not found", c.ActiveProfile)
	}
	return p.withDefaults(), nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return eris.Wrapf(err, "config: create log dir %s", cfg.Dir)
		}
		name := fmt.Sprintf("risk_%s.log", time.Now().Format("20060102_150405"))
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, filepath.Join(cfg.Dir, name))
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
