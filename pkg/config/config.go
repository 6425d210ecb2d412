// Package config defines process configuration and its layered loading.
//
// Configuration is read once at startup: built-in defaults, then an
// optional YAML file, then environment variables with the CASERISK_
// prefix. There is no hot reload; the watch loop restarts to pick up
// changes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/profile"
	"github.com/soclabs/caserisk/pkg/risk"
	"github.com/soclabs/caserisk/pkg/sources"
	"github.com/soclabs/caserisk/pkg/verdict"
)

// Defaults applied by New.
const (
	DefaultLogLevel      = "info"
	DefaultWatchInterval = 30 * time.Second
	DefaultConcurrency   = 1
	DefaultListenAddr    = ":9090"
	DefaultRecordBackend = "memory"
	DefaultAuditBuffer   = 256
	DefaultMinEscalation = "critical"
)

// Config is the full process configuration tree.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// CaseStore is the case management collaborator (TheHive dialect).
	CaseStore Source `koanf:"casestore"`

	// Analyzer is the analysis engine collaborator (Cortex dialect).
	Analyzer Source `koanf:"analyzer"`

	Watch      Watch      `koanf:"watch"`
	Record     Record     `koanf:"record"`
	Scoring    Scoring    `koanf:"scoring"`
	Audit      Audit      `koanf:"audit"`
	Escalation Escalation `koanf:"escalation"`
}

// Source configures one HTTP collaborator client.
type Source struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`

	// KeyFile optionally points at an encrypted credential file holding
	// the API key. Consulted only when APIKey is empty.
	KeyFile string `koanf:"key_file"`

	Timeout     time.Duration `koanf:"timeout"`
	MaxAttempts int           `koanf:"max_attempts"`

	// RateLimit is the request budget in requests per hour; zero disables
	// client-side limiting.
	RateLimit  int `koanf:"rate_limit"`
	BurstLimit int `koanf:"burst_limit"`
}

// ClientConfig converts to the sources client configuration.
func (s Source) ClientConfig() sources.Config {
	return sources.Config{
		BaseURL:     s.URL,
		APIKey:      s.APIKey,
		Timeout:     s.Timeout,
		MaxAttempts: s.MaxAttempts,
		RateLimit:   s.RateLimit,
		BurstLimit:  s.BurstLimit,
	}
}

// Watch configures the polling loop.
type Watch struct {
	Interval    time.Duration `koanf:"interval"`
	Concurrency int           `koanf:"concurrency"`

	// Listen is the metrics/health HTTP address. Empty disables the
	// listener.
	Listen string `koanf:"listen"`

	// Tags narrows the case listing to cases carrying all of these tags.
	Tags []string `koanf:"tags"`

	// Limit caps the number of cases fetched per pass. Zero means the
	// collaborator's default page size.
	Limit int `koanf:"limit"`
}

// Record configures the scoring record store.
type Record struct {
	// Backend is "memory" or "sqlite".
	Backend string `koanf:"backend"`

	// Path is the SQLite database file. Required for the sqlite backend.
	Path string `koanf:"path"`
}

// Scoring holds the coefficient tables. Empty maps and ladders fall back
// to the built-in defaults, so a partial override file only needs the
// entries it changes.
type Scoring struct {
	// VerdictWeights maps level name -> likelihood weight.
	VerdictWeights map[string]float64 `koanf:"verdict_weights"`

	AssetValues            map[string]float64 `koanf:"asset_values"`
	SensitivityMultipliers map[string]float64 `koanf:"sensitivity_multipliers"`
	ExposureWeights        map[string]float64 `koanf:"exposure_weights"`

	BusinessLadder []Threshold `koanf:"business_ladder"`
	ConsumerLadder []Threshold `koanf:"consumer_ladder"`

	BoostThreshold *int     `koanf:"boost_threshold"`
	BoostFactor    *float64 `koanf:"boost_factor"`

	DefaultAssetType   string `koanf:"default_asset_type"`
	DefaultSensitivity string `koanf:"default_sensitivity"`

	// AnalyzerMappings overrides taxonomy normalization per analyzer:
	// analyzer name -> raw taxonomy string -> level name.
	AnalyzerMappings map[string]map[string]string `koanf:"analyzer_mappings"`
}

// Threshold is one classification ladder rung.
type Threshold struct {
	Min      float64 `koanf:"min"`
	Severity string  `koanf:"severity"`
}

// Audit configures the JSONL audit trail.
type Audit struct {
	// Path is the audit log file. Empty disables auditing.
	Path string `koanf:"path"`

	BufferSize int `koanf:"buffer_size"`
}

// Escalation configures the issue tracker notifier.
type Escalation struct {
	// Notifier is "", "github" or "gitlab". Empty disables escalation.
	Notifier string `koanf:"notifier"`

	// MinSeverity is the lowest severity that escalates.
	MinSeverity string `koanf:"min_severity"`

	Labels []string `koanf:"labels"`

	GitHub GitHubEscalation `koanf:"github"`
	GitLab GitLabEscalation `koanf:"gitlab"`
}

// GitHubEscalation targets a GitHub repository.
type GitHubEscalation struct {
	Token string `koanf:"token"`
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
}

// GitLabEscalation targets a GitLab project.
type GitLabEscalation struct {
	Token   string `koanf:"token"`
	Project string `koanf:"project"`

	// BaseURL overrides gitlab.com for self-hosted instances.
	BaseURL string `koanf:"base_url"`
}

// New returns a Config carrying the built-in defaults.
func New() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		CaseStore: Source{
			URL: "http://localhost:9000",
		},
		Analyzer: Source{
			URL: "http://localhost:9001",
		},
		Watch: Watch{
			Interval:    DefaultWatchInterval,
			Concurrency: DefaultConcurrency,
			Listen:      DefaultListenAddr,
		},
		Record: Record{
			Backend: DefaultRecordBackend,
		},
		Audit: Audit{
			BufferSize: DefaultAuditBuffer,
		},
		Escalation: Escalation{
			MinSeverity: DefaultMinEscalation,
		},
	}
}

// Validate checks the parts of the tree that cannot be checked lazily.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if strings.TrimSpace(c.CaseStore.URL) == "" {
		return errors.E(errors.KindInvalidInput, op, "casestore.url must not be empty")
	}
	if strings.TrimSpace(c.Analyzer.URL) == "" {
		return errors.E(errors.KindInvalidInput, op, "analyzer.url must not be empty")
	}

	switch c.Record.Backend {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Record.Path) == "" {
			return errors.E(errors.KindInvalidInput, op, "record.path is required for the sqlite backend")
		}
	default:
		return errors.E(errors.KindInvalidInput, op,
			fmt.Sprintf("unknown record backend %q (want memory or sqlite)", c.Record.Backend))
	}

	if c.Watch.Interval <= 0 {
		return errors.E(errors.KindInvalidInput, op, "watch.interval must be positive")
	}
	if c.Watch.Concurrency <= 0 {
		return errors.E(errors.KindInvalidInput, op, "watch.concurrency must be positive")
	}

	switch c.Escalation.Notifier {
	case "", "github", "gitlab":
	default:
		return errors.E(errors.KindInvalidInput, op,
			fmt.Sprintf("unknown escalation notifier %q (want github or gitlab)", c.Escalation.Notifier))
	}

	// The coefficient tables are validated by Tables(), called at wiring
	// time; doing it here too would double-report the same mistakes.
	return nil
}

// Tables builds the risk coefficient tables: the built-in defaults with
// every configured override applied, validated as a whole.
func (c *Config) Tables() (risk.Tables, error) {
	const op = "config.Tables"
	t := risk.DefaultTables()

	if len(c.Scoring.VerdictWeights) > 0 {
		weights := make(map[verdict.Level]float64, len(c.Scoring.VerdictWeights))
		for name, w := range c.Scoring.VerdictWeights {
			level, ok := verdict.ParseLevel(name)
			if !ok {
				return risk.Tables{}, errors.E(errors.KindInvalidInput, op,
					fmt.Sprintf("unknown verdict level %q in scoring.verdict_weights", name))
			}
			weights[level] = w
		}
		// Partial overrides keep the default weight for unnamed levels.
		for level, w := range t.VerdictWeights {
			if _, ok := weights[level]; !ok {
				weights[level] = w
			}
		}
		t.VerdictWeights = weights
	}

	if len(c.Scoring.AssetValues) > 0 {
		t.AssetValues = c.Scoring.AssetValues
	}
	if len(c.Scoring.SensitivityMultipliers) > 0 {
		t.SensitivityMultipliers = c.Scoring.SensitivityMultipliers
	}
	if len(c.Scoring.ExposureWeights) > 0 {
		t.ExposureWeights = c.Scoring.ExposureWeights
	}

	if len(c.Scoring.BusinessLadder) > 0 {
		ladder, err := buildLadder(c.Scoring.BusinessLadder)
		if err != nil {
			return risk.Tables{}, errors.E(errors.KindInvalidInput, op, "scoring.business_ladder", err)
		}
		t.BusinessLadder = ladder
	}
	if len(c.Scoring.ConsumerLadder) > 0 {
		ladder, err := buildLadder(c.Scoring.ConsumerLadder)
		if err != nil {
			return risk.Tables{}, errors.E(errors.KindInvalidInput, op, "scoring.consumer_ladder", err)
		}
		t.ConsumerLadder = ladder
	}

	if c.Scoring.BoostThreshold != nil {
		t.BoostThreshold = *c.Scoring.BoostThreshold
	}
	if c.Scoring.BoostFactor != nil {
		t.BoostFactor = *c.Scoring.BoostFactor
	}

	if err := t.Validate(); err != nil {
		return risk.Tables{}, err
	}
	return t, nil
}

func buildLadder(in []Threshold) (risk.Ladder, error) {
	ladder := make(risk.Ladder, 0, len(in))
	for _, th := range in {
		// ParseSeverity maps unknown strings to info; in a configured
		// ladder that is a typo, not a choice.
		sev := risk.ParseSeverity(th.Severity)
		if sev == risk.SeverityInfo && !strings.EqualFold(strings.TrimSpace(th.Severity), "info") {
			return nil, fmt.Errorf("unknown severity %q", th.Severity)
		}
		ladder = append(ladder, risk.Threshold{Min: th.Min, Severity: sev})
	}
	return ladder, ladder.Validate()
}

// ProfileConfig builds the tag resolver configuration from the tables.
func (c *Config) ProfileConfig(t risk.Tables) profile.Config {
	cfg := profile.Config{
		AssetValues:            t.AssetValues,
		SensitivityMultipliers: t.SensitivityMultipliers,
		ExposureWeights:        t.ExposureWeights,
		DefaultAssetType:       c.Scoring.DefaultAssetType,
		DefaultSensitivity:     c.Scoring.DefaultSensitivity,
	}
	if cfg.DefaultAssetType == "" {
		cfg.DefaultAssetType = profile.DefaultAssetType
	}
	if cfg.DefaultSensitivity == "" {
		cfg.DefaultSensitivity = profile.DefaultSensitivity
	}
	return cfg
}

// ExtractorOptions converts the analyzer taxonomy overrides into verdict
// extractor options.
func (c *Config) ExtractorOptions() ([]verdict.Option, error) {
	const op = "config.ExtractorOptions"
	var opts []verdict.Option
	for analyzer, mapping := range c.Scoring.AnalyzerMappings {
		m := make(map[string]verdict.Level, len(mapping))
		for raw, name := range mapping {
			level, ok := verdict.ParseLevel(name)
			if !ok {
				return nil, errors.E(errors.KindInvalidInput, op,
					fmt.Sprintf("analyzer %q maps %q to unknown level %q", analyzer, raw, name))
			}
			m[raw] = level
		}
		opts = append(opts, verdict.WithMapping(analyzer, m))
	}
	return opts, nil
}
