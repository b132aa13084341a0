// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source kinds.
const (
	SourceHeadless = "headless"
	SourceStatic   = "static"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Source     SourceConfig     `mapstructure:"source"`
	Selectors  SelectorsConfig  `mapstructure:"selectors"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Session    SessionConfig    `mapstructure:"session"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Pacing     PacingConfig     `mapstructure:"pacing"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Status     StatusConfig     `mapstructure:"status"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig selects and tunes the catalog source.
type SourceConfig struct {
	Kind          string        `mapstructure:"kind"`
	ListingURL    string        `mapstructure:"listing_url"`
	UserAgent     string        `mapstructure:"user_agent"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
	SettleWait    time.Duration `mapstructure:"settle_wait"`
	Headful       bool          `mapstructure:"headful"`
	Steps         []StepConfig  `mapstructure:"steps"`
}

// StepConfig is one scripted interaction with the rendered listing.
type StepConfig struct {
	Action   string        `mapstructure:"action"`
	Selector string        `mapstructure:"selector"`
	Wait     time.Duration `mapstructure:"wait"`
}

// SelectorsConfig locates entries inside the rendered listing.
type SelectorsConfig struct {
	Container   string `mapstructure:"container"`
	Record      string `mapstructure:"record"`
	SummaryLink string `mapstructure:"summary_link"`
	DetailRow   string `mapstructure:"detail_row"`
}

// ExtractConfig names the detail labels used for normalization.
type ExtractConfig struct {
	IdentifierField   string `mapstructure:"identifier_field"`
	IdentifierPattern string `mapstructure:"identifier_pattern"`
	DateField         string `mapstructure:"date_field"`
	LanguageField     string `mapstructure:"language_field"`
	TitleField        string `mapstructure:"title_field"`
	Extension         string `mapstructure:"extension"`
}

// StorageConfig sets the artifact directory and the state file paths.
type StorageConfig struct {
	ArtifactDir    string `mapstructure:"artifact_dir"`
	ResultsFile    string `mapstructure:"results_file"`
	LedgerFile     string `mapstructure:"ledger_file"`
	CheckpointFile string `mapstructure:"checkpoint_file"`
	TotalsFile     string `mapstructure:"totals_file"`
}

// SessionConfig bounds each session and the restart loop.
type SessionConfig struct {
	MaxDownloads  int           `mapstructure:"max_downloads"`
	MaxDuration   time.Duration `mapstructure:"max_duration"`
	TimeoutStreak int           `mapstructure:"timeout_streak"`
	RestartPause  time.Duration `mapstructure:"restart_pause"`
	StallLimit    int           `mapstructure:"stall_limit"`
}

// CheckpointConfig controls periodic checkpointing.
type CheckpointConfig struct {
	Every int `mapstructure:"every"`
}

// FetchConfig bounds a single artifact download. MaxRPS throttles fetches
// per host; zero disables throttling.
type FetchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	MaxRPS  float64       `mapstructure:"max_rps"`
	Burst   int           `mapstructure:"burst"`
}

// PolicyConfig tunes the replacement policy.
type PolicyConfig struct {
	Conservative bool `mapstructure:"conservative"`
}

// PacingConfig sets the randomized delays between requests.
type PacingConfig struct {
	ItemMin     time.Duration `mapstructure:"item_min"`
	ItemMax     time.Duration `mapstructure:"item_max"`
	DownloadMin time.Duration `mapstructure:"download_min"`
	DownloadMax time.Duration `mapstructure:"download_max"`
}

// MirrorConfig enables copying saved artifacts to a GCS bucket, a second
// directory, or both.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// StatusConfig controls the HTTP status server; an empty address disables it.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from defaults, an optional file and HARVESTER_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("source.kind", SourceHeadless)
	v.SetDefault("source.listing_url", "https://publikationen.giz.de/esearcha/browse.tt.html")
	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.render_timeout", 5*time.Minute)
	v.SetDefault("source.settle_wait", 5*time.Second)
	v.SetDefault("source.headful", false)
	v.SetDefault("source.steps", defaultSteps())

	v.SetDefault("selectors.container", "#results-container")
	v.SetDefault("selectors.record", ".row.efxRecordRepeater")
	v.SetDefault("selectors.summary_link", ".shortsummary-url a")
	v.SetDefault("selectors.detail_row", ".tab-pane .row")

	v.SetDefault("extract.identifier_field", "Weitere Nummern")
	v.SetDefault("extract.identifier_pattern", `Projektnummer: ((\d|\.)+)`)
	v.SetDefault("extract.date_field", "Erscheinungsdatum")
	v.SetDefault("extract.language_field", "Sprache")
	v.SetDefault("extract.title_field", "Titel")
	v.SetDefault("extract.extension", "pdf")

	v.SetDefault("storage.artifact_dir", "pdfs/giz")
	v.SetDefault("storage.results_file", "results.json")
	v.SetDefault("storage.ledger_file", "failed_downloads.json")
	v.SetDefault("storage.checkpoint_file", "checkpoint.json")
	v.SetDefault("storage.totals_file", "total_reports.json")

	v.SetDefault("session.max_downloads", 50)
	v.SetDefault("session.max_duration", 45*time.Minute)
	v.SetDefault("session.timeout_streak", 5)
	v.SetDefault("session.restart_pause", 30*time.Second)
	v.SetDefault("session.stall_limit", 3)
	v.SetDefault("checkpoint.every", 5)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_rps", 0.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("policy.conservative", false)

	v.SetDefault("pacing.item_min", 2*time.Second)
	v.SetDefault("pacing.item_max", 4*time.Second)
	v.SetDefault("pacing.download_min", 1500*time.Millisecond)
	v.SetDefault("pacing.download_max", 3*time.Second)

	v.SetDefault("mirror.gcs_bucket", "")
	v.SetDefault("mirror.prefix", "artifacts")
	v.SetDefault("mirror.local_dir", "")
	v.SetDefault("status.addr", "")
}

// defaultSteps drive the publication browser from its landing page to the
// full evaluation listing on a single page.
func defaultSteps() []map[string]any {
	return []map[string]any{
		{"action": "click", "selector": `//*[contains(text(), 'Suche starten')]`, "wait": "5s"},
		{"action": "click", "selector": `//li[contains(., 'Projektevaluierung')]`, "wait": "5s"},
		{"action": "click", "selector": `button.multiselect.dropdown-toggle[data-toggle='dropdown']`, "wait": "1s"},
		{"action": "click", "selector": `//ul[contains(@class, 'multiselect-container')]//li[contains(., 'Alles auf einer Seite')]`, "wait": "30s"},
		{"action": "click", "selector": `//button[contains(., 'Kurzanzeige')]`, "wait": "1s"},
		{"action": "click", "selector": `//li[contains(., 'Vollanzeige')]`, "wait": "2m"},
		{"action": "wait_visible", "selector": "#results-container"},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Source.Kind == SourceHeadless || c.Source.Kind == SourceStatic,
		fmt.Sprintf("source.kind must be %q or %q", SourceHeadless, SourceStatic))
	check(c.Source.ListingURL != "", "source.listing_url is required")
	check(c.Source.RenderTimeout > 0, "source.render_timeout must be > 0")
	for i, step := range c.Source.Steps {
		switch step.Action {
		case "click", "wait_visible":
			check(step.Selector != "", fmt.Sprintf("source.steps[%d].selector is required", i))
		case "sleep":
			check(step.Wait > 0, fmt.Sprintf("source.steps[%d].wait must be > 0", i))
		default:
			errs = append(errs, fmt.Errorf("source.steps[%d].action %q is not supported", i, step.Action))
		}
	}
	check(c.Selectors.Record != "", "selectors.record is required")

	if re, err := regexp.Compile(c.Extract.IdentifierPattern); err != nil {
		errs = append(errs, fmt.Errorf("extract.identifier_pattern: %w", err))
	} else {
		check(re.NumSubexp() >= 1, "extract.identifier_pattern needs a capture group")
	}
	check(c.Extract.Extension != "", "extract.extension is required")

	check(c.Storage.ArtifactDir != "", "storage.artifact_dir is required")
	check(c.Storage.ResultsFile != "", "storage.results_file is required")
	check(c.Storage.LedgerFile != "", "storage.ledger_file is required")
	check(c.Storage.CheckpointFile != "", "storage.checkpoint_file is required")
	check(c.Storage.TotalsFile != "", "storage.totals_file is required")

	check(c.Session.MaxDownloads > 0, "session.max_downloads must be > 0")
	check(c.Session.MaxDuration > 0, "session.max_duration must be > 0")
	check(c.Session.TimeoutStreak > 0, "session.timeout_streak must be > 0")
	check(c.Session.RestartPause >= 0, "session.restart_pause must be >= 0")
	check(c.Session.StallLimit >= 0, "session.stall_limit must be >= 0")
	check(c.Checkpoint.Every > 0, "checkpoint.every must be > 0")
	check(c.Fetch.Timeout > 0, "fetch.timeout must be > 0")
	check(c.Fetch.MaxRPS >= 0, "fetch.max_rps must be >= 0")

	check(c.Pacing.ItemMin >= 0 && c.Pacing.ItemMax >= c.Pacing.ItemMin, "pacing.item_min/item_max range is invalid")
	check(c.Pacing.DownloadMin >= 0 && c.Pacing.DownloadMax >= c.Pacing.DownloadMin,
		"pacing.download_min/download_max range is invalid")

	return errors.Join(errs...)
}
