package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rawblock/mule-engine/internal/heuristics"
)

// EnvPrefix is prepended to every environment override, e.g. MULE_SERVER_PORT
const EnvPrefix = "MULE"

// Config is the full runtime configuration of the engine binary
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Detection DetectionConfig `mapstructure:"detection"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	SAR       SARConfig       `mapstructure:"sar"`
	Flags     FlagsConfig     `mapstructure:"flags"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AuthToken      string   `mapstructure:"auth_token"`   // empty disables auth
	FilingToken    string   `mapstructure:"filing_token"` // submit-sar only; empty falls back to auth_token
	RatePerMinute  int      `mapstructure:"rate_per_minute"`
	RateBurst      int      `mapstructure:"rate_burst"`
	MaxUploadMB    int64    `mapstructure:"max_upload_mb"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`    // debug, info, warn, error
	Encoding string `mapstructure:"encoding"` // json, console
}

// DetectionConfig mirrors heuristics.EngineConfig in flat, env-friendly keys
type DetectionConfig struct {
	Workers      int  `mapstructure:"workers"`
	IncludeGraph bool `mapstructure:"include_graph"`

	CycleMinLength    int `mapstructure:"cycle_min_length"`
	CycleMaxLength    int `mapstructure:"cycle_max_length"`
	CycleMaxOutDegree int `mapstructure:"cycle_max_out_degree"`

	ShellMinHops        int     `mapstructure:"shell_min_hops"`
	ShellMinDegree      int     `mapstructure:"shell_min_degree"`
	ShellMaxDegree      int     `mapstructure:"shell_max_degree"`
	ShellLinearityRatio float64 `mapstructure:"shell_linearity_ratio"`

	SmurfWindowHours        float64 `mapstructure:"smurf_window_hours"`
	SmurfCountThreshold     int     `mapstructure:"smurf_count_threshold"`
	SmurfMerchantMeanCutoff float64 `mapstructure:"smurf_merchant_mean_cutoff"`
	SmurfPayrollStdDevFloor float64 `mapstructure:"smurf_payroll_std_dev_floor"`

	Scoring ScoringConfig `mapstructure:"scoring"`
}

type ScoringConfig struct {
	SmurfingBase     float64 `mapstructure:"smurfing_base"`
	CycleBase        float64 `mapstructure:"cycle_base"`
	LayeredBase      float64 `mapstructure:"layered_base"`
	DefaultBase      float64 `mapstructure:"default_base"`
	VolumeHighAbove  float64 `mapstructure:"volume_high_above"`
	VolumeHighBonus  float64 `mapstructure:"volume_high_bonus"`
	VolumeMidAbove   float64 `mapstructure:"volume_mid_above"`
	VolumeMidBonus   float64 `mapstructure:"volume_mid_bonus"`
	SizeLargeAtLeast int     `mapstructure:"size_large_at_least"`
	SizeLargeBonus   float64 `mapstructure:"size_large_bonus"`
	SizeMidAtLeast   int     `mapstructure:"size_mid_at_least"`
	SizeMidBonus     float64 `mapstructure:"size_mid_bonus"`
	OverlapBonus     float64 `mapstructure:"overlap_bonus"`
	MaxScore         float64 `mapstructure:"max_score"`
}

type AlertsConfig struct {
	MinRisk            float64 `mapstructure:"min_risk"`
	WebhookURL         string  `mapstructure:"webhook_url"`
	WebhookMinSeverity string  `mapstructure:"webhook_min_severity"`
}

type SARConfig struct {
	APIKey      string        `mapstructure:"api_key"` // empty selects the placeholder drafter
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type FlagsConfig struct {
	Backend string        `mapstructure:"backend"` // memory, redis
	TTL     time.Duration `mapstructure:"ttl"`     // redis only, 0 keeps flags forever
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type AuditConfig struct {
	Backend  string `mapstructure:"backend"` // file, postgres
	FilePath string `mapstructure:"file_path"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

var (
	ErrInvalidFlagBackend  = errors.New("flags.backend must be memory or redis")
	ErrInvalidAuditBackend = errors.New("audit.backend must be file or postgres")
	ErrMissingDatabaseURL  = errors.New("database.url is required for the postgres audit backend")
	ErrInvalidDetection    = errors.New("invalid detection setting")
)

// SetDefaults registers a default for every key so env overrides resolve
// even without a config file.
func SetDefaults(v *viper.Viper) {
	d := heuristics.DefaultEngineConfig()

	v.SetDefault("server.port", "8000")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.filing_token", "")
	v.SetDefault("server.rate_per_minute", 30)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.max_upload_mb", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")

	v.SetDefault("detection.workers", d.Workers)
	v.SetDefault("detection.include_graph", d.IncludeGraph)
	v.SetDefault("detection.cycle_min_length", d.Cycle.MinLength)
	v.SetDefault("detection.cycle_max_length", d.Cycle.MaxLength)
	v.SetDefault("detection.cycle_max_out_degree", d.Cycle.MaxOutDegree)
	v.SetDefault("detection.shell_min_hops", d.Shell.MinHops)
	v.SetDefault("detection.shell_min_degree", d.Shell.MinDegree)
	v.SetDefault("detection.shell_max_degree", d.Shell.MaxDegree)
	v.SetDefault("detection.shell_linearity_ratio", d.Shell.LinearityRatio)
	v.SetDefault("detection.smurf_window_hours", d.Smurfing.WindowHours)
	v.SetDefault("detection.smurf_count_threshold", d.Smurfing.CountThreshold)
	v.SetDefault("detection.smurf_merchant_mean_cutoff", d.Smurfing.MerchantMeanCutoff)
	v.SetDefault("detection.smurf_payroll_std_dev_floor", d.Smurfing.PayrollStdDevFloor)

	s := d.Scoring
	v.SetDefault("detection.scoring.smurfing_base", s.SmurfingBase)
	v.SetDefault("detection.scoring.cycle_base", s.CycleBase)
	v.SetDefault("detection.scoring.layered_base", s.LayeredBase)
	v.SetDefault("detection.scoring.default_base", s.DefaultBase)
	v.SetDefault("detection.scoring.volume_high_above", s.VolumeTiers[0].Threshold)
	v.SetDefault("detection.scoring.volume_high_bonus", s.VolumeTiers[0].Bonus)
	v.SetDefault("detection.scoring.volume_mid_above", s.VolumeTiers[1].Threshold)
	v.SetDefault("detection.scoring.volume_mid_bonus", s.VolumeTiers[1].Bonus)
	v.SetDefault("detection.scoring.size_large_at_least", int(s.SizeTiers[0].Threshold))
	v.SetDefault("detection.scoring.size_large_bonus", s.SizeTiers[0].Bonus)
	v.SetDefault("detection.scoring.size_mid_at_least", int(s.SizeTiers[1].Threshold))
	v.SetDefault("detection.scoring.size_mid_bonus", s.SizeTiers[1].Bonus)
	v.SetDefault("detection.scoring.overlap_bonus", s.OverlapBonus)
	v.SetDefault("detection.scoring.max_score", s.MaxScore)

	v.SetDefault("alerts.min_risk", 80.0)
	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("alerts.webhook_min_severity", "high")

	v.SetDefault("sar.api_key", "")
	v.SetDefault("sar.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("sar.model", "llama-3.1-8b-instant")
	v.SetDefault("sar.temperature", 0.2)
	v.SetDefault("sar.max_tokens", 300)
	v.SetDefault("sar.timeout", 30*time.Second)

	v.SetDefault("flags.backend", "memory")
	v.SetDefault("flags.ttl", time.Duration(0))

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "mule:flag:")

	v.SetDefault("audit.backend", "file")
	v.SetDefault("audit.file_path", "sar_submissions.log")

	v.SetDefault("database.url", "")
}

// BindEnv wires MULE_* environment overrides (MULE_SERVER_PORT,
// MULE_SAR_API_KEY, ...). GROQ_API_KEY and DATABASE_URL are honoured too.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("sar.api_key", EnvPrefix+"_SAR_API_KEY", "GROQ_API_KEY")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
}

// Load reads the optional config file and returns the merged configuration.
// A missing file is not an error; defaults and env still apply.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("mule")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mule-engine")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints viper cannot express
func (c *Config) Validate() error {
	switch c.Flags.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidFlagBackend, c.Flags.Backend)
	}
	switch c.Audit.Backend {
	case "file":
	case "postgres":
		if c.Database.URL == "" {
			return ErrMissingDatabaseURL
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidAuditBackend, c.Audit.Backend)
	}
	return c.Detection.validate()
}

func (d DetectionConfig) validate() error {
	switch {
	case d.CycleMinLength < 3:
		return fmt.Errorf("%w: cycle_min_length must be at least 3, got %d", ErrInvalidDetection, d.CycleMinLength)
	case d.CycleMaxLength < d.CycleMinLength:
		return fmt.Errorf("%w: cycle_max_length %d is below cycle_min_length %d", ErrInvalidDetection, d.CycleMaxLength, d.CycleMinLength)
	case d.CycleMaxOutDegree < 1:
		return fmt.Errorf("%w: cycle_max_out_degree must be positive", ErrInvalidDetection)
	case d.ShellMinHops < 1:
		return fmt.Errorf("%w: shell_min_hops must be positive", ErrInvalidDetection)
	case d.ShellMaxDegree < d.ShellMinDegree:
		return fmt.Errorf("%w: shell_max_degree %d is below shell_min_degree %d", ErrInvalidDetection, d.ShellMaxDegree, d.ShellMinDegree)
	case d.ShellLinearityRatio <= 0:
		return fmt.Errorf("%w: shell_linearity_ratio must be positive", ErrInvalidDetection)
	case d.SmurfWindowHours <= 0:
		return fmt.Errorf("%w: smurf_window_hours must be positive, got %g", ErrInvalidDetection, d.SmurfWindowHours)
	case d.SmurfCountThreshold < 1:
		return fmt.Errorf("%w: smurf_count_threshold must be positive, got %d", ErrInvalidDetection, d.SmurfCountThreshold)
	}
	return nil
}

// Engine converts the flat detection keys into the engine's configuration
func (d DetectionConfig) Engine() heuristics.EngineConfig {
	s := d.Scoring
	return heuristics.EngineConfig{
		Cycle: heuristics.CycleConfig{
			MinLength:    d.CycleMinLength,
			MaxLength:    d.CycleMaxLength,
			MaxOutDegree: d.CycleMaxOutDegree,
		},
		Shell: heuristics.ShellConfig{
			MinHops:        d.ShellMinHops,
			MinDegree:      d.ShellMinDegree,
			MaxDegree:      d.ShellMaxDegree,
			LinearityRatio: d.ShellLinearityRatio,
		},
		Smurfing: heuristics.SmurfingConfig{
			WindowHours:        d.SmurfWindowHours,
			CountThreshold:     d.SmurfCountThreshold,
			MerchantMeanCutoff: d.SmurfMerchantMeanCutoff,
			PayrollStdDevFloor: d.SmurfPayrollStdDevFloor,
		},
		Scoring: heuristics.ScoringConfig{
			SmurfingBase: s.SmurfingBase,
			CycleBase:    s.CycleBase,
			LayeredBase:  s.LayeredBase,
			DefaultBase:  s.DefaultBase,
			VolumeTiers: []heuristics.ScoreTier{
				{Threshold: s.VolumeHighAbove, Bonus: s.VolumeHighBonus},
				{Threshold: s.VolumeMidAbove, Bonus: s.VolumeMidBonus},
			},
			SizeTiers: []heuristics.ScoreTier{
				{Threshold: float64(s.SizeLargeAtLeast), Bonus: s.SizeLargeBonus},
				{Threshold: float64(s.SizeMidAtLeast), Bonus: s.SizeMidBonus},
			},
			OverlapBonus: s.OverlapBonus,
			MaxScore:     s.MaxScore,
		},
		Workers:      d.Workers,
		IncludeGraph: d.IncludeGraph,
	}
}
