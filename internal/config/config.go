// Package config loads gateway settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/example/image-moderation/internal/classifier"
	"github.com/example/image-moderation/internal/moderation"
)

// Mode selects how unsafe verdicts are reported.
type Mode string

const (
	// ModeBlocking answers 403 for unsafe images.
	ModeBlocking Mode = "blocking"
	// ModeScoring always answers 200 and leaves enforcement to the caller.
	ModeScoring Mode = "scoring"
	// ModeBoth mounts both endpoints.
	ModeBoth Mode = "both"
)

// Config holds every process-wide setting, read once at startup.
type Config struct {
	Port  string
	Debug bool

	Clarifai          classifier.ClarifaiConfig
	ClassifyTimeout   time.Duration
	RequireClassifier bool

	Thresholds     moderation.Thresholds
	BlockingLabels []string
	SafeLabel      string
	ExcludeSafe    bool
	Mode           Mode

	RedisAddr      string
	RateLimitRPS   float64
	RateLimitBurst int

	JWTSecret   string
	JWTAudience string

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// Load reads envFile (missing files are ignored) and then the process environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:              v.GetString("port"),
		RequireClassifier: v.GetBool("require_classifier"),
		SafeLabel:         v.GetString("safe_label"),
		Mode:              Mode(strings.ToLower(strings.TrimSpace(v.GetString("moderation_mode")))),
		RedisAddr:         strings.TrimSpace(v.GetString("redis_addr")),
		JWTSecret:         v.GetString("jwt_secret"),
		JWTAudience:       v.GetString("jwt_audience"),
		LogFile:           v.GetString("log_file"),
		BlockingLabels:    splitList(v.GetString("blocking_labels")),
		Clarifai: classifier.ClarifaiConfig{
			BaseURL: v.GetString("clarifai_base_url"),
			PAT:     firstNonEmpty(v.GetString("clarifai_pat"), v.GetString("clarifai_api_key")),
			UserID:  v.GetString("clarifai_user_id"),
			AppID:   v.GetString("clarifai_app_id"),
			ModelID: v.GetString("clarifai_model_id"),
		},
	}

	var errs []error
	parse := func(key string, fn func(raw interface{}) error) {
		if err := fn(v.Get(key)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", strings.ToUpper(key), err))
		}
	}

	parse("debug", func(raw interface{}) (err error) { cfg.Debug, err = cast.ToBoolE(raw); return })
	parse("exclude_safe_label", func(raw interface{}) (err error) { cfg.ExcludeSafe, err = cast.ToBoolE(raw); return })
	parse("unsafe_threshold", func(raw interface{}) (err error) { cfg.Thresholds.Global, err = cast.ToFloat64E(raw); return })
	parse("blocking_label_threshold", func(raw interface{}) (err error) {
		cfg.Thresholds.BlockingLabel, err = cast.ToFloat64E(raw)
		return
	})
	parse("classify_timeout", func(raw interface{}) (err error) { cfg.ClassifyTimeout, err = cast.ToDurationE(raw); return })
	parse("rate_limit_rps", func(raw interface{}) (err error) { cfg.RateLimitRPS, err = cast.ToFloat64E(raw); return })
	parse("rate_limit_burst", func(raw interface{}) (err error) { cfg.RateLimitBurst, err = cast.ToIntE(raw); return })
	parse("breaker_max_failures", func(raw interface{}) (err error) { cfg.BreakerMaxFailures, err = cast.ToUint32E(raw); return })
	parse("breaker_open_timeout", func(raw interface{}) (err error) {
		cfg.BreakerOpenTimeout, err = cast.ToDurationE(raw)
		return
	})
	parse("log_max_size_mb", func(raw interface{}) (err error) { cfg.LogMaxSizeMB, err = cast.ToIntE(raw); return })
	parse("log_max_backups", func(raw interface{}) (err error) { cfg.LogMaxBackups, err = cast.ToIntE(raw); return })

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and allowed modes.
func (c *Config) Validate() error {
	if !c.Thresholds.Valid() {
		return fmt.Errorf("thresholds must be within [0,1], got global=%v blocking=%v",
			c.Thresholds.Global, c.Thresholds.BlockingLabel)
	}
	switch c.Mode {
	case ModeBlocking, ModeScoring, ModeBoth:
	default:
		return fmt.Errorf("MODERATION_MODE must be blocking, scoring or both, got %q", c.Mode)
	}
	if c.ClassifyTimeout <= 0 {
		return fmt.Errorf("CLASSIFY_TIMEOUT must be positive, got %s", c.ClassifyTimeout)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when RATE_LIMIT_RPS is set, got %d", c.RateLimitBurst)
	}
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8000")
	v.SetDefault("debug", false)
	v.SetDefault("require_classifier", false)
	v.SetDefault("clarifai_base_url", classifier.DefaultBaseURL)
	v.SetDefault("clarifai_user_id", classifier.DefaultUserID)
	v.SetDefault("clarifai_app_id", classifier.DefaultAppID)
	v.SetDefault("clarifai_model_id", classifier.DefaultModelID)
	v.SetDefault("classify_timeout", "10s")
	v.SetDefault("unsafe_threshold", moderation.DefaultGlobalThreshold)
	v.SetDefault("blocking_label_threshold", moderation.DefaultBlockingLabelThreshold)
	v.SetDefault("blocking_labels", "suggestive,gore,drugs,hate,unsafe")
	v.SetDefault("safe_label", "safe")
	v.SetDefault("exclude_safe_label", true)
	v.SetDefault("moderation_mode", string(ModeBlocking))
	v.SetDefault("rate_limit_rps", 0)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("breaker_max_failures", 5)
	v.SetDefault("breaker_open_timeout", "30s")
	v.SetDefault("log_max_size_mb", 100)
	v.SetDefault("log_max_backups", 3)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
