// Package config loads the workflow settings shared by the API server and the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override settings, e.g. DECKFLOW_MAX_SLIDES.
const EnvPrefix = "DECKFLOW_"

const maxConfigFileSize = 1024 * 1024

// Settings are the tunables of a deployment. They are built once at startup and passed to
// constructors explicitly.
type Settings struct {
	Environment           string         `koanf:"environment"             validate:"oneof=development test staging production"`
	MaxSlides             int            `koanf:"max_slides"              validate:"min=1,max=100"`
	DefaultSlides         int            `koanf:"default_slides"          validate:"min=1,ltefield=MaxSlides"`
	DefaultTemplate       string         `koanf:"default_template"        validate:"oneof=corporate executive research financial"`
	StageTimeout          time.Duration  `koanf:"stage_timeout"           validate:"min=0"`
	PlanRetryCeiling      int            `koanf:"plan_retry_ceiling"      validate:"min=1,max=10"`
	RetryCeilings         map[string]int `koanf:"retry_ceilings"          validate:"dive,keys,oneof=plan research content architecture compliance export,endkeys,min=1,max=10"`
	CacheTTL              time.Duration  `koanf:"cache_ttl"               validate:"min=0"`
	RateLimitPerMinute    int            `koanf:"rate_limit_per_minute"   validate:"min=1"`
	RateLimitBurst        int            `koanf:"rate_limit_burst"        validate:"min=1"`
	MaxConcurrentRequests int64          `koanf:"max_concurrent_requests" validate:"min=1"`
	DataRetentionDays     int            `koanf:"data_retention_days"     validate:"min=1"`
	RetentionSchedule     string         `koanf:"retention_schedule"      validate:"required"`
	ExportFormats         []string       `koanf:"export_formats"          validate:"dive,oneof=pptx pdf html png"`
	ContentConcurrency    int            `koanf:"content_concurrency"     validate:"min=1,max=32"`
	DownloadLinkTTL       time.Duration  `koanf:"download_link_ttl"       validate:"min=0"`
}

// Defaults mirror the production configuration.
func Defaults() Settings {
	return Settings{
		Environment:           "development",
		MaxSlides:             25,
		DefaultSlides:         10,
		DefaultTemplate:       "corporate",
		StageTimeout:          60 * time.Second,
		PlanRetryCeiling:      3,
		RetryCeilings:         map[string]int{},
		CacheTTL:              300 * time.Second,
		RateLimitPerMinute:    100,
		RateLimitBurst:        20,
		MaxConcurrentRequests: 50,
		DataRetentionDays:     30,
		RetentionSchedule:     "@every 1h",
		ExportFormats:         []string{"pptx", "pdf"},
		ContentConcurrency:    4,
		DownloadLinkTTL:       24 * time.Hour,
	}
}

// Retention is how long finished executions are kept.
func (s Settings) Retention() time.Duration {
	return time.Duration(s.DataRetentionDays) * 24 * time.Hour
}

// Load reads settings from defaults, then the YAML file at path (skipped when empty), then
// DECKFLOW_ environment variables.
func Load(path string) (*Settings, error) {
	var content []byte

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}

		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err = os.ReadFile(path) // #nosec G304 -- operator supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return LoadBytes(content)
}

// LoadBytes is Load with the YAML document given directly.
func LoadBytes(content []byte) (*Settings, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Defaults()
	cfg.ExportFormats = nil

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.ExportFormats) == 0 {
		cfg.ExportFormats = Defaults().ExportFormats
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envValue maps DECKFLOW_EXPORT_FORMATS=pptx,html to export_formats=[pptx html] and
// DECKFLOW_RETRY_CEILINGS=plan=3,export=2 to a map.
func envValue(key, value string) (string, any) {
	name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

	switch name {
	case "export_formats":
		return name, splitList(value)
	case "retry_ceilings":
		ceilings := map[string]any{}

		for _, pair := range splitList(value) {
			stage, raw, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}

			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				continue
			}

			ceilings[strings.TrimSpace(stage)] = n
		}

		return name, ceilings
	default:
		return name, value
	}
}

func splitList(value string) []string {
	var out []string

	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}

// Validate checks every field against its constraints.
func (s *Settings) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}

	return errors.New(strings.Join(messages, "; "))
}
