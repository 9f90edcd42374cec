package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBytes_Defaults(t *testing.T) {
	cfg, err := LoadBytes(nil)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.MaxSlides)
	assert.Equal(t, 60*time.Second, cfg.StageTimeout)
	assert.Equal(t, 3, cfg.PlanRetryCeiling)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, 100, cfg.RateLimitPerMinute)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Equal(t, int64(50), cfg.MaxConcurrentRequests)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention())
	assert.Equal(t, "corporate", cfg.DefaultTemplate)
	assert.Equal(t, []string{"pptx", "pdf"}, cfg.ExportFormats)
	assert.Equal(t, 4, cfg.ContentConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.DownloadLinkTTL)
}

func TestLoadBytes_YAMLOverridesDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
environment: production
max_slides: 20
stage_timeout: 90s
export_formats: [pptx, html]
retry_ceilings:
  export: 2
content_concurrency: 8
download_link_ttl: 2h
`))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 20, cfg.MaxSlides)
	assert.Equal(t, 90*time.Second, cfg.StageTimeout)
	assert.Equal(t, []string{"pptx", "html"}, cfg.ExportFormats)
	assert.Equal(t, map[string]int{"export": 2}, cfg.RetryCeilings)
	assert.Equal(t, 8, cfg.ContentConcurrency)
	assert.Equal(t, 2*time.Hour, cfg.DownloadLinkTTL)
	assert.Equal(t, 20, cfg.RateLimitBurst)
}

func TestLoadBytes_EnvironmentWins(t *testing.T) {
	t.Setenv("DECKFLOW_MAX_SLIDES", "15")
	t.Setenv("DECKFLOW_EXPORT_FORMATS", "pdf, png")
	t.Setenv("DECKFLOW_RETRY_CEILINGS", "plan=2,compliance=4")

	cfg, err := LoadBytes([]byte("max_slides: 20\n"))
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.MaxSlides)
	assert.Equal(t, []string{"pdf", "png"}, cfg.ExportFormats)
	assert.Equal(t, map[string]int{"plan": 2, "compliance": 4}, cfg.RetryCeilings)
}

func TestLoadBytes_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"unknown environment", "environment: moon\n", "Environment"},
		{"unsupported export format", "export_formats: [docx]\n", "ExportFormats"},
		{"unknown stage ceiling", "retry_ceilings:\n  review: 2\n", "RetryCeilings"},
		{"default above maximum", "max_slides: 5\ndefault_slides: 8\n", "DefaultSlides"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deckflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_retention_days: 7\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
