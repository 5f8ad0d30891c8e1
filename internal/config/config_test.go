package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "data", cfg.Store.OutputDir)
	require.Equal(t, "listings.csv", cfg.Store.Filename)
	require.Equal(t, 10*time.Second, cfg.LockWait())
	require.Equal(t, 3, cfg.Harvest.MaxConcurrent)
	require.Equal(t, 3, cfg.Harvest.MaxRetries)
	require.Equal(t, 2*time.Second, cfg.RetryBaseDelay())
	require.Equal(t, 2.0, cfg.Harvest.RetryBackoff)
	require.Equal(t, "browser", cfg.Agent.Kind)
	require.True(t, cfg.Agent.Headless)
	require.Equal(t, 25*time.Second, cfg.NavTimeout())
	require.True(t, cfg.Policy.RespectRobots)
	require.False(t, cfg.Images.Enabled)
	require.False(t, cfg.API.Enabled)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
store:
  output_dir: /tmp/harvest
  filename: out.csv
  lock_wait_seconds: 3
  listing_url_marker: example-listings.com
harvest:
  target_urls:
    - https://example-listings.com/venda/casas/
  search_url_markers: ["/venda/"]
  max_concurrent: 5
  use_shared_agent: true
  max_retries: 4
  retry_delay_seconds: 1
  retry_backoff: 3.0
  max_pages: 7
agent:
  kind: static
  headless: false
  nav_timeout_seconds: 12
  user_agent: custom-bot/1.0
  proxies: ["http://proxy-a:8080"]
policy:
  respect_robots: false
  requests_per_second: 2
images:
  enabled: true
  timeout_seconds: 8
api:
  enabled: true
  port: 9105
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/tmp/harvest", cfg.Store.OutputDir)
	require.Equal(t, "out.csv", cfg.Store.Filename)
	require.Equal(t, 3*time.Second, cfg.LockWait())
	require.Equal(t, "example-listings.com", cfg.Store.ListingURLMarker)
	require.Equal(t, []string{"https://example-listings.com/venda/casas/"}, cfg.Harvest.TargetURLs)
	require.Equal(t, 5, cfg.Harvest.MaxConcurrent)
	require.True(t, cfg.Harvest.UseSharedAgent)
	require.Equal(t, 4, cfg.Harvest.MaxRetries)
	require.Equal(t, time.Second, cfg.RetryBaseDelay())
	require.Equal(t, 3.0, cfg.Harvest.RetryBackoff)
	require.Equal(t, 7, cfg.Harvest.MaxPages)
	require.Equal(t, "static", cfg.Agent.Kind)
	require.False(t, cfg.Agent.Headless)
	require.Equal(t, 12*time.Second, cfg.NavTimeout())
	require.Equal(t, "custom-bot/1.0", cfg.Agent.UserAgent)
	require.Equal(t, []string{"http://proxy-a:8080"}, cfg.Agent.Proxies)
	require.False(t, cfg.Policy.RespectRobots)
	require.Equal(t, 2.0, cfg.Policy.RequestsPerSecond)
	require.True(t, cfg.Images.Enabled)
	require.Equal(t, 8*time.Second, cfg.ImageTimeout())
	require.True(t, cfg.API.Enabled)
	require.Equal(t, 9105, cfg.API.Port)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"bad agent kind", "agent:\n  kind: carrier-pigeon\n"},
		{"zero concurrency", "harvest:\n  max_concurrent: -1\n"},
		{"backoff below one", "harvest:\n  retry_backoff: 0.5\n"},
		{"missing filename", "store:\n  filename: \"\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o600))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
