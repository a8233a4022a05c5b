package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "watch"
log_level = "debug"

[marketplace]
public_key = "pub"
secret_key = "abcd"

[scanner]
min_profit_percent = 12.5
backoff_cap = "30s"
reference_mode = "cheapest"

[checkpoint]
backend = "memory"

[[scans]]
user_id = "u1"
game = "csgo"
operation_type = "arbitrage"

[scans.filter]
min_price = 100
exteriors = ["Factory New"]
`

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skinbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validScanConfig() Config {
	cfg := Defaults()
	cfg.Marketplace.PublicKey = "pub"
	cfg.Marketplace.SecretKey = "abcd"
	cfg.Scans = []ScanConfig{{UserID: "u1", Game: "csgo", OperationType: "arbitrage"}}
	return cfg
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeTOML(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, 12.5, cfg.Scanner.MinProfitPercent)
	assert.Equal(t, 30*time.Second, cfg.Scanner.BackoffCap.Duration)
	assert.Equal(t, time.Second, cfg.Scanner.BackoffBase.Duration, "unset keys keep defaults")
	assert.Equal(t, "cheapest", cfg.Scanner.ReferenceMode)
	require.Len(t, cfg.Scans, 1)
	assert.Equal(t, "csgo", cfg.Scans[0].Game)
	assert.Equal(t, int64(100), cfg.Scans[0].Filter["min_price"])
	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Scanner.PageSize, cfg.Scanner.PageSize)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	_, err := Load(writeTOML(t, "[scanner]\nmin_profit = 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanner.min_profit")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SKINBOT_SCANNER_FEE_PERCENT", "7.5")
	t.Setenv("SKINBOT_SCANNER_INTERVAL", "2m")
	t.Setenv("SKINBOT_REDIS_ENABLED", "true")
	t.Setenv("SKINBOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("SKINBOT_SCANNER_PAGE_SIZE", "not-a-number")

	cfg, err := Load(writeTOML(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, 7.5, cfg.Scanner.FeePercent)
	assert.Equal(t, 2*time.Minute, cfg.Scanner.Interval.Duration)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 100, cfg.Scanner.PageSize, "unparsable values are ignored")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "unknown mode and level",
			mutate:  func(c *Config) { c.Mode = "trade"; c.LogLevel = "loud" },
			wantErr: []string{`unknown mode "trade"`, `unknown log_level "loud"`},
		},
		{
			name:    "scan mode without jobs or key",
			mutate:  func(c *Config) { c.Scans = nil; c.Marketplace.SecretKey = "" },
			wantErr: []string{"at least one [[scans]]", "secret_key or encrypted_key_path"},
		},
		{
			name:   "serve mode needs no jobs",
			mutate: func(c *Config) { c.Mode = "serve"; c.Scans = nil; c.Marketplace.SecretKey = "" },
		},
		{
			name:    "bad scan entry",
			mutate:  func(c *Config) { c.Scans[0].Game = "chess"; c.Scans[0].UserID = "" },
			wantErr: []string{`scans[0]: unknown game "chess"`, "scans[0]: user_id"},
		},
		{
			name:    "fee out of range",
			mutate:  func(c *Config) { c.Scanner.FeePercent = 120 },
			wantErr: []string{"fee_percent must be within 0-100"},
		},
		{
			name:    "backoff cap below base",
			mutate:  func(c *Config) { c.Scanner.BackoffCap.Duration = time.Millisecond },
			wantErr: []string{"backoff_cap >= backoff_base"},
		},
		{
			name:    "postgres backend requires postgres",
			mutate:  func(c *Config) { c.Checkpoint.Backend = "postgres" },
			wantErr: []string{"requires postgres.enabled"},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Checkpoint.Backend = "etcd" },
			wantErr: []string{`unknown backend "etcd"`},
		},
		{
			name:    "sealed key without password",
			mutate:  func(c *Config) { c.Marketplace.EncryptedKeyPath = "key.enc" },
			wantErr: []string{"key_password is required"},
		},
		{
			name: "same user and operation twice",
			mutate: func(c *Config) {
				c.Scans = append(c.Scans, ScanConfig{UserID: "u1", Game: "dota2", OperationType: "arbitrage"})
			},
			wantErr: []string{`scans[1]: duplicates scans[0] (user_id "u1", operation_type "arbitrage")`},
		},
		{
			name: "default operation differs per game",
			mutate: func(c *Config) {
				c.Scans = []ScanConfig{{UserID: "u1", Game: "csgo"}, {UserID: "u1", Game: "dota2"}}
			},
		},
		{
			name:    "page size above marketplace cap",
			mutate:  func(c *Config) { c.Scanner.PageSize = 200 },
			wantErr: []string{"page_size must be within 1-100"},
		},
		{
			name:    "unknown reference mode",
			mutate:  func(c *Config) { c.Scanner.ReferenceMode = "median" },
			wantErr: []string{`unknown reference_mode "median"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validScanConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validScanConfig()
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Server.APIKey = "k"
	cfg.Scans[0].Filter = map[string]any{"min_price": 1}

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Marketplace.SecretKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "pub", out.Marketplace.PublicKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Scans[0].Filter["min_price"] = 2
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, 1, cfg.Scans[0].Filter["min_price"])
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "abcd", cfg.Marketplace.SecretKey)
}
