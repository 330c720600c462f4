package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"SPOTIFY_ID", "SPOTIFY_SECRET", "DISCORD_CLIENT_ID", "DATABASE_URL"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_Full(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[spotify]
client_id = "abc"
client_secret = "def"

[discord]
client_id = "42"

[server]
redirect_uri = "http://127.0.0.1:9999/auth/callback"

[storage]
database_url = "postgres://localhost/presence"

[log]
level = "DEBUG"

[poll]
interval = "5s"
cooldown = "1m"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SpotifyClientID != "abc" || cfg.SpotifyClientSecret != "def" {
		t.Errorf("spotify credentials = %q/%q, want abc/def", cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	}
	if cfg.DiscordClientID != "42" {
		t.Errorf("DiscordClientID = %q, want 42", cfg.DiscordClientID)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:9999", cfg.ListenAddr)
	}
	if cfg.CallbackPath != "/auth/callback" {
		t.Errorf("CallbackPath = %q, want /auth/callback", cfg.CallbackPath)
	}
	if cfg.DatabaseURL != "postgres://localhost/presence" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.ErrorCooldown != time.Minute {
		t.Errorf("ErrorCooldown = %v, want 1m", cfg.ErrorCooldown)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q, want %q", cfg.Path, path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[spotify]
client_id = "abc"
client_secret = "def"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DiscordClientID != defaultDiscordID {
		t.Errorf("DiscordClientID = %q, want default", cfg.DiscordClientID)
	}
	if cfg.RedirectURI != defaultRedirect {
		t.Errorf("RedirectURI = %q, want %q", cfg.RedirectURI, defaultRedirect)
	}
	if cfg.ListenAddr != "127.0.0.1:8888" || cfg.CallbackPath != "/callback" {
		t.Errorf("listener = %q%q, want 127.0.0.1:8888/callback", cfg.ListenAddr, cfg.CallbackPath)
	}
	if cfg.PollInterval != defaultInterval || cfg.ErrorCooldown != defaultCooldown {
		t.Errorf("intervals = %v/%v, want defaults", cfg.PollInterval, cfg.ErrorCooldown)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[spotify]
client_id = "file-id"
client_secret = "file-secret"
`)
	t.Setenv("SPOTIFY_ID", "env-id")
	t.Setenv("SPOTIFY_SECRET", "env-secret")
	t.Setenv("DISCORD_CLIENT_ID", "env-discord")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SpotifyClientID != "env-id" || cfg.SpotifyClientSecret != "env-secret" {
		t.Errorf("credentials = %q/%q, want env values", cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	}
	if cfg.DiscordClientID != "env-discord" {
		t.Errorf("DiscordClientID = %q, want env-discord", cfg.DiscordClientID)
	}
}

func TestLoad_MissingCredentials(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"empty file", ``},
		{"secret missing", "[spotify]\nclient_id = \"abc\"\n"},
		{"placeholders", "[spotify]\nclient_id = \"your_client_id\"\nclient_secret = \"your_client_secret\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tt.contents))
			if !errors.Is(err, ErrMissingCredentials) {
				t.Errorf("Load() error = %v, want ErrMissingCredentials", err)
			}
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		extra string
	}{
		{"https redirect", "[server]\nredirect_uri = \"https://127.0.0.1:8888/callback\"\n"},
		{"redirect without port", "[server]\nredirect_uri = \"http://127.0.0.1/callback\"\n"},
		{"bad interval", "[poll]\ninterval = \"soon\"\n"},
		{"negative cooldown", "[poll]\ncooldown = \"-5s\"\n"},
		{"malformed toml", "[server\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := writeConfig(t, "[spotify]\nclient_id = \"abc\"\nclient_secret = \"def\"\n"+tt.extra)
			_, err := Load(path)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoad_MissingFileWritesTemplate(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	_, err := Load(path)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("Load() error = %v, want ErrMissingCredentials", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("template not written: %v", err)
	}
	if !strings.Contains(string(data), "[spotify]") {
		t.Errorf("template missing [spotify] section:\n%s", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		t.Errorf("template permissions = %o, want no group/other access", info.Mode().Perm())
	}
}

func TestLoad_MissingFileWithEnvCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPOTIFY_ID", "env-id")
	t.Setenv("SPOTIFY_SECRET", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SpotifyClientID != "env-id" {
		t.Errorf("SpotifyClientID = %q, want env-id", cfg.SpotifyClientID)
	}
}
