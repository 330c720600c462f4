// Package config loads and validates the spotify-presence configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	configDirName     = "spotify-presence"
	configFileName    = "config.toml"
	defaultDiscordID  = "1359268232959365301"
	defaultRedirect   = "http://127.0.0.1:8888/callback"
	defaultInterval   = 10 * time.Second
	defaultCooldown   = 30 * time.Second
	defaultLogLevel   = "info"
	placeholderID     = "your_client_id"
	placeholderSecret = "your_client_secret"
)

var (
	// ErrMissingCredentials is returned when the Spotify client id or secret is not set.
	ErrMissingCredentials = errors.New("missing Spotify client_id or client_secret (set them in the config file or SPOTIFY_ID/SPOTIFY_SECRET)")

	// ErrInvalid is returned when a configuration value cannot be used.
	ErrInvalid = errors.New("invalid configuration")
)

// Config is the validated runtime configuration.
type Config struct {
	SpotifyClientID     string
	SpotifyClientSecret string
	DiscordClientID     string

	// RedirectURI is registered with Spotify; ListenAddr and CallbackPath are derived from it.
	RedirectURI  string
	ListenAddr   string
	CallbackPath string

	DatabaseURL string

	LogFile  string
	LogLevel string

	PollInterval  time.Duration
	ErrorCooldown time.Duration

	// Path is the file the configuration was read from.
	Path string
}

type rawConfig struct {
	Spotify struct {
		ClientID     string `toml:"client_id"`
		ClientSecret string `toml:"client_secret"`
	} `toml:"spotify"`
	Discord struct {
		ClientID string `toml:"client_id"`
	} `toml:"discord"`
	Server struct {
		RedirectURI string `toml:"redirect_uri"`
	} `toml:"server"`
	Storage struct {
		DatabaseURL string `toml:"database_url"`
	} `toml:"storage"`
	Log struct {
		File  string `toml:"file"`
		Level string `toml:"level"`
	} `toml:"log"`
	Poll struct {
		Interval string `toml:"interval"`
		Cooldown string `toml:"cooldown"`
	} `toml:"poll"`
}

// DefaultPath returns ~/.config/spotify-presence/config.toml (or the platform equivalent).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("getting user config dir: %w", err)
	}
	return filepath.Join(dir, configDirName, configFileName), nil
}

// Load reads the config file at path (or the default location when empty),
// applies environment overrides and validates the result.
// A missing file is replaced by a commented template so the user has something to edit.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	var raw rawConfig
	data, err := readFile(resolved)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
		if werr := writeTemplate(resolved); werr != nil {
			return Config{}, werr
		}
	} else if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalid, resolved, err)
	}

	applyEnv(&raw)

	cfg, err := build(raw)
	if err != nil {
		return Config{}, err
	}
	cfg.Path = resolved
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}

func applyEnv(raw *rawConfig) {
	if v := os.Getenv("SPOTIFY_ID"); v != "" {
		raw.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_SECRET"); v != "" {
		raw.Spotify.ClientSecret = v
	}
	if v := os.Getenv("DISCORD_CLIENT_ID"); v != "" {
		raw.Discord.ClientID = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		raw.Storage.DatabaseURL = v
	}
}

func build(raw rawConfig) (Config, error) {
	cfg := Config{
		SpotifyClientID:     strings.TrimSpace(raw.Spotify.ClientID),
		SpotifyClientSecret: strings.TrimSpace(raw.Spotify.ClientSecret),
		DiscordClientID:     strings.TrimSpace(raw.Discord.ClientID),
		RedirectURI:         strings.TrimSpace(raw.Server.RedirectURI),
		DatabaseURL:         strings.TrimSpace(raw.Storage.DatabaseURL),
		LogFile:             strings.TrimSpace(raw.Log.File),
		LogLevel:            strings.ToLower(strings.TrimSpace(raw.Log.Level)),
		PollInterval:        defaultInterval,
		ErrorCooldown:       defaultCooldown,
	}

	if cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" ||
		cfg.SpotifyClientID == placeholderID || cfg.SpotifyClientSecret == placeholderSecret {
		return Config{}, ErrMissingCredentials
	}
	if cfg.DiscordClientID == "" {
		cfg.DiscordClientID = defaultDiscordID
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = defaultRedirect
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	addr, callbackPath, err := parseRedirect(cfg.RedirectURI)
	if err != nil {
		return Config{}, err
	}
	cfg.ListenAddr = addr
	cfg.CallbackPath = callbackPath

	if cfg.LogFile != "" {
		expanded, err := expandPath(cfg.LogFile)
		if err != nil {
			return Config{}, fmt.Errorf("%w: log.file: %v", ErrInvalid, err)
		}
		cfg.LogFile = expanded
	}

	if cfg.PollInterval, err = parseDuration("poll.interval", raw.Poll.Interval, defaultInterval); err != nil {
		return Config{}, err
	}
	if cfg.ErrorCooldown, err = parseDuration("poll.cooldown", raw.Poll.Cooldown, defaultCooldown); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// parseRedirect splits a loopback redirect URI into the address the callback
// listener binds and the path it serves.
func parseRedirect(raw string) (addr, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: server.redirect_uri: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" {
		return "", "", fmt.Errorf("%w: server.redirect_uri must use http, got %q", ErrInvalid, u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return "", "", fmt.Errorf("%w: server.redirect_uri must include host and port", ErrInvalid)
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return u.Host, path, nil
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalid, field)
	}
	return d, nil
}

const configTemplate = `# spotify-presence configuration

[spotify]
client_id = "your_client_id"
client_secret = "your_client_secret"

[discord]
client_id = "` + defaultDiscordID + `"

[server]
# Must match a redirect URI registered for the Spotify application.
redirect_uri = "` + defaultRedirect + `"

[storage]
# Optional. When set, the refresh token is kept in Postgres instead of a local file.
# database_url = "postgres://localhost/spotify_presence"

[log]
# file = "~/.config/spotify-presence/spotify-presence.log"
level = "info"

[poll]
interval = "10s"
cooldown = "30s"
`

func writeTemplate(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("write config template: %w", err)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPath()
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
