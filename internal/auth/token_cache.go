// Package auth provides Spotify OAuth2 authorization and refresh-token lifecycle management.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configDirName = "spotify-presence"
	tokenFileName = "credentials.json"
)

// CredentialStore persists the single refresh token that survives restarts.
// Load returns "" when nothing is stored.
type CredentialStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, refreshToken string) error
	Delete(ctx context.Context) error
}

// credentialRecord is the on-disk format. A cleared token is written as null.
type credentialRecord struct {
	RefreshToken *string `json:"refresh_token"`
}

// TokenCache stores the refresh token in a JSON file.
type TokenCache struct {
	path string
}

var _ CredentialStore = (*TokenCache)(nil)

// DefaultTokenCache returns a TokenCache using the default location:
// ~/.config/spotify-presence/credentials.json
func DefaultTokenCache() (*TokenCache, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting user config dir: %w", err)
	}

	path := filepath.Join(configDir, configDirName, tokenFileName)
	return &TokenCache{path: path}, nil
}

// NewTokenCache creates a TokenCache with a custom path.
func NewTokenCache(path string) *TokenCache {
	return &TokenCache{path: path}
}

// Path returns the file path where the refresh token is stored.
func (c *TokenCache) Path() string {
	return c.path
}

// Load reads the stored refresh token.
// Returns ("", nil) if the file does not exist or holds null.
func (c *TokenCache) Load(_ context.Context) (string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	var record credentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", fmt.Errorf("parsing token file: %w", err)
	}

	if record.RefreshToken == nil {
		return "", nil
	}
	return *record.RefreshToken, nil
}

// Save rewrites the whole record, creating the parent directory if needed.
// An empty token is stored as null.
func (c *TokenCache) Save(_ context.Context, refreshToken string) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var record credentialRecord
	if refreshToken != "" {
		record.RefreshToken = &refreshToken
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	return nil
}

// Delete removes the token file.
// Returns nil if the file does not exist.
func (c *TokenCache) Delete(_ context.Context) error {
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
