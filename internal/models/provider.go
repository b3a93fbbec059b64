// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/autobrr/gamedrop/internal/dbinterface"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrProviderExists   = errors.New("provider with this name already exists")
	ErrInvalidProvider  = errors.New("invalid provider")
)

// ProviderKind selects the adapter implementation for a provider.
type ProviderKind string

const (
	ProviderKindTorznab   ProviderKind = "torznab"
	ProviderKindApibay    ProviderKind = "apibay"
	ProviderKindHydra     ProviderKind = "hydra"
	ProviderKindHTML      ProviderKind = "html"
	ProviderKindSimulated ProviderKind = "simulated"
)

func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderKindTorznab, ProviderKindApibay, ProviderKindHydra, ProviderKindHTML, ProviderKindSimulated:
		return true
	}
	return false
}

const defaultProviderTimeoutSeconds = 10

// ProviderConfig is the enablement and connection info for one search adapter.
type ProviderConfig struct {
	ID              int          `json:"id"`
	Name            string       `json:"name"`
	Kind            ProviderKind `json:"kind"`
	BaseURL         string       `json:"baseUrl"`
	APIKeyEncrypted string       `json:"-"`
	Enabled         bool         `json:"enabled"`
	Companion       bool         `json:"companion"`
	Priority        int          `json:"priority"`
	TimeoutSeconds  int          `json:"timeoutSeconds"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

func (p ProviderConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		ID             int          `json:"id"`
		Name           string       `json:"name"`
		Kind           ProviderKind `json:"kind"`
		BaseURL        string       `json:"baseUrl"`
		HasAPIKey      bool         `json:"hasApiKey"`
		Enabled        bool         `json:"enabled"`
		Companion      bool         `json:"companion"`
		Priority       int          `json:"priority"`
		TimeoutSeconds int          `json:"timeoutSeconds"`
		CreatedAt      time.Time    `json:"createdAt"`
		UpdatedAt      time.Time    `json:"updatedAt"`
	}{
		ID:             p.ID,
		Name:           p.Name,
		Kind:           p.Kind,
		BaseURL:        p.BaseURL,
		HasAPIKey:      p.APIKeyEncrypted != "",
		Enabled:        p.Enabled,
		Companion:      p.Companion,
		Priority:       p.Priority,
		TimeoutSeconds: p.TimeoutSeconds,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	})
}

// Timeout returns the per-search timeout for this provider.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return defaultProviderTimeoutSeconds * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ProviderInput carries create/update fields. Nil pointers leave a field unchanged on update.
type ProviderInput struct {
	Name           string       `json:"name"`
	Kind           ProviderKind `json:"kind"`
	BaseURL        string       `json:"baseUrl"`
	APIKey         *string      `json:"apiKey,omitempty"`
	Enabled        *bool        `json:"enabled,omitempty"`
	Companion      *bool        `json:"companion,omitempty"`
	Priority       *int         `json:"priority,omitempty"`
	TimeoutSeconds *int         `json:"timeoutSeconds,omitempty"`
}

type ProviderStore struct {
	db            dbinterface.Querier
	encryptionKey []byte
}

func NewProviderStore(db dbinterface.Querier, encryptionKey []byte) (*ProviderStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &ProviderStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

func (s *ProviderStore) encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (s *ProviderStore) decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GetDecryptedAPIKey returns the provider's API key in clear text.
func (s *ProviderStore) GetDecryptedAPIKey(p *ProviderConfig) (string, error) {
	return s.decrypt(p.APIKeyEncrypted)
}

// validateAndNormalizeBaseURL validates a provider base URL. Simulated providers need none.
func validateAndNormalizeBaseURL(kind ProviderKind, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if kind == ProviderKindSimulated {
			return "", nil
		}
		return "", fmt.Errorf("%w: base URL cannot be empty", ErrInvalidProvider)
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL format: %v", ErrInvalidProvider, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q, must be http or https", ErrInvalidProvider, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: URL must include a host", ErrInvalidProvider)
	}

	return strings.TrimRight(u.String(), "/"), nil
}

const providerColumns = `id, name, kind, base_url, api_key_encrypted, enabled, companion, priority, timeout_seconds, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*ProviderConfig, error) {
	var p ProviderConfig
	var kind string
	if err := row.Scan(&p.ID, &p.Name, &kind, &p.BaseURL, &p.APIKeyEncrypted, &p.Enabled,
		&p.Companion, &p.Priority, &p.TimeoutSeconds, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Kind = ProviderKind(kind)
	return &p, nil
}

func (s *ProviderStore) Create(ctx context.Context, input *ProviderInput) (*ProviderConfig, error) {
	if input == nil {
		return nil, errors.New("input is nil")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidProvider)
	}
	if !input.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown provider kind %q", ErrInvalidProvider, input.Kind)
	}

	baseURL, err := validateAndNormalizeBaseURL(input.Kind, input.BaseURL)
	if err != nil {
		return nil, err
	}

	var apiKeyEncrypted string
	if input.APIKey != nil {
		if apiKeyEncrypted, err = s.encrypt(*input.APIKey); err != nil {
			return nil, fmt.Errorf("failed to encrypt api key: %w", err)
		}
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}
	companion := input.Kind == ProviderKindTorznab
	if input.Companion != nil {
		companion = *input.Companion
	}
	priority := 0
	if input.Priority != nil {
		priority = *input.Priority
	}
	timeout := defaultProviderTimeoutSeconds
	if input.TimeoutSeconds != nil && *input.TimeoutSeconds > 0 {
		timeout = *input.TimeoutSeconds
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (name, kind, base_url, api_key_encrypted, enabled, companion, priority, timeout_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		name, string(input.Kind), baseURL, apiKeyEncrypted, enabled, companion, priority, timeout)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, ErrProviderExists
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, int(id))
}

func (s *ProviderStore) Get(ctx context.Context, id int) (*ProviderConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ?`, id)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	return p, err
}

func (s *ProviderStore) List(ctx context.Context) ([]*ProviderConfig, error) {
	return s.query(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY companion DESC, priority DESC, name COLLATE NOCASE ASC`)
}

func (s *ProviderStore) ListEnabled(ctx context.Context) ([]*ProviderConfig, error) {
	return s.query(ctx, `SELECT `+providerColumns+` FROM providers WHERE enabled = 1 ORDER BY companion DESC, priority DESC, name COLLATE NOCASE ASC`)
}

func (s *ProviderStore) query(ctx context.Context, q string) ([]*ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []*ProviderConfig
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (s *ProviderStore) Update(ctx context.Context, id int, input *ProviderInput) (*ProviderConfig, error) {
	if input == nil {
		return nil, errors.New("input is nil")
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(input.Name); name != "" {
		existing.Name = name
	}
	if input.Kind != "" {
		if !input.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown provider kind %q", ErrInvalidProvider, input.Kind)
		}
		existing.Kind = input.Kind
	}
	if input.BaseURL != "" {
		if existing.BaseURL, err = validateAndNormalizeBaseURL(existing.Kind, input.BaseURL); err != nil {
			return nil, err
		}
	}
	if input.APIKey != nil {
		if existing.APIKeyEncrypted, err = s.encrypt(*input.APIKey); err != nil {
			return nil, fmt.Errorf("failed to encrypt api key: %w", err)
		}
	}
	if input.Enabled != nil {
		existing.Enabled = *input.Enabled
	}
	if input.Companion != nil {
		existing.Companion = *input.Companion
	}
	if input.Priority != nil {
		existing.Priority = *input.Priority
	}
	if input.TimeoutSeconds != nil && *input.TimeoutSeconds > 0 {
		existing.TimeoutSeconds = *input.TimeoutSeconds
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE providers
		SET name = ?, kind = ?, base_url = ?, api_key_encrypted = ?, enabled = ?, companion = ?,
		    priority = ?, timeout_seconds = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		existing.Name, string(existing.Kind), existing.BaseURL, existing.APIKeyEncrypted, existing.Enabled,
		existing.Companion, existing.Priority, existing.TimeoutSeconds, id)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, ErrProviderExists
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *ProviderStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProviderNotFound
	}
	return nil
}
