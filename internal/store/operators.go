package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// OperatorKey represents a row in the operator_keys table. Operator keys
// authenticate the supervisor and human operators against the session
// lifecycle and administrative endpoints; the hook validation endpoint does
// not use them.
type OperatorKey struct {
	ID        string
	Name      string
	KeyHash   string
	KeyPrefix string
	CreatedAt time.Time
}

// GenerateOperatorKey creates a new wsk_ key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown once.
func GenerateOperatorKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateOperatorKey: %w", err)
	}
	fullKey := "wsk_" + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateOperatorKey: %w", err)
	}

	prefix := fullKey[:8] // "wsk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateOperatorKey inserts a new operator key and returns it with the
// plaintext key (shown once).
func (s *Store) CreateOperatorKey(ctx context.Context, name string) (*OperatorKey, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateOperatorKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateOperatorKey: %w", err)
	}

	var k OperatorKey
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO operator_keys (name, key_hash, key_prefix)
		VALUES ($1, $2, $3)
		RETURNING id, name, key_hash, key_prefix, created_at`,
		name, keyHash, keyPrefix,
	).Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateOperatorKey: %w", err)
	}

	return &k, fullKey, nil
}

// LookupByPrefix returns the operator key row matching a key prefix, or nil
// if none exists. The caller verifies the full key against KeyHash.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*OperatorKey, error) {
	var k OperatorKey
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, key_prefix, created_at
		FROM operator_keys WHERE key_prefix = $1`, prefix,
	).Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	return &k, nil
}
