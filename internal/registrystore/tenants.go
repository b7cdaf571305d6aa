package registrystore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("registrystore: not found")

// CreateTenant inserts a new tenant row.
func (s *Store) CreateTenant(ctx context.Context, id, name string, now int64) (Tenant, error) {
	t := Tenant{ID: id, Name: name, CreatedAt: now}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)`,
		t.ID, t.Name, t.CreatedAt)
	if err != nil {
		return Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	return t, nil
}

// GetTenant loads a tenant by id.
func (s *Store) GetTenant(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// HashToken returns the hex sha256 digest stored as APIKey.TokenHash.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey stores a new key for tenantID. token is the plaintext bearer
// credential; only its hash is persisted. The caller must hand token to the
// requester once — it cannot be recovered later.
func (s *Store) CreateAPIKey(ctx context.Context, id, tenantID, token, name string, now int64) (APIKey, error) {
	k := APIKey{ID: id, TenantID: tenantID, TokenHash: HashToken(token), Name: name, CreatedAt: now}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO api_keys (id, tenant_id, token_hash, name, created_at) VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.TenantID, k.TokenHash, k.Name, k.CreatedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return k, nil
}

// VerifyAPIKey looks up the tenant owning token, rejecting revoked keys.
func (s *Store) VerifyAPIKey(ctx context.Context, token string) (APIKey, error) {
	return s.GetAPIKeyByHash(ctx, HashToken(token))
}

// GetAPIKeyByHash looks up an api key by its already-computed sha256 hash,
// rejecting revoked keys. Used directly by registryui's session cookie,
// which stores the hash rather than the plaintext token.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	var k APIKey
	var revokedAt sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, tenant_id, token_hash, name, created_at, revoked_at
		 FROM api_keys WHERE token_hash = ?`, hash,
	).Scan(&k.ID, &k.TenantID, &k.TokenHash, &k.Name, &k.CreatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("lookup api key: %w", err)
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Int64
		return APIKey{}, fmt.Errorf("%w: api key revoked", ErrNotFound)
	}
	return k, nil
}

// RevokeAPIKey marks a key unusable without deleting its audit row.
func (s *Store) RevokeAPIKey(ctx context.Context, id string, now int64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, now, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
