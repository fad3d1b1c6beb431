package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mergeci/controlplane/internal/model"
)

const apiKeyColumns = `
	id, tenant_id, name, key_prefix, key_hash, scopes, created_at, last_used_at, revoked
`

func scanAPIKey(row interface {
	Scan(dest ...interface{}) error
}) (*model.APIKey, error) {
	k := &model.APIKey{}
	var scopes []byte
	err := row.Scan(
		&k.ID, &k.TenantID, &k.Name, &k.KeyPrefix, &k.KeyHash, &scopes,
		&k.CreatedAt, &k.LastUsedAt, &k.Revoked,
	)
	if err != nil {
		return nil, err
	}
	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &k.Scopes); err != nil {
			return nil, fmt.Errorf("unmarshal scopes: %w", err)
		}
	}
	return k, nil
}

// CreateAPIKey persists a newly-minted API key. Only the hash and display
// prefix are stored; the full key is never written anywhere.
func (s *Store) CreateAPIKey(ctx context.Context, k *model.APIKey) error {
	scopes, err := json.Marshal(k.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	query := `
		INSERT INTO api_keys (id, tenant_id, name, key_prefix, key_hash, scopes, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, now(), false)
	`
	_, err = s.db.ExecContext(ctx, query, k.ID, k.TenantID, k.Name, k.KeyPrefix, k.KeyHash, scopes)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks up a non-revoked API key by the SHA-256 hash of its
// full key string, used to authenticate the X-API-Key header.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1 AND revoked = false`, hash)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return k, err
}

// ListAPIKeys returns every API key belonging to a tenant, revoked or not.
func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]*model.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// TouchAPIKeyLastUsed stamps last_used_at to now, called on every
// successfully-authenticated request using the key.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}

// RevokeAPIKey marks an API key revoked within its owning tenant.
func (s *Store) RevokeAPIKey(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked = true WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return err
}
