package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mergeci/controlplane/internal/model"
)

const userColumns = `id, tenant_id, email, password_hash, created_at`

func scanUser(row interface {
	Scan(dest ...interface{}) error
}) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser inserts a new user account.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, tenant_id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, now())
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.TenantID, u.Email, u.PasswordHash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByEmail looks up a user by email within a tenant, used at login.
func (s *Store) GetUserByEmail(ctx context.Context, tenantID, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND email = $2`, tenantID, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// GetUserByID retrieves a user by ID, used to resolve a JWT's subject claim.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}
