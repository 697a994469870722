package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const userColumns = `id, email, password_hash, is_active, is_verified, tenant_id, auth_provider, version`

// CreateUser stores a new account with its built-in roles. An empty ID is
// replaced with a UUID.
func (s *Store) CreateUser(ctx context.Context, user goAccess.User) (*goAccess.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.AuthProvider == "" {
		user.AuthProvider = goAccess.ProviderLocal
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.insertUser(ctx, tx, user)
	})
	if err != nil {
		return nil, err
	}
	return s.UserByID(ctx, user.ID)
}

func (s *Store) insertUser(ctx context.Context, tx *sqlx.Tx, user goAccess.User) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, is_active, is_verified, tenant_id, auth_provider, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		user.ID, user.Email, user.PasswordHash, user.Active, user.Verified,
		user.TenantID, user.AuthProvider, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert user: %w", err)
	}
	for _, role := range user.Roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)`, user.ID, role); err != nil {
			return fmt.Errorf("sqlstore: insert user role: %w", err)
		}
	}
	for _, id := range user.CustomRoleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_custom_roles (user_id, role_id) VALUES (?, ?)`, user.ID, id); err != nil {
			return fmt.Errorf("sqlstore: insert user custom role: %w", err)
		}
	}
	return nil
}

// UserByEmail looks a user up case-insensitively.
func (s *Store) UserByEmail(ctx context.Context, email string) (*goAccess.User, error) {
	return s.loadUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.TrimSpace(email))
}

// UserByID looks a user up by id.
func (s *Store) UserByID(ctx context.Context, id string) (*goAccess.User, error) {
	return s.loadUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) loadUser(ctx context.Context, query string, arg any) (*goAccess.User, error) {
	var u goAccess.User
	if err := s.db.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goAccess.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: load user: %w", err)
	}
	u.Roles = []string{}
	if err := s.db.SelectContext(ctx, &u.Roles,
		`SELECT role FROM user_roles WHERE user_id = ? ORDER BY rowid`, u.ID); err != nil {
		return nil, fmt.Errorf("sqlstore: load user roles: %w", err)
	}
	u.CustomRoleIDs = []string{}
	if err := s.db.SelectContext(ctx, &u.CustomRoleIDs,
		`SELECT role_id FROM user_custom_roles WHERE user_id = ? ORDER BY rowid`, u.ID); err != nil {
		return nil, fmt.Errorf("sqlstore: load user custom roles: %w", err)
	}
	return &u, nil
}

// UpsertExternalUser returns the account with the profile's email, creating
// it from the profile when none exists.
func (s *Store) UpsertExternalUser(ctx context.Context, profile goAccess.User) (*goAccess.User, error) {
	existing, err := s.UserByEmail(ctx, profile.Email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, goAccess.ErrNotFound) {
		return nil, err
	}
	profile.ID = ""
	profile.PasswordHash = ""
	return s.CreateUser(ctx, profile)
}

// SetUserActive enables or disables an account.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	return s.updateUser(ctx, `UPDATE users SET is_active = ? WHERE id = ?`, active, id)
}

// UpdatePasswordHash replaces the stored password hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.updateUser(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
}

func (s *Store) updateUser(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: update user: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return goAccess.ErrNotFound
	}
	return nil
}

// AddUserRole grants a built-in role. Granting a held role is a no-op.
func (s *Store) AddUserRole(ctx context.Context, userID, role string) error {
	_, err := s.changeAssignment(ctx, userID,
		`INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)`, role)
	return err
}

// RemoveUserRole revokes a built-in role and reports whether it was held.
func (s *Store) RemoveUserRole(ctx context.Context, userID, role string) (bool, error) {
	return s.changeAssignment(ctx, userID,
		`DELETE FROM user_roles WHERE user_id = ? AND role = ?`, role)
}

// AddUserCustomRole assigns a custom role.
func (s *Store) AddUserCustomRole(ctx context.Context, userID, roleID string) error {
	_, err := s.changeAssignment(ctx, userID,
		`INSERT OR IGNORE INTO user_custom_roles (user_id, role_id) VALUES (?, ?)`, roleID)
	return err
}

// RemoveUserCustomRole removes a custom role assignment.
func (s *Store) RemoveUserCustomRole(ctx context.Context, userID, roleID string) (bool, error) {
	return s.changeAssignment(ctx, userID,
		`DELETE FROM user_custom_roles WHERE user_id = ? AND role_id = ?`, roleID)
}

// changeAssignment runs query for (userID, value) and bumps the user
// version when a row changed.
func (s *Store) changeAssignment(ctx context.Context, userID, query, value string) (bool, error) {
	var changed bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM users WHERE id = ?`, userID); err != nil {
			return fmt.Errorf("sqlstore: lookup user: %w", err)
		}
		if exists == 0 {
			return goAccess.ErrNotFound
		}
		res, err := tx.ExecContext(ctx, query, userID, value)
		if err != nil {
			return fmt.Errorf("sqlstore: change assignment: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		changed = true
		_, err = tx.ExecContext(ctx, `UPDATE users SET version = version + 1 WHERE id = ?`, userID)
		if err != nil {
			return fmt.Errorf("sqlstore: bump version: %w", err)
		}
		return nil
	})
	return changed, err
}
