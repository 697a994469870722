package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const roleColumns = `id, name, description, is_system`

// Role loads a custom role by id.
func (s *Store) Role(ctx context.Context, id string) (*goAccess.Role, error) {
	return s.loadRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ?`, id)
}

// RoleByName loads a custom role by its unique name.
func (s *Store) RoleByName(ctx context.Context, name string) (*goAccess.Role, error) {
	return s.loadRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = ?`, name)
}

func (s *Store) loadRole(ctx context.Context, query string, arg any) (*goAccess.Role, error) {
	var r goAccess.Role
	if err := s.db.GetContext(ctx, &r, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goAccess.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: load role: %w", err)
	}
	perms, err := s.rolePermissions(ctx, s.db, r.ID)
	if err != nil {
		return nil, err
	}
	r.Permissions = perms
	return &r, nil
}

func (s *Store) rolePermissions(ctx context.Context, q sqlx.QueryerContext, roleID string) ([]string, error) {
	perms := []string{}
	if err := sqlx.SelectContext(ctx, q, &perms,
		`SELECT permission FROM role_permissions WHERE role_id = ? ORDER BY permission`, roleID); err != nil {
		return nil, fmt.Errorf("sqlstore: load role permissions: %w", err)
	}
	return perms, nil
}

// Roles loads the roles with the given ids. Unknown ids are skipped.
func (s *Store) Roles(ctx context.Context, ids []string) ([]goAccess.Role, error) {
	if len(ids) == 0 {
		return []goAccess.Role{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+roleColumns+` FROM roles WHERE id IN (?) ORDER BY name`, ids)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: build roles query: %w", err)
	}
	roles := []goAccess.Role{}
	if err := s.db.SelectContext(ctx, &roles, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: load roles: %w", err)
	}
	for i := range roles {
		perms, err := s.rolePermissions(ctx, s.db, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// ListRoles returns every custom role ordered by name.
func (s *Store) ListRoles(ctx context.Context) ([]goAccess.Role, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM roles`); err != nil {
		return nil, fmt.Errorf("sqlstore: list roles: %w", err)
	}
	return s.Roles(ctx, ids)
}

// CreateRole stores a new role and its permissions.
func (s *Store) CreateRole(ctx context.Context, role goAccess.Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO roles (id, name, description, is_system)
			VALUES (:id, :name, :description, :is_system)`, role); err != nil {
			return fmt.Errorf("sqlstore: insert role: %w", err)
		}
		return replaceRolePermissions(ctx, tx, role.ID, role.Permissions)
	})
}

// UpdateRole replaces a role's attributes and permissions. Users holding
// the role get a version bump so cached permission sets are rebuilt.
func (s *Store) UpdateRole(ctx context.Context, role goAccess.Role) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `
			UPDATE roles SET name = :name, description = :description, is_system = :is_system
			WHERE id = :id`, role)
		if err != nil {
			return fmt.Errorf("sqlstore: update role: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return goAccess.ErrNotFound
		}
		if err := replaceRolePermissions(ctx, tx, role.ID, role.Permissions); err != nil {
			return err
		}
		return bumpRoleHolders(ctx, tx, role.ID)
	})
}

// DeleteRole removes a role and every assignment of it.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := bumpRoleHolders(ctx, tx, id); err != nil {
			return err
		}
		for _, q := range []string{
			`DELETE FROM user_custom_roles WHERE role_id = ?`,
			`DELETE FROM role_permissions WHERE role_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("sqlstore: delete role links: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlstore: delete role: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return goAccess.ErrNotFound
		}
		return nil
	})
}

func replaceRolePermissions(ctx context.Context, tx *sqlx.Tx, roleID string, perms []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = ?`, roleID); err != nil {
		return fmt.Errorf("sqlstore: clear role permissions: %w", err)
	}
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO role_permissions (role_id, permission) VALUES (?, ?)`, roleID, p); err != nil {
			return fmt.Errorf("sqlstore: insert role permission: %w", err)
		}
	}
	return nil
}

func bumpRoleHolders(ctx context.Context, tx *sqlx.Tx, roleID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET version = version + 1
		WHERE id IN (SELECT user_id FROM user_custom_roles WHERE role_id = ?)`, roleID)
	if err != nil {
		return fmt.Errorf("sqlstore: bump role holders: %w", err)
	}
	return nil
}

/*
====================================
PERMISSION CATALOG
====================================
*/

// Permissions returns the stored permission catalog ordered by name.
func (s *Store) Permissions(ctx context.Context) ([]goAccess.Permission, error) {
	perms := []goAccess.Permission{}
	err := s.db.SelectContext(ctx, &perms, `
		SELECT name, category, description, is_system AS system
		FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list permissions: %w", err)
	}
	return perms, nil
}

// UpsertPermission inserts p unless a permission with that name exists. It
// reports whether a row was created.
func (s *Store) UpsertPermission(ctx context.Context, p goAccess.Permission) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO permissions (name, category, description, is_system)
		VALUES (?, ?, ?, ?)`, p.Name, p.Category, p.Description, p.System)
	if err != nil {
		return false, fmt.Errorf("sqlstore: insert permission: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

// DeletePermission removes a permission from the catalog.
func (s *Store) DeletePermission(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("sqlstore: delete permission: %w", err)
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
