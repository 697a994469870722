package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/tenant"
)

const tenantColumns = `id, code, name, parent_id, is_active`

// CreateTenant stores a tenant.
func (s *Store) CreateTenant(ctx context.Context, t goAccess.Tenant) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES (:id, :code, :name, :parent_id, :is_active)`, t)
	if err != nil {
		return fmt.Errorf("sqlstore: insert tenant: %w", err)
	}
	return nil
}

// Tenant loads a tenant by id. Missing tenants yield tenant.ErrNotFound.
func (s *Store) Tenant(ctx context.Context, id string) (*goAccess.Tenant, error) {
	var t goAccess.Tenant
	if err := s.db.GetContext(ctx, &t, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: load tenant: %w", err)
	}
	return &t, nil
}

// Children lists the direct subsidiaries of parentID ordered by name.
func (s *Store) Children(ctx context.Context, parentID string) ([]goAccess.Tenant, error) {
	out := []goAccess.Tenant{}
	if err := s.db.SelectContext(ctx, &out,
		`SELECT `+tenantColumns+` FROM tenants WHERE parent_id = ? ORDER BY name`, parentID); err != nil {
		return nil, fmt.Errorf("sqlstore: list children: %w", err)
	}
	return out, nil
}

// SetParent moves a tenant under parentID. An empty parent detaches it.
func (s *Store) SetParent(ctx context.Context, id, parentID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET parent_id = ? WHERE id = ?`, parentID, id)
	if err != nil {
		return fmt.Errorf("sqlstore: set parent: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

// Tenants lists tenants ordered by name.
func (s *Store) Tenants(ctx context.Context, activeOnly bool) ([]goAccess.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	out := []goAccess.Tenant{}
	if err := s.db.SelectContext(ctx, &out, query+` ORDER BY name`); err != nil {
		return nil, fmt.Errorf("sqlstore: list tenants: %w", err)
	}
	return out, nil
}
