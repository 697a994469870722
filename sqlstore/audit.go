package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
)

type auditRow struct {
	ID          string `db:"id"`
	CreatedAt   int64  `db:"created_at"`
	UserName    string `db:"user_name"`
	UserID      string `db:"user_id"`
	TenantID    string `db:"tenant_id"`
	SessionID   string `db:"session_id"`
	Action      string `db:"action"`
	EntityType  string `db:"entity_type"`
	EntityID    string `db:"entity_id"`
	Description string `db:"description"`
	IP          string `db:"ip_address"`
	UserAgent   string `db:"user_agent"`
	Success     bool   `db:"success"`
	Error       string `db:"error_code"`
	Metadata    string `db:"metadata"`
	OldValues   string `db:"old_values"`
	NewValues   string `db:"new_values"`
}

const auditColumns = `id, created_at, user_name, user_id, tenant_id, session_id, action, entity_type,
	entity_id, description, ip_address, user_agent, success, error_code, metadata, old_values, new_values`

// AppendAudit persists one entry.
func (s *Store) AppendAudit(ctx context.Context, e goAccess.AuditEntry) error {
	row := auditRow{
		ID:          e.ID,
		CreatedAt:   unixNano(e.Timestamp),
		UserName:    e.UserName,
		UserID:      e.UserID,
		TenantID:    e.TenantID,
		SessionID:   e.SessionID,
		Action:      e.Action,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		Description: e.Description,
		IP:          e.IP,
		UserAgent:   e.UserAgent,
		Success:     e.Success,
		Error:       e.Error,
	}
	var err error
	if row.Metadata, err = encodeJSON(e.Metadata); err != nil {
		return err
	}
	if row.OldValues, err = encodeJSON(e.OldValues); err != nil {
		return err
	}
	if row.NewValues, err = encodeJSON(e.NewValues); err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES (:id, :created_at, :user_name, :user_id, :tenant_id, :session_id, :action, :entity_type,
			:entity_id, :description, :ip_address, :user_agent, :success, :error_code, :metadata, :old_values, :new_values)`, row)
	if err != nil {
		return fmt.Errorf("sqlstore: insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns matching entries, newest first.
func (s *Store) ListAudit(ctx context.Context, filter goAccess.AuditFilter) ([]goAccess.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if filter.UserName != "" {
		add("user_name = ?", filter.UserName)
	}
	if filter.Action != "" {
		add("action = ?", filter.Action)
	}
	if filter.EntityType != "" {
		add("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = ?", filter.EntityID)
	}
	if !filter.Since.IsZero() {
		add("created_at >= ?", filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		add("created_at < ?", filter.Until.UnixNano())
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlstore: list audit: %w", err)
	}
	out := make([]goAccess.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := goAccess.AuditEntry{
			ID:          r.ID,
			Timestamp:   fromUnixNano(r.CreatedAt),
			UserName:    r.UserName,
			UserID:      r.UserID,
			TenantID:    r.TenantID,
			SessionID:   r.SessionID,
			Action:      r.Action,
			EntityType:  r.EntityType,
			EntityID:    r.EntityID,
			Description: r.Description,
			IP:          r.IP,
			UserAgent:   r.UserAgent,
			Success:     r.Success,
			Error:       r.Error,
		}
		if err := decodeJSON(r.Metadata, &e.Metadata); err != nil {
			return nil, err
		}
		if err := decodeJSON(r.OldValues, &e.OldValues); err != nil {
			return nil, err
		}
		if err := decodeJSON(r.NewValues, &e.NewValues); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// PurgeAudit deletes entries older than before and returns how many went.
func (s *Store) PurgeAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlstore: purge audit: %w", err)
	}
	return affected(res)
}

func encodeJSON[T any](v map[string]T) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sqlstore: encode audit values: %w", err)
	}
	return string(b), nil
}

func decodeJSON[T any](raw string, dst *map[string]T) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("sqlstore: decode audit values: %w", err)
	}
	return nil
}
