package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/jmoiron/sqlx"
)

type mfaTokenRow struct {
	ID         string `db:"id"`
	UserID     string `db:"user_id"`
	Type       string `db:"token_type"`
	DeviceName string `db:"device_name"`
	Secret     string `db:"secret"`
	Active     bool   `db:"is_active"`
	CreatedAt  int64  `db:"created_at"`
	LastUsedAt int64  `db:"last_used_at"`
	UsageCount int64  `db:"usage_count"`
}

func (r mfaTokenRow) token() goAccess.MfaToken {
	return goAccess.MfaToken{
		ID:         r.ID,
		UserID:     r.UserID,
		Type:       r.Type,
		DeviceName: r.DeviceName,
		Secret:     r.Secret,
		Active:     r.Active,
		CreatedAt:  fromUnixNano(r.CreatedAt),
		LastUsedAt: fromUnixNano(r.LastUsedAt),
		UsageCount: r.UsageCount,
	}
}

const tokenColumns = `id, user_id, token_type, device_name, secret, is_active, created_at, last_used_at, usage_count`

// MfaToken loads a token by id.
func (s *Store) MfaToken(ctx context.Context, id string) (*goAccess.MfaToken, error) {
	var row mfaTokenRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+tokenColumns+` FROM mfa_tokens WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goAccess.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: load mfa token: %w", err)
	}
	t := row.token()
	return &t, nil
}

// MfaTokens lists every token of a user, oldest first.
func (s *Store) MfaTokens(ctx context.Context, userID string) ([]goAccess.MfaToken, error) {
	return s.listTokens(ctx, `SELECT `+tokenColumns+` FROM mfa_tokens
		WHERE user_id = ? ORDER BY created_at, rowid`, userID)
}

// ActiveMfaTokens lists the active tokens of a user, oldest first.
func (s *Store) ActiveMfaTokens(ctx context.Context, userID string) ([]goAccess.MfaToken, error) {
	return s.listTokens(ctx, `SELECT `+tokenColumns+` FROM mfa_tokens
		WHERE user_id = ? AND is_active = 1 ORDER BY created_at, rowid`, userID)
}

func (s *Store) listTokens(ctx context.Context, query, userID string) ([]goAccess.MfaToken, error) {
	var rows []mfaTokenRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("sqlstore: list mfa tokens: %w", err)
	}
	out := make([]goAccess.MfaToken, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.token())
	}
	return out, nil
}

// CreateMfaToken stores a token together with its backup code hashes.
func (s *Store) CreateMfaToken(ctx context.Context, token goAccess.MfaToken, codeHashes [][]byte) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = s.now()
	}
	row := mfaTokenRow{
		ID:         token.ID,
		UserID:     token.UserID,
		Type:       token.Type,
		DeviceName: token.DeviceName,
		Secret:     token.Secret,
		Active:     token.Active,
		CreatedAt:  unixNano(token.CreatedAt),
		LastUsedAt: unixNano(token.LastUsedAt),
		UsageCount: token.UsageCount,
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO mfa_tokens (`+tokenColumns+`)
			VALUES (:id, :user_id, :token_type, :device_name, :secret, :is_active, :created_at, :last_used_at, :usage_count)`, row)
		if err != nil {
			return fmt.Errorf("sqlstore: insert mfa token: %w", err)
		}
		return insertCodes(ctx, tx, token.ID, token.UserID, codeHashes)
	})
}

func insertCodes(ctx context.Context, tx *sqlx.Tx, tokenID, userID string, hashes [][]byte) error {
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (token_id, user_id, code_hash) VALUES (?, ?, ?)`,
			tokenID, userID, h); err != nil {
			return fmt.Errorf("sqlstore: insert backup code: %w", err)
		}
	}
	return nil
}

// SetMfaTokenActive activates or disables a token.
func (s *Store) SetMfaTokenActive(ctx context.Context, id string, active bool) error {
	return s.updateToken(ctx, `UPDATE mfa_tokens SET is_active = ? WHERE id = ?`, active, id)
}

// RecordMfaTokenUse stamps a successful verification.
func (s *Store) RecordMfaTokenUse(ctx context.Context, id string, at time.Time) error {
	return s.updateToken(ctx,
		`UPDATE mfa_tokens SET last_used_at = ?, usage_count = usage_count + 1 WHERE id = ?`,
		unixNano(at), id)
}

func (s *Store) updateToken(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: update mfa token: %w", err)
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

// DeleteMfaToken removes a token and its backup codes.
func (s *Store) DeleteMfaToken(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE token_id = ?`, id); err != nil {
			return fmt.Errorf("sqlstore: delete backup codes: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM mfa_tokens WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlstore: delete mfa token: %w", err)
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

/*
====================================
BACKUP CODES
====================================
*/

// UnusedBackupCodes returns the unused codes attached to the user's active
// tokens.
func (s *Store) UnusedBackupCodes(ctx context.Context, userID string) ([]goAccess.BackupCode, error) {
	codes := []goAccess.BackupCode{}
	err := s.db.SelectContext(ctx, &codes, `
		SELECT b.id, b.token_id, b.user_id, b.code_hash
		FROM backup_codes b
		JOIN mfa_tokens t ON t.id = b.token_id
		WHERE b.user_id = ? AND b.used = 0 AND t.is_active = 1
		ORDER BY b.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list backup codes: %w", err)
	}
	return codes, nil
}

// ConsumeBackupCode marks a code used. Only the first caller for a given
// code gets true.
func (s *Store) ConsumeBackupCode(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE backup_codes SET used = 1, used_at = ? WHERE id = ? AND used = 0`,
		s.now().UnixNano(), id)
	if err != nil {
		return false, fmt.Errorf("sqlstore: consume backup code: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

// ReplaceBackupCodes discards every code of the token and stores the new
// hashes.
func (s *Store) ReplaceBackupCodes(ctx context.Context, tokenID string, codeHashes [][]byte) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var userID string
		if err := tx.GetContext(ctx, &userID, `SELECT user_id FROM mfa_tokens WHERE id = ?`, tokenID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return goAccess.ErrNotFound
			}
			return fmt.Errorf("sqlstore: load mfa token: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE token_id = ?`, tokenID); err != nil {
			return fmt.Errorf("sqlstore: delete backup codes: %w", err)
		}
		return insertCodes(ctx, tx, tokenID, userID, codeHashes)
	})
}

// CountUnusedBackupCodes counts the codes UnusedBackupCodes would return.
func (s *Store) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM backup_codes b
		JOIN mfa_tokens t ON t.id = b.token_id
		WHERE b.user_id = ? AND b.used = 0 AND t.is_active = 1`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: count backup codes: %w", err)
	}
	return n, nil
}
