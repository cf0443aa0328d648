package database

import (
	"context"
	"fmt"

	"github.com/flowpbx/dialmobile/internal/database/models"
)

// pushTokenRepo implements PushTokenRepository.
type pushTokenRepo struct {
	db *DB
}

// NewPushTokenRepository creates a new PushTokenRepository.
func NewPushTokenRepository(db *DB) PushTokenRepository {
	return &pushTokenRepo{db: db}
}

// Upsert inserts or updates the push token for a user's device.
func (r *pushTokenRepo) Upsert(ctx context.Context, token *models.PushToken) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO push_tokens (user_uuid, tenant_uuid, token, platform, device_id, app_version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(user_uuid, device_id) DO UPDATE SET
		   tenant_uuid = excluded.tenant_uuid,
		   token = excluded.token,
		   platform = excluded.platform,
		   app_version = excluded.app_version,
		   updated_at = datetime('now')
		 RETURNING id`,
		token.UserUUID, token.TenantUUID, token.Token, token.Platform, token.DeviceID, token.AppVersion,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("upserting push token: %w", err)
	}
	return nil
}

// ListByUser returns every device token registered by a user, most recently
// refreshed first.
func (r *pushTokenRepo) ListByUser(ctx context.Context, userUUID string) ([]models.PushToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_uuid, tenant_uuid, token, platform, device_id, app_version, created_at, updated_at
		 FROM push_tokens WHERE user_uuid = ? ORDER BY updated_at DESC, id DESC`, userUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying push tokens by user: %w", err)
	}
	defer rows.Close()

	var tokens []models.PushToken
	for rows.Next() {
		var t models.PushToken
		if err := rows.Scan(&t.ID, &t.UserUUID, &t.TenantUUID, &t.Token, &t.Platform,
			&t.DeviceID, &t.AppVersion, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning push token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// DeleteByUserAndDevice removes a device's token. It reports whether a row
// was deleted.
func (r *pushTokenRepo) DeleteByUserAndDevice(ctx context.Context, userUUID, deviceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM push_tokens WHERE user_uuid = ? AND device_id = ?`, userUUID, deviceID)
	if err != nil {
		return false, fmt.Errorf("deleting push token by user and device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}

// DeleteByToken removes a token the push gateway reported as no longer valid.
func (r *pushTokenRepo) DeleteByToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("deleting push token by value: %w", err)
	}
	return nil
}

// Count returns the number of registered device tokens.
func (r *pushTokenRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM push_tokens`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting push tokens: %w", err)
	}
	return n, nil
}
