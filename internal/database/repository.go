package database

import (
	"context"

	"github.com/flowpbx/dialmobile/internal/database/models"
)

// PushTokenRepository manages mobile device push tokens.
type PushTokenRepository interface {
	Upsert(ctx context.Context, token *models.PushToken) error
	ListByUser(ctx context.Context, userUUID string) ([]models.PushToken, error)
	DeleteByUserAndDevice(ctx context.Context, userUUID, deviceID string) (bool, error)
	DeleteByToken(ctx context.Context, token string) error
	Count(ctx context.Context) (int64, error)
}
