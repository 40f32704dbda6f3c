package store

import (
	"context"
	"time"

	"whatsapp-campaigns/internal/models"
)

func (s *Store) CreateWebhook(ctx context.Context, webhook *models.Webhook) error {
	return s.conn(ctx).Create(webhook).Error
}

// MarkWebhookProcessed moves processed false to true exactly once.
func (s *Store) MarkWebhookProcessed(ctx context.Context, id uint, outcome string, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.Webhook{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": at.UTC(),
			"outcome":      outcome,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ListWebhooks(ctx context.Context, providerSID string) ([]models.Webhook, error) {
	var out []models.Webhook
	err := s.conn(ctx).Where("provider_sid = ?", providerSID).Order("id").Find(&out).Error
	return out, err
}

// InsertInbound records an inbound event. A false result means the event was
// already seen.
func (s *Store) InsertInbound(ctx context.Context, inbound *models.InboundMessage) (bool, error) {
	return insertIgnore(ctx, s.db, inbound)
}

func (s *Store) UpdateInbound(ctx context.Context, id uint, fields map[string]any) error {
	return s.conn(ctx).Model(&models.InboundMessage{}).Where("id = ?", id).Updates(fields).Error
}
