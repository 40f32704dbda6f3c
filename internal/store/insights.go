package store

import (
	"context"
	"time"

	"whatsapp-campaigns/internal/models"
)

func (s *Store) CreateInsight(ctx context.Context, insight *models.Insight) error {
	return s.conn(ctx).Create(insight).Error
}

// InsightExistsSince reports whether a same-titled insight was created at or after since.
func (s *Store) InsightExistsSince(ctx context.Context, businessID uint, title string, since time.Time) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Insight{}).
		Where("business_id = ? AND title = ? AND created_at >= ?", businessID, title, since.UTC()).
		Count(&n).Error
	return n > 0, err
}

type InsightFilter struct {
	Type       string
	UnreadOnly bool
	Limit      int
}

func (s *Store) ListInsights(ctx context.Context, businessID uint, f InsightFilter) ([]models.Insight, error) {
	q := s.conn(ctx).Where("business_id = ?", businessID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	var out []models.Insight
	err := q.Order("created_at DESC").Order("id DESC").Limit(f.Limit).Find(&out).Error
	return out, err
}

func (s *Store) UpdateInsight(ctx context.Context, businessID, id uint, fields map[string]any) error {
	res := s.conn(ctx).Model(&models.Insight{}).
		Where("id = ? AND business_id = ?", id, businessID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("insight", id)
	}
	return nil
}
