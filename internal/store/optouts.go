package store

import (
	"context"
	"time"

	"whatsapp-campaigns/internal/models"
)

func (s *Store) GetOptOut(ctx context.Context, businessID uint, phone string) (*models.OptOut, error) {
	return firstOrNil[models.OptOut](s.conn(ctx).Where("business_id = ? AND phone = ?", businessID, phone))
}

// IsOptedOut reports whether phone is currently suppressed for the business.
func (s *Store) IsOptedOut(ctx context.Context, businessID uint, phone string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.OptOut{}).
		Where("business_id = ? AND phone = ? AND opted_back_in = ?", businessID, phone, false).
		Count(&n).Error
	return n > 0, err
}

// InsertOptOut creates the ledger row if none exists for (phone, business).
func (s *Store) InsertOptOut(ctx context.Context, optOut *models.OptOut) (bool, error) {
	return insertIgnore(ctx, s.db, optOut)
}

// ReactivateOptOut flips an opted-back-in row to opted-out again.
func (s *Store) ReactivateOptOut(ctx context.Context, businessID uint, phone, method, keyword string, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.OptOut{}).
		Where("business_id = ? AND phone = ? AND opted_back_in = ?", businessID, phone, true).
		Updates(map[string]any{
			"opted_back_in":    false,
			"opted_back_in_at": nil,
			"method":           method,
			"keyword":          keyword,
			"opted_out_at":     at.UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) OptBackIn(ctx context.Context, businessID uint, phone string, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.OptOut{}).
		Where("business_id = ? AND phone = ? AND opted_back_in = ?", businessID, phone, false).
		Updates(map[string]any{
			"opted_back_in":    true,
			"opted_back_in_at": at.UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ListOptOuts(ctx context.Context, businessID uint, activeOnly bool) ([]models.OptOut, error) {
	q := s.conn(ctx).Where("business_id = ?", businessID)
	if activeOnly {
		q = q.Where("opted_back_in = ?", false)
	}
	var out []models.OptOut
	err := q.Order("opted_out_at DESC").Find(&out).Error
	return out, err
}
