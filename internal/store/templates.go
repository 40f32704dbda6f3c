package store

import (
	"context"

	"whatsapp-campaigns/internal/models"
)

func (s *Store) CreateTemplate(ctx context.Context, template *models.Template) error {
	return s.conn(ctx).Create(template).Error
}

func (s *Store) GetTemplate(ctx context.Context, id uint) (*models.Template, error) {
	return first[models.Template](ctx, s.db, "template", id, "id = ?", id)
}

func (s *Store) ListTemplates(ctx context.Context, businessID uint, status string) ([]models.Template, error) {
	var templates []models.Template
	q := s.conn(ctx).Where("business_id = ?", businessID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("id").Find(&templates).Error
	return templates, err
}

func (s *Store) UpdateTemplate(ctx context.Context, id uint, fields map[string]any) error {
	res := s.conn(ctx).Model(&models.Template{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("template", id)
	}
	return nil
}
