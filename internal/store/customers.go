package store

import (
	"context"
	"time"

	"whatsapp-campaigns/internal/models"
)

// CustomerQuery narrows the customer base of one business.
type CustomerQuery struct {
	BusinessID        uint
	MinPoints         *int
	VisitedSince      *time.Time
	AcceptsPromotions *bool
	IDs               []uint
	Phones            []string
}

func (s *Store) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	return s.conn(ctx).Create(customer).Error
}

func (s *Store) FindCustomers(ctx context.Context, q CustomerQuery) ([]models.Customer, error) {
	db := s.conn(ctx).Where("business_id = ?", q.BusinessID)
	if q.MinPoints != nil {
		db = db.Where("points >= ?", *q.MinPoints)
	}
	if q.VisitedSince != nil {
		db = db.Where("last_visit_at >= ?", q.VisitedSince.UTC())
	}
	if q.AcceptsPromotions != nil {
		db = db.Where("accepts_promotions = ?", *q.AcceptsPromotions)
	}
	if len(q.IDs) > 0 {
		db = db.Where("id IN ?", q.IDs)
	}
	if len(q.Phones) > 0 {
		db = db.Where("phone IN ?", q.Phones)
	}
	var customers []models.Customer
	err := db.Order("id").Find(&customers).Error
	return customers, err
}

// CustomerBusinesses returns the businesses a phone is a customer of.
func (s *Store) CustomerBusinesses(ctx context.Context, phone string) ([]uint, error) {
	var ids []uint
	err := s.conn(ctx).Model(&models.Customer{}).
		Where("phone = ?", phone).
		Distinct().Order("business_id").
		Pluck("business_id", &ids).Error
	return ids, err
}
