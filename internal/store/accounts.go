package store

import (
	"context"

	"whatsapp-campaigns/internal/models"
)

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	return s.conn(ctx).Create(account).Error
}

func (s *Store) GetAccount(ctx context.Context, id uint) (*models.Account, error) {
	return first[models.Account](ctx, s.db, "account", id, "id = ?", id)
}

func (s *Store) ListAccounts(ctx context.Context, businessID uint) ([]models.Account, error) {
	var accounts []models.Account
	err := s.conn(ctx).Where("business_id = ?", businessID).Order("id").Find(&accounts).Error
	return accounts, err
}

func (s *Store) SetAccountStatus(ctx context.Context, id uint, status string) error {
	res := s.conn(ctx).Model(&models.Account{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("account", id)
	}
	return nil
}

// FindAccountByPhone resolves the sending identity a callback was addressed to.
func (s *Store) FindAccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	return firstOrNil[models.Account](s.conn(ctx).Where("phone_number = ?", phone).Order("id"))
}

// BusinessIDs lists every business that owns at least one account.
func (s *Store) BusinessIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.conn(ctx).Model(&models.Account{}).Distinct().Order("business_id").Pluck("business_id", &ids).Error
	return ids, err
}
