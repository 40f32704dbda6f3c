// Package accounts is the registry of sending identities a business owns.
package accounts

import (
	"context"
	"log/slog"
	"strings"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/phone"
	"whatsapp-campaigns/internal/store"
)

// DefaultHourlyCap is the per-account rolling-hour send limit.
const DefaultHourlyCap = 80

type CreateInput struct {
	Name               string `json:"name"`
	ProviderAccountSID string `json:"provider_account_sid"`
	AuthToken          string `json:"auth_token"`
	PhoneNumber        string `json:"phone_number"`
	HourlyCap          int    `json:"hourly_cap"`
}

type Registry struct {
	store      *store.Store
	phones     *phone.Canonicalizer
	log        *slog.Logger
	defaultCap int
}

func NewRegistry(s *store.Store, phones *phone.Canonicalizer, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: s, phones: phones, log: log, defaultCap: DefaultHourlyCap}
}

// WithDefaultCap sets the hourly cap given to accounts registered without one.
func (r *Registry) WithDefaultCap(n int) *Registry {
	if n > 0 {
		r.defaultCap = n
	}
	return r
}

func (r *Registry) Create(ctx context.Context, businessID uint, in CreateInput) (*models.Account, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.NewValidation("name", "is required")
	}
	if in.ProviderAccountSID == "" || in.AuthToken == "" {
		return nil, apperrors.NewValidation("provider_account_sid", "gateway credentials are required")
	}
	e164, err := r.phones.Canonical(in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if in.HourlyCap < 0 {
		return nil, apperrors.NewValidation("hourly_cap", "must not be negative")
	}
	if in.HourlyCap == 0 {
		in.HourlyCap = r.defaultCap
	}

	account := &models.Account{
		BusinessID:         businessID,
		Name:               strings.TrimSpace(in.Name),
		ProviderAccountSID: in.ProviderAccountSID,
		AuthToken:          in.AuthToken,
		PhoneNumber:        e164,
		Status:             models.AccountActive,
		HourlyCap:          in.HourlyCap,
	}
	if err := r.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	r.log.Info("account registered", "account_id", account.ID, "business_id", businessID, "phone", e164)
	return account, nil
}

// Get returns an account of the business; other businesses' accounts are not found.
func (r *Registry) Get(ctx context.Context, businessID, id uint) (*models.Account, error) {
	account, err := r.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.BusinessID != businessID {
		return nil, apperrors.NewNotFound("account", id)
	}
	return account, nil
}

func (r *Registry) List(ctx context.Context, businessID uint) ([]models.Account, error) {
	return r.store.ListAccounts(ctx, businessID)
}

// SetStatus activates or suspends an account. Queues on a suspended account
// fail their next run.
func (r *Registry) SetStatus(ctx context.Context, businessID, id uint, status string) (*models.Account, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != models.AccountActive && status != models.AccountSuspended {
		return nil, apperrors.NewValidation("status", "must be ACTIVE or SUSPENDED")
	}
	if _, err := r.Get(ctx, businessID, id); err != nil {
		return nil, err
	}
	if err := r.store.SetAccountStatus(ctx, id, status); err != nil {
		return nil, err
	}
	r.log.Info("account status changed", "account_id", id, "status", status)
	return r.store.GetAccount(ctx, id)
}
