// Package testsupport opens throwaway databases and seeds fixtures for tests.
package testsupport

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"whatsapp-campaigns/internal/database"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// MustOpenStore opens a migrated in-memory store and registers cleanup.
func MustOpenStore(t testing.TB) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:campaigns_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db)
}

// NewAccount seeds an ACTIVE account for the business.
func NewAccount(t testing.TB, s *store.Store, businessID uint, phone string, hourlyCap int) *models.Account {
	t.Helper()

	account := &models.Account{
		BusinessID:         businessID,
		Name:               "main line",
		ProviderAccountSID: "AC123",
		AuthToken:          "secret",
		PhoneNumber:        phone,
		Status:             models.AccountActive,
		HourlyCap:          hourlyCap,
	}
	if err := s.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return account
}

// NewApprovedTemplate seeds an APPROVED template with its placeholders compiled.
func NewApprovedTemplate(t testing.TB, s *store.Store, businessID uint, content, placeholdersJSON string) *models.Template {
	t.Helper()

	now := time.Now().UTC()
	template := &models.Template{
		BusinessID:   businessID,
		Name:         "promo",
		Content:      content,
		Category:     "MARKETING",
		Language:     "es",
		Status:       models.TemplateApproved,
		Placeholders: placeholdersJSON,
		ApprovedAt:   &now,
	}
	if err := s.CreateTemplate(context.Background(), template); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	return template
}

// NewCustomer seeds a customer that accepts promotions.
func NewCustomer(t testing.TB, s *store.Store, businessID uint, name, phone string, points int) *models.Customer {
	t.Helper()

	customer := &models.Customer{
		BusinessID:        businessID,
		Name:              name,
		Phone:             phone,
		Points:            points,
		AcceptsPromotions: true,
	}
	if err := s.CreateCustomer(context.Background(), customer); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	return customer
}

// NewQueue seeds a queue row as-is, bypassing lifecycle validation.
func NewQueue(t testing.TB, s *store.Store, queue *models.Queue) *models.Queue {
	t.Helper()

	if queue.Status == "" {
		queue.Status = models.QueueDraft
	}
	if queue.AudienceFilter == "" {
		queue.AudienceFilter = `{"type":"all"}`
	}
	if err := s.CreateQueue(context.Background(), queue); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	return queue
}
