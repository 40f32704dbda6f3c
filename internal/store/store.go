// Package store is the gorm-backed repository for campaign state. Every
// state change that can race (counters, status moves, leases) is a single
// conditional UPDATE so concurrent workers and webhook handlers stay consistent.
package store

import (
	"context"
	"errors"
	"time"

	"whatsapp-campaigns/internal/apperrors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the handle for migrations and admin tooling.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, now: s.now})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func first[T any](ctx context.Context, db *gorm.DB, entity string, id any, query any, args ...any) (*T, error) {
	var out T
	err := db.WithContext(ctx).Where(query, args...).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound(entity, id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// firstOrNil is for lookups where absence is a normal outcome.
func firstOrNil[T any](db *gorm.DB) (*T, error) {
	var out T
	err := db.Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func insertIgnore(ctx context.Context, db *gorm.DB, value any) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(value)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func increments(counts map[string]int) map[string]any {
	fields := make(map[string]any, len(counts))
	for col, n := range counts {
		if n == 0 {
			continue
		}
		fields[col] = gorm.Expr(col+" + ?", n)
	}
	return fields
}

func notFound(entity string, id any) error {
	return apperrors.NewNotFound(entity, id)
}
