package database

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"gorm.io/gorm"

	"whatsapp-campaigns/internal/models"
)

const copyBatchSize = 500

// TableName resolves the table gorm maps a model to.
func TableName(db *gorm.DB, model any) (string, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return "", err
	}
	return stmt.Schema.Table, nil
}

// CopyAll moves every campaign table from src into dst, keeping primary keys.
// dst must already be migrated. It returns the rows copied per table.
func CopyAll(ctx context.Context, src, dst *gorm.DB, log *slog.Logger) (map[string]int64, error) {
	copied := map[string]int64{}
	for _, model := range models.All() {
		table, err := TableName(src, model)
		if err != nil {
			return copied, err
		}

		batch := reflect.New(reflect.SliceOf(reflect.TypeOf(model).Elem())).Interface()
		var n int64
		res := src.WithContext(ctx).Unscoped().Model(model).FindInBatches(batch, copyBatchSize, func(tx *gorm.DB, _ int) error {
			if err := dst.WithContext(ctx).Create(batch).Error; err != nil {
				return err
			}
			n += tx.RowsAffected
			return nil
		})
		if res.Error != nil {
			return copied, fmt.Errorf("copy %s: %w", table, res.Error)
		}
		copied[table] = n
		if log != nil {
			log.Info("table copied", "table", table, "rows", n)
		}
	}
	return copied, nil
}

// SyncSequences advances postgres id sequences past rows inserted with
// explicit keys. Other drivers have nothing to sync.
func SyncSequences(ctx context.Context, db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	for _, model := range models.All() {
		table, err := TableName(db, model)
		if err != nil {
			return err
		}
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.WithContext(ctx).Exec(query).Error; err != nil {
			return fmt.Errorf("sync sequence %s: %w", table, err)
		}
	}
	return nil
}
