// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (weak ETags) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
)

// DeclarationsStats returns the number of declarations matching f and the
// greatest updated_at among them (nil when there are none).
func DeclarationsStats(ctx context.Context, db *gorm.DB, f DeclarationFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	scope := func() *gorm.DB { return f.apply(db.WithContext(ctx).Model(&domain.Declaration{})) }
	return latest(scope)
}

// PaymentsStats returns the number of payments matching f and the greatest
// updated_at among them (nil when there are none).
func PaymentsStats(ctx context.Context, db *gorm.DB, f PaymentFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	scope := func() *gorm.DB { return f.apply(db.WithContext(ctx).Model(&domain.Payment{})) }
	return latest(scope)
}

// latest runs a count and a top-1 query on fresh statements built by scope.
func latest(scope func() *gorm.DB) (int64, *time.Time, error) {
	var count int64
	if err := scope().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err := scope().Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
