package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
)

// AppendTrace inserts one trail entry for (entityType, entityID). Each call
// is a single INSERT, so concurrent appends to the same entity never
// overwrite one another.
func AppendTrace(ctx context.Context, db *gorm.DB, entityType, entityID string, e domain.TraceEntry) (*domain.TraceEntry, error) {
	e.ID = 0
	e.EntityType = entityType
	e.EntityID = entityID
	if e.Date.IsZero() {
		e.Date = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// ListTrace returns the trail of an entity in insertion order.
func ListTrace(ctx context.Context, db *gorm.DB, entityType, entityID string) ([]domain.TraceEntry, error) {
	var out []domain.TraceEntry
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id asc").
		Find(&out).Error
	return out, err
}
