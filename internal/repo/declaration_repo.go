// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for declarations.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - Missing rows yield ErrNotFound (gorm.ErrRecordNotFound).
//   - Violations of the (year, month, program_number) unique index yield
//     ErrDuplicate so callers can fall back to updating the existing row.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// DeclarationFilter narrows declaration listings. Zero values match all.
type DeclarationFilter struct {
	PaymentState *domain.PaymentState
	ChauffeurID  string
}

func (f DeclarationFilter) apply(q *gorm.DB) *gorm.DB {
	if f.PaymentState != nil {
		q = q.Where("payment_state = ?", string(*f.PaymentState))
	}
	if f.ChauffeurID != "" {
		q = q.Where("chauffeur_id = ?", f.ChauffeurID)
	}
	return q
}

// CreateDeclaration inserts d, assigning an ID and UTC timestamps when unset.
// Associations are not written; trace entries go through AppendTrace.
func CreateDeclaration(ctx context.Context, db *gorm.DB, d *domain.Declaration) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if err := db.WithContext(ctx).Omit("Traceability").Create(d).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetDeclaration fetches a declaration with its trail, oldest entry first.
func GetDeclaration(ctx context.Context, db *gorm.DB, id string) (*domain.Declaration, error) {
	var d domain.Declaration
	err := db.WithContext(ctx).
		Preload("Traceability", orderTrace).
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FindDeclarationByRef returns the declaration whose components equal the
// supplied strings. NA declarations store NULL components and can never be
// returned here.
func FindDeclarationByRef(ctx context.Context, db *gorm.DB, year, month, number string) (*domain.Declaration, error) {
	var d domain.Declaration
	err := db.WithContext(ctx).
		Preload("Traceability", orderTrace).
		Where("year = ? AND month = ? AND program_number = ?", year, month, number).
		Order("created_at asc").
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDeclaration applies a partial update. Only the named columns change;
// updated_at is refreshed. Returns ErrNotFound when no row matched.
func UpdateDeclaration(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Declaration{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountDeclarations returns the number of declarations matching f.
func CountDeclarations(ctx context.Context, db *gorm.DB, f DeclarationFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Declaration{})).Count(&total).Error
	return total, err
}

// ListDeclarationsPage returns a page of declarations, most recent first.
// Trails are not loaded.
func ListDeclarationsPage(ctx context.Context, db *gorm.DB, f DeclarationFilter, offset, limit int) ([]domain.Declaration, error) {
	var out []domain.Declaration
	err := f.apply(db.WithContext(ctx)).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func orderTrace(db *gorm.DB) *gorm.DB { return db.Order("id asc") }
