// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for payment
// receipts, including the conditional link used by the reconciliation scan.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
)

// PaymentFilter narrows payment listings. Zero values match all.
type PaymentFilter struct {
	DeclarationID string
	CompanyID     string
	CreatedBy     string
	Status        domain.PaymentStatus
	UnlinkedOnly  bool
}

func (f PaymentFilter) apply(q *gorm.DB) *gorm.DB {
	if f.DeclarationID != "" {
		q = q.Where("declaration_id = ?", f.DeclarationID)
	}
	if f.CompanyID != "" {
		q = q.Where("company_id = ?", f.CompanyID)
	}
	if f.CreatedBy != "" {
		q = q.Where("created_by = ?", f.CreatedBy)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.UnlinkedOnly {
		q = q.Where("declaration_id IS NULL")
	}
	return q
}

// CreatePayment inserts p, assigning an ID and UTC timestamps when unset.
func CreatePayment(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return db.WithContext(ctx).Omit("Traceability").Create(p).Error
}

// GetPayment fetches a payment with its trail, oldest entry first.
func GetPayment(ctx context.Context, db *gorm.DB, id string) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).
		Preload("Traceability", orderTrace).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePayment applies a partial update. Returns ErrNotFound when no row
// matched.
func UpdatePayment(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
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

// DeletePayment hard-deletes a payment and its trail.
func DeletePayment(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&domain.Payment{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("entity_type = ? AND entity_id = ?", domain.TracePayments, id).
			Delete(&domain.TraceEntry{}).Error
	})
}

// ListPayments returns payments matching f, most recent first. Trails are
// not loaded.
func ListPayments(ctx context.Context, db *gorm.DB, f PaymentFilter) ([]domain.Payment, error) {
	var out []domain.Payment
	err := f.apply(db.WithContext(ctx)).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListLinkCandidates returns unlinked payments carrying ref. For the unknown
// reference that means payments explicitly marked NA; receipts with no
// reference entered are never candidates.
func ListLinkCandidates(ctx context.Context, db *gorm.DB, ref domain.ProgramRef) ([]domain.Payment, error) {
	q := db.WithContext(ctx).Where("declaration_id IS NULL")
	if y, m, n, ok := ref.Components(); ok {
		q = q.Where("year = ? AND month = ? AND program_number = ?", y, m, n)
	} else {
		q = q.Where("program_reference = ?", domain.NAReference)
	}
	var out []domain.Payment
	err := q.Order("created_at asc").Find(&out).Error
	return out, err
}

// LinkPayment sets declaration_id on an unlinked payment. It reports false
// when the payment was already linked (or deleted) so re-running a scan
// never rewrites an existing link.
func LinkPayment(ctx context.Context, db *gorm.DB, paymentID, declarationID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND declaration_id IS NULL", paymentID).
		Updates(map[string]any{
			"declaration_id": declarationID,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
