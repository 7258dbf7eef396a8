package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
)

// CreateNotificationIfAbsent inserts n unless an identical message for the
// same recipient and declaration already exists. It reports whether a row
// was written.
func CreateNotificationIfAbsent(ctx context.Context, db *gorm.DB, n *domain.Notification) (bool, error) {
	q := db.WithContext(ctx).Model(&domain.Notification{}).
		Where("declaration_id = ? AND message = ?", n.DeclarationID, n.Message)
	switch {
	case n.ChauffeurID != nil:
		q = q.Where("chauffeur_id = ?", *n.ChauffeurID)
	case n.RecipientRole != "":
		q = q.Where("recipient_role = ?", n.RecipientRole)
	}
	var existing int64
	if err := q.Count(&existing).Error; err != nil {
		return false, err
	}
	if existing > 0 {
		return false, nil
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(n).Error; err != nil {
		return false, err
	}
	return true, nil
}

// ListNotificationsForRole returns role-targeted notifications, newest first.
func ListNotificationsForRole(ctx context.Context, db *gorm.DB, role string) ([]domain.Notification, error) {
	var out []domain.Notification
	err := db.WithContext(ctx).
		Where("recipient_role = ?", role).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListNotificationsForChauffeur returns notifications addressed to one driver.
func ListNotificationsForChauffeur(ctx context.Context, db *gorm.DB, chauffeurID string) ([]domain.Notification, error) {
	var out []domain.Notification
	err := db.WithContext(ctx).
		Where("chauffeur_id = ?", chauffeurID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// MarkNotificationRead flags a notification as read.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ?", id).
		Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
