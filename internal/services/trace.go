package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/repo"
)

// Trail actions.
const (
	ActionDraftCreated      = "draft created"
	ActionRecoveryCreated   = "recouvrement created"
	ActionRecoveryRevoked   = "recouvrement revoked"
	ActionReceiptCreated    = "receipt created"
	ActionReceiptValidated  = "receipt validated"
	ActionReceiptReverted   = "receipt reverted"
	ActionChauffeurAssigned = "chauffeur assigned"
	ActionPaymentLinked     = "payment linked"
)

// appendTrace records that u performed action on an entity at now.
func appendTrace(ctx context.Context, db *gorm.DB, entityType, entityID string, u domain.User, action string, now time.Time) error {
	_, err := repo.AppendTrace(ctx, db, entityType, entityID, domain.TraceEntry{
		UserID:   u.ID,
		UserName: u.FullName,
		Action:   action,
		Date:     now,
	})
	return err
}

func utcNow(now func() time.Time) time.Time {
	if now != nil {
		return now().UTC()
	}
	return time.Now().UTC()
}
