// Package services – NotificationService
//
// NotificationService stores messages for a role (e.g. planners) or a single
// driver about a declaration. Messages are enriched with the declaration's
// program reference and de-duplicated per recipient, declaration and text.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/events"
	"github.com/tbourn/go-recovery-backend/internal/observability"
	"github.com/tbourn/go-recovery-backend/internal/repo"
)

// NotificationRequest describes one notification. RecipientRole wins over
// ChauffeurID when both are set.
type NotificationRequest struct {
	DeclarationID string
	RecipientRole string
	ChauffeurID   string
	Message       string
}

// NotificationService persists notifications.
type NotificationService struct {
	DB     *gorm.DB
	Events events.Publisher
}

var (
	motifRE   = regexp.MustCompile(`(?i)\bmotif[:\-\s]*.*$`)
	refusalRE = regexp.MustCompile(`(?i)^.*?\brefus\p{L}*`)
)

// Notify stores req unless the same recipient already has an identical
// message for the declaration. created is false for duplicates.
func (s *NotificationService) Notify(ctx context.Context, req NotificationRequest) (n *domain.Notification, created bool, err error) {
	ctx, span := observability.StartSpan(ctx, "services/NotificationService", "Notify",
		attribute.String("declaration.id", req.DeclarationID),
		attribute.String("recipient.role", req.RecipientRole),
	)
	defer func() { observability.EndSpan(span, err) }()

	if strings.TrimSpace(req.DeclarationID) == "" {
		return nil, false, ErrDeclarationRequired
	}

	n = &domain.Notification{
		DeclarationID: req.DeclarationID,
		RecipientRole: strings.TrimSpace(req.RecipientRole),
		Message:       strings.TrimSpace(req.Message),
	}
	// Role-targeted messages must never reach a single driver's inbox.
	if n.RecipientRole == "" && strings.TrimSpace(req.ChauffeurID) != "" {
		id := strings.TrimSpace(req.ChauffeurID)
		n.ChauffeurID = &id
		n.Message = sanitizeForChauffeur(n.Message)
	}

	d, gerr := repo.GetDeclaration(ctx, s.DB, req.DeclarationID)
	switch {
	case gerr == nil:
		n.ProgramReference = d.ProgramReference
		if n.Message == "" {
			n.Message = d.ProgramReference
		} else if !strings.Contains(n.Message, "DCP/") {
			n.Message = d.ProgramReference + " " + n.Message
		}
	case errors.Is(gerr, repo.ErrNotFound):
	default:
		log.Warn().Err(gerr).Str("declaration_id", req.DeclarationID).Msg("notification enrichment skipped")
	}

	created, err = repo.CreateNotificationIfAbsent(ctx, s.DB, n)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.publish(ctx, events.OpCreated, n.ID)
	}
	return n, created, nil
}

// ListForUser returns a driver's own notifications, or those addressed to
// the caller's role.
func (s *NotificationService) ListForUser(ctx context.Context, u domain.User) ([]domain.Notification, error) {
	ctx, span := otel.Tracer("services/NotificationService").Start(ctx, "ListForUser")
	defer span.End()

	if u.Role == domain.RoleChauffeur {
		return repo.ListNotificationsForChauffeur(ctx, s.DB, u.ID)
	}
	return repo.ListNotificationsForRole(ctx, s.DB, u.Role)
}

// MarkRead flags a notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("services/NotificationService").Start(ctx, "MarkRead")
	defer span.End()

	if err := repo.MarkNotificationRead(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	s.publish(ctx, events.OpUpdated, id)
	return nil
}

func (s *NotificationService) publish(ctx context.Context, op, id string) {
	if s.Events != nil {
		s.Events.Publish(ctx, events.Event{Collection: events.Notifications, Op: op, ID: id})
	}
}

// sanitizeForChauffeur drops internal refusal reasons ("Motif: ...") and
// shortens refusal messages to their first clause.
func sanitizeForChauffeur(msg string) string {
	msg = strings.TrimSpace(motifRE.ReplaceAllString(msg, ""))
	if m := refusalRE.FindString(msg); m != "" {
		msg = strings.TrimRight(m, " ") + "."
	}
	return msg
}
