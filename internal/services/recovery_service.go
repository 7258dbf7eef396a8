// Package services – RecoveryService
//
// RecoveryService is the reconciliation engine of the recovery workflow. It
// decides whether a declaration already exists for a program reference,
// creates drafts, marks declarations as recovered ("recouvrement") or revokes
// that state, and links orphan receipts to the resolved declaration.
//
// Matching rules:
//   - A Known reference matches the declaration with equal year, month and
//     program number. The (year, month, program_number) unique index keeps
//     that declaration unique even under concurrent creation.
//   - The Unknown reference (DCP/NA/NA/NA) never matches by content. It only
//     resolves to the caller's current draft, and only if that draft is NA.
//
// The link scan is best effort: each receipt is linked by its own
// conditional update and failures are logged, counted and skipped.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/events"
	"github.com/tbourn/go-recovery-backend/internal/observability"
	"github.com/tbourn/go-recovery-backend/internal/repo"
	"github.com/tbourn/go-recovery-backend/internal/utils"
)

const recoveryTracer = "services/RecoveryService"

// Notifier delivers workflow notifications. Failures never abort the
// operation that triggered them.
//
//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks -source=recovery_service.go Notifier
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest) (*domain.Notification, bool, error)
}

// Planner notification texts; the program reference is prefixed by the
// notifier.
const (
	msgRecoverySent    = "Recouvrement enregistré"
	msgRecoveryRevoked = "Recouvrement révoqué"
)

// DraftRequest is the input of SaveDraft.
type DraftRequest struct {
	Ref         domain.ProgramRef
	ChauffeurID string
	Notes       string
}

// SendRequest is the input of Send.
type SendRequest struct {
	Ref         domain.ProgramRef
	DraftID     string // the caller's draftDeclarationId, if any
	ChauffeurID string
	Notes       string

	// RequireAllValidated refuses the send while any receipt that is (or
	// would be) linked to the declaration is still a draft.
	RequireAllValidated bool
}

// SendResult reports what Send did.
type SendResult struct {
	Declaration  *domain.Declaration `json:"declaration"`
	Created      bool                `json:"created"`
	Linked       int                 `json:"linked"`
	LinkFailures int                 `json:"link_failures"`
}

// LinkResult reports a link scan.
type LinkResult struct {
	Linked   int `json:"linked"`
	Failures int `json:"failures"`
}

// LookupResult is what a client needs to pre-fill the recovery form.
type LookupResult struct {
	Declaration *domain.Declaration `json:"declaration"`
	Chauffeur   *domain.Chauffeur   `json:"chauffeur"`
	// ChauffeurLocked is true once a declaration is associated: the driver
	// can no longer be changed.
	ChauffeurLocked bool `json:"chauffeur_locked"`
}

// RecoveryService coordinates declarations and the receipts linked to them.
type RecoveryService struct {
	DB       *gorm.DB
	Events   events.Publisher
	Notifier Notifier // optional

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	link func(ctx context.Context, db *gorm.DB, paymentID, declarationID string) (bool, error)
}

// NewRecoveryService wires a RecoveryService. notifier may be nil.
func NewRecoveryService(db *gorm.DB, pub events.Publisher, notifier Notifier) *RecoveryService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &RecoveryService{DB: db, Events: pub, Notifier: notifier, link: repo.LinkPayment}
}

// FindMatch returns the declaration ref resolves to, or nil when there is
// none. draftID is only consulted for the Unknown reference.
func (s *RecoveryService) FindMatch(ctx context.Context, ref domain.ProgramRef, draftID string) (d *domain.Declaration, err error) {
	ctx, span := observability.StartSpan(ctx, recoveryTracer, "FindMatch",
		attribute.String("program.reference", ref.String()),
		attribute.String("draft.id", draftID),
	)
	defer func() { observability.EndSpan(span, err) }()

	return s.findMatch(ctx, s.DB, ref, draftID)
}

func (s *RecoveryService) findMatch(ctx context.Context, db *gorm.DB, ref domain.ProgramRef, draftID string) (*domain.Declaration, error) {
	y, m, n, known := ref.Components()
	if !known {
		if draftID == "" {
			return nil, nil
		}
		d, err := repo.GetDeclaration(ctx, db, draftID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if d.Ref().Known() {
			return nil, nil
		}
		return d, nil
	}

	d, err := repo.FindDeclarationByRef(ctx, db, y, m, n)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// resolve applies FindMatch and falls back to the draft declaration. Only an
// NA draft is a fallback: a draft with its own known reference would already
// have matched if it were the same, so a different one is ignored rather than
// recovered under the wrong reference.
func (s *RecoveryService) resolve(ctx context.Context, ref domain.ProgramRef, draftID string) (*domain.Declaration, error) {
	d, err := s.findMatch(ctx, s.DB, ref, draftID)
	if err != nil || d != nil || draftID == "" {
		return d, err
	}
	d, err = repo.GetDeclaration(ctx, s.DB, draftID)
	if errors.Is(err, repo.ErrNotFound) {
		log.Debug().Str("draft_id", draftID).Msg("draft declaration no longer exists")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.Ref().Known() {
		log.Debug().Str("draft_id", draftID).Str("draft_reference", d.ProgramReference).
			Str("reference", ref.String()).Msg("ignoring draft with a different reference")
		return nil, nil
	}
	return d, nil
}

// Lookup resolves the declaration for a form and its driver.
func (s *RecoveryService) Lookup(ctx context.Context, ref domain.ProgramRef, draftID string) (res *LookupResult, err error) {
	ctx, span := observability.StartSpan(ctx, recoveryTracer, "Lookup",
		attribute.String("program.reference", ref.String()),
	)
	defer func() { observability.EndSpan(span, err) }()

	d, err := s.resolve(ctx, ref, draftID)
	if err != nil {
		return nil, err
	}
	res = &LookupResult{Declaration: d, ChauffeurLocked: d != nil}
	if d != nil && d.ChauffeurID != nil {
		ch, cerr := repo.GetChauffeur(ctx, s.DB, *d.ChauffeurID)
		switch {
		case cerr == nil:
			res.Chauffeur = ch
		case errors.Is(cerr, repo.ErrNotFound):
			log.Warn().Str("declaration_id", d.ID).Str("chauffeur_id", *d.ChauffeurID).Msg("declaration references a missing chauffeur")
		default:
			return nil, cerr
		}
	}
	return res, nil
}

// SaveDraft creates a brouillon declaration and links matching orphan
// receipts to it. The returned id is the caller's draft declaration id.
func (s *RecoveryService) SaveDraft(ctx context.Context, u domain.User, req DraftRequest) (d *domain.Declaration, err error) {
	ctx, span := observability.StartSpan(ctx, recoveryTracer, "SaveDraft",
		attribute.String("program.reference", req.Ref.String()),
		attribute.String("user.id", u.ID),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := req.Ref.Validate(); err != nil {
		return nil, err
	}
	if req.ChauffeurID == "" {
		return nil, ErrChauffeurRequired
	}
	ch, err := s.chauffeur(ctx, req.ChauffeurID)
	if err != nil {
		return nil, err
	}
	if req.Ref.Known() {
		existing, err := s.findMatch(ctx, s.DB, req.Ref, "")
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrDeclarationExists
		}
	}

	now := utcNow(s.Now)
	d = &domain.Declaration{
		Status:        "",
		Notes:         req.Notes,
		PaymentState:  domain.PaymentStateDraft,
		ChauffeurID:   &ch.ID,
		ChauffeurName: ch.DisplayName(),
		CreatedBy:     u.ID,
		CreatedAt:     now,
	}
	d.SetRef(req.Ref)

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateDeclaration(ctx, tx, d); err != nil {
			return err
		}
		return appendTrace(ctx, tx, domain.TraceDeclarations, d.ID, u, ActionDraftCreated, now)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrDeclarationExists
	}
	if err != nil {
		return nil, err
	}
	observability.DeclarationsCreated.WithLabelValues("draft").Inc()
	s.publish(ctx, events.Declarations, events.OpCreated, d.ID)

	if _, err := s.linkScan(ctx, u, req.Ref, d.ID); err != nil {
		log.Warn().Err(err).Str("declaration_id", d.ID).Msg("link scan after draft failed")
	}
	return repo.GetDeclaration(ctx, s.DB, d.ID)
}

// Send marks the resolved declaration as recovered, creating it when no
// declaration matches, then links orphan receipts to it.
func (s *RecoveryService) Send(ctx context.Context, u domain.User, req SendRequest) (res *SendResult, err error) {
	ctx, span := observability.StartSpan(ctx, recoveryTracer, "Send",
		attribute.String("program.reference", req.Ref.String()),
		attribute.String("draft.id", req.DraftID),
		attribute.String("user.id", u.ID),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := req.Ref.Validate(); err != nil {
		return nil, err
	}

	target, err := s.resolve(ctx, req.Ref, req.DraftID)
	if err != nil {
		return nil, err
	}

	var ch *domain.Chauffeur
	if req.ChauffeurID != "" {
		if target != nil && target.ChauffeurID != nil && *target.ChauffeurID != req.ChauffeurID {
			return nil, ErrChauffeurLocked
		}
		if ch, err = s.chauffeur(ctx, req.ChauffeurID); err != nil {
			return nil, err
		}
	}

	if req.RequireAllValidated {
		if err := s.checkAllValidated(ctx, req.Ref, target); err != nil {
			return nil, err
		}
	}

	now := utcNow(s.Now)
	res = &SendResult{}
	if target != nil {
		if err := s.markRecovered(ctx, u, target, ch, now); err != nil {
			return nil, err
		}
		res.Declaration = target
	} else {
		d := &domain.Declaration{
			Notes:              req.Notes,
			PaymentState:       domain.PaymentStateRecovered,
			PaymentRecoveredAt: &now,
			CreatedBy:          u.ID,
			CreatedAt:          now,
		}
		d.SetRef(req.Ref)
		if ch != nil {
			d.ChauffeurID = &ch.ID
			d.ChauffeurName = ch.DisplayName()
		}
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := repo.CreateDeclaration(ctx, tx, d); err != nil {
				return err
			}
			return appendTrace(ctx, tx, domain.TraceDeclarations, d.ID, u, ActionRecoveryCreated, now)
		})
		switch {
		case err == nil:
			res.Created = true
			res.Declaration = d
			observability.DeclarationsCreated.WithLabelValues("send").Inc()
			s.publish(ctx, events.Declarations, events.OpCreated, d.ID)
		case errors.Is(err, repo.ErrDuplicate):
			// Another writer created the declaration between lookup and
			// insert: recover the winner instead.
			winner, ferr := s.findMatch(ctx, s.DB, req.Ref, "")
			if ferr != nil {
				return nil, ferr
			}
			if winner == nil {
				return nil, err
			}
			if winner.ChauffeurID != nil && ch != nil && *winner.ChauffeurID != ch.ID {
				return nil, ErrChauffeurLocked
			}
			if err := s.markRecovered(ctx, u, winner, ch, now); err != nil {
				return nil, err
			}
			observability.DeclarationsCreated.WithLabelValues("send_race").Inc()
			res.Declaration = winner
		default:
			return nil, err
		}
	}
	observability.RecoveryTransitions.WithLabelValues("recovered").Inc()

	lr, err := s.linkScan(ctx, u, req.Ref, res.Declaration.ID)
	if err != nil {
		log.Warn().Err(err).Str("declaration_id", res.Declaration.ID).Msg("link scan after send failed")
	}
	res.Linked, res.LinkFailures = lr.Linked, lr.Failures

	s.notifyPlanners(ctx, res.Declaration.ID, msgRecoverySent)

	d, err := repo.GetDeclaration(ctx, s.DB, res.Declaration.ID)
	if err != nil {
		return nil, err
	}
	res.Declaration = d
	return res, nil
}

// markRecovered switches d to recouvre and fills an empty driver with ch.
func (s *RecoveryService) markRecovered(ctx context.Context, u domain.User, d *domain.Declaration, ch *domain.Chauffeur, now time.Time) error {
	fields := map[string]any{
		"payment_state":        string(domain.PaymentStateRecovered),
		"payment_recovered_at": now,
	}
	assign := ch != nil && d.ChauffeurID == nil
	if assign {
		fields["chauffeur_id"] = ch.ID
		fields["chauffeur_name"] = ch.DisplayName()
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateDeclaration(ctx, tx, d.ID, fields); err != nil {
			return err
		}
		if assign {
			if err := appendTrace(ctx, tx, domain.TraceDeclarations, d.ID, u, ActionChauffeurAssigned, now); err != nil {
				return err
			}
		}
		return appendTrace(ctx, tx, domain.TraceDeclarations, d.ID, u, ActionRecoveryCreated, now)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ErrDeclarationNotFound
	}
	if err != nil {
		return err
	}
	s.publish(ctx, events.Declarations, events.OpUpdated, d.ID)
	return nil
}

// checkAllValidated fails with ErrPendingReceipts when a receipt linked to
// target, or about to be linked by ref, is not validated.
func (s *RecoveryService) checkAllValidated(ctx context.Context, ref domain.ProgramRef, target *domain.Declaration) error {
	pending, err := repo.ListLinkCandidates(ctx, s.DB, ref)
	if err != nil {
		return err
	}
	if target != nil {
		linked, err := repo.ListPayments(ctx, s.DB, repo.PaymentFilter{DeclarationID: target.ID})
		if err != nil {
			return err
		}
		pending = append(pending, linked...)
	}
	for _, p := range pending {
		if !p.Status.IsValidated() {
			return ErrPendingReceipts
		}
	}
	return nil
}

// Revoke cancels a recovery. Linked receipts keep their declaration.
func (s *RecoveryService) Revoke(ctx context.Context, u domain.User, declarationID string) (d *domain.Declaration, err error) {
	ctx, span := observability.StartSpan(ctx, recoveryTracer, "Revoke",
		attribute.String("declaration.id", declarationID),
		attribute.String("user.id", u.ID),
	)
	defer func() { observability.EndSpan(span, err) }()

	d, err = s.declaration(ctx, declarationID)
	if err != nil {
		return nil, err
	}
	if !d.PaymentState.IsRecovered() {
		return nil, ErrNotRecovered
	}

	now := utcNow(s.Now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateDeclaration(ctx, tx, d.ID, map[string]any{
			"payment_state":        string(domain.PaymentStateUnset),
			"payment_recovered_at": nil,
		}); err != nil {
			return err
		}
		return appendTrace(ctx, tx, domain.TraceDeclarations, d.ID, u, ActionRecoveryRevoked, now)
	})
	if err != nil {
		return nil, err
	}
	observability.RecoveryTransitions.WithLabelValues("revoked").Inc()
	s.publish(ctx, events.Declarations, events.OpUpdated, d.ID)
	s.notifyPlanners(ctx, d.ID, msgRecoveryRevoked)

	return repo.GetDeclaration(ctx, s.DB, d.ID)
}

// LinkPayments runs the link scan for ref against an existing declaration.
// Running it again over unchanged receipts links nothing.
func (s *RecoveryService) LinkPayments(ctx context.Context, u domain.User, ref domain.ProgramRef, declarationID string) (res LinkResult, err error) {
	ctx, span := observability.StartSpan(ctx, recoveryTracer, "LinkPayments",
		attribute.String("program.reference", ref.String()),
		attribute.String("declaration.id", declarationID),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := ref.Validate(); err != nil {
		return LinkResult{}, err
	}
	if _, err := s.declaration(ctx, declarationID); err != nil {
		return LinkResult{}, err
	}
	return s.linkScan(ctx, u, ref, declarationID)
}

// linkScan links every unlinked receipt carrying ref to declarationID. Only
// the candidate query can fail the scan; per-receipt failures are skipped.
func (s *RecoveryService) linkScan(ctx context.Context, u domain.User, ref domain.ProgramRef, declarationID string) (LinkResult, error) {
	var res LinkResult
	candidates, err := repo.ListLinkCandidates(ctx, s.DB, ref)
	if err != nil {
		return res, err
	}
	link := s.link
	if link == nil {
		link = repo.LinkPayment
	}
	for _, p := range candidates {
		ok, err := link(ctx, s.DB, p.ID, declarationID)
		if err != nil {
			res.Failures++
			observability.LinkFailures.Inc()
			log.Warn().Err(err).
				Str("payment_id", p.ID).
				Str("declaration_id", declarationID).
				Msg("link payment failed; skipping")
			continue
		}
		if !ok {
			continue
		}
		res.Linked++
		observability.PaymentsLinked.Inc()
		if err := appendTrace(ctx, s.DB, domain.TracePayments, p.ID, u, ActionPaymentLinked, utcNow(s.Now)); err != nil {
			log.Warn().Err(err).Str("payment_id", p.ID).Msg("trace append after link failed")
		}
		s.publish(ctx, events.Payments, events.OpUpdated, p.ID)
	}
	return res, nil
}

// GetDeclaration returns a declaration with its trail.
func (s *RecoveryService) GetDeclaration(ctx context.Context, id string) (*domain.Declaration, error) {
	ctx, span := observability.StartSpan(ctx, recoveryTracer, "GetDeclaration", attribute.String("declaration.id", id))
	defer span.End()
	return s.declaration(ctx, id)
}

// ListDeclarationsPage returns a page of declarations and the total count.
func (s *RecoveryService) ListDeclarationsPage(ctx context.Context, f repo.DeclarationFilter, page, pageSize int) ([]domain.Declaration, int64, error) {
	ctx, span := observability.StartSpan(ctx, recoveryTracer, "ListDeclarationsPage",
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountDeclarations(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Declaration{}, 0, nil
	}
	items, err := repo.ListDeclarationsPage(ctx, s.DB, f, utils.PageOffset(page, pageSize), pageSize)
	return items, total, err
}

// DeclarationPayments lists the receipts linked to a declaration.
func (s *RecoveryService) DeclarationPayments(ctx context.Context, id string) ([]domain.Payment, error) {
	ctx, span := observability.StartSpan(ctx, recoveryTracer, "DeclarationPayments", attribute.String("declaration.id", id))
	defer span.End()

	if _, err := s.declaration(ctx, id); err != nil {
		return nil, err
	}
	return repo.ListPayments(ctx, s.DB, repo.PaymentFilter{DeclarationID: id})
}

func (s *RecoveryService) declaration(ctx context.Context, id string) (*domain.Declaration, error) {
	d, err := repo.GetDeclaration(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDeclarationNotFound
	}
	return d, err
}

func (s *RecoveryService) chauffeur(ctx context.Context, id string) (*domain.Chauffeur, error) {
	ch, err := repo.GetChauffeur(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChauffeurNotFound
	}
	return ch, err
}

func (s *RecoveryService) notifyPlanners(ctx context.Context, declarationID, msg string) {
	if s.Notifier == nil {
		return
	}
	if _, _, err := s.Notifier.Notify(ctx, NotificationRequest{
		DeclarationID: declarationID,
		RecipientRole: domain.RolePlanificateur,
		Message:       msg,
	}); err != nil {
		log.Warn().Err(err).Str("declaration_id", declarationID).Msg("planner notification failed")
	}
}

func (s *RecoveryService) publish(ctx context.Context, collection, op, id string) {
	if s.Events != nil {
		s.Events.Publish(ctx, events.Event{Collection: collection, Op: op, ID: id})
	}
}
