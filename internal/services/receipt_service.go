// Package services – ReceiptService
//
// ReceiptService owns the lifecycle of photographed payment receipts:
//
//	brouillon ──validate──▶ validee
//	    ▲                      │
//	    └────────undo──────────┘
//
// Photos go through a storage.Uploader. An upload failure never loses the
// receipt: it is stored with a locally renderable preview and
// upload_pending=true so that a later re-upload can replace it.
//
// Deletion is guarded by CanDeletePayment.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/events"
	"github.com/tbourn/go-recovery-backend/internal/observability"
	"github.com/tbourn/go-recovery-backend/internal/repo"
	"github.com/tbourn/go-recovery-backend/internal/storage"
)

const receiptTracer = "services/ReceiptService"

// AddReceiptRequest is the input of AddReceipt.
type AddReceiptRequest struct {
	Photo storage.Blob
	// Preview is the client's local rendering of the photo, used as the
	// photo URL when the upload fails. A data URL is built when empty.
	Preview string

	Ref           *domain.ProgramRef // nil when not entered yet
	DeclarationID string
	ChauffeurID   string
	Notes         string
}

// ReceiptService manages payment receipts.
type ReceiptService struct {
	DB       *gorm.DB
	Uploader storage.Uploader
	Events   events.Publisher

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewReceiptService wires a ReceiptService.
func NewReceiptService(db *gorm.DB, up storage.Uploader, pub events.Publisher) *ReceiptService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &ReceiptService{DB: db, Uploader: up, Events: pub}
}

// AddReceipt uploads the photo and stores a brouillon receipt.
func (s *ReceiptService) AddReceipt(ctx context.Context, u domain.User, req AddReceiptRequest) (p *domain.Payment, err error) {
	ctx, span := observability.StartSpan(ctx, receiptTracer, "AddReceipt",
		attribute.String("user.id", u.ID),
		attribute.String("declaration.id", req.DeclarationID),
	)
	defer func() { observability.EndSpan(span, err) }()

	if len(req.Photo.Data) == 0 {
		return nil, ErrPhotoRequired
	}
	if _, _, err := storage.SniffImage(req.Photo.Data); err != nil {
		return nil, ErrPhotoNotImage
	}
	if req.Ref != nil {
		if err := req.Ref.Validate(); err != nil {
			return nil, err
		}
	}

	p = &domain.Payment{
		Montant:       decimal.Zero,
		Notes:         strings.TrimSpace(req.Notes),
		Status:        domain.PaymentStatusDraft,
		CreatedBy:     u.ID,
		CreatedByName: u.FullName,
	}
	p.SetRef(req.Ref)

	if req.DeclarationID != "" {
		d, err := repo.GetDeclaration(ctx, s.DB, req.DeclarationID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDeclarationNotFound
		}
		if err != nil {
			return nil, err
		}
		p.DeclarationID = &d.ID
		if req.Ref == nil {
			r := d.Ref()
			p.SetRef(&r)
		}
	}
	if id := strings.TrimSpace(req.ChauffeurID); id != "" {
		p.ChauffeurID = &id
	}

	p.PhotoURL, p.UploadPending = s.upload(ctx, req)

	now := utcNow(s.Now)
	p.CreatedAt = now
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreatePayment(ctx, tx, p); err != nil {
			return err
		}
		return appendTrace(ctx, tx, domain.TracePayments, p.ID, u, ActionReceiptCreated, now)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.OpCreated, p.ID)
	return repo.GetPayment(ctx, s.DB, p.ID)
}

// upload returns the stored URL, or the local preview and pending=true.
func (s *ReceiptService) upload(ctx context.Context, req AddReceiptRequest) (url string, pending bool) {
	var err error
	if s.Uploader != nil {
		var urls []string
		urls, err = s.Uploader.Upload(ctx, []storage.Blob{req.Photo})
		if err == nil && len(urls) == 1 && urls[0] != "" {
			return urls[0], false
		}
		if err == nil {
			err = errors.New("uploader returned no url")
		}
	} else {
		err = errors.New("no uploader configured")
	}

	observability.UploadFallbacks.Inc()
	log.Warn().Err(err).Str("file", req.Photo.Name).Msg("receipt upload failed; storing local preview")
	if strings.TrimSpace(req.Preview) != "" {
		return req.Preview, true
	}
	return storage.DataURL(req.Photo), true
}

// Validate records the amount and company of a receipt and marks it validee.
// Nothing is written when a precondition fails.
func (s *ReceiptService) Validate(ctx context.Context, u domain.User, paymentID, companyID string, amount decimal.Decimal) (p *domain.Payment, err error) {
	ctx, span := observability.StartSpan(ctx, receiptTracer, "Validate",
		attribute.String("payment.id", paymentID),
		attribute.String("company.id", companyID),
	)
	defer func() { observability.EndSpan(span, err) }()

	// Amounts are kept to two decimals; check the value that is written.
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return nil, ErrCompanyRequired
	}
	if _, err := s.payment(ctx, paymentID); err != nil {
		return nil, err
	}
	company, err := repo.GetCompany(ctx, s.DB, companyID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, err
	}

	now := utcNow(s.Now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdatePayment(ctx, tx, paymentID, map[string]any{
			"montant":      amount,
			"company_id":   company.ID,
			"company_name": company.Name,
			"status":       string(domain.PaymentStatusValidated),
			"validated_at": now,
		}); err != nil {
			return err
		}
		return appendTrace(ctx, tx, domain.TracePayments, paymentID, u, ActionReceiptValidated, now)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	observability.ReceiptTransitions.WithLabelValues(string(domain.PaymentStatusValidated)).Inc()
	s.publish(ctx, events.OpUpdated, paymentID)
	return repo.GetPayment(ctx, s.DB, paymentID)
}

// Undo returns a receipt to brouillon. Amount and company are kept.
func (s *ReceiptService) Undo(ctx context.Context, u domain.User, paymentID string) (p *domain.Payment, err error) {
	ctx, span := observability.StartSpan(ctx, receiptTracer, "Undo", attribute.String("payment.id", paymentID))
	defer func() { observability.EndSpan(span, err) }()

	now := utcNow(s.Now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdatePayment(ctx, tx, paymentID, map[string]any{
			"status": string(domain.PaymentStatusDraft),
		}); err != nil {
			return err
		}
		return appendTrace(ctx, tx, domain.TracePayments, paymentID, u, ActionReceiptReverted, now)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	observability.ReceiptTransitions.WithLabelValues(string(domain.PaymentStatusDraft)).Inc()
	s.publish(ctx, events.OpUpdated, paymentID)
	return repo.GetPayment(ctx, s.DB, paymentID)
}

// CanDeletePayment applies the deletion policy, in order:
//  1. validated receipts are never deleted (any role);
//  2. planners may never delete;
//  3. cashiers may delete any other receipt;
//  4. drivers may delete receipts they created or that are attributed to them;
//  5. missing or other roles are denied.
func CanDeletePayment(u domain.User, p domain.Payment) error {
	if p.Status.IsValidated() {
		return ErrAlreadyValidated
	}
	switch u.Role {
	case "":
		return ErrUnauthorizedRole
	case domain.RolePlanificateur:
		return ErrRoleForbidden
	case domain.RoleCaissier:
		return nil
	case domain.RoleChauffeur:
		if u.ID != "" && (p.CreatedBy == u.ID || (p.ChauffeurID != nil && *p.ChauffeurID == u.ID)) {
			return nil
		}
		return ErrNotOwner
	default:
		return ErrUnauthorizedRole
	}
}

// Delete hard-deletes a receipt when CanDeletePayment allows it.
func (s *ReceiptService) Delete(ctx context.Context, u domain.User, paymentID string) (err error) {
	ctx, span := observability.StartSpan(ctx, receiptTracer, "Delete",
		attribute.String("payment.id", paymentID),
		attribute.String("user.role", u.Role),
	)
	defer func() { observability.EndSpan(span, err) }()

	p, err := s.payment(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := CanDeletePayment(u, *p); err != nil {
		observability.DeletesDenied.WithLabelValues(denyReason(err)).Inc()
		return err
	}
	if err := repo.DeletePayment(ctx, s.DB, paymentID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPaymentNotFound
		}
		return err
	}
	s.publish(ctx, events.OpDeleted, paymentID)
	return nil
}

func denyReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyValidated):
		return "already_validated"
	case errors.Is(err, ErrRoleForbidden):
		return "role_forbidden"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	default:
		return "unauthorized_role"
	}
}

// Get returns a receipt with its trail.
func (s *ReceiptService) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	ctx, span := observability.StartSpan(ctx, receiptTracer, "Get", attribute.String("payment.id", paymentID))
	defer span.End()
	return s.payment(ctx, paymentID)
}

// ListForUser lists receipts visible to u:
//   - admins and internal cashiers see every receipt;
//   - external cashiers and drivers see their company's receipts only,
//     and nothing without a company;
//   - other roles see every receipt.
func (s *ReceiptService) ListForUser(ctx context.Context, u domain.User, f repo.PaymentFilter) ([]domain.Payment, error) {
	ctx, span := observability.StartSpan(ctx, receiptTracer, "ListForUser", attribute.String("user.role", u.Role))
	defer span.End()

	f, visible := ScopePayments(u, f)
	if !visible {
		return []domain.Payment{}, nil
	}
	return repo.ListPayments(ctx, s.DB, f)
}

// ScopePayments narrows f to the receipts u may see. visible is false when u
// may see none.
func ScopePayments(u domain.User, f repo.PaymentFilter) (scoped repo.PaymentFilter, visible bool) {
	if (u.Role == domain.RoleCaissier || u.Role == domain.RoleChauffeur) && u.IsExternal() {
		if u.CompanyID == "" {
			return f, false
		}
		f.CompanyID = u.CompanyID
	}
	return f, true
}

func (s *ReceiptService) payment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := repo.GetPayment(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

func (s *ReceiptService) publish(ctx context.Context, op, id string) {
	if s.Events != nil {
		s.Events.Publish(ctx, events.Event{Collection: events.Payments, Op: op, ID: id})
	}
}
