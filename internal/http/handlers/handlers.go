// Package handlers wires HTTP endpoints to the recovery services.
//
// Handlers are transport-thin: they parse and validate input, resolve the
// caller from the authentication middleware, delegate to a service, and
// translate the result (including weak ETags and idempotent replays).
package handlers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/events"
	"github.com/tbourn/go-recovery-backend/internal/http/middleware"
	"github.com/tbourn/go-recovery-backend/internal/repo"
	"github.com/tbourn/go-recovery-backend/internal/search"
	"github.com/tbourn/go-recovery-backend/internal/services"
	"github.com/tbourn/go-recovery-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RecoveryService reconciles declarations and receipts.
type RecoveryService interface {
	Lookup(ctx context.Context, ref domain.ProgramRef, draftID string) (*services.LookupResult, error)
	SaveDraft(ctx context.Context, u domain.User, req services.DraftRequest) (*domain.Declaration, error)
	Send(ctx context.Context, u domain.User, req services.SendRequest) (*services.SendResult, error)
	Revoke(ctx context.Context, u domain.User, declarationID string) (*domain.Declaration, error)
	LinkPayments(ctx context.Context, u domain.User, ref domain.ProgramRef, declarationID string) (services.LinkResult, error)
	GetDeclaration(ctx context.Context, id string) (*domain.Declaration, error)
	ListDeclarationsPage(ctx context.Context, f repo.DeclarationFilter, page, pageSize int) ([]domain.Declaration, int64, error)
	DeclarationPayments(ctx context.Context, id string) ([]domain.Payment, error)
}

// ReceiptService manages the receipt lifecycle.
type ReceiptService interface {
	AddReceipt(ctx context.Context, u domain.User, req services.AddReceiptRequest) (*domain.Payment, error)
	Validate(ctx context.Context, u domain.User, paymentID, companyID string, amount decimal.Decimal) (*domain.Payment, error)
	Undo(ctx context.Context, u domain.User, paymentID string) (*domain.Payment, error)
	Delete(ctx context.Context, u domain.User, paymentID string) error
	Get(ctx context.Context, paymentID string) (*domain.Payment, error)
	ListForUser(ctx context.Context, u domain.User, f repo.PaymentFilter) ([]domain.Payment, error)
}

// DirectoryService serves companies and chauffeurs, with autocomplete.
type DirectoryService interface {
	CreateCompany(ctx context.Context, name string) (*domain.Company, error)
	ListCompanies(ctx context.Context) ([]domain.Company, error)
	SearchCompanies(q string, k int) []search.Result
	CreateChauffeur(ctx context.Context, in services.ChauffeurInput) (*domain.Chauffeur, error)
	ListChauffeurs(ctx context.Context, activeOnly bool) ([]domain.Chauffeur, error)
	SearchChauffeurs(q string, k int) []search.Result
}

// NotificationService lists and acknowledges notifications.
type NotificationService interface {
	ListForUser(ctx context.Context, u domain.User) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

//
// Handler wiring
//

// Deps are the collaborators of Handlers. DB is optional: without it ETags
// and idempotent replays are skipped. Broker is optional: without it the
// change stream answers 503.
type Deps struct {
	Recovery      RecoveryService
	Receipts      ReceiptService
	Directory     DirectoryService
	Notifications NotificationService

	DB     *gorm.DB
	Broker events.Broker

	MaxUploadBytes  int64         // <= 0 means 10 MiB
	IdempotencyTTL  time.Duration // <= 0 means 24h
	StreamHeartbeat time.Duration // <= 0 means 25s
}

// Handlers groups every HTTP endpoint of the API.
type Handlers struct {
	recovery      RecoveryService
	receipts      ReceiptService
	directory     DirectoryService
	notifications NotificationService

	db     *gorm.DB
	broker events.Broker

	maxUploadBytes int64
	idemTTL        time.Duration
	heartbeat      time.Duration
}

// New constructs Handlers from d, applying defaults.
func New(d Deps) *Handlers {
	h := &Handlers{
		recovery:       d.Recovery,
		receipts:       d.Receipts,
		directory:      d.Directory,
		notifications:  d.Notifications,
		db:             d.DB,
		broker:         d.Broker,
		maxUploadBytes: d.MaxUploadBytes,
		idemTTL:        d.IdempotencyTTL,
		heartbeat:      d.StreamHeartbeat,
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = 10 << 20
	}
	if h.idemTTL <= 0 {
		h.idemTTL = 24 * time.Hour
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 25 * time.Second
	}
	return h
}

// currentUser returns the identity set by the authentication middleware.
func currentUser(c *gin.Context) domain.User {
	u, _ := middleware.UserFrom(c)
	return u
}

//
// Shared DTOs and helpers
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses page and page_size, applying defaults and caps.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.ClampedInt(c.Query("page"), defaultPage, 1, math.MaxInt32)
	pageSize = utils.ClampedInt(c.Query("page_size"), defaultPageSize, 1, maxPageSize)
	return
}

// notModified sets a weak ETag built from a collection's row count and last
// update, and writes 304 when If-None-Match matches. Stats errors skip the
// ETag.
func notModified(c *gin.Context, tag string, count int64, maxTS *time.Time, err error) bool {
	if err != nil {
		return false
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d"`, tag, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// ProgramRefInput is the wire form of a program reference. Unknown wins,
// then Reference ("DCP/yy/mm/nnnn" or "DCP/NA/NA/NA"), then the components.
type ProgramRefInput struct {
	Reference string `json:"reference" form:"reference" example:"DCP/25/03/0042"`
	Year      string `json:"year"      form:"year"      example:"25"`
	Month     string `json:"month"     form:"month"     example:"03"`
	Number    string `json:"number"    form:"number"    example:"0042"`
	Unknown   bool   `json:"unknown"   form:"unknown"`
}

// empty reports whether no reference was entered at all.
func (in ProgramRefInput) empty() bool {
	return !in.Unknown && strings.TrimSpace(in.Reference) == "" &&
		strings.TrimSpace(in.Year) == "" && strings.TrimSpace(in.Month) == "" && strings.TrimSpace(in.Number) == ""
}

// ref converts the input. The result is not validated.
func (in ProgramRefInput) ref() (domain.ProgramRef, error) {
	switch {
	case in.Unknown:
		return domain.UnknownRef(), nil
	case strings.TrimSpace(in.Reference) != "":
		return domain.ParseProgramRef(in.Reference)
	default:
		return domain.KnownRef(in.Year, in.Month, in.Number), nil
	}
}

//
// Idempotency
//

// replay returns the resource id recorded for the request's Idempotency-Key,
// or "" when there is none.
func (h *Handlers) replay(c *gin.Context) (resourceID string, status int) {
	key, has := middleware.GetIdempotencyKey(c)
	if !has || h.db == nil {
		return "", 0
	}
	rec, err := repo.GetIdempotency(c.Request.Context(), h.db, middleware.CallerID(c), middleware.IdempotencyScope(c), key, time.Now().UTC())
	if err != nil || rec == nil {
		return "", 0
	}
	return rec.ResourceID, rec.Status
}

// remember records the outcome of a keyed request. Best effort: a concurrent
// duplicate or store failure is logged and ignored.
func (h *Handlers) remember(c *gin.Context, resourceID string, status int) {
	key, has := middleware.GetIdempotencyKey(c)
	if !has || h.db == nil {
		return
	}
	if _, err := repo.CreateIdempotency(c.Request.Context(), h.db, middleware.CallerID(c), middleware.IdempotencyScope(c), key, resourceID, status, h.idemTTL); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("resource_id", resourceID).Msg("idempotency record not stored")
	}
}

func markReplayed(c *gin.Context) {
	c.Header("Idempotency-Replayed", "true")
}
