// Receipt HTTP handlers.
//
//   - POST   /payments                (multipart photo upload; Idempotency-Key)
//   - GET    /payments                (visible receipts, weak ETag)
//   - GET    /payments/{id}
//   - POST   /payments/{id}/validate  (amount and company)
//   - POST   /payments/{id}/undo      (back to brouillon)
//   - DELETE /payments/{id}           (deletion policy applies)
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/repo"
	"github.com/tbourn/go-recovery-backend/internal/services"
	"github.com/tbourn/go-recovery-backend/internal/storage"
	"github.com/tbourn/go-recovery-backend/internal/sysutil"
)

// photoField is the multipart field carrying the receipt photo.
const photoField = "photo"

// ReceiptForm is the multipart form of CreatePayment, besides the photo.
type ReceiptForm struct {
	ProgramRefInput
	DeclarationID string `form:"declaration_id"`
	ChauffeurID   string `form:"chauffeur_id"`
	Notes         string `form:"notes"`
	// Preview is the client's local rendering, kept when the upload fails.
	Preview string `form:"preview"`
}

// ValidatePayload is the JSON body of ValidatePayment. Montant accepts a
// number or a decimal string and is rounded to cents.
type ValidatePayload struct {
	CompanyID string          `json:"company_id" example:"0d7c3a52-3f3e-4b8e-9a43-1f0a6f2c9d11"`
	Montant   decimal.Decimal `json:"montant" swaggertype:"string" example:"125.50"`
}

// CreatePayment godoc
// @ID          createPayment
// @Summary     Add a receipt
// @Description Uploads the photo and stores a brouillon receipt. When the upload fails the
// @Description receipt keeps the preview (or an inline data URL) with upload_pending=true.
// @Tags        Payments
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       Idempotency-Key  header    string  false  "Key for safe retries"
// @Param       photo            formData  file    true   "Receipt photo"
// @Param       reference        formData  string  false  "Program reference"
// @Param       unknown          formData  bool    false  "Reference declared unknown"
// @Param       declaration_id   formData  string  false  "Declaration to attach to"
// @Param       chauffeur_id     formData  string  false  "Driver"
// @Param       notes            formData  string  false  "Notes"
// @Param       preview          formData  string  false  "Local preview URL"
//
// @Success     201  {object}  domain.Payment
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Declaration not found"
// @Failure     413  {object}  handlers.ErrorResponse  "Photo too large"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /payments [post]
func (h *Handlers) CreatePayment(c *gin.Context) {
	ctx := c.Request.Context()

	if id, status := h.replay(c); id != "" {
		if p, err := h.receipts.Get(ctx, id); err == nil {
			markReplayed(c)
			ok(c, status, p)
			return
		}
	}

	blob, err := h.readPhoto(c)
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig), errors.Is(err, errPhotoTooLarge):
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge,
				fmt.Sprintf("photo exceeds %d bytes", h.maxUploadBytes))
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, services.ErrPhotoRequired):
			fail(c, http.StatusBadRequest, ErrCodeValidation, services.ErrPhotoRequired.Error())
		default:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid multipart body")
		}
		return
	}

	var form ReceiptForm
	if err := c.ShouldBind(&form); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid form")
		return
	}
	req := services.AddReceiptRequest{
		Photo:         blob,
		Preview:       strings.TrimSpace(form.Preview),
		DeclarationID: strings.TrimSpace(form.DeclarationID),
		ChauffeurID:   strings.TrimSpace(form.ChauffeurID),
		Notes:         form.Notes,
	}
	if !form.empty() {
		ref, err := form.ref()
		if err != nil {
			failErr(c, err, ErrCodeBadRequest)
			return
		}
		req.Ref = &ref
	}

	p, err := h.receipts.AddReceipt(ctx, currentUser(c), req)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	h.remember(c, p.ID, http.StatusCreated)
	ok(c, http.StatusCreated, p)
}

var errPhotoTooLarge = errors.New("photo too large")

func (h *Handlers) readPhoto(c *gin.Context) (storage.Blob, error) {
	fh, err := c.FormFile(photoField)
	if err != nil {
		return storage.Blob{}, err
	}
	if fh.Size > h.maxUploadBytes {
		return storage.Blob{}, errPhotoTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return storage.Blob{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return storage.Blob{}, err
	}
	if int64(len(data)) > h.maxUploadBytes {
		return storage.Blob{}, errPhotoTooLarge
	}
	if len(data) == 0 {
		return storage.Blob{}, services.ErrPhotoRequired
	}
	return storage.Blob{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}, nil
}

// ListPayments godoc
// @ID          listPayments
// @Summary     List visible receipts
// @Description External cashiers and drivers only see their company's receipts.
// @Tags        Payments
// @Produce     json
//
// @Param       If-None-Match   header  string  false  "Return 304 if ETag matches"
// @Param       declaration_id  query   string  false  "Declaration filter"
// @Param       status          query   string  false  "brouillon or validee"
// @Param       unlinked        query   bool    false  "Only receipts without a declaration"
// @Param       mine            query   bool    false  "Only receipts created by the caller"
//
// @Success     200  {object}  handlers.PaymentsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /payments [get]
func (h *Handlers) ListPayments(c *gin.Context) {
	ctx := c.Request.Context()
	u := currentUser(c)

	f := repo.PaymentFilter{
		DeclarationID: c.Query("declaration_id"),
		Status:        domain.PaymentStatus(strings.TrimSpace(c.Query("status"))),
		UnlinkedOnly:  sysutil.IsTruthy(c.Query("unlinked")),
	}
	if sysutil.IsTruthy(c.Query("mine")) {
		f.CreatedBy = u.ID
	}

	if scoped, visible := services.ScopePayments(u, f); visible && h.db != nil {
		count, maxTS, err := repo.PaymentsStats(ctx, h.db, scoped)
		tag := fmt.Sprintf("payments:%s:%s:%s:%s:%t", scoped.CompanyID, scoped.DeclarationID, scoped.CreatedBy, scoped.Status, scoped.UnlinkedOnly)
		if notModified(c, tag, count, maxTS, err) {
			return
		}
	}

	items, err := h.receipts.ListForUser(ctx, u, f)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, PaymentsResponse{Payments: items})
}

// GetPayment godoc
// @ID          getPayment
// @Summary     Get a receipt
// @Tags        Payments
// @Produce     json
//
// @Param       id  path  string  true  "Payment ID"
//
// @Success     200  {object}  domain.Payment
// @Failure     404  {object}  handlers.ErrorResponse  "Payment not found"
// @Router      /payments/{id} [get]
func (h *Handlers) GetPayment(c *gin.Context) {
	p, err := h.receipts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, p)
}

// ValidatePayment godoc
// @ID          validatePayment
// @Summary     Validate a receipt
// @Description Records amount and company and marks the receipt validee.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                    true  "Payment ID"
// @Param       body  body  handlers.ValidatePayload  true  "Amount and company"
//
// @Success     200  {object}  domain.Payment
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Payment or company not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /payments/{id}/validate [post]
func (h *Handlers) ValidatePayment(c *gin.Context) {
	var req ValidatePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.receipts.Validate(c.Request.Context(), currentUser(c), c.Param("id"), req.CompanyID, req.Montant)
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, p)
}

// UndoPayment godoc
// @ID          undoPayment
// @Summary     Return a receipt to brouillon
// @Description Amount and company are kept.
// @Tags        Payments
// @Produce     json
//
// @Param       id  path  string  true  "Payment ID"
//
// @Success     200  {object}  domain.Payment
// @Failure     404  {object}  handlers.ErrorResponse  "Payment not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /payments/{id}/undo [post]
func (h *Handlers) UndoPayment(c *gin.Context) {
	p, err := h.receipts.Undo(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeletePayment godoc
// @ID          deletePayment
// @Summary     Delete a receipt
// @Description Validated receipts are never deleted. Planners may not delete; drivers only their own.
// @Tags        Payments
// @Produce     json
//
// @Param       id  path  string  true  "Payment ID"
//
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "already_validated, role_forbidden, not_owner or unauthorized_role"
// @Failure     404  {object}  handlers.ErrorResponse  "Payment not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /payments/{id} [delete]
func (h *Handlers) DeletePayment(c *gin.Context) {
	if err := h.receipts.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}
