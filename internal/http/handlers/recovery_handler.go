// Recovery HTTP handlers.
//
// This file exposes the reconciliation workflow:
//   - GET  /recoveries/match              (resolve a declaration for a form)
//   - POST /recoveries/drafts             (save a draft declaration)
//   - POST /recoveries/send               (mark recovered; Idempotency-Key)
//   - POST /recoveries/link               (re-run the link scan)
//   - POST /declarations/{id}/revoke      (cancel a recovery)
//   - GET  /declarations                  (paginated, weak ETag)
//   - GET  /declarations/{id}             (with trail)
//   - GET  /declarations/{id}/payments    (linked receipts)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/repo"
	"github.com/tbourn/go-recovery-backend/internal/services"
)

var errRefRequired = errors.New("program reference is required")

//
// DTOs
//

// MatchQuery selects the declaration a recovery form resolves to.
type MatchQuery struct {
	ProgramRefInput
	// DraftID is the caller's current draft declaration, if any.
	DraftID string `form:"draft_id"`
}

// DraftPayload is the JSON body of SaveDraft.
type DraftPayload struct {
	ProgramRefInput
	ChauffeurID string `json:"chauffeur_id" example:"6f1c1e1a-9b7d-4c55-8a0e-2d3c4b5a6f70"`
	Notes       string `json:"notes"`
}

// SendPayload is the JSON body of Send.
type SendPayload struct {
	ProgramRefInput
	DraftID             string `json:"draft_id"`
	ChauffeurID         string `json:"chauffeur_id"`
	Notes               string `json:"notes"`
	RequireAllValidated bool   `json:"require_all_validated"`
}

// LinkPayload is the JSON body of LinkPayments. The declaration's own
// reference is used when none is given.
type LinkPayload struct {
	ProgramRefInput
	DeclarationID string `json:"declaration_id" binding:"required"`
}

// ListDeclarationsResponse contains a page of declarations.
type ListDeclarationsResponse struct {
	Declarations []domain.Declaration `json:"declarations"`
	Pagination   Pagination           `json:"pagination"`
}

// PaymentsResponse wraps a list of receipts.
type PaymentsResponse struct {
	Payments []domain.Payment `json:"payments"`
}

// requiredRef converts in and rejects missing or incomplete references.
func requiredRef(in ProgramRefInput) (domain.ProgramRef, error) {
	if in.empty() {
		return domain.ProgramRef{}, errRefRequired
	}
	ref, err := in.ref()
	if err != nil {
		return ref, err
	}
	return ref, ref.Validate()
}

func failRef(c *gin.Context, err error) {
	if errors.Is(err, errRefRequired) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	failErr(c, err, ErrCodeBadRequest)
}

//
// Handlers
//

// MatchRecovery godoc
// @ID          matchRecovery
// @Summary     Resolve the declaration of a recovery form
// @Description Returns the declaration the reference resolves to (or null) and its chauffeur.
// @Description The unknown reference only resolves to the caller's NA draft.
// @Tags        Recoveries
// @Produce     json
//
// @Param       reference  query  string  false  "Full reference"  example(DCP/25/03/0042)
// @Param       year       query  string  false  "Year"
// @Param       month      query  string  false  "Month"
// @Param       number     query  string  false  "4-digit program number"
// @Param       unknown    query  bool    false  "Reference declared unknown"
// @Param       draft_id   query  string  false  "Caller's draft declaration id"
//
// @Success     200  {object}  services.LookupResult
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid reference"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /recoveries/match [get]
func (h *Handlers) MatchRecovery(c *gin.Context) {
	var q MatchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid query")
		return
	}
	ref, err := requiredRef(q.ProgramRefInput)
	if err != nil {
		failRef(c, err)
		return
	}
	res, err := h.recovery.Lookup(c.Request.Context(), ref, strings.TrimSpace(q.DraftID))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, res)
}

// SaveDraft godoc
// @ID          saveDraft
// @Summary     Save a draft declaration
// @Description Creates a brouillon declaration and links matching orphan receipts to it.
// @Tags        Recoveries
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.DraftPayload  true  "Draft"
//
// @Success     201  {object}  domain.Declaration
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Chauffeur not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Declaration exists"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /recoveries/drafts [post]
func (h *Handlers) SaveDraft(c *gin.Context) {
	var req DraftPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ref, err := requiredRef(req.ProgramRefInput)
	if err != nil {
		failRef(c, err)
		return
	}
	d, err := h.recovery.SaveDraft(c.Request.Context(), currentUser(c), services.DraftRequest{
		Ref:         ref,
		ChauffeurID: strings.TrimSpace(req.ChauffeurID),
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, d)
}

// SendRecovery godoc
// @ID          sendRecovery
// @Summary     Mark a declaration as recovered
// @Description Updates the resolved declaration, or creates it, then links orphan receipts.
// @Description Retries with the same Idempotency-Key replay the first result.
// @Tags        Recoveries
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string                false  "Key for safe retries"
// @Param       body             body    handlers.SendPayload  true   "Recovery"
//
// @Success     200  {object}  services.SendResult  "Existing declaration updated"
// @Success     201  {object}  services.SendResult  "Declaration created"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Chauffeur not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Chauffeur locked or receipts pending"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /recoveries/send [post]
func (h *Handlers) SendRecovery(c *gin.Context) {
	ctx := c.Request.Context()

	if id, status := h.replay(c); id != "" {
		if d, err := h.recovery.GetDeclaration(ctx, id); err == nil {
			markReplayed(c)
			ok(c, status, services.SendResult{Declaration: d, Created: status == http.StatusCreated})
			return
		}
	}

	var req SendPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ref, err := requiredRef(req.ProgramRefInput)
	if err != nil {
		failRef(c, err)
		return
	}
	res, err := h.recovery.Send(ctx, currentUser(c), services.SendRequest{
		Ref:                 ref,
		DraftID:             strings.TrimSpace(req.DraftID),
		ChauffeurID:         strings.TrimSpace(req.ChauffeurID),
		Notes:               strings.TrimSpace(req.Notes),
		RequireAllValidated: req.RequireAllValidated,
	})
	if err != nil {
		failErr(c, err, ErrCodeSendFailed)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	h.remember(c, res.Declaration.ID, status)
	ok(c, status, res)
}

// LinkPayments godoc
// @ID          linkPayments
// @Summary     Re-run the link scan
// @Description Links unlinked receipts carrying the reference to the declaration. Idempotent.
// @Tags        Recoveries
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LinkPayload  true  "Declaration and optional reference"
//
// @Success     200  {object}  services.LinkResult
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Declaration not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /recoveries/link [post]
func (h *Handlers) LinkPayments(c *gin.Context) {
	ctx := c.Request.Context()
	var req LinkPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "declaration_id required")
		return
	}

	var ref domain.ProgramRef
	if req.empty() {
		d, err := h.recovery.GetDeclaration(ctx, req.DeclarationID)
		if err != nil {
			failErr(c, err, ErrCodeInternal)
			return
		}
		ref = d.Ref()
	} else {
		var err error
		if ref, err = requiredRef(req.ProgramRefInput); err != nil {
			failRef(c, err)
			return
		}
	}

	res, err := h.recovery.LinkPayments(ctx, currentUser(c), ref, req.DeclarationID)
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, res)
}

// RevokeRecovery godoc
// @ID          revokeRecovery
// @Summary     Revoke a recovery
// @Description Clears the recovered state. Linked receipts keep their declaration.
// @Tags        Declarations
// @Produce     json
//
// @Param       id  path  string  true  "Declaration ID"
//
// @Success     200  {object}  domain.Declaration
// @Failure     404  {object}  handlers.ErrorResponse  "Declaration not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Not recovered"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /declarations/{id}/revoke [post]
func (h *Handlers) RevokeRecovery(c *gin.Context) {
	d, err := h.recovery.Revoke(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, d)
}

// ListDeclarations godoc
// @ID          listDeclarations
// @Summary     List declarations (paginated)
// @Description Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Declarations
// @Produce     json
//
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       payment_state  query   string  false  "brouillon, recouvre or empty for none"
// @Param       chauffeur_id   query   string  false  "Driver filter"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListDeclarationsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /declarations [get]
func (h *Handlers) ListDeclarations(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	f := repo.DeclarationFilter{ChauffeurID: c.Query("chauffeur_id")}
	if st, has := c.GetQuery("payment_state"); has {
		ps := domain.PaymentState(strings.TrimSpace(st))
		f.PaymentState = &ps
	}

	if h.db != nil {
		count, maxTS, err := repo.DeclarationsStats(ctx, h.db, f)
		tag := fmt.Sprintf("declarations:%s:%d:%d", f.ChauffeurID, page, pageSize)
		if f.PaymentState != nil {
			tag += ":" + string(*f.PaymentState)
		}
		if notModified(c, tag, count, maxTS, err) {
			return
		}
	}

	items, total, err := h.recovery.ListDeclarationsPage(ctx, f, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListDeclarationsResponse{
		Declarations: items,
		Pagination:   newPagination(page, pageSize, total),
	})
}

// GetDeclaration godoc
// @ID          getDeclaration
// @Summary     Get a declaration
// @Tags        Declarations
// @Produce     json
//
// @Param       id  path  string  true  "Declaration ID"
//
// @Success     200  {object}  domain.Declaration
// @Failure     404  {object}  handlers.ErrorResponse  "Declaration not found"
// @Router      /declarations/{id} [get]
func (h *Handlers) GetDeclaration(c *gin.Context) {
	d, err := h.recovery.GetDeclaration(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}

// DeclarationPayments godoc
// @ID          declarationPayments
// @Summary     List receipts linked to a declaration
// @Tags        Declarations
// @Produce     json
//
// @Param       id  path  string  true  "Declaration ID"
//
// @Success     200  {object}  handlers.PaymentsResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Declaration not found"
// @Router      /declarations/{id}/payments [get]
func (h *Handlers) DeclarationPayments(c *gin.Context) {
	items, err := h.recovery.DeclarationPayments(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, PaymentsResponse{Payments: items})
}
