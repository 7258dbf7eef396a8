package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/search"
	"github.com/tbourn/go-recovery-backend/internal/services"
	"github.com/tbourn/go-recovery-backend/internal/sysutil"
	"github.com/tbourn/go-recovery-backend/internal/utils"
)

const (
	defaultSuggestions = 10
	maxSuggestions     = 50
)

// CreateCompanyRequest is the JSON payload for creating a company.
type CreateCompanyRequest struct {
	Name string `json:"name" binding:"required" example:"Atlas Distribution"`
}

// CreateChauffeurRequest is the JSON payload for creating a chauffeur.
type CreateChauffeurRequest struct {
	FirstName    string `json:"first_name"    example:"Sami"`
	LastName     string `json:"last_name"     example:"Haddad"`
	Phone        string `json:"phone"         example:"0550 12 34 56"`
	EmployeeType string `json:"employee_type" example:"externe"`
	CompanyID    string `json:"company_id"`
}

// CompaniesResponse lists companies.
type CompaniesResponse struct {
	Companies []domain.Company `json:"companies"`
}

// ChauffeursResponse lists chauffeurs.
type ChauffeursResponse struct {
	Chauffeurs []domain.Chauffeur `json:"chauffeurs"`
}

// SuggestionsResponse carries ranked autocomplete results.
type SuggestionsResponse struct {
	Suggestions []search.Result `json:"suggestions"`
}

func suggestionLimit(c *gin.Context) int {
	return utils.ClampedInt(c.Query("limit"), defaultSuggestions, 1, maxSuggestions)
}

// ListCompanies godoc
// @ID          listCompanies
// @Summary     List or search companies
// @Description Without q, lists every company. With q, returns ranked suggestions.
// @Tags        Directory
// @Produce     json
//
// @Param       q      query  string  false  "Autocomplete query"
// @Param       limit  query  int     false  "Max suggestions"  minimum(1) maximum(50) default(10)
//
// @Success     200  {object}  handlers.CompaniesResponse
// @Success     200  {object}  handlers.SuggestionsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /companies [get]
func (h *Handlers) ListCompanies(c *gin.Context) {
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		ok(c, http.StatusOK, SuggestionsResponse{Suggestions: nonNil(h.directory.SearchCompanies(q, suggestionLimit(c)))})
		return
	}
	list, err := h.directory.ListCompanies(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, CompaniesResponse{Companies: list})
}

// CreateCompany godoc
// @ID          createCompany
// @Summary     Create a company
// @Tags        Directory
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateCompanyRequest  true  "Company"
//
// @Success     201  {object}  domain.Company
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Company exists"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /companies [post]
func (h *Handlers) CreateCompany(c *gin.Context) {
	var req CreateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required")
		return
	}
	co, err := h.directory.CreateCompany(c.Request.Context(), req.Name)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, co)
}

// ListChauffeurs godoc
// @ID          listChauffeurs
// @Summary     List or search chauffeurs
// @Description Without q, lists chauffeurs (active=true keeps active ones). With q, returns ranked suggestions.
// @Tags        Directory
// @Produce     json
//
// @Param       q       query  string  false  "Autocomplete query (name, phone, company)"
// @Param       limit   query  int     false  "Max suggestions"  minimum(1) maximum(50) default(10)
// @Param       active  query  bool    false  "Only active chauffeurs"
//
// @Success     200  {object}  handlers.ChauffeursResponse
// @Success     200  {object}  handlers.SuggestionsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chauffeurs [get]
func (h *Handlers) ListChauffeurs(c *gin.Context) {
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		ok(c, http.StatusOK, SuggestionsResponse{Suggestions: nonNil(h.directory.SearchChauffeurs(q, suggestionLimit(c)))})
		return
	}
	list, err := h.directory.ListChauffeurs(c.Request.Context(), sysutil.IsTruthy(c.Query("active")))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ChauffeursResponse{Chauffeurs: list})
}

// CreateChauffeur godoc
// @ID          createChauffeur
// @Summary     Create a chauffeur
// @Tags        Directory
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateChauffeurRequest  true  "Chauffeur"
//
// @Success     201  {object}  domain.Chauffeur
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Company not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chauffeurs [post]
func (h *Handlers) CreateChauffeur(c *gin.Context) {
	var req CreateChauffeurRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ch, err := h.directory.CreateChauffeur(c.Request.Context(), services.ChauffeurInput{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		EmployeeType: req.EmployeeType,
		CompanyID:    req.CompanyID,
	})
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, ch)
}

func nonNil(rs []search.Result) []search.Result {
	if rs == nil {
		return []search.Result{}
	}
	return rs
}
