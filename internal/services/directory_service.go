// Package services – DirectoryService
//
// DirectoryService exposes the company and chauffeur directories and keeps an
// in-memory autocomplete index of both. The indices are rebuilt after local
// writes and whenever a change event for either collection arrives (see
// Watch), so writes made by other replicas show up as well.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/events"
	"github.com/tbourn/go-recovery-backend/internal/repo"
	"github.com/tbourn/go-recovery-backend/internal/search"
)

// DirectoryRepo defines the repository contract required by DirectoryService.
type DirectoryRepo interface {
	// CreateCompany inserts a company; a name collision yields repo.ErrDuplicate.
	CreateCompany(ctx context.Context, db *gorm.DB, name string) (*domain.Company, error)

	// GetCompany fetches a company by ID.
	GetCompany(ctx context.Context, db *gorm.DB, id string) (*domain.Company, error)

	// ListCompanies returns all companies.
	ListCompanies(ctx context.Context, db *gorm.DB) ([]domain.Company, error)

	// CreateChauffeur inserts a chauffeur.
	CreateChauffeur(ctx context.Context, db *gorm.DB, c *domain.Chauffeur) error

	// GetChauffeur fetches a chauffeur by ID.
	GetChauffeur(ctx context.Context, db *gorm.DB, id string) (*domain.Chauffeur, error)

	// ListChauffeurs returns chauffeurs, optionally only active ones.
	ListChauffeurs(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Chauffeur, error)
}

// ChauffeurInput is the payload for creating a chauffeur.
type ChauffeurInput struct {
	FirstName    string
	LastName     string
	Phone        string
	EmployeeType string // interne (default) or externe
	CompanyID    string
}

// DirectoryService provides directory lookups and autocomplete.
type DirectoryService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the directory repository used by this service.
	Repo DirectoryRepo
	// Events receives change events for created entries.
	Events events.Publisher

	companies  search.Live
	chauffeurs search.Live
}

// NewDirectoryService constructs a DirectoryService. Call Refresh once before
// serving autocomplete queries.
func NewDirectoryService(db *gorm.DB, r DirectoryRepo, pub events.Publisher) *DirectoryService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &DirectoryService{DB: db, Repo: r, Events: pub}
}

func (s *DirectoryService) tracer() trace.Tracer { return otel.Tracer("services/DirectoryService") }

// CreateCompany adds a company with a unique name.
func (s *DirectoryService) CreateCompany(ctx context.Context, name string) (*domain.Company, error) {
	ctx, span := s.tracer().Start(ctx, "CreateCompany")
	defer span.End()

	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return nil, ErrInvalidName
	}
	c, err := s.Repo.CreateCompany(ctx, s.DB, name)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrCompanyExists
	}
	if err != nil {
		return nil, err
	}
	s.Events.Publish(ctx, events.Event{Collection: events.Companies, Op: events.OpCreated, ID: c.ID})
	s.refreshCompanies(ctx)
	return c, nil
}

// GetCompany returns ErrCompanyNotFound for unknown ids.
func (s *DirectoryService) GetCompany(ctx context.Context, id string) (*domain.Company, error) {
	c, err := s.Repo.GetCompany(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCompanyNotFound
	}
	return c, err
}

// ListCompanies returns every company ordered by name.
func (s *DirectoryService) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	ctx, span := s.tracer().Start(ctx, "ListCompanies")
	defer span.End()
	return s.Repo.ListCompanies(ctx, s.DB)
}

// SearchCompanies ranks companies against an autocomplete query.
func (s *DirectoryService) SearchCompanies(q string, k int) []search.Result {
	return s.companies.TopK(q, k)
}

// CreateChauffeur validates and stores a driver.
func (s *DirectoryService) CreateChauffeur(ctx context.Context, in ChauffeurInput) (*domain.Chauffeur, error) {
	ctx, span := s.tracer().Start(ctx, "CreateChauffeur",
		trace.WithAttributes(attribute.String("employee.type", in.EmployeeType)),
	)
	defer span.End()

	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" && last == "" {
		return nil, ErrInvalidName
	}
	et := strings.ToLower(strings.TrimSpace(in.EmployeeType))
	switch et {
	case "":
		et = domain.EmployeeInternal
	case domain.EmployeeInternal, domain.EmployeeExternal:
	default:
		return nil, ErrInvalidEmployeeType
	}

	c := &domain.Chauffeur{
		FirstName:    first,
		LastName:     last,
		Phone:        strings.TrimSpace(in.Phone),
		EmployeeType: et,
		IsActive:     true,
	}
	if id := strings.TrimSpace(in.CompanyID); id != "" {
		if _, err := s.GetCompany(ctx, id); err != nil {
			return nil, err
		}
		c.CompanyID = &id
	}
	if err := s.Repo.CreateChauffeur(ctx, s.DB, c); err != nil {
		return nil, err
	}
	s.Events.Publish(ctx, events.Event{Collection: events.Chauffeurs, Op: events.OpCreated, ID: c.ID})
	s.refreshChauffeurs(ctx)
	return c, nil
}

// GetChauffeur returns ErrChauffeurNotFound for unknown ids.
func (s *DirectoryService) GetChauffeur(ctx context.Context, id string) (*domain.Chauffeur, error) {
	c, err := s.Repo.GetChauffeur(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChauffeurNotFound
	}
	return c, err
}

// ListChauffeurs returns drivers ordered by name.
func (s *DirectoryService) ListChauffeurs(ctx context.Context, activeOnly bool) ([]domain.Chauffeur, error) {
	ctx, span := s.tracer().Start(ctx, "ListChauffeurs")
	defer span.End()
	return s.Repo.ListChauffeurs(ctx, s.DB, activeOnly)
}

// SearchChauffeurs ranks active drivers against an autocomplete query.
func (s *DirectoryService) SearchChauffeurs(q string, k int) []search.Result {
	return s.chauffeurs.TopK(q, k)
}

// Refresh rebuilds both autocomplete indices from the store.
func (s *DirectoryService) Refresh(ctx context.Context) error {
	companies, err := s.Repo.ListCompanies(ctx, s.DB)
	if err != nil {
		return err
	}
	chauffeurs, err := s.Repo.ListChauffeurs(ctx, s.DB, true)
	if err != nil {
		return err
	}
	s.companies.Replace(companyEntries(companies))
	s.chauffeurs.Replace(chauffeurEntries(chauffeurs))
	return nil
}

// Watch rebuilds the affected index for every directory change event until
// ctx is done or the subscription ends.
func (s *DirectoryService) Watch(ctx context.Context, b events.Broker) {
	ch, cancel := b.Subscribe(ctx, events.AllCollections)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			switch e.Collection {
			case events.Companies:
				s.refreshCompanies(ctx)
			case events.Chauffeurs:
				s.refreshChauffeurs(ctx)
			}
		}
	}
}

func (s *DirectoryService) refreshCompanies(ctx context.Context) {
	list, err := s.Repo.ListCompanies(ctx, s.DB)
	if err != nil {
		log.Warn().Err(err).Msg("company index refresh failed")
		return
	}
	s.companies.Replace(companyEntries(list))
}

func (s *DirectoryService) refreshChauffeurs(ctx context.Context) {
	list, err := s.Repo.ListChauffeurs(ctx, s.DB, true)
	if err != nil {
		log.Warn().Err(err).Msg("chauffeur index refresh failed")
		return
	}
	s.chauffeurs.Replace(chauffeurEntries(list))
}

func companyEntries(list []domain.Company) []search.Entry {
	out := make([]search.Entry, 0, len(list))
	for _, c := range list {
		out = append(out, search.Entry{ID: c.ID, Label: c.Name})
	}
	return out
}

func chauffeurEntries(list []domain.Chauffeur) []search.Entry {
	out := make([]search.Entry, 0, len(list))
	for _, c := range list {
		out = append(out, search.Entry{ID: c.ID, Label: c.DisplayName(), Text: c.Phone})
	}
	return out
}
