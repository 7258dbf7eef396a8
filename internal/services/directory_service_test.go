package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/events"
	"github.com/tbourn/go-recovery-backend/internal/repo"
)

// ---------- repos ----------

// gormDirectory forwards to the repo package.
type gormDirectory struct{}

func (gormDirectory) CreateCompany(ctx context.Context, db *gorm.DB, name string) (*domain.Company, error) {
	return repo.CreateCompany(ctx, db, name)
}
func (gormDirectory) GetCompany(ctx context.Context, db *gorm.DB, id string) (*domain.Company, error) {
	return repo.GetCompany(ctx, db, id)
}
func (gormDirectory) ListCompanies(ctx context.Context, db *gorm.DB) ([]domain.Company, error) {
	return repo.ListCompanies(ctx, db)
}
func (gormDirectory) CreateChauffeur(ctx context.Context, db *gorm.DB, c *domain.Chauffeur) error {
	return repo.CreateChauffeur(ctx, db, c)
}
func (gormDirectory) GetChauffeur(ctx context.Context, db *gorm.DB, id string) (*domain.Chauffeur, error) {
	return repo.GetChauffeur(ctx, db, id)
}
func (gormDirectory) ListChauffeurs(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Chauffeur, error) {
	return repo.ListChauffeurs(ctx, db, activeOnly)
}

// failingDirectory fails every list call.
type failingDirectory struct{ gormDirectory }

func (failingDirectory) ListCompanies(context.Context, *gorm.DB) ([]domain.Company, error) {
	return nil, errors.New("boom")
}

func newDirectory(t *testing.T) (*DirectoryService, *gorm.DB) {
	t.Helper()
	db := newSvcDB(t)
	s := NewDirectoryService(db, gormDirectory{}, nil)
	require.NoError(t, s.Refresh(context.Background()))
	return s, db
}

// ---------- companies ----------

func TestCreateCompany(t *testing.T) {
	s, _ := newDirectory(t)
	ctx := context.Background()

	c, err := s.CreateCompany(ctx, "  Atlas   Logistique ")
	require.NoError(t, err)
	assert.Equal(t, "Atlas Logistique", c.Name)

	_, err = s.CreateCompany(ctx, "Atlas Logistique")
	assert.ErrorIs(t, err, ErrCompanyExists)

	_, err = s.CreateCompany(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidName)

	got, err := s.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)

	_, err = s.GetCompany(ctx, "missing")
	assert.ErrorIs(t, err, ErrCompanyNotFound)

	res := s.SearchCompanies("atl", 5)
	require.Len(t, res, 1)
	assert.Equal(t, c.ID, res[0].ID)
}

// ---------- chauffeurs ----------

func TestCreateChauffeur(t *testing.T) {
	s, _ := newDirectory(t)
	ctx := context.Background()
	company, err := s.CreateCompany(ctx, "Nord Express")
	require.NoError(t, err)

	c, err := s.CreateChauffeur(ctx, ChauffeurInput{FirstName: " Karim ", LastName: "Benali", Phone: "0550 12 34 56"})
	require.NoError(t, err)
	assert.Equal(t, domain.EmployeeInternal, c.EmployeeType)
	assert.Equal(t, "Karim", c.FirstName)
	assert.True(t, c.IsActive)
	assert.Nil(t, c.CompanyID)

	ext, err := s.CreateChauffeur(ctx, ChauffeurInput{FirstName: "Sami", LastName: "Haddad", EmployeeType: "Externe", CompanyID: company.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.EmployeeExternal, ext.EmployeeType)
	require.NotNil(t, ext.CompanyID)
	assert.Equal(t, company.ID, *ext.CompanyID)

	_, err = s.CreateChauffeur(ctx, ChauffeurInput{})
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.CreateChauffeur(ctx, ChauffeurInput{FirstName: "A", EmployeeType: "interim"})
	assert.ErrorIs(t, err, ErrInvalidEmployeeType)
	_, err = s.CreateChauffeur(ctx, ChauffeurInput{FirstName: "A", CompanyID: "missing"})
	assert.ErrorIs(t, err, ErrCompanyNotFound)

	list, err := s.ListChauffeurs(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = s.GetChauffeur(ctx, "missing")
	assert.ErrorIs(t, err, ErrChauffeurNotFound)

	res := s.SearchChauffeurs("haddad", 5)
	require.Len(t, res, 1)
	assert.Equal(t, "TP - Sami Haddad", res[0].Label)

	res = s.SearchChauffeurs("0550", 5)
	require.Len(t, res, 1)
	assert.Equal(t, c.ID, res[0].ID)
}

// ---------- index maintenance ----------

func TestRefresh_PropagatesErrors(t *testing.T) {
	db := newSvcDB(t)
	s := NewDirectoryService(db, failingDirectory{}, nil)
	assert.Error(t, s.Refresh(context.Background()))
}

func TestWatch_RebuildsOnForeignWrites(t *testing.T) {
	s, db := newDirectory(t)
	b := events.NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Watch(ctx, b)
		close(done)
	}()

	// Another replica writes directly and publishes the change.
	c := seedCompany(t, db, "Sahara Transit")
	assert.Eventually(t, func() bool {
		b.Publish(context.Background(), events.Event{Collection: events.Companies, Op: events.OpCreated, ID: c.ID})
		return len(s.SearchCompanies("sahara", 1)) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}
