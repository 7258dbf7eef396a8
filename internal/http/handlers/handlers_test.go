package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/events"
	"github.com/tbourn/go-recovery-backend/internal/http/middleware"
	"github.com/tbourn/go-recovery-backend/internal/repo"
	"github.com/tbourn/go-recovery-backend/internal/services"
	"github.com/tbourn/go-recovery-backend/internal/storage"
)

const base = "/api/v1"

var (
	planner   = domain.User{ID: "u-plan", FullName: "Nadia Planner", Role: domain.RolePlanificateur}
	cashier   = domain.User{ID: "u-cash", FullName: "Omar Caissier", Role: domain.RoleCaissier, EmployeeType: domain.EmployeeInternal}
	financier = domain.User{ID: "u-fin", FullName: "Lina Finance", Role: domain.RoleFinancier}
)

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

type testEnv struct {
	t      *testing.T
	db     *gorm.DB
	broker *events.MemoryBroker
	dir    *services.DirectoryService
	engine *gin.Engine
}

// newEnv wires real services over an in-memory database behind the same
// middleware the router installs for identity and idempotency.
func newEnv(t *testing.T, tune ...func(*Deps)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repo.Open(repo.Options{
		Driver:     "sqlite",
		SQLitePath: fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString()),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	broker := events.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	up, err := storage.NewDiskUploader(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}

	notifications := &services.NotificationService{DB: db, Events: broker}
	dir := services.NewDirectoryService(db, gormDirectory{}, broker)
	d := Deps{
		Recovery:        services.NewRecoveryService(db, broker, notifications),
		Receipts:        services.NewReceiptService(db, up, broker),
		Directory:       dir,
		Notifications:   notifications,
		DB:              db,
		Broker:          broker,
		StreamHeartbeat: time.Hour,
	}
	for _, f := range tune {
		f(&d)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Authenticate(middleware.AuthOptions{DevHeaders: true}))
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			return repo.HasIdempotency(ctx, db, userID, scope, key, now)
		}))
	New(d).Mount(r.Group(base))

	return &testEnv{t: t, db: db, broker: broker, dir: dir, engine: r}
}

func identify(req *http.Request, u domain.User) {
	req.Header.Set(middleware.HeaderUserID, u.ID)
	req.Header.Set(middleware.HeaderUserName, u.FullName)
	req.Header.Set(middleware.HeaderUserRole, u.Role)
	req.Header.Set(middleware.HeaderUserEmployeeType, u.EmployeeType)
	req.Header.Set(middleware.HeaderUserCompanyID, u.CompanyID)
}

func (e *testEnv) serve(req *http.Request, u domain.User) *httptest.ResponseRecorder {
	e.t.Helper()
	if u.ID != "" {
		identify(req, u)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

// json sends body (nil for none) as JSON. hdr holds header name/value pairs.
func (e *testEnv) json(method, path string, u domain.User, body any, hdr ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, base+path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	return e.serve(req, u)
}

func (e *testEnv) seedChauffeur(first, last, employeeType string) *domain.Chauffeur {
	e.t.Helper()
	c := &domain.Chauffeur{FirstName: first, LastName: last, EmployeeType: employeeType, IsActive: true}
	if err := repo.CreateChauffeur(context.Background(), e.db, c); err != nil {
		e.t.Fatalf("seed chauffeur: %v", err)
	}
	return c
}

func (e *testEnv) seedCompany(name string) *domain.Company {
	e.t.Helper()
	c, err := repo.CreateCompany(context.Background(), e.db, name)
	if err != nil {
		e.t.Fatalf("seed company: %v", err)
	}
	return c
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d body=%s", w.Code, status, w.Body.String())
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Code != code {
		t.Fatalf("code=%q want %q (message %q)", resp.Code, code, resp.Message)
	}
	if resp.RequestID == "" {
		t.Fatal("missing request_id in error envelope")
	}
}

func TestNew_Defaults(t *testing.T) {
	h := New(Deps{})
	if h.maxUploadBytes != 10<<20 || h.idemTTL != 24*time.Hour || h.heartbeat != 25*time.Second {
		t.Fatalf("defaults not applied: %d %v %v", h.maxUploadBytes, h.idemTTL, h.heartbeat)
	}
}

func TestMount_RequiresIdentity(t *testing.T) {
	e := newEnv(t)
	w := e.json(http.MethodGet, "/declarations", domain.User{}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", w.Code)
	}
}

func TestClampPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query          string
		page, pageSize int
	}{
		{"", 1, 20},
		{"page=3&page_size=5", 3, 5},
		{"page=0&page_size=0", 1, 1},
		{"page=x&page_size=1000", 1, 100},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		p, ps := clampPagination(c)
		if p != tc.page || ps != tc.pageSize {
			t.Errorf("%q: got (%d,%d) want (%d,%d)", tc.query, p, ps, tc.page, tc.pageSize)
		}
	}
}

func TestNewPagination(t *testing.T) {
	p := newPagination(2, 10, 25)
	if p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("unexpected %+v", p)
	}
	if last := newPagination(3, 10, 25); last.HasNext {
		t.Fatalf("last page reports next: %+v", last)
	}
}

func TestProgramRefInput(t *testing.T) {
	cases := []struct {
		name  string
		in    ProgramRefInput
		empty bool
		want  string
		err   error
	}{
		{name: "nothing", in: ProgramRefInput{}, empty: true, want: domain.NAReference},
		{name: "unknown wins", in: ProgramRefInput{Unknown: true, Reference: "DCP/25/03/0042"}, want: domain.NAReference},
		{name: "full reference", in: ProgramRefInput{Reference: " DCP/25/03/0042 "}, want: "DCP/25/03/0042"},
		{name: "na reference", in: ProgramRefInput{Reference: "dcp/na/na/na"}, want: domain.NAReference},
		{name: "components", in: ProgramRefInput{Year: "25", Month: "03", Number: "0042"}, want: "DCP/25/03/0042"},
		{name: "malformed", in: ProgramRefInput{Reference: "25-03-0042"}, err: domain.ErrMalformedReference},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.in.empty() != tc.empty {
				t.Fatalf("empty()=%v", !tc.empty)
			}
			if tc.empty {
				return
			}
			ref, err := tc.in.ref()
			if tc.err != nil {
				if err == nil {
					t.Fatalf("expected %v", tc.err)
				}
				return
			}
			if err != nil || ref.String() != tc.want {
				t.Fatalf("ref()=%q,%v want %q", ref.String(), err, tc.want)
			}
		})
	}
}
