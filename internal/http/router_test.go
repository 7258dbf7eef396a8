package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/config"
	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/events"
	"github.com/tbourn/go-recovery-backend/internal/http/middleware"
	"github.com/tbourn/go-recovery-backend/internal/repo"
	"github.com/tbourn/go-recovery-backend/internal/storage"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.Open(repo.Options{
		Driver:     "sqlite",
		SQLitePath: fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString()),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		Rate:           config.RateConfig{RPS: 100, Burst: 10},
		Upload:         config.UploadConfig{Dir: t.TempDir(), BaseURL: "/uploads", MaxBytes: 1 << 20},
		Auth:           config.AuthConfig{DevHeaders: true},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		IdempotencyTTL: time.Hour,
	}
}

// newRouter registers the full pipeline over a fresh database.
func newRouter(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	broker := events.NewMemoryBroker()
	t.Cleanup(func() {
		cancel()
		_ = broker.Close()
	})

	up, err := storage.NewDiskUploader(cfg.Upload.Dir, cfg.Upload.BaseURL)
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}
	r := gin.New()
	RegisterRoutes(ctx, r, newTestDB(t), broker, up, cfg)
	return r
}

func asPlanner(req *http.Request) *http.Request {
	req.Header.Set(middleware.HeaderUserID, "u-plan")
	req.Header.Set(middleware.HeaderUserRole, domain.RolePlanificateur)
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r := newRouter(t, testConfig(t))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = serve(r, asPlanner(httptest.NewRequest(http.MethodGet, "/nope", nil)))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	w = serve(r, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r := newRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = serve(r, asPlanner(httptest.NewRequest(http.MethodGet, "/api/v2/declarations", nil)))
	if w.Code != http.StatusOK {
		t.Fatalf("API not mounted under the configured base path: %d", w.Code)
	}
}

func TestRegisterRoutes_PreflightNeedsNoIdentity(t *testing.T) {
	r := newRouter(t, testConfig(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/payments", nil)
	req.Header.Set("Origin", "http://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", middleware.HeaderIdempotencyKey)
	w := serve(r, req)
	if w.Code == http.StatusUnauthorized || w.Code >= 300 {
		t.Fatalf("preflight = %d", w.Code)
	}
}

func TestRegisterRoutes_APIRequiresIdentity(t *testing.T) {
	r := newRouter(t, testConfig(t))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/declarations", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d, want 401", w.Code)
	}

	w = serve(r, asPlanner(httptest.NewRequest(http.MethodGet, "/api/v1/declarations", nil)))
	if w.Code != http.StatusOK {
		t.Fatalf("identified = %d, want 200 (%s)", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_UploadsAndSwaggerArePublic(t *testing.T) {
	cfg := testConfig(t)
	cfg.SwaggerEnabled = true
	r := newRouter(t, cfg)

	if err := os.WriteFile(filepath.Join(cfg.Upload.Dir, "r.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	w := serve(r, httptest.NewRequest(http.MethodGet, "/uploads/r.png", nil))
	if w.Code != http.StatusOK || w.Body.String() != "png" {
		t.Fatalf("GET /uploads/r.png = %d %q", w.Code, w.Body.String())
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"/recoveries/send"`)) {
		t.Fatalf("GET /swagger/doc.json = %d", w.Code)
	}
}

func TestRegisterRoutes_GzipsJSON(t *testing.T) {
	r := newRouter(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding=%q want gzip", got)
	}
}

func TestRegisterRoutes_RejectsMalformedIdempotencyKey(t *testing.T) {
	r := newRouter(t, testConfig(t))

	req := asPlanner(httptest.NewRequest(http.MethodPost, "/api/v1/recoveries/link", bytes.NewBufferString(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderIdempotencyKey, "bad key!")
	w := serve(r, req)
	if w.Code != http.StatusBadRequest || !bytes.Contains(w.Body.Bytes(), []byte("bad_idempotency_key")) {
		t.Fatalf("malformed key = %d %s", w.Code, w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10, 100))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"))
	req.Header.Set("Content-Type", "application/json")
	if w := serve(r, req); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("json over cap: expected 413, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("multipart within allowance: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(make([]byte, 101)))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	if w := serve(r, req); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("multipart over allowance: expected 413, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func Test_directoryRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	shim := directoryRepoShim{}
	ctx := context.Background()

	co, err := shim.CreateCompany(ctx, db, "Sonatrach")
	if err != nil || co.ID == "" {
		t.Fatalf("CreateCompany: %+v %v", co, err)
	}
	if got, err := shim.GetCompany(ctx, db, co.ID); err != nil || got.Name != "Sonatrach" {
		t.Fatalf("GetCompany: %+v %v", got, err)
	}
	if list, err := shim.ListCompanies(ctx, db); err != nil || len(list) != 1 {
		t.Fatalf("ListCompanies: %d %v", len(list), err)
	}

	ch := &domain.Chauffeur{FirstName: "Karim", LastName: "Benali", EmployeeType: domain.EmployeeInternal, IsActive: true}
	if err := shim.CreateChauffeur(ctx, db, ch); err != nil || ch.ID == "" {
		t.Fatalf("CreateChauffeur: %v", err)
	}
	if got, err := shim.GetChauffeur(ctx, db, ch.ID); err != nil || got.LastName != "Benali" {
		t.Fatalf("GetChauffeur: %+v %v", got, err)
	}
	if list, err := shim.ListChauffeurs(ctx, db, true); err != nil || len(list) != 1 {
		t.Fatalf("ListChauffeurs: %d %v", len(list), err)
	}
}
