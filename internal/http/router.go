// Package httpapi wires the HTTP transport (Gin) to the recovery services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// identity, CORS, security headers, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/docs"
	"github.com/tbourn/go-recovery-backend/internal/config"
	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/events"
	"github.com/tbourn/go-recovery-backend/internal/http/handlers"
	"github.com/tbourn/go-recovery-backend/internal/http/middleware"
	"github.com/tbourn/go-recovery-backend/internal/repo"
	"github.com/tbourn/go-recovery-backend/internal/services"
	"github.com/tbourn/go-recovery-backend/internal/storage"
)

// jsonBodyLimit caps non-multipart request bodies.
const jsonBodyLimit = 1 << 20

// directoryRepoShim adapts the repository free functions to the
// services.DirectoryRepo interface.
type directoryRepoShim struct{}

func (directoryRepoShim) CreateCompany(ctx context.Context, db *gorm.DB, name string) (*domain.Company, error) {
	return repo.CreateCompany(ctx, db, name)
}

func (directoryRepoShim) GetCompany(ctx context.Context, db *gorm.DB, id string) (*domain.Company, error) {
	return repo.GetCompany(ctx, db, id)
}

func (directoryRepoShim) ListCompanies(ctx context.Context, db *gorm.DB) ([]domain.Company, error) {
	return repo.ListCompanies(ctx, db)
}

func (directoryRepoShim) CreateChauffeur(ctx context.Context, db *gorm.DB, c *domain.Chauffeur) error {
	return repo.CreateChauffeur(ctx, db, c)
}

func (directoryRepoShim) GetChauffeur(ctx context.Context, db *gorm.DB, id string) (*domain.Chauffeur, error) {
	return repo.GetChauffeur(ctx, db, id)
}

func (directoryRepoShim) ListChauffeurs(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Chauffeur, error) {
	return repo.ListChauffeurs(ctx, db, activeOnly)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and starts the directory index watcher, which runs until ctx is done.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (multipart gets the upload allowance)
//  6. Metrics
//  7. CORS and security headers (preflights end here, before identity)
//  8. Authentication (health, metrics, docs and uploads are public)
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per user/IP, bypass on replay)
//  11. gzip (the change stream is never compressed)
func RegisterRoutes(ctx context.Context, r *gin.Engine, db *gorm.DB, broker events.Broker, up storage.Uploader, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", middleware.HeaderUserName},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(jsonBodyLimit, cfg.Upload.MaxBytes+jsonBodyLimit))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
		middleware.HeaderIdempotencyKey,
		middleware.HeaderUserID, middleware.HeaderUserName, middleware.HeaderUserRole,
		middleware.HeaderUserEmployeeType, middleware.HeaderUserCompanyID,
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	public := []string{"/health", "/metrics", "/swagger"}
	uploadsPath := ""
	if strings.HasPrefix(cfg.Upload.BaseURL, "/") {
		uploadsPath = cfg.Upload.BaseURL
		public = append(public, uploadsPath)
	}
	r.Use(middleware.Authenticate(middleware.AuthOptions{
		Secret:     []byte(cfg.Auth.JWTSecret),
		DevHeaders: cfg.Auth.DevHeaders,
		Skip:       public,
	}))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			return repo.HasIdempotency(ctx, db, userID, scope, key, now)
		},
	))

	rl := middleware.NewRateLimiter(cfg.Rate.RPS, cfg.Rate.Burst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`/stream/`}),
		gzip.WithExcludedExtensions([]string{".png", ".jpg", ".jpeg", ".webp", ".gif"}),
	))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if uploadsPath != "" {
		r.Static(uploadsPath, cfg.Upload.Dir)
	}

	// Dependency injection: services ← repo/db/broker/uploader
	notifications := &services.NotificationService{DB: db, Events: broker}
	directory := services.NewDirectoryService(db, directoryRepoShim{}, broker)
	if err := directory.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("directory index not primed; it fills on the next change")
	}
	go directory.Watch(ctx, broker)

	h := handlers.New(handlers.Deps{
		Recovery:       services.NewRecoveryService(db, broker, notifications),
		Receipts:       services.NewReceiptService(db, up, broker),
		Directory:      directory,
		Notifications:  notifications,
		DB:             db,
		Broker:         broker,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
	h.Mount(groupWithPrefix(r, cfg.APIBasePath))
}

// limitBody caps the request body with http.MaxBytesReader: multipart
// uploads get multipartBytes, everything else maxBytes. Reads past the cap
// fail downstream.
func limitBody(maxBytes, multipartBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := maxBytes
		if strings.HasPrefix(c.ContentType(), "multipart/") && multipartBytes > maxBytes {
			limit = multipartBytes
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
