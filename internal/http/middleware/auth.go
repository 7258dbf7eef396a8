package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/sysutil"
)

// Development identity headers, honoured only with AuthOptions.DevHeaders.
const (
	HeaderUserID           = "X-User-ID"
	HeaderUserName         = "X-User-Name"
	HeaderUserRole         = "X-User-Role"
	HeaderUserEmployeeType = "X-User-Employee-Type"
	HeaderUserCompanyID    = "X-User-Company-ID"
)

const (
	ctxKeyUser   = "auth.user"
	ctxKeyUserID = "userID"
)

var errNoIdentity = errors.New("no identity")

// Claims is the bearer-token payload. Subject carries the user id.
type Claims struct {
	Name         string `json:"name,omitempty"`
	Role         string `json:"role"`
	EmployeeType string `json:"employee_type,omitempty"`
	CompanyID    string `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	// Secret is the HS256 key. Tokens are rejected when empty.
	Secret []byte
	// DevHeaders accepts X-User-* headers when no bearer token is sent.
	DevHeaders bool
	// Skip lists path prefixes served without identity (health, metrics, docs).
	Skip []string
}

// Authenticate resolves the caller from an HS256 bearer token (or, in
// development, from X-User-* headers) and stores it in the context. Requests
// without a usable identity get 401.
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range opts.Skip {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}

		u, err := identify(c.Request, opts)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    err.Error(),
			})
			return
		}
		c.Set(ctxKeyUser, u)
		c.Set(ctxKeyUserID, u.ID)
		c.Next()
	}
}

func identify(r *http.Request, opts AuthOptions) (domain.User, error) {
	if raw, ok := bearer(r.Header.Get("Authorization")); ok {
		return parseToken(raw, opts.Secret)
	}
	if opts.DevHeaders {
		u := domain.User{
			ID:           strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role:         strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
			EmployeeType: strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserEmployeeType))),
			CompanyID:    strings.TrimSpace(r.Header.Get(HeaderUserCompanyID)),
		}
		u.FullName = sysutil.FirstNonEmpty(strings.TrimSpace(r.Header.Get(HeaderUserName)), u.ID)
		if u.ID != "" {
			return u, nil
		}
	}
	return domain.User{}, errNoIdentity
}

func bearer(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

func parseToken(raw string, secret []byte) (domain.User, error) {
	if len(secret) == 0 {
		return domain.User{}, errors.New("bearer tokens are not accepted")
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.User{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return domain.User{}, errors.New("token has no subject")
	}
	return domain.User{
		ID:           claims.Subject,
		FullName:     sysutil.FirstNonEmpty(claims.Name, claims.Subject),
		Role:         strings.ToLower(claims.Role),
		EmployeeType: strings.ToLower(claims.EmployeeType),
		CompanyID:    claims.CompanyID,
	}, nil
}

// IssueToken signs an HS256 token for u valid for ttl.
func IssueToken(secret []byte, u domain.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:         u.FullName,
		Role:         u.Role,
		EmployeeType: u.EmployeeType,
		CompanyID:    u.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// UserFrom returns the identity stored by Authenticate.
func UserFrom(c *gin.Context) (domain.User, bool) {
	v, ok := c.Get(ctxKeyUser)
	if !ok {
		return domain.User{}, false
	}
	u, ok := v.(domain.User)
	return u, ok
}
