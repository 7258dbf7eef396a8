package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-recovery-backend/internal/domain"
)

func lastLogLine(t *testing.T, s string) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(s), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("decode log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestRedactingLogger_ScrubsQueryAndHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.Use(func(c *gin.Context) {
		c.Set(ctxKeyUser, domain.User{ID: "u-1", Role: domain.RoleCaissier})
		c.Next()
	})
	r.GET("/chauffeurs/:id", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("inside")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet,
		"/chauffeurs/6f1c1e1a-9b7d-4c55-8a0e-2d3c4b5a6f70?q=0550+12+34+56&mail=karim@example.com", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Api-Key", "k")
	req.Header.Set("X-Note", "call 0550 12 34 56")
	req.Header.Set(requestIDHeader, "rid-9")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, leak := range []string{"0550", "karim@example.com", "Bearer secret"} {
		if strings.Contains(out, leak) {
			t.Fatalf("log leaks %q: %s", leak, out)
		}
	}
	if !strings.Contains(out, `"message":"inside"`) || !strings.Contains(out, `"request_id":"rid-9"`) {
		t.Fatalf("request-scoped logger not attached: %s", out)
	}

	m := lastLogLine(t, out)
	if m["path"] != "/chauffeurs/:id" || m["level"] != "info" || m["user_id"] != "u-1" || m["role"] != "caissier" {
		t.Fatalf("unexpected access log: %v", m)
	}
	headers, _ := m["headers"].(map[string]any)
	if headers["Authorization"] != "[REDACTED]" || headers["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("headers not masked: %v", headers)
	}
}

func TestRedactingLogger_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/err", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	for path, level := range map[string]string{"/warn": "warn", "/err": "error", "/nope": "warn"} {
		buf.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		if got := lastLogLine(t, buf.String())["level"]; got != level {
			t.Fatalf("%s: level=%v want %s", path, got, level)
		}
	}
}

func TestRedact(t *testing.T) {
	cases := map[string]string{
		"":                                     "",
		"page=2&page_size=20":                  "page=2&page_size=20",
		"ref=DCP%2F25%2F03%2F0042":             "ref=DCP%2F25%2F03%2F0042",
		"a@b.io":                               "[REDACTED:email]",
		"6f1c1e1a-9b7d-4c55-8a0e-2d3c4b5a6f70": "[REDACTED:id]",
		"tel=+213 550 12 34 56":                "tel=+[REDACTED:phone]",
	}
	for in, want := range cases {
		if got := redact(in); got != want {
			t.Fatalf("redact(%q) = %q, want %q", in, got, want)
		}
	}
}
