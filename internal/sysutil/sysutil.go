// Package sysutil holds process-level helpers shared by the server entrypoint
// and the HTTP layer.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel sets the global zerolog level from a case-insensitive name.
// "warning" is accepted for warn; blank or unknown names fall back to info.
func SetLogLevel(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// SetupLogger sets the global level and replaces the global logger. Pretty
// output goes through a console writer; otherwise JSON lines are written to w
// (stdout when nil).
func SetupLogger(level string, pretty bool, w io.Writer) zerolog.Logger {
	SetLogLevel(level)
	if w == nil {
		w = os.Stdout
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(w).With().Timestamp().Str("service", "go-recovery-backend").Logger()
	log.Logger = l
	return l
}

// IsTruthy accepts the usual spellings of an enabled flag in query strings:
// 1, true, yes, y and on, ignoring case and surrounding blanks.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// FirstNonEmpty returns the first value that is not blank, unmodified.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
