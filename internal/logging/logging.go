// Package logging provides structured JSON loggers for mesh components.
// Every engine logs through a component-scoped zerolog.Logger carrying the
// component name and workspace ID on each event, so downstream log tooling
// can slice by component without parsing message text.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var output io.Writer = os.Stderr

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.DurationFieldUnit = time.Millisecond
}

// SetOutput redirects all loggers created afterwards. Used by tests.
func SetOutput(w io.Writer) {
	output = w
}

// New returns a logger scoped to one mesh component and workspace.
func New(component, workspaceID string) zerolog.Logger {
	return zerolog.New(output).With().
		Timestamp().
		Str("component", component).
		Str("workspace", workspaceID).
		Logger().Level(levelFromEnv())
}

// levelFromEnv reads MESH_LOG_LEVEL (debug, info, warn, error).
// Defaults to info.
func levelFromEnv() zerolog.Level {
	switch strings.ToLower(os.Getenv("MESH_LOG_LEVEL")) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
