package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns the process-wide JSON logger. Everything goes to stdout;
// the platform's log drain picks it up from there.
func NewLogger(environment string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("env", environment).
		Logger()
}
