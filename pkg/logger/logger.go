package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger
type Logger struct {
	zerolog.Logger
}

// New creates the service logger. Development gets a console writer at
// debug level, everything else gets JSON lines at info. A non-empty level
// overrides the environment default.
func New(serviceName, environment, level string) *Logger {
	var output io.Writer = os.Stdout
	lvl := zerolog.InfoLevel

	if environment == "development" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		lvl = zerolog.DebugLevel
	}

	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}

	return newLogger(output, lvl, serviceName)
}

func newLogger(w io.Writer, lvl zerolog.Level, serviceName string) *Logger {
	return &Logger{Logger: zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithComponent returns a logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("component", component).Logger(),
	}
}

// WithStockKey returns a logger scoped to one (branch, material) pair
func (l *Logger) WithStockKey(branchID, materialID string) *Logger {
	return &Logger{
		Logger: l.Logger.With().
			Str("branch_id", branchID).
			Str("material_id", materialID).
			Logger(),
	}
}
