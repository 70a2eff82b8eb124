// Package logger — структурированное логирование storefront на zerolog.
// В production пишет JSON, при LOG_PRETTY=true использует ConsoleWriter.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log — глобальный логгер процесса, перенастраивается через Init.
var log zerolog.Logger

// Config — параметры инициализации.
type Config struct {
	Level  string    // debug | info | warn | error (по умолчанию info)
	Pretty bool      // человекочитаемый вывод для разработки
	Output io.Writer // по умолчанию os.Stdout
}

func init() {
	// До вызова Init логгер уже должен работать: его используют тесты и CLI.
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	Init(Config{
		Level:  level,
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init настраивает глобальный логгер. Вызывается первым делом в main.
func Init(cfg Config) {
	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := parseLevel(cfg.Level)

	log = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug — отладочные подробности.
func Debug() *zerolog.Event { return log.Debug() }

// Info — штатные события.
func Info() *zerolog.Event { return log.Info() }

// Warn — подозрительные, но не фатальные ситуации.
func Warn() *zerolog.Event { return log.Warn() }

// Error — ошибки, после которых процесс продолжает работу.
func Error() *zerolog.Event { return log.Error() }

// Fatal пишет сообщение и завершает процесс с кодом 1.
func Fatal() *zerolog.Event { return log.Fatal() }

// With возвращает контекст для дочернего логгера с постоянными полями.
//
//	reaperLog := logger.With().Str("component", "reaper").Logger()
func With() zerolog.Context { return log.With() }

// Logger возвращает копию глобального логгера.
func Logger() zerolog.Logger { return log }

// SetGlobalLogger подменяет глобальный логгер (используется в тестах).
func SetGlobalLogger(l zerolog.Logger) { log = l }
