// Package hublog provides the structured logger shared by every KohakuHub
// component. It centralizes level/format configuration and output stream
// routing so commit pipeline, LFS, Git bridge and HTTP layers all log the
// same shape of line.
package hublog

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Level is one of the standard severities recognized by Config.Level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config controls how New builds a logger.
type Config struct {
	Level      Level
	Format     string // "json" or "text"
	Service    string // always "kohakuhub"
	Version    string
	AddCaller  bool
	TimeFormat string
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     "text",
		Service:    "kohakuhub",
		TimeFormat: time.RFC3339,
	}
}

// New builds a logrus.Logger configured per cfg, with error-level records
// routed to stderr and everything else to stdout via OutputSplitter.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: cfg.TimeFormat,
			FullTimestamp:   true,
		})
	}

	logger.SetReportCaller(cfg.AddCaller)
	logger.SetOutput(&OutputSplitter{})

	fields := logrus.Fields{"service": cfg.Service}
	if cfg.Version != "" {
		fields["version"] = cfg.Version
	}
	return logger.WithFields(fields).Logger
}

// RequestFields builds the standard field set attached to every HTTP access
// log line: method, path, identity, repo, duration, outcome.
func RequestFields(method, path, identity, repo string, duration time.Duration, outcome string) logrus.Fields {
	return logrus.Fields{
		"method":      method,
		"path":        path,
		"identity":    identity,
		"repo":        repo,
		"duration_ms": duration.Milliseconds(),
		"outcome":     outcome,
	}
}
