package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the tool's own log file.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config configures the supervisor's own structured log output. When Path is
// set, log lines go to a rotating file with lumberjack semantics; otherwise
// colored text goes to stderr.
type Config struct {
	Level      string `json:"level" mapstructure:"level"`
	Path       string `json:"path" mapstructure:"path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Setup installs the process-wide slog default according to c.
func Setup(c Config) {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	var h slog.Handler
	if c.Path != "" {
		w := &lj.Logger{
			Filename:   c.Path,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		h = slog.NewTextHandler(w, opts)
	} else {
		h = NewColorTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SlotWriters opens append-mode stdout/stderr files for a slot's child
// process under dir: <dir>/<slot>.stdout.log and <dir>/<slot>.stderr.log.
// Plain files rather than pipes: the descriptors are inherited by the
// detached child, so its output keeps flowing after the supervising
// invocation exits. Returns (nil, nil, nil) when dir is empty.
func SlotWriters(dir, slot string) (*os.File, *os.File, error) {
	if dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	out, err := openAppend(filepath.Join(dir, fmt.Sprintf("%s.stdout.log", slot)))
	if err != nil {
		return nil, nil, err
	}
	errF, err := openAppend(filepath.Join(dir, fmt.Sprintf("%s.stderr.log", slot)))
	if err != nil {
		_ = out.Close()
		return nil, nil, err
	}
	return out, errF, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}
