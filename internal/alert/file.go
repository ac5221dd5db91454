package alert

import (
	"context"
	"fmt"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for the alert log file.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 30
)

// FileSink appends events as single text lines to a rotating log file.
// Rotation follows lumberjack semantics.
type FileSink struct {
	mu sync.Mutex
	w  *lj.Logger
}

// FileConfig describes the alert log destination.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func NewFileSink(cfg FileConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("alert file sink requires a path")
	}
	return &FileSink{w: &lj.Logger{
		Filename:   cfg.Path,
		MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   cfg.Compress,
	}}, nil
}

func (s *FileSink) Send(_ context.Context, e Event) error {
	line := fmt.Sprintf("%s [%s] %s: %s\n",
		e.OccurredAt.Format("2006-01-02 15:04:05"), e.Severity, e.Service, e.Message)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write([]byte(line))
	return err
}

func (s *FileSink) Close() error { return s.w.Close() }

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
