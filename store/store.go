// Package store owns the relational records behind the pipeline: users,
// conversations, messages, agent configuration, delivery jobs and metrics.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// ErrDuplicateEvent reports that an inbound platform event with the same
	// (platform, platform_message_id) pair was already admitted.
	ErrDuplicateEvent = errors.New("duplicate platform event")

	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition reports a delivery job state change that would
	// violate the forward-only transition rules.
	ErrInvalidTransition = errors.New("invalid job transition")
)

type Config struct {
	DSN           string
	BusyTimeoutMs int
	AutoMigrate   bool
}

func DefaultConfig() Config {
	return Config{
		BusyTimeoutMs: 5000,
		AutoMigrate:   true,
	}
}

type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func Open(cfg Config, opts ...Option) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("store dsn is required")
	}
	if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, ":memory:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	busy := cfg.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}
	if !strings.Contains(dsn, "?") {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", dsn, busy)
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: gdb, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.AutoMigrate {
		if err := AutoMigrate(gdb); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return s, nil
}

func AutoMigrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	return gdb.AutoMigrate(
		&User{},
		&Conversation{},
		&Message{},
		&AgentConfig{},
		&DeliveryJob{},
		&MetricEvent{},
	)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isBusy reports sqlite lock contention, which warrants a short retry.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry retries fn a few times when sqlite reports lock contention.
func withBusyRetry(fn func() error) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(50*(i+1)) * time.Millisecond)
	}
	return err
}
