package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Value is one persisted session entry.
type Value struct {
	UpdatedAt time.Time
	SessionID string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"column:name;primaryKey;size:64"`
	Value     string `gorm:"type:text;not null"`
}

// TableName overrides the gorm default.
func (Value) TableName() string { return "session_values" }

// Dialect selects the SQL driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DBConfig holds the database configuration.
type DBConfig struct {
	Logger  *slog.Logger
	Dialect Dialect
	// DSN is a file path for sqlite or a libpq connection string for postgres.
	DSN string
}

// NewDB opens the session database and runs migrations.
func NewDB(cfg *DBConfig) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.New("database config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DSN == "" {
		return nil, errors.New("database DSN cannot be empty")
	}

	var dialector gorm.Dialector
	switch cfg.Dialect {
	case DialectSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case DialectPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported session database dialect %q", cfg.Dialect)
	}

	cfg.Logger.Info("connecting to session database", "dialect", cfg.Dialect)
	return openDB(dialector, cfg)
}

// openDB opens dialector and migrates it. The connection pool is closed
// again if any step after opening fails.
func openDB(dialector gorm.Dialector, cfg *DBConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Dialect == DialectSQLite {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *gorm.DB, logger *slog.Logger) error {
	logger.Debug("running session migrations")
	if err := db.AutoMigrate(&Value{}); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// CloseDB closes the database connection.
func CloseDB(db *gorm.DB, logger *slog.Logger) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	logger.Info("closing session database")
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)

// SQLStore persists sessions in the session_values table.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSQLStore wraps an open database. Close closes the database.
func NewSQLStore(db *gorm.DB, logger *slog.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &SQLStore{db: db, logger: logger}, nil
}

func (s *SQLStore) Get(ctx context.Context, sid, key string) (string, error) {
	if err := validate(sid, key); err != nil {
		return "", err
	}

	var v Value
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND name = ?", sid, key).
		Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session value: %w", err)
	}
	return v.Value, nil
}

func (s *SQLStore) Set(ctx context.Context, sid, key, value string) error {
	if err := validate(sid, key); err != nil {
		return err
	}

	row := Value{SessionID: sid, Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write session value: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, sid, key string) error {
	if err := validate(sid, key); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND name = ?", sid, key).
		Delete(&Value{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete session value: %w", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context, sid string) error {
	if sid == "" {
		return errEmptySessionID
	}
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sid).
		Delete(&Value{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return CloseDB(s.db, s.logger)
}
