package prefs

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// entry is one persisted preference.
type entry struct {
	Name      string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (entry) TableName() string { return "preferences" }

// DB persists preferences in their own SQLite file through gorm, so they
// are unaffected when the record store is detached and reattached.
type DB struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenDB opens (or creates) the preferences database at dsn.
func OpenDB(dsn string, lg *slog.Logger) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open preferences: empty dsn")
	}
	if lg == nil {
		lg = slog.Default()
	}
	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		log.New(os.Stderr, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("open preferences: %w", err)
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrate preferences: %w", err)
	}
	return &DB{db: db, logger: lg}, nil
}

// Close releases the underlying connection.
func (p *DB) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *DB) Bool(key string) bool {
	return parseBool(p.String(key))
}

func (p *DB) SetBool(key string, v bool) error {
	return p.SetString(key, strconv.FormatBool(v))
}

func (p *DB) String(key string) string {
	var e entry
	err := p.db.Where("name = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ""
	}
	if err != nil {
		p.logger.Warn("preference read failed", "key", key, "error", err)
		return ""
	}
	return e.Value
}

func (p *DB) SetString(key string, v string) error {
	e := entry{Name: key, Value: v, UpdatedAt: time.Now().UTC()}
	err := p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("write preference %s: %w", key, err)
	}
	return nil
}

// ensureDirForSQLite creates the parent dir for a SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create preferences dir %q: %w", dir, err)
	}
	return nil
}
