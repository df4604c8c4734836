package db

import (
	"fmt"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/mas-assistant/internal/chat"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// IsSQLite reports whether dsn names a sqlite database rather than MySQL.
func IsSQLite(dsn string) bool {
	d := strings.ToLower(strings.TrimSpace(dsn))
	return d == ":memory:" ||
		strings.HasPrefix(d, "file:") ||
		strings.HasSuffix(d, ".db") ||
		strings.HasSuffix(d, ".sqlite")
}

func dialector(dsn string) gorm.Dialector {
	if IsSQLite(dsn) {
		return gormsqlite.Open(dsn)
	}
	return mysql.Open(dsn)
}

// Connect opens the database. MySQL connections get a bounded pool.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if IsSQLite(dsn) {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}

// Migrate creates or updates every table the service uses.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(chat.Models()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
