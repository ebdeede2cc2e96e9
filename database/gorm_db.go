package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/models"
)

func gormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// withSQLiteOptions makes every pooled connection wait on a locked database
// instead of failing immediately, and turns on WAL.
func withSQLiteOptions(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") || dsn == ":memory:" {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL"
}

// InitGormDB initializes and returns a GORM database instance
func InitGormDB(dataSourceName, logLevel string) (*gorm.DB, error) {
	gormLogger := gormlogger.New(
		logger.Std("gorm: "),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogLevel(logLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(withSQLiteOptions(dataSourceName)), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Info("database initialized", zap.String("path", dataSourceName))
	return db, nil
}

// AutoMigrateModels migrates the GORM-managed tables and creates the raw
// conversion_jobs table alongside them.
func AutoMigrateModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Album{},
		&models.User{},
	)
	if err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	if err := InitJobsSchema(sqlDB); err != nil {
		return err
	}

	logger.Info("database migration completed")
	return nil
}

// Open is InitGormDB followed by AutoMigrateModels, closing the pool on failure.
func Open(dataSourceName, logLevel string) (*gorm.DB, error) {
	db, err := InitGormDB(dataSourceName, logLevel)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrateModels(db); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return db, nil
}
