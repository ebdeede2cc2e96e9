package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/camden-git/albumconverter/config"
	"github.com/camden-git/albumconverter/database"
	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/media"
	"github.com/camden-git/albumconverter/realtime"
	"github.com/camden-git/albumconverter/repository"
	"github.com/camden-git/albumconverter/services"
	"go.uber.org/zap"
)

// app holds the storage and services shared by every subcommand.
type app struct {
	sqlDB      *sql.DB
	store      *media.LocalStorage
	hub        *realtime.Hub
	albums     *services.AlbumService
	conversion *services.ConversionService
	retention  *services.RetentionService
	auth       *services.AuthService
}

func newApp(cfg config.Config) (*app, error) {
	storagePaths := []string{cfg.AlbumsPath, filepath.Dir(cfg.DatabasePath)}
	for _, p := range storagePaths {
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", p, err)
		}
	}

	db, err := database.Open(cfg.DatabasePath, cfg.DBLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB from gorm: %w", err)
	}

	store, err := media.NewLocalStorage(cfg.AlbumsPath)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize album store: %w", err)
	}

	albumRepo := repository.NewAlbumRepository(db)
	hub := realtime.NewHub(cfg.CORSAllowedOrigins)
	albumSvc := services.NewAlbumService(albumRepo, sqlDB, store, hub)
	resizer := media.NewResizer(cfg.MaxWidth, cfg.MaxHeight, cfg.JPEGQuality)

	a := &app{
		sqlDB:      sqlDB,
		store:      store,
		hub:        hub,
		albums:     albumSvc,
		conversion: services.NewConversionService(albumRepo, sqlDB, store, resizer, hub),
		retention:  services.NewRetentionService(albumRepo, albumSvc, store),
		auth:       services.NewAuthService(repository.NewGormUserRepository(db), cfg.JWTSecret, cfg.SessionTTL),
	}

	logger.Info("storage ready",
		zap.String("albums", cfg.AlbumsPath),
		zap.String("database", cfg.DatabasePath))
	return a, nil
}

func (a *app) Close() {
	if err := a.sqlDB.Close(); err != nil {
		logger.Warn("failed to close database", zap.Error(err))
	}
}
