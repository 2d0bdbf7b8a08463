package database

import (
	"fmt"
	"os"
	"path/filepath"

	"wplaunch/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(dbPath string, log *zap.Logger) error {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	var err error
	DB, err = Open(dbPath)
	if err != nil {
		return err
	}

	log.Info("migrating database", zap.String("path", dbPath))
	return Migrate(DB)
}

func Open(dbPath string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Job{}, &models.Credential{})
}
