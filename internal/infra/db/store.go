package db

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"decertify/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		log.Printf("POSTGRES_DSN not set; starting with in-memory repositories.")
		return &Store{DB: nil}, nil
	}
	gdb, err := Open(cfg.PostgresDSN, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return &Store{DB: gdb}, nil
}

func Open(dsn, level string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(level)),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return gdb, nil
}

// Migrate creates or updates the issuance tables.
func (s *Store) Migrate(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.DB.WithContext(ctx).AutoMigrate(
		&CertificateRequestModel{},
		&DocumentBlobModel{},
		&IssuanceEventModel{},
	)
}

func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.Info
	case "warn", "warning":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent", "off":
		return logger.Silent
	default:
		return logger.Warn
	}
}
