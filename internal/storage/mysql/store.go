// Package mysql содержит реализацию durable-хранилища на MySQL через gorm.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	drv "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultConnTimeout  = 5 * time.Second
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 25
	defaultConnLifetime = 30 * time.Minute

	opTimeout = 5 * time.Second

	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// Store держит gorm-подключение к MySQL.
type Store struct {
	db *gorm.DB
}

// Open разбирает DSN, включает parseTime/UTC и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := drv.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := gorm.Open(gormmysql.Open(cfg.FormatDSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql raw db: %w", err)
	}
	sqlDB.SetMaxOpenConns(defaultMaxOpenConns)
	sqlDB.SetMaxIdleConns(defaultMaxIdleConns)
	sqlDB.SetConnMaxLifetime(defaultConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает gorm-подключение.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AutoMigrate создаёт или дополняет таблицы products, orders и outbox_messages.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("mysql store is not initialized")
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&productModel{}, &orderModel{}, &outboxModel{}); err != nil {
		return fmt.Errorf("mysql auto migrate: %w", err)
	}
	return nil
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("mysql store is not initialized")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

// Close закрывает пул соединений.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
