package db

import (
	"context"
	"time"

	"storefront/internal/domain/model"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect はDBに接続して *gorm.DB を返す。起動直後でDBがまだ立っていないこともあるので再試行する。
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*gorm.DB, error) {
	var gdb *gorm.DB

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second

	op := func() error {
		opened, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return err
		}
		sqlDB, err := opened.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return err
		}
		gdb = opened
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("database not ready", zap.Error(err), zap.Duration("retry_in", wait))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, errors.Wrap(err, "connect database")
	}
	return gdb, nil
}

// Migrate はテーブルを作成・更新する。
func Migrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&model.User{},
		&model.Product{},
		&model.Order{},
		&model.OrderItem{},
		&model.InventoryAdjustment{},
		&model.AuditLog{},
	)
	return errors.Wrap(err, "auto migrate")
}
