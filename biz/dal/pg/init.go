package pg

import (
	"context"
	"fmt"

	"kes-wallet/biz/model"
	"kes-wallet/conf"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var PostgresClient *pgxpool.Pool
var GormDB *gorm.DB

func Init() {
	pgConf := conf.GetConf().Postgres
	// 初始化 Postgres 连接池，供清扫任务的原生查询使用
	pool, err := pgxpool.New(context.Background(), pgConf.DSN)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to postgres: %v", err))
	}
	if err := pool.Ping(context.Background()); err != nil {
		panic(fmt.Sprintf("failed to ping postgres: %v", err))
	}
	PostgresClient = pool

	if err := InitGorm(pgConf.DSN); err != nil {
		panic(fmt.Sprintf("failed to init gorm: %v", err))
	}
	if err := AutoMigrate(GormDB); err != nil {
		panic(fmt.Sprintf("failed to auto migrate: %v", err))
	}
}

func InitGorm(dsn string) error {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return err
	}
	GormDB = db
	return nil
}

func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	return db.AutoMigrate(
		&model.WalletBalance{},
		&model.AssetHolding{},
		&model.TradeIntent{},
		&model.PendingPayment{},
		&model.OrphanCallback{},
		&model.CopyConfiguration{},
		&model.SignalSubscription{},
		&model.FanoutOutcome{},
		&model.OutboxEvent{},
	)
}

func GetPool() *pgxpool.Pool {
	if PostgresClient == nil {
		panic("PostgresClient未初始化，请先调用 pg.Init()")
	}
	return PostgresClient
}

func Close() {
	if PostgresClient != nil {
		PostgresClient.Close()
	}
	if GormDB != nil {
		if sqlDB, err := GormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
