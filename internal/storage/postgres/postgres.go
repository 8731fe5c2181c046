// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/clmm-manager/internal/storage"
	"github.com/rovshanmuradov/clmm-manager/internal/storage/models"
)

// gormLogger реализует интерфейс logger.Interface для GORM
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

// postgresStorage реализует интерфейс Storage
type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	gormLogger := newGormLogger(zapLogger.Named("gorm"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Настройка пула соединений
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

func (p *postgresStorage) RunMigrations() error {
	// Сначала попробуем получить блокировку
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(101)")

	err = p.db.AutoMigrate(
		&models.OperationRecord{},
		&models.PositionSnapshot{},
		&models.PoolInfo{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (p *postgresStorage) SaveOperation(ctx context.Context, op *models.OperationRecord) error {
	return p.db.WithContext(ctx).Create(op).Error
}

func (p *postgresStorage) ListOperations(ctx context.Context, walletAddress string, limit, offset int) ([]*models.OperationRecord, error) {
	var ops []*models.OperationRecord
	err := p.db.WithContext(ctx).
		Where("wallet_address = ?", walletAddress).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&ops).Error
	return ops, err
}

// ReplaceSnapshot пишет новый снимок и удаляет предыдущий в одной
// транзакции: читатели либо видят старый граф, либо новый, но не смесь.
func (p *postgresStorage) ReplaceSnapshot(ctx context.Context, walletAddress string, rows []*models.PositionSnapshot) error {
	refreshID := uuid.New().String()
	for _, row := range rows {
		row.RefreshID = refreshID
		row.WalletAddress = walletAddress
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.Create(rows).Error; err != nil {
				return err
			}
		}
		return tx.
			Where("wallet_address = ? AND refresh_id <> ?", walletAddress, refreshID).
			Delete(&models.PositionSnapshot{}).Error
	})
}

func (p *postgresStorage) GetLatestSnapshot(ctx context.Context, walletAddress string) ([]*models.PositionSnapshot, error) {
	var rows []*models.PositionSnapshot
	err := p.db.WithContext(ctx).
		Where("wallet_address = ?", walletAddress).
		Order("fetched_at desc").
		Find(&rows).Error
	return rows, err
}

// SavePoolInfo — upsert по pool_id: кэш обновляется при каждом чтении пула.
func (p *postgresStorage) SavePoolInfo(ctx context.Context, info *models.PoolInfo) error {
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "pool_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"token_a_sym", "token_b_sym", "tick_spacing", "fee_rate", "last_update", "updated_at",
			}),
		}).
		Create(info).Error
}

func (p *postgresStorage) GetPoolInfo(ctx context.Context, poolID string) (*models.PoolInfo, error) {
	var info models.PoolInfo
	err := p.db.WithContext(ctx).Where("pool_id = ?", poolID).First(&info).Error
	if err != nil {
		return nil, err
	}
	return &info, nil
}
