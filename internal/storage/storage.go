// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/rovshanmuradov/clmm-manager/internal/storage/models"
)

// Storage определяет интерфейс для работы с хранилищем
type Storage interface {
	// Журнал операций
	SaveOperation(ctx context.Context, op *models.OperationRecord) error
	ListOperations(ctx context.Context, walletAddress string, limit, offset int) ([]*models.OperationRecord, error)

	// Снимки портфеля: запись заменяет предыдущий снимок кошелька целиком.
	ReplaceSnapshot(ctx context.Context, walletAddress string, rows []*models.PositionSnapshot) error
	GetLatestSnapshot(ctx context.Context, walletAddress string) ([]*models.PositionSnapshot, error)

	// Кеш пулов
	SavePoolInfo(ctx context.Context, info *models.PoolInfo) error
	GetPoolInfo(ctx context.Context, poolID string) (*models.PoolInfo, error)

	RunMigrations() error
}
