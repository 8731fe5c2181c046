// =============================
// File: internal/dex/dex.go
// =============================
package dex

import (
	"context"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

// OperationType defines a CLMM operation type.
type OperationType string

const (
	OperationOpenWithLiquidity OperationType = "open_with_liquidity"
	OperationAddLiquidity      OperationType = "add_liquidity"
	OperationRemoveLiquidity   OperationType = "remove_liquidity"
	OperationCollectFees       OperationType = "collect_fees"
	OperationCollectRewards    OperationType = "collect_rewards"
	OperationCollectAll        OperationType = "collect_all"
	OperationClose             OperationType = "close"
)

// OpState — наблюдаемые состояния многошаговой операции.
type OpState string

const (
	StateAttempted OpState = "attempted" // combined call issued
	StateFallback  OpState = "fallback"  // combined call rejected, step sequence running
	StateSettled   OpState = "settled"
)

// CallStep — один он-чейн вызов: набор инструкций плюс дополнительные
// подписанты (например, keypair минта позиции).
type CallStep struct {
	Label        string
	Instructions []solana.Instruction
	Signers      []solana.PrivateKey
}

// StepReceipt — итог исполнения одного шага.
type StepReceipt struct {
	Signature       string
	Logs            []string
	CreatedAccounts []solana.PublicKey
}

// Executor подписывает и отправляет шаги операции. Ядро никогда не касается
// приватных ключей напрямую — это граница кошелька.
type Executor interface {
	ExecuteStep(ctx context.Context, step *CallStep) (*StepReceipt, error)
}

// StepOutcome фиксирует результат шага для наблюдаемости fallback-пути.
type StepOutcome struct {
	Label     string
	Signature string
	Err       string
}

// ExecResult — итог операции адаптера.
type ExecResult struct {
	Success bool
	Digest  string // подпись последней транзакции; "" для no-op
	// NoOp выставляется, когда операция корректно ничего не сделала
	// (например, нет наград к выводу). Это не ошибка.
	NoOp bool
	// Fallback выставляется, если комбинированный вызов был отклонён и
	// операция прошла по многошаговому пути.
	Fallback bool
	State    OpState
	Steps    []StepOutcome
	// PositionID заполняется операциями, создающими позицию.
	PositionID solana.PublicKey
}

// OpenRequest — параметры открытия позиции с ликвидностью.
type OpenRequest struct {
	AmountA    *big.Int
	AmountB    *big.Int
	MinAmountA *big.Int
	MinAmountB *big.Int
	Liquidity  *big.Int
}

// CloseOptions управляет политикой закрытия позиции.
type CloseOptions struct {
	// CollectFirst — перед закрытием попытаться собрать комиссии и награды.
	CollectFirst bool
	// TolerateClaimFailure — неудача сбора логируется и не блокирует закрытие.
	TolerateClaimFailure bool
	// Slippage применяется к minAmount при снятии остаточной ликвидности.
	Slippage types.Percentage
}

// Adapter — единый интерфейс для работы с различными CLMM-протоколами.
type Adapter interface {
	// Name возвращает название протокола.
	Name() string
	// Protocol возвращает идентификатор протокола.
	Protocol() types.Protocol

	// GetPool читает и нормализует состояние пула.
	GetPool(ctx context.Context, id solana.PublicKey) (*types.Pool, error)
	// GetPosition читает позицию; nil без ошибки, если аккаунт не существует.
	GetPosition(ctx context.Context, id solana.PublicKey) (*types.Position, error)
	// ListPositions возвращает сырые позиции владельца (включая нулевую
	// ликвидность — фильтрация происходит в агрегаторе).
	ListPositions(ctx context.Context, owner solana.PublicKey) ([]*types.Position, error)

	// OpenPositionWithLiquidity пытается выполнить комбинированный вызов
	// open+add; при отклонении переходит на документированный двухшаговый
	// fallback (open, затем add по извлечённому идентификатору).
	OpenPositionWithLiquidity(ctx context.Context, pool *types.Pool, rng types.TickRange, req OpenRequest) (*ExecResult, error)
	// AddLiquidity доливает ликвидность в существующую позицию.
	AddLiquidity(ctx context.Context, position *types.Position, req OpenRequest) (*ExecResult, error)
	// RemoveLiquidity снимает percent (0..100] от текущей ликвидности;
	// комиссии выметаются тем же вызовом.
	RemoveLiquidity(ctx context.Context, position *types.Position, percent uint8, slippage types.Percentage) (*ExecResult, error)
	// CollectFees собирает накопленные комиссии.
	CollectFees(ctx context.Context, position *types.Position) (*ExecResult, error)
	// CollectRewards собирает награды; при нулевых начислениях возвращает
	// no-op без он-чейн вызова.
	CollectRewards(ctx context.Context, position *types.Position) (*ExecResult, error)
	// CollectFeesAndRewards пытается один комбинированный вызов, при
	// неудаче — последовательный fallback fees → rewards.
	CollectFeesAndRewards(ctx context.Context, position *types.Position) (*ExecResult, error)
	// ClosePosition закрывает позицию по документированному пути:
	// (collect) → remove 100% → close. Закрытие уже закрытой позиции —
	// идемпотентный успех.
	ClosePosition(ctx context.Context, position *types.Position, opts CloseOptions) (*ExecResult, error)
}
