// internal/transaction/executor.go
package transaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/clmm-manager/internal/blockchain"
	"github.com/rovshanmuradov/clmm-manager/internal/dex"
	"github.com/rovshanmuradov/clmm-manager/internal/types"
	"github.com/rovshanmuradov/clmm-manager/internal/wallet"
)

// Config — параметры исполнения транзакций.
type Config struct {
	PriorityLevel types.PriorityLevel
	Commitment    rpc.CommitmentType
	SkipPreflight bool
	// Simulate включает локальную симуляцию перед отправкой: программные
	// ошибки ловятся до оплаты комиссии сети.
	Simulate bool
}

func DefaultConfig() Config {
	return Config{
		PriorityLevel: types.PriorityMedium,
		Commitment:    rpc.CommitmentConfirmed,
		SkipPreflight: false,
		Simulate:      true,
	}
}

// Executor — единственная граница, где операции превращаются в подписанные
// транзакции. Адаптеры строят инструкции, но не касаются ни ключей, ни сети.
type Executor struct {
	client   blockchain.Client
	wallet   *wallet.Wallet
	priority *types.PriorityManager
	logger   *zap.Logger
	config   Config
}

var _ dex.Executor = (*Executor)(nil)

func NewExecutor(client blockchain.Client, w *wallet.Wallet, logger *zap.Logger, config Config) (*Executor, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if w == nil {
		return nil, fmt.Errorf("wallet cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Executor{
		client:   client,
		wallet:   w,
		priority: types.NewPriorityManager(logger),
		logger:   logger.Named("executor"),
		config:   config,
	}, nil
}

// ExecuteStep собирает, подписывает, отправляет транзакцию шага и ждёт её
// подтверждения. Квитанция возвращается только после подтверждения: адаптеры
// опираются на это при последовательных fallback-шагах.
func (e *Executor) ExecuteStep(ctx context.Context, step *dex.CallStep) (*dex.StepReceipt, error) {
	if step == nil || len(step.Instructions) == 0 {
		return nil, fmt.Errorf("step has no instructions")
	}

	blockhash, err := e.client.GetRecentBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get recent blockhash: %w", err)
	}

	priorityIxs, err := e.priority.CreatePriorityInstructions(e.config.PriorityLevel)
	if err != nil {
		return nil, err
	}
	instructions := append(priorityIxs, step.Instructions...)

	tx, err := solana.NewTransaction(
		instructions,
		blockhash,
		solana.TransactionPayer(e.wallet.PublicKey),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction for %s: %w", step.Label, err)
	}

	if err := e.wallet.SignTransaction(tx, step.Signers...); err != nil {
		return nil, fmt.Errorf("sign transaction for %s: %w", step.Label, err)
	}

	if e.config.Simulate {
		sim, err := e.client.SimulateTransaction(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("simulate %s: %w", step.Label, err)
		}
		if sim.Err != nil {
			return nil, programError(step.Label, sim.Err, sim.Logs)
		}
	}

	sig, err := e.client.SendTransactionWithOpts(ctx, tx, blockchain.TransactionOptions{
		SkipPreflight:       e.config.SkipPreflight,
		PreflightCommitment: e.config.Commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", step.Label, err)
	}
	e.logger.Debug("transaction sent",
		zap.String("step", step.Label),
		zap.String("signature", sig.String()))

	if err := e.client.WaitForTransactionConfirmation(ctx, sig, e.config.Commitment); err != nil {
		return nil, fmt.Errorf("confirm %s (%s): %w", step.Label, sig, err)
	}

	result, err := e.client.GetTransactionResult(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("fetch result of %s (%s): %w", step.Label, sig, err)
	}
	if result.Err != nil {
		if ae, ok := parseAnchorLogs(result.Logs); ok {
			e.logger.Warn("program rejected step",
				zap.String("step", step.Label),
				zap.String("error_name", ae.Name),
				zap.String("error_code", ae.hexCode()),
				zap.String("error_message", ae.Msg))
		}
		return nil, programError(step.Label, result.Err, result.Logs)
	}

	e.logger.Info("step settled",
		zap.String("step", step.Label),
		zap.String("signature", sig.String()),
		zap.Int("created_accounts", len(result.CreatedAccounts)))

	return &dex.StepReceipt{
		Signature:       sig.String(),
		Logs:            result.Logs,
		CreatedAccounts: result.CreatedAccounts,
	}, nil
}

// programError сохраняет в тексте ошибки и код, и логи программы: адаптеры
// классифицируют отказы поиском подстрок сигнатур. Если в логах есть запись
// AnchorError, код добавляется ещё и в hex-виде на случай, когда рантайм
// вернул отказ без "custom program error".
func programError(label string, txErr interface{}, logs []string) error {
	if len(logs) == 0 {
		return fmt.Errorf("step %s rejected by program: %v", label, txErr)
	}
	if ae, ok := parseAnchorLogs(logs); ok {
		return fmt.Errorf("step %s rejected by program: %v (%s %s); logs: %s",
			label, txErr, ae.Name, ae.hexCode(), strings.Join(logs, " | "))
	}
	return fmt.Errorf("step %s rejected by program: %v; logs: %s", label, txErr, strings.Join(logs, " | "))
}
