// =============================
// File: internal/dex/whirlpool/adapter.go
// =============================
package whirlpool

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/clmm-manager/internal/blockchain"
	"github.com/rovshanmuradov/clmm-manager/internal/blockchain/solbc"
	"github.com/rovshanmuradov/clmm-manager/internal/clmm/liquidity"
	"github.com/rovshanmuradov/clmm-manager/internal/dex"
	"github.com/rovshanmuradov/clmm-manager/internal/types"
	"github.com/rovshanmuradov/clmm-manager/internal/wallet"
)

// Config — параметры адаптера.
type Config struct {
	MaxStepRetries uint
	RetryDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxStepRetries: 3,
		RetryDelay:     2 * time.Second,
	}
}

// Adapter implements the standard CLMM adapter (Orca Whirlpool).
type Adapter struct {
	client   blockchain.Client
	executor dex.Executor
	wallet   *wallet.Wallet
	metadata *solbc.TokenMetadataCache
	logger   *zap.Logger
	config   Config
	sigs     dex.ErrorSignatures

	// newPositionMint генерирует keypair минта позиции; инжектируется,
	// чтобы тесты получали детерминированные адреса.
	newPositionMint func() solana.PrivateKey
}

// NewAdapter creates a Whirlpool adapter instance.
func NewAdapter(
	client blockchain.Client,
	executor dex.Executor,
	w *wallet.Wallet,
	metadata *solbc.TokenMetadataCache,
	logger *zap.Logger,
	config Config,
) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if w == nil {
		return nil, fmt.Errorf("wallet cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Adapter{
		client:   client,
		executor: executor,
		wallet:   w,
		metadata: metadata,
		logger:   logger.Named("whirlpool"),
		config:   config,
		sigs: dex.ErrorSignatures{
			CombinedRejected: []string{ErrCodeUnsupportedCombined, "InvalidInstructionSequence"},
			AlreadyClosed:    []string{ErrCodeAccountNotInitialized, "AccountNotInitialized", "could not find account"},
			NoRewards:        []string{ErrCodeRewardNotInitialized, "RewardNotInitialized"},
		},
		newPositionMint: func() solana.PrivateKey {
			return solana.NewWallet().PrivateKey
		},
	}, nil
}

func (a *Adapter) Name() string             { return "Whirlpool" }
func (a *Adapter) Protocol() types.Protocol { return types.ProtocolWhirlpool }

////////////////////////////////////////////////////////////////////////////////
// Чтение состояния
////////////////////////////////////////////////////////////////////////////////

func (a *Adapter) fetchPoolAccount(ctx context.Context, id solana.PublicKey) (*PoolAccount, error) {
	info, err := a.client.GetAccountInfo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch whirlpool %s: %w", id, err)
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("whirlpool %s: %w", id, solbc.ErrAccountNotFound)
	}
	return DecodePoolAccount(info.Value.Data.GetBinary())
}

// GetPool читает и нормализует состояние пула.
func (a *Adapter) GetPool(ctx context.Context, id solana.PublicKey) (*types.Pool, error) {
	raw, err := a.fetchPoolAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.normalizePool(ctx, id, raw), nil
}

func (a *Adapter) normalizePool(ctx context.Context, id solana.PublicKey, raw *PoolAccount) *types.Pool {
	return &types.Pool{
		ID:           id,
		Protocol:     types.ProtocolWhirlpool,
		TokenA:       a.tokenInfo(ctx, raw.TokenMintA),
		TokenB:       a.tokenInfo(ctx, raw.TokenMintB),
		TickSpacing:  int32(raw.TickSpacing),
		SqrtPriceX64: raw.SqrtPrice,
		CurrentTick:  raw.TickCurrentIndex,
		FeeRate:      raw.FeeRate,
	}
}

func (a *Adapter) tokenInfo(ctx context.Context, mint solana.PublicKey) types.TokenInfo {
	info := types.TokenInfo{Mint: mint}
	if a.metadata == nil {
		return info
	}
	meta, err := a.metadata.GetTokenMetadata(ctx, a.client, mint)
	if err != nil {
		a.logger.Debug("token metadata unavailable", zap.String("mint", mint.String()), zap.Error(err))
		return info
	}
	info.Symbol = meta.Symbol
	info.Decimals = meta.Decimals
	return info
}

// GetPosition читает позицию; возвращает nil без ошибки для несуществующего аккаунта.
func (a *Adapter) GetPosition(ctx context.Context, id solana.PublicKey) (*types.Position, error) {
	info, err := a.client.GetAccountInfo(ctx, id)
	if err != nil {
		if solbc.IsAccountNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	if info == nil || info.Value == nil {
		return nil, nil
	}
	raw, err := DecodePositionAccount(info.Value.Data.GetBinary())
	if err != nil {
		return nil, err
	}
	return a.normalizePosition(ctx, id, raw)
}

func (a *Adapter) normalizePosition(ctx context.Context, id solana.PublicKey, raw *PositionAccount) (*types.Position, error) {
	pool, err := a.fetchPoolAccount(ctx, raw.Whirlpool)
	if err != nil {
		return nil, err
	}

	pos := &types.Position{
		ID:        id,
		PoolID:    raw.Whirlpool,
		Protocol:  types.ProtocolWhirlpool,
		Range:     types.TickRange{Lower: raw.TickLower, Upper: raw.TickUpper},
		Liquidity: raw.Liquidity,
		State:     types.StateOpen,
		FetchedAt: time.Now(),
	}
	if raw.FeeOwedA > 0 {
		pos.Fees = append(pos.Fees, types.FeeRecord{
			Token: a.tokenInfo(ctx, pool.TokenMintA),
			Owed:  new(big.Int).SetUint64(raw.FeeOwedA),
		})
	}
	if raw.FeeOwedB > 0 {
		pos.Fees = append(pos.Fees, types.FeeRecord{
			Token: a.tokenInfo(ctx, pool.TokenMintB),
			Owed:  new(big.Int).SetUint64(raw.FeeOwedB),
		})
	}
	for i, owed := range raw.RewardsOwed {
		if owed == 0 || !pool.RewardInfos[i].Initialized() {
			continue
		}
		pos.Rewards = append(pos.Rewards, types.RewardRecord{
			Token: a.tokenInfo(ctx, pool.RewardInfos[i].Mint),
			Owed:  new(big.Int).SetUint64(owed),
		})
	}
	return pos, nil
}

// ListPositions возвращает все позиции владельца, включая нулевую ликвидность.
// NFT позиции имеет баланс ровно 1; адрес аккаунта позиции — PDA от минта.
func (a *Adapter) ListPositions(ctx context.Context, owner solana.PublicKey) ([]*types.Position, error) {
	accounts, err := a.client.GetTokenAccountsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list token accounts for %s: %w", owner, err)
	}

	var positions []*types.Position
	for _, acc := range accounts {
		if acc.Amount != 1 {
			continue
		}
		pda, err := PositionPDA(acc.Mint)
		if err != nil {
			continue
		}
		info, err := a.client.GetAccountInfo(ctx, pda)
		if err != nil || info == nil || info.Value == nil {
			continue // обычный NFT, не позиция Whirlpool
		}
		raw, err := DecodePositionAccount(info.Value.Data.GetBinary())
		if err != nil {
			continue
		}
		pos, err := a.normalizePosition(ctx, pda, raw)
		if err != nil {
			a.logger.Warn("failed to normalize position",
				zap.String("position", pda.String()),
				zap.Error(err))
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

////////////////////////////////////////////////////////////////////////////////
// Операции
////////////////////////////////////////////////////////////////////////////////

// OpenPositionWithLiquidity пытается один комбинированный вызов open+add.
// При отклонении переходит на двухшаговый fallback: открыть пустую позицию,
// извлечь её идентификатор из результата транзакции и долить ликвидность
// вторым вызовом. Каждый шаг повторяется независимо.
func (a *Adapter) OpenPositionWithLiquidity(ctx context.Context, pool *types.Pool, rng types.TickRange, req dex.OpenRequest) (*dex.ExecResult, error) {
	if err := validateOpenRequest(pool, rng, req); err != nil {
		return nil, err
	}

	raw, err := a.fetchPoolAccount(ctx, pool.ID)
	if err != nil {
		return nil, err
	}

	mintKey := a.newPositionMint()
	positionMint := mintKey.PublicKey()
	acc, err := a.derivePositionAccounts(pool.ID, raw, positionMint, rng)
	if err != nil {
		return nil, err
	}

	result := &dex.ExecResult{State: dex.StateAttempted, PositionID: acc.Position}

	combined := &dex.CallStep{
		Label:        "open_with_liquidity",
		Instructions: []solana.Instruction{a.buildOpenPositionWithLiquidity(pool.ID, raw, acc, rng, req.Liquidity, req.AmountA, req.AmountB)},
		Signers:      []solana.PrivateKey{mintKey},
	}
	receipt, err := a.executeStep(ctx, combined)
	if err == nil {
		result.Success = true
		result.Digest = receipt.Signature
		result.State = dex.StateSettled
		result.Steps = append(result.Steps, dex.StepOutcome{Label: combined.Label, Signature: receipt.Signature})
		return result, nil
	}
	if !a.sigs.IsCombinedCallRejected(err) {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationOpenWithLiquidity, Err: err}
	}

	a.logger.Info("combined open rejected, falling back to two-step sequence",
		zap.String("pool", pool.ID.String()),
		zap.Error(err))
	result.Fallback = true
	result.State = dex.StateFallback
	result.Steps = append(result.Steps, dex.StepOutcome{Label: combined.Label, Err: err.Error()})

	// Шаг 1: открыть пустую позицию.
	openStep := &dex.CallStep{
		Label:        "open_position",
		Instructions: []solana.Instruction{a.buildOpenPosition(pool.ID, acc, rng)},
		Signers:      []solana.PrivateKey{mintKey},
	}
	openReceipt, err := a.executeStep(ctx, openStep)
	if err != nil {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationOpenWithLiquidity, Err: err}
	}
	result.Steps = append(result.Steps, dex.StepOutcome{Label: openStep.Label, Signature: openReceipt.Signature})

	// Идентификатор позиции восстанавливается из созданных аккаунтов
	// транзакции, а не из предвычисленного PDA: интроспекция — источник истины.
	positionID, err := extractPositionID(openReceipt, acc.Position)
	if err != nil {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationOpenWithLiquidity, Err: err}
	}
	result.PositionID = positionID

	// Шаг 2: долить ликвидность. Выполняется только после наблюдаемого
	// подтверждения шага 1 — executor ждёт подтверждения перед возвратом.
	addStep := &dex.CallStep{
		Label:        "increase_liquidity",
		Instructions: []solana.Instruction{a.buildIncreaseLiquidity(pool.ID, raw, acc, req.Liquidity, req.AmountA, req.AmountB)},
	}
	addReceipt, err := a.executeStep(ctx, addStep)
	if err != nil {
		// Позиция открыта, но пустая: вернуть её идентификатор вместе с
		// ошибкой, чтобы вызывающая сторона могла повторить только шаг 2.
		result.Steps = append(result.Steps, dex.StepOutcome{Label: addStep.Label, Err: err.Error()})
		return result, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationAddLiquidity, Err: err}
	}
	result.Steps = append(result.Steps, dex.StepOutcome{Label: addStep.Label, Signature: addReceipt.Signature})
	result.Success = true
	result.Digest = addReceipt.Signature
	result.State = dex.StateSettled
	return result, nil
}

// AddLiquidity доливает ликвидность в существующую позицию.
func (a *Adapter) AddLiquidity(ctx context.Context, position *types.Position, req dex.OpenRequest) (*dex.ExecResult, error) {
	if position.State == types.StateClosed {
		return nil, fmt.Errorf("%w: %s", dex.ErrAlreadyClosed, position.ID)
	}
	_, acc, poolAcc, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}

	step := &dex.CallStep{
		Label:        "increase_liquidity",
		Instructions: []solana.Instruction{a.buildIncreaseLiquidity(position.PoolID, poolAcc, acc, req.Liquidity, req.AmountA, req.AmountB)},
	}
	receipt, err := a.executeStep(ctx, step)
	if err != nil {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationAddLiquidity, Err: err}
	}
	return settledResult(step.Label, receipt), nil
}

// RemoveLiquidity снимает percent от текущей ликвидности позиции. Минимальные
// выходы считаются от текущей цены пула c учётом slippage; комиссии
// выметаются тем же вызовом.
func (a *Adapter) RemoveLiquidity(ctx context.Context, position *types.Position, percent uint8, slippage types.Percentage) (*dex.ExecResult, error) {
	if percent == 0 || percent > 100 {
		return nil, fmt.Errorf("percent must be in (0, 100]: %d", percent)
	}
	raw, acc, poolAcc, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}
	if raw.Liquidity.Sign() == 0 {
		return &dex.ExecResult{Success: false, Digest: "", NoOp: true, State: dex.StateSettled}, nil
	}

	toRemove := new(big.Int).Mul(raw.Liquidity, big.NewInt(int64(percent)))
	toRemove.Quo(toRemove, big.NewInt(100))

	minA, minB, err := a.minAmountsForRemoval(position, poolAcc, raw, toRemove, slippage)
	if err != nil {
		return nil, err
	}

	step := &dex.CallStep{
		Label:        "decrease_liquidity",
		Instructions: []solana.Instruction{a.buildDecreaseLiquidity(position.PoolID, poolAcc, acc, toRemove, minA, minB)},
	}
	receipt, err := a.executeStep(ctx, step)
	if err != nil {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationRemoveLiquidity, Err: err}
	}
	if percent == 100 {
		position.State = types.StateRemoving
	}
	return settledResult(step.Label, receipt), nil
}

// CollectFees собирает накопленные комиссии позиции.
func (a *Adapter) CollectFees(ctx context.Context, position *types.Position) (*dex.ExecResult, error) {
	_, acc, poolAcc, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}
	step := &dex.CallStep{
		Label:        "collect_fees",
		Instructions: []solana.Instruction{a.buildCollectFees(position.PoolID, poolAcc, acc)},
	}
	receipt, err := a.executeStep(ctx, step)
	if err != nil {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationCollectFees, Err: err}
	}
	return settledResult(step.Label, receipt), nil
}

// CollectRewards сперва читает начисленные награды и выходит без он-чейн
// вызова, если собирать нечего: это предотвращает revert программы и
// переводит операцию в no-op вместо ошибки.
func (a *Adapter) CollectRewards(ctx context.Context, position *types.Position) (*dex.ExecResult, error) {
	raw, acc, poolAcc, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction
	for i, owed := range raw.RewardsOwed {
		if owed == 0 || !poolAcc.RewardInfos[i].Initialized() {
			continue
		}
		rewardMint := poolAcc.RewardInfos[i].Mint
		ownerATA, err := a.wallet.GetATA(rewardMint)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions,
			a.wallet.CreateAssociatedTokenAccountIdempotentInstruction(a.wallet.PublicKey, a.wallet.PublicKey, rewardMint),
			a.buildCollectReward(position.PoolID, acc, poolAcc.RewardInfos[i], uint8(i), ownerATA),
		)
	}
	if len(instructions) == 0 {
		a.logger.Debug("no rewards owed, skipping on-chain call",
			zap.String("position", position.ID.String()))
		return &dex.ExecResult{Success: false, Digest: "", NoOp: true, State: dex.StateSettled}, nil
	}

	step := &dex.CallStep{Label: "collect_rewards", Instructions: instructions}
	receipt, err := a.executeStep(ctx, step)
	if err != nil {
		if a.sigs.IsNoRewards(err) {
			return &dex.ExecResult{Success: false, Digest: "", NoOp: true, State: dex.StateSettled}, nil
		}
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationCollectRewards, Err: err}
	}
	return settledResult(step.Label, receipt), nil
}

// CollectFeesAndRewards пытается объединить сбор в одну транзакцию, при
// неудаче — последовательный fallback fees → rewards с агрегацией итогов.
func (a *Adapter) CollectFeesAndRewards(ctx context.Context, position *types.Position) (*dex.ExecResult, error) {
	raw, acc, poolAcc, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}

	instructions := []solana.Instruction{a.buildCollectFees(position.PoolID, poolAcc, acc)}
	for i, owed := range raw.RewardsOwed {
		if owed == 0 || !poolAcc.RewardInfos[i].Initialized() {
			continue
		}
		ownerATA, err := a.wallet.GetATA(poolAcc.RewardInfos[i].Mint)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions,
			a.buildCollectReward(position.PoolID, acc, poolAcc.RewardInfos[i], uint8(i), ownerATA))
	}

	combined := &dex.CallStep{Label: "collect_all", Instructions: instructions}
	receipt, err := a.executeStep(ctx, combined)
	if err == nil {
		return settledResult(combined.Label, receipt), nil
	}

	a.logger.Info("combined collect rejected, splitting into fees and rewards",
		zap.String("position", position.ID.String()),
		zap.Error(err))

	result := &dex.ExecResult{Fallback: true, State: dex.StateFallback}
	result.Steps = append(result.Steps, dex.StepOutcome{Label: combined.Label, Err: err.Error()})

	feesRes, feesErr := a.CollectFees(ctx, position)
	if feesErr == nil {
		result.Steps = append(result.Steps, feesRes.Steps...)
		result.Digest = feesRes.Digest
	} else {
		result.Steps = append(result.Steps, dex.StepOutcome{Label: "collect_fees", Err: feesErr.Error()})
	}

	rewardsRes, rewardsErr := a.CollectRewards(ctx, position)
	if rewardsErr == nil {
		result.Steps = append(result.Steps, rewardsRes.Steps...)
		if rewardsRes.Digest != "" {
			result.Digest = rewardsRes.Digest
		}
	} else {
		result.Steps = append(result.Steps, dex.StepOutcome{Label: "collect_rewards", Err: rewardsErr.Error()})
	}

	if feesErr != nil && rewardsErr != nil {
		return result, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationCollectAll, Err: feesErr}
	}
	result.Success = true
	result.State = dex.StateSettled
	return result, nil
}

// ClosePosition закрывает позицию по документированному пути:
// best-effort сбор → снятие 100% ликвидности → close. Закрытие уже
// закрытой позиции трактуется как идемпотентный успех.
func (a *Adapter) ClosePosition(ctx context.Context, position *types.Position, opts dex.CloseOptions) (*dex.ExecResult, error) {
	if opts.CollectFirst {
		if _, err := a.CollectFeesAndRewards(ctx, position); err != nil {
			if !opts.TolerateClaimFailure {
				return nil, err
			}
			// Закрытие не должно блокироваться несвязанной неудачей сбора.
			a.logger.Warn("collect before close failed, continuing",
				zap.String("position", position.ID.String()),
				zap.Error(err))
		}
	}

	current, err := a.GetPosition(ctx, position.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		position.State = types.StateClosed
		return &dex.ExecResult{Success: true, Digest: "", NoOp: true, State: dex.StateSettled}, nil
	}

	if current.HasLiquidity() {
		if _, err := a.RemoveLiquidity(ctx, position, 100, opts.Slippage); err != nil {
			return nil, err
		}
	}

	_, acc, _, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}
	step := &dex.CallStep{
		Label:        "close_position",
		Instructions: []solana.Instruction{a.buildClosePosition(acc)},
	}
	receipt, err := a.executeStep(ctx, step)
	if err != nil {
		if a.sigs.IsAlreadyClosed(err) {
			position.State = types.StateClosed
			return &dex.ExecResult{Success: true, Digest: "", NoOp: true, State: dex.StateSettled}, nil
		}
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationClose, Err: err}
	}
	position.State = types.StateClosed
	return settledResult(step.Label, receipt), nil
}

////////////////////////////////////////////////////////////////////////////////
// Вспомогательные методы
////////////////////////////////////////////////////////////////////////////////

// executeStep выполняет шаг с ограниченным числом повторов. Повторы не
// бесконечны: одна и та же сигнатура ошибки не гоняется по кругу.
func (a *Adapter) executeStep(ctx context.Context, step *dex.CallStep) (*dex.StepReceipt, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.config.RetryDelay
	policy.MaxInterval = a.config.RetryDelay * 10

	notify := func(err error, duration time.Duration) {
		a.logger.Info("retrying step after error",
			zap.String("step", step.Label),
			zap.Duration("backoff", duration),
			zap.Error(err))
	}

	operation := func() (*dex.StepReceipt, error) {
		receipt, err := a.executor.ExecuteStep(ctx, step)
		if err != nil {
			// Ошибки программы детерминированы: повторять их бессмысленно.
			if a.sigs.IsCombinedCallRejected(err) || a.sigs.IsAlreadyClosed(err) || a.sigs.IsNoRewards(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return receipt, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(a.config.MaxStepRetries),
		backoff.WithNotify(notify))
}

func (a *Adapter) resolvePosition(ctx context.Context, position *types.Position) (*PositionAccount, *positionAccounts, *PoolAccount, error) {
	info, err := a.client.GetAccountInfo(ctx, position.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if info == nil || info.Value == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", dex.ErrPositionNotFound, position.ID)
	}
	raw, err := DecodePositionAccount(info.Value.Data.GetBinary())
	if err != nil {
		return nil, nil, nil, err
	}
	poolAcc, err := a.fetchPoolAccount(ctx, raw.Whirlpool)
	if err != nil {
		return nil, nil, nil, err
	}
	acc, err := a.derivePositionAccounts(raw.Whirlpool, poolAcc, raw.PositionMint,
		types.TickRange{Lower: raw.TickLower, Upper: raw.TickUpper})
	if err != nil {
		return nil, nil, nil, err
	}
	return raw, acc, poolAcc, nil
}

func (a *Adapter) minAmountsForRemoval(position *types.Position, poolAcc *PoolAccount, raw *PositionAccount, toRemove *big.Int, slippage types.Percentage) (*big.Int, *big.Int, error) {
	pool := &types.Pool{
		ID:           position.PoolID,
		Protocol:     types.ProtocolWhirlpool,
		TickSpacing:  int32(poolAcc.TickSpacing),
		SqrtPriceX64: poolAcc.SqrtPrice,
	}
	amountA, amountB, err := liquidity.AmountsForLiquidity(pool, types.TickRange{Lower: raw.TickLower, Upper: raw.TickUpper}, toRemove)
	if err != nil {
		return nil, nil, err
	}
	return slippage.MinAfterSlippage(amountA), slippage.MinAfterSlippage(amountB), nil
}

func settledResult(label string, receipt *dex.StepReceipt) *dex.ExecResult {
	return &dex.ExecResult{
		Success: true,
		Digest:  receipt.Signature,
		State:   dex.StateSettled,
		Steps:   []dex.StepOutcome{{Label: label, Signature: receipt.Signature}},
	}
}

func validateOpenRequest(pool *types.Pool, rng types.TickRange, req dex.OpenRequest) error {
	if pool == nil {
		return fmt.Errorf("pool cannot be nil")
	}
	if rng.Lower < MinTick || rng.Upper > MaxTick {
		return fmt.Errorf("tick range %d..%d outside protocol bounds", rng.Lower, rng.Upper)
	}
	if !rng.Valid(pool.TickSpacing) {
		return fmt.Errorf("tick range %d..%d not aligned to spacing %d", rng.Lower, rng.Upper, pool.TickSpacing)
	}
	if req.Liquidity == nil || req.Liquidity.Sign() <= 0 {
		return fmt.Errorf("liquidity must be positive")
	}
	return nil
}

// extractPositionID восстанавливает адрес позиции из созданных транзакцией
// аккаунтов; ожидаемый PDA служит проверкой согласованности.
func extractPositionID(receipt *dex.StepReceipt, expected solana.PublicKey) (solana.PublicKey, error) {
	for _, created := range receipt.CreatedAccounts {
		if created.Equals(expected) {
			return created, nil
		}
	}
	return solana.PublicKey{}, fmt.Errorf("opened position account %s not found in transaction result", expected)
}
