// =============================
// File: internal/dex/raycl/adapter.go
// =============================
package raycl

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
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
	// RewardScale — множитель, в котором протокол хранит начисленные
	// награды. Вынесен в конфиг: форки меняют его между деплоями.
	RewardScale uint64
}

func DefaultConfig() Config {
	return Config{
		MaxStepRetries: 3,
		RetryDelay:     2 * time.Second,
		RewardScale:    RewardScale,
	}
}

// Adapter implements the Raydium CLMM adapter.
type Adapter struct {
	client   blockchain.Client
	executor dex.Executor
	wallet   *wallet.Wallet
	metadata *solbc.TokenMetadataCache
	logger   *zap.Logger
	config   Config
	sigs     dex.ErrorSignatures

	// metadataSigs — сигнатуры отказа расширения метаданных; отдельная
	// ступень fallback до разбиения на два вызова.
	metadataSigs []string

	newPositionMint func() solana.PrivateKey
}

// NewAdapter creates a Raydium CLMM adapter instance.
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
	if config.RewardScale == 0 {
		config.RewardScale = RewardScale
	}
	return &Adapter{
		client:   client,
		executor: executor,
		wallet:   w,
		metadata: metadata,
		logger:   logger.Named("raydium_clmm"),
		config:   config,
		sigs: dex.ErrorSignatures{
			CombinedRejected: []string{ErrCodeCombinedRejected, "TransactionTooLarge"},
			AlreadyClosed:    []string{ErrCodeAccountNotInitialized, ErrCodeNotApproved, "AccountNotInitialized", "could not find account"},
			NoRewards:        []string{ErrCodeNoRewards, "NoRewardToCollect"},
		},
		metadataSigs: []string{ErrCodeMetadataUnsupported, "MetadataAccountNotSupported"},
		newPositionMint: func() solana.PrivateKey {
			return solana.NewWallet().PrivateKey
		},
	}, nil
}

func (a *Adapter) Name() string             { return "Raydium CLMM" }
func (a *Adapter) Protocol() types.Protocol { return types.ProtocolRaydium }

func (a *Adapter) isMetadataUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sig := range a.metadataSigs {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

////////////////////////////////////////////////////////////////////////////////
// Чтение состояния
////////////////////////////////////////////////////////////////////////////////

func (a *Adapter) fetchPoolState(ctx context.Context, id solana.PublicKey) (*PoolState, error) {
	info, err := a.client.GetAccountInfo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch pool state %s: %w", id, err)
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("pool state %s: %w", id, solbc.ErrAccountNotFound)
	}
	return DecodePoolState(info.Value.Data.GetBinary())
}

// GetPool читает и нормализует состояние пула.
func (a *Adapter) GetPool(ctx context.Context, id solana.PublicKey) (*types.Pool, error) {
	raw, err := a.fetchPoolState(ctx, id)
	if err != nil {
		return nil, err
	}
	return &types.Pool{
		ID:           id,
		Protocol:     types.ProtocolRaydium,
		TokenA:       a.tokenInfo(ctx, raw.TokenMint0),
		TokenB:       a.tokenInfo(ctx, raw.TokenMint1),
		TickSpacing:  int32(raw.TickSpacing),
		SqrtPriceX64: raw.SqrtPriceX64,
		CurrentTick:  raw.TickCurrent,
		FeeRate:      raw.FeeRate,
	}, nil
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
	raw, err := DecodePersonalPosition(info.Value.Data.GetBinary())
	if err != nil {
		return nil, err
	}
	return a.normalizePosition(ctx, id, raw)
}

func (a *Adapter) normalizePosition(ctx context.Context, id solana.PublicKey, raw *PersonalPosition) (*types.Position, error) {
	pool, err := a.fetchPoolState(ctx, raw.PoolID)
	if err != nil {
		return nil, err
	}

	pos := &types.Position{
		ID:        id,
		PoolID:    raw.PoolID,
		Protocol:  types.ProtocolRaydium,
		Range:     types.TickRange{Lower: raw.TickLower, Upper: raw.TickUpper},
		Liquidity: raw.Liquidity,
		State:     types.StateOpen,
		FetchedAt: time.Now(),
	}
	if raw.TokenFeesOwed0 > 0 {
		pos.Fees = append(pos.Fees, types.FeeRecord{
			Token: a.tokenInfo(ctx, pool.TokenMint0),
			Owed:  new(big.Int).SetUint64(raw.TokenFeesOwed0),
		})
	}
	if raw.TokenFeesOwed1 > 0 {
		pos.Fees = append(pos.Fees, types.FeeRecord{
			Token: a.tokenInfo(ctx, pool.TokenMint1),
			Owed:  new(big.Int).SetUint64(raw.TokenFeesOwed1),
		})
	}
	for i, scaled := range raw.RewardsOwed {
		// Программа копит награды в масштабе RewardScale; в базовые
		// единицы токена переводим с отбрасыванием дробной части.
		owed := scaled / a.config.RewardScale
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

// ListPositions сканирует аккаунты программы по дискриминатору позиции и
// сопоставляет их с NFT-минтами владельца. Позиции с нулевой ликвидностью
// не отфильтровываются.
func (a *Adapter) ListPositions(ctx context.Context, owner solana.PublicKey) ([]*types.Position, error) {
	accounts, err := a.client.GetTokenAccountsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list token accounts for %s: %w", owner, err)
	}
	ownedMints := make(map[solana.PublicKey]struct{})
	for _, acc := range accounts {
		if acc.Amount == 1 {
			ownedMints[acc.Mint] = struct{}{}
		}
	}
	if len(ownedMints) == 0 {
		return nil, nil
	}

	res, err := a.client.GetProgramAccountsWithOpts(ctx, CLMMProgramID, &rpc.GetProgramAccountsOpts{
		Filters: []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(personalPositionDiscriminator)}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan program positions: %w", err)
	}

	var positions []*types.Position
	for _, keyed := range res {
		raw, err := DecodePersonalPosition(keyed.Account.Data.GetBinary())
		if err != nil {
			continue
		}
		if _, ok := ownedMints[raw.NftMint]; !ok {
			continue
		}
		pos, err := a.normalizePosition(ctx, keyed.Pubkey, raw)
		if err != nil {
			a.logger.Warn("failed to normalize position",
				zap.String("position", keyed.Pubkey.String()),
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

// OpenPositionWithLiquidity открывает позицию с ликвидностью одним вызовом.
// Цепочка fallback двухступенчатая: при отказе расширения метаданных
// комбинированный вызов повторяется без него, и только при отклонении
// комбинированной формы как таковой операция разбивается на открытие пустой
// позиции и отдельный долив.
func (a *Adapter) OpenPositionWithLiquidity(ctx context.Context, pool *types.Pool, rng types.TickRange, req dex.OpenRequest) (*dex.ExecResult, error) {
	if err := validateOpenRequest(pool, rng, req); err != nil {
		return nil, err
	}

	raw, err := a.fetchPoolState(ctx, pool.ID)
	if err != nil {
		return nil, err
	}

	mintKey := a.newPositionMint()
	pctx, err := a.derivePositionContext(pool.ID, raw, mintKey.PublicKey(), rng)
	if err != nil {
		return nil, err
	}

	result := &dex.ExecResult{State: dex.StateAttempted, PositionID: pctx.PersonalPosition}

	combined := &dex.CallStep{
		Label:        "open_with_liquidity",
		Instructions: []solana.Instruction{a.buildOpenPosition(pool.ID, raw, pctx, rng, req.Liquidity, req.AmountA, req.AmountB, true)},
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
	result.Steps = append(result.Steps, dex.StepOutcome{Label: combined.Label, Err: err.Error()})

	// Ступень 1: тот же комбинированный вызов без расширения метаданных.
	if a.isMetadataUnsupported(err) {
		a.logger.Info("metadata extension rejected, retrying combined open without it",
			zap.String("pool", pool.ID.String()),
			zap.Error(err))
		result.Fallback = true
		result.State = dex.StateFallback

		plain := &dex.CallStep{
			Label:        "open_with_liquidity_plain",
			Instructions: []solana.Instruction{a.buildOpenPosition(pool.ID, raw, pctx, rng, req.Liquidity, req.AmountA, req.AmountB, false)},
			Signers:      []solana.PrivateKey{mintKey},
		}
		receipt, err = a.executeStep(ctx, plain)
		if err == nil {
			result.Success = true
			result.Digest = receipt.Signature
			result.State = dex.StateSettled
			result.Steps = append(result.Steps, dex.StepOutcome{Label: plain.Label, Signature: receipt.Signature})
			return result, nil
		}
		result.Steps = append(result.Steps, dex.StepOutcome{Label: plain.Label, Err: err.Error()})
	}

	if !a.sigs.IsCombinedCallRejected(err) {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationOpenWithLiquidity, Err: err}
	}

	// Ступень 2: открыть пустую позицию и долить отдельным вызовом.
	a.logger.Info("combined open rejected, falling back to two-step sequence",
		zap.String("pool", pool.ID.String()),
		zap.Error(err))
	result.Fallback = true
	result.State = dex.StateFallback

	openStep := &dex.CallStep{
		Label:        "open_position",
		Instructions: []solana.Instruction{a.buildOpenPosition(pool.ID, raw, pctx, rng, big.NewInt(0), big.NewInt(0), big.NewInt(0), false)},
		Signers:      []solana.PrivateKey{mintKey},
	}
	openReceipt, err := a.executeStep(ctx, openStep)
	if err != nil {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationOpenWithLiquidity, Err: err}
	}
	result.Steps = append(result.Steps, dex.StepOutcome{Label: openStep.Label, Signature: openReceipt.Signature})

	positionID, err := extractPositionID(openReceipt, pctx.PersonalPosition)
	if err != nil {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationOpenWithLiquidity, Err: err}
	}
	result.PositionID = positionID

	addStep := &dex.CallStep{
		Label:        "increase_liquidity",
		Instructions: []solana.Instruction{a.buildIncreaseLiquidity(pool.ID, raw, pctx, req.Liquidity, req.AmountA, req.AmountB)},
	}
	addReceipt, err := a.executeStep(ctx, addStep)
	if err != nil {
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
	_, pctx, poolState, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}

	step := &dex.CallStep{
		Label:        "increase_liquidity",
		Instructions: []solana.Instruction{a.buildIncreaseLiquidity(position.PoolID, poolState, pctx, req.Liquidity, req.AmountA, req.AmountB)},
	}
	receipt, err := a.executeStep(ctx, step)
	if err != nil {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationAddLiquidity, Err: err}
	}
	return settledResult(step.Label, receipt), nil
}

// RemoveLiquidity снимает percent от текущей ликвидности позиции. Вызов
// снятия по конвенции протокола выметает и накопленные комиссии.
func (a *Adapter) RemoveLiquidity(ctx context.Context, position *types.Position, percent uint8, slippage types.Percentage) (*dex.ExecResult, error) {
	if percent == 0 || percent > 100 {
		return nil, fmt.Errorf("percent must be in (0, 100]: %d", percent)
	}
	raw, pctx, poolState, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}
	if raw.Liquidity.Sign() == 0 {
		return &dex.ExecResult{Success: false, Digest: "", NoOp: true, State: dex.StateSettled}, nil
	}

	toRemove := new(big.Int).Mul(raw.Liquidity, big.NewInt(int64(percent)))
	toRemove.Quo(toRemove, big.NewInt(100))

	min0, min1, err := a.minAmountsForRemoval(position, poolState, raw, toRemove, slippage)
	if err != nil {
		return nil, err
	}

	step := &dex.CallStep{
		Label:        "decrease_liquidity",
		Instructions: []solana.Instruction{a.buildDecreaseLiquidity(position.PoolID, poolState, pctx, toRemove, min0, min1)},
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

// CollectFees собирает комиссии через снятие нулевой ликвидности: у
// протокола нет отдельной инструкции сбора, decrease с liquidity == 0
// выметает начисленное без изменения позиции.
func (a *Adapter) CollectFees(ctx context.Context, position *types.Position) (*dex.ExecResult, error) {
	_, pctx, poolState, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}
	step := &dex.CallStep{
		Label:        "collect_fees",
		Instructions: []solana.Instruction{a.buildDecreaseLiquidity(position.PoolID, poolState, pctx, big.NewInt(0), big.NewInt(0), big.NewInt(0))},
	}
	receipt, err := a.executeStep(ctx, step)
	if err != nil {
		return nil, &dex.ProtocolCallError{Protocol: a.Name(), Operation: dex.OperationCollectFees, Err: err}
	}
	return settledResult(step.Label, receipt), nil
}

// CollectRewards собирает награды по слотам. Если после приведения к базовым
// единицам собирать нечего, он-чейн вызова не происходит: операция
// завершается как no-op, а не ошибкой программы.
func (a *Adapter) CollectRewards(ctx context.Context, position *types.Position) (*dex.ExecResult, error) {
	raw, pctx, poolState, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}

	instructions, err := a.rewardInstructions(position.PoolID, pctx, poolState, raw)
	if err != nil {
		return nil, err
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

func (a *Adapter) rewardInstructions(poolID solana.PublicKey, pctx *positionContext, poolState *PoolState, raw *PersonalPosition) ([]solana.Instruction, error) {
	var instructions []solana.Instruction
	for i, scaled := range raw.RewardsOwed {
		if scaled/a.config.RewardScale == 0 || !poolState.RewardInfos[i].Initialized() {
			continue
		}
		rewardMint := poolState.RewardInfos[i].Mint
		ownerATA, err := a.wallet.GetATA(rewardMint)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions,
			a.wallet.CreateAssociatedTokenAccountIdempotentInstruction(a.wallet.PublicKey, a.wallet.PublicKey, rewardMint),
			a.buildCollectRemainingRewards(poolID, pctx, poolState.RewardInfos[i], uint8(i), ownerATA),
		)
	}
	return instructions, nil
}

// CollectFeesAndRewards объединяет сбор в одну транзакцию; при отказе —
// последовательный fallback fees → rewards с агрегацией итогов.
func (a *Adapter) CollectFeesAndRewards(ctx context.Context, position *types.Position) (*dex.ExecResult, error) {
	raw, pctx, poolState, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}

	instructions := []solana.Instruction{
		a.buildDecreaseLiquidity(position.PoolID, poolState, pctx, big.NewInt(0), big.NewInt(0), big.NewInt(0)),
	}
	rewardIxs, err := a.rewardInstructions(position.PoolID, pctx, poolState, raw)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, rewardIxs...)

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

// ClosePosition закрывает позицию: best-effort сбор → снятие 100%
// ликвидности → close. Повторное закрытие — идемпотентный успех.
func (a *Adapter) ClosePosition(ctx context.Context, position *types.Position, opts dex.CloseOptions) (*dex.ExecResult, error) {
	if opts.CollectFirst {
		if _, err := a.CollectFeesAndRewards(ctx, position); err != nil {
			if !opts.TolerateClaimFailure {
				return nil, err
			}
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

	_, pctx, _, err := a.resolvePosition(ctx, position)
	if err != nil {
		return nil, err
	}
	step := &dex.CallStep{
		Label:        "close_position",
		Instructions: []solana.Instruction{a.buildClosePosition(pctx)},
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
			if a.sigs.IsCombinedCallRejected(err) || a.sigs.IsAlreadyClosed(err) ||
				a.sigs.IsNoRewards(err) || a.isMetadataUnsupported(err) {
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

func (a *Adapter) resolvePosition(ctx context.Context, position *types.Position) (*PersonalPosition, *positionContext, *PoolState, error) {
	info, err := a.client.GetAccountInfo(ctx, position.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if info == nil || info.Value == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", dex.ErrPositionNotFound, position.ID)
	}
	raw, err := DecodePersonalPosition(info.Value.Data.GetBinary())
	if err != nil {
		return nil, nil, nil, err
	}
	poolState, err := a.fetchPoolState(ctx, raw.PoolID)
	if err != nil {
		return nil, nil, nil, err
	}
	pctx, err := a.derivePositionContext(raw.PoolID, poolState, raw.NftMint,
		types.TickRange{Lower: raw.TickLower, Upper: raw.TickUpper})
	if err != nil {
		return nil, nil, nil, err
	}
	return raw, pctx, poolState, nil
}

func (a *Adapter) minAmountsForRemoval(position *types.Position, poolState *PoolState, raw *PersonalPosition, toRemove *big.Int, slippage types.Percentage) (*big.Int, *big.Int, error) {
	pool := &types.Pool{
		ID:           position.PoolID,
		Protocol:     types.ProtocolRaydium,
		TickSpacing:  int32(poolState.TickSpacing),
		SqrtPriceX64: poolState.SqrtPriceX64,
	}
	amount0, amount1, err := liquidity.AmountsForLiquidity(pool, types.TickRange{Lower: raw.TickLower, Upper: raw.TickUpper}, toRemove)
	if err != nil {
		return nil, nil, err
	}
	return slippage.MinAfterSlippage(amount0), slippage.MinAfterSlippage(amount1), nil
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

func extractPositionID(receipt *dex.StepReceipt, expected solana.PublicKey) (solana.PublicKey, error) {
	for _, created := range receipt.CreatedAccounts {
		if created.Equals(expected) {
			return created, nil
		}
	}
	return solana.PublicKey{}, fmt.Errorf("opened position account %s not found in transaction result", expected)
}
