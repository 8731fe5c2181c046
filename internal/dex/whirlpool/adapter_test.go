package whirlpool

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/clmm-manager/internal/blockchain"
	"github.com/rovshanmuradov/clmm-manager/internal/clmm/tickmath"
	"github.com/rovshanmuradov/clmm-manager/internal/dex"
	"github.com/rovshanmuradov/clmm-manager/internal/types"
	"github.com/rovshanmuradov/clmm-manager/internal/wallet"
)

var errNotScripted = errors.New("rpc call not scripted in this test")

// fakeChain отдаёт заранее подготовленные аккаунты; транзакционные методы
// в тестах адаптера не используются — их берёт на себя fakeExecutor.
type fakeChain struct {
	accounts map[solana.PublicKey][]byte
}

func newFakeChain() *fakeChain {
	return &fakeChain{accounts: make(map[solana.PublicKey][]byte)}
}

func (f *fakeChain) put(key solana.PublicKey, data []byte) { f.accounts[key] = data }

func (f *fakeChain) GetAccountInfo(_ context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	data, ok := f.accounts[pubkey]
	if !ok {
		return &rpc.GetAccountInfoResult{}, nil
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)},
	}, nil
}

func (f *fakeChain) GetRecentBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{}, errNotScripted
}
func (f *fakeChain) SendTransaction(context.Context, *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, errNotScripted
}
func (f *fakeChain) SendTransactionWithOpts(context.Context, *solana.Transaction, blockchain.TransactionOptions) (solana.Signature, error) {
	return solana.Signature{}, errNotScripted
}
func (f *fakeChain) GetAccountDataInto(context.Context, solana.PublicKey, interface{}) error {
	return errNotScripted
}
func (f *fakeChain) GetProgramAccountsWithOpts(context.Context, solana.PublicKey, *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	return nil, errNotScripted
}
func (f *fakeChain) GetTokenAccountsByOwner(context.Context, solana.PublicKey) ([]blockchain.TokenAccount, error) {
	return nil, errNotScripted
}
func (f *fakeChain) GetBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (uint64, error) {
	return 0, errNotScripted
}
func (f *fakeChain) SimulateTransaction(context.Context, *solana.Transaction) (*blockchain.SimulationResult, error) {
	return nil, errNotScripted
}
func (f *fakeChain) WaitForTransactionConfirmation(context.Context, solana.Signature, rpc.CommitmentType) error {
	return errNotScripted
}
func (f *fakeChain) GetTransactionResult(context.Context, solana.Signature) (*blockchain.TransactionResult, error) {
	return nil, errNotScripted
}

var _ blockchain.Client = (*fakeChain)(nil)

// fakeExecutor исполняет шаги по сценарию, заданному меткой шага.
type fakeExecutor struct {
	handlers map[string]func(step *dex.CallStep) (*dex.StepReceipt, error)
	executed []*dex.CallStep
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{handlers: make(map[string]func(*dex.CallStep) (*dex.StepReceipt, error))}
}

func (f *fakeExecutor) on(label string, handler func(*dex.CallStep) (*dex.StepReceipt, error)) {
	f.handlers[label] = handler
}

func (f *fakeExecutor) succeed(label, signature string) {
	f.on(label, func(*dex.CallStep) (*dex.StepReceipt, error) {
		return &dex.StepReceipt{Signature: signature}, nil
	})
}

func (f *fakeExecutor) fail(label, message string) {
	f.on(label, func(*dex.CallStep) (*dex.StepReceipt, error) {
		return nil, errors.New(message)
	})
}

func (f *fakeExecutor) labels() []string {
	out := make([]string, 0, len(f.executed))
	for _, step := range f.executed {
		out = append(out, step.Label)
	}
	return out
}

func (f *fakeExecutor) ExecuteStep(_ context.Context, step *dex.CallStep) (*dex.StepReceipt, error) {
	f.executed = append(f.executed, step)
	handler, ok := f.handlers[step.Label]
	if !ok {
		return nil, errors.New("unexpected step: " + step.Label)
	}
	return handler(step)
}

var _ dex.Executor = (*fakeExecutor)(nil)

type testEnv struct {
	chain    *fakeChain
	executor *fakeExecutor
	adapter  *Adapter

	poolID   solana.PublicKey
	mintKey  solana.PrivateKey
	position solana.PublicKey // PDA от mintKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	chain := newFakeChain()
	executor := newFakeExecutor()

	w, err := wallet.NewWallet(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	adapter, err := NewAdapter(chain, executor, w, nil, zap.NewNop(), Config{
		MaxStepRetries: 2,
		RetryDelay:     time.Millisecond,
	})
	require.NoError(t, err)

	mintKey := solana.NewWallet().PrivateKey
	adapter.newPositionMint = func() solana.PrivateKey { return mintKey }

	pda, err := PositionPDA(mintKey.PublicKey())
	require.NoError(t, err)

	env := &testEnv{
		chain:    chain,
		executor: executor,
		adapter:  adapter,
		poolID:   solana.NewWallet().PublicKey(),
		mintKey:  mintKey,
		position: pda,
	}
	env.putPool(poolFixture{
		TickSpacing: 64,
		FeeRate:     3000,
		SqrtPrice:   tickmath.TickToSqrtPriceX64(0),
	})
	return env
}

func (e *testEnv) putPool(f poolFixture) {
	if f.MintA.IsZero() {
		f.MintA = solana.NewWallet().PublicKey()
	}
	if f.MintB.IsZero() {
		f.MintB = solana.NewWallet().PublicKey()
	}
	e.chain.put(e.poolID, f.encode())
}

func (e *testEnv) putPosition(f positionFixture) *types.Position {
	f.Whirlpool = e.poolID
	if f.PositionMint.IsZero() {
		f.PositionMint = e.mintKey.PublicKey()
	}
	e.chain.put(e.position, f.encode())
	return &types.Position{
		ID:        e.position,
		PoolID:    e.poolID,
		Protocol:  types.ProtocolWhirlpool,
		Range:     types.TickRange{Lower: f.TickLower, Upper: f.TickUpper},
		Liquidity: f.Liquidity,
		State:     types.StateOpen,
	}
}

func (e *testEnv) pool(t *testing.T) *types.Pool {
	t.Helper()
	pool, err := e.adapter.GetPool(context.Background(), e.poolID)
	require.NoError(t, err)
	return pool
}

func openRequest() dex.OpenRequest {
	return dex.OpenRequest{
		AmountA:    big.NewInt(1_000_000),
		AmountB:    big.NewInt(2_000_000),
		MinAmountA: big.NewInt(990_000),
		MinAmountB: big.NewInt(1_980_000),
		Liquidity:  big.NewInt(500_000),
	}
}

func TestGetPool(t *testing.T) {
	env := newTestEnv(t)

	pool := env.pool(t)
	assert.Equal(t, env.poolID, pool.ID)
	assert.Equal(t, types.ProtocolWhirlpool, pool.Protocol)
	assert.Equal(t, int32(64), pool.TickSpacing)
	assert.Equal(t, uint16(3000), pool.FeeRate)
	assert.Zero(t, pool.SqrtPriceX64.Cmp(tickmath.TickToSqrtPriceX64(0)))
}

func TestGetPosition_MissingAccountIsNil(t *testing.T) {
	env := newTestEnv(t)

	pos, err := env.adapter.GetPosition(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestGetPosition_NormalizesFeesAndRewards(t *testing.T) {
	env := newTestEnv(t)
	rewardMint := solana.NewWallet().PublicKey()
	env.putPool(poolFixture{
		TickSpacing: 64,
		SqrtPrice:   tickmath.TickToSqrtPriceX64(0),
		RewardMints: [3]solana.PublicKey{rewardMint},
	})
	env.putPosition(positionFixture{
		Liquidity:   big.NewInt(1000),
		TickLower:   -1088,
		TickUpper:   960,
		FeeOwedA:    42,
		RewardsOwed: [3]uint64{500, 0, 0},
	})

	pos, err := env.adapter.GetPosition(context.Background(), env.position)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, types.TickRange{Lower: -1088, Upper: 960}, pos.Range)
	require.Len(t, pos.Fees, 1, "zero owed fee must not produce a record")
	assert.Zero(t, pos.Fees[0].Owed.Cmp(big.NewInt(42)))
	require.Len(t, pos.Rewards, 1)
	assert.Equal(t, rewardMint, pos.Rewards[0].Token.Mint)
	assert.Zero(t, pos.Rewards[0].Owed.Cmp(big.NewInt(500)))
}

func TestOpenPositionWithLiquidity_CombinedCall(t *testing.T) {
	env := newTestEnv(t)
	env.executor.succeed("open_with_liquidity", "sig-combined")

	result, err := env.adapter.OpenPositionWithLiquidity(context.Background(), env.pool(t),
		types.TickRange{Lower: -1088, Upper: 960}, openRequest())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Fallback)
	assert.Equal(t, "sig-combined", result.Digest)
	assert.Equal(t, dex.StateSettled, result.State)
	assert.Equal(t, env.position, result.PositionID)
	assert.Equal(t, []string{"open_with_liquidity"}, env.executor.labels())

	// Минт позиции обязан подписывать создающий вызов.
	require.Len(t, env.executor.executed[0].Signers, 1)
	assert.Equal(t, env.mintKey.PublicKey(), env.executor.executed[0].Signers[0].PublicKey())
}

// Отклонение комбинированного вызова переводит операцию на документированный
// двухшаговый путь: открыть пустую позицию, затем долить ликвидность.
func TestOpenPositionWithLiquidity_FallbackSequence(t *testing.T) {
	env := newTestEnv(t)
	env.executor.fail("open_with_liquidity", "custom program error: "+ErrCodeUnsupportedCombined)
	env.executor.on("open_position", func(*dex.CallStep) (*dex.StepReceipt, error) {
		return &dex.StepReceipt{
			Signature:       "sig-open",
			CreatedAccounts: []solana.PublicKey{solana.NewWallet().PublicKey(), env.position},
		}, nil
	})
	env.executor.succeed("increase_liquidity", "sig-add")

	result, err := env.adapter.OpenPositionWithLiquidity(context.Background(), env.pool(t),
		types.TickRange{Lower: -1088, Upper: 960}, openRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{"open_with_liquidity", "open_position", "increase_liquidity"}, env.executor.labels())
	assert.True(t, result.Success)
	assert.True(t, result.Fallback)
	assert.Equal(t, dex.StateSettled, result.State)
	assert.Equal(t, "sig-add", result.Digest, "digest must point to the last transaction")
	// Идентификатор позиции восстановлен из созданных аккаунтов транзакции.
	assert.Equal(t, env.position, result.PositionID)

	require.Len(t, result.Steps, 3)
	assert.NotEmpty(t, result.Steps[0].Err)
	assert.Equal(t, "sig-open", result.Steps[1].Signature)
	assert.Equal(t, "sig-add", result.Steps[2].Signature)
}

// Если транзакция открытия не создала ожидаемый PDA, операция падает, а не
// продолжается с непроверенным адресом.
func TestOpenPositionWithLiquidity_FallbackPDAMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.executor.fail("open_with_liquidity", "custom program error: "+ErrCodeUnsupportedCombined)
	env.executor.on("open_position", func(*dex.CallStep) (*dex.StepReceipt, error) {
		return &dex.StepReceipt{
			Signature:       "sig-open",
			CreatedAccounts: []solana.PublicKey{solana.NewWallet().PublicKey()},
		}, nil
	})

	_, err := env.adapter.OpenPositionWithLiquidity(context.Background(), env.pool(t),
		types.TickRange{Lower: -1088, Upper: 960}, openRequest())
	require.Error(t, err)
	assert.NotContains(t, env.executor.labels(), "increase_liquidity")
}

func TestOpenPositionWithLiquidity_UnrelatedErrorIsNotFallback(t *testing.T) {
	env := newTestEnv(t)
	env.executor.fail("open_with_liquidity", "insufficient funds for rent")

	_, err := env.adapter.OpenPositionWithLiquidity(context.Background(), env.pool(t),
		types.TickRange{Lower: -1088, Upper: 960}, openRequest())
	require.Error(t, err)

	var callErr *dex.ProtocolCallError
	require.ErrorAs(t, err, &callErr)
	for _, label := range env.executor.labels() {
		assert.Equal(t, "open_with_liquidity", label, "no fallback steps for unclassified errors")
	}
}

func TestOpenPositionWithLiquidity_RejectsMisalignedRange(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.adapter.OpenPositionWithLiquidity(context.Background(), env.pool(t),
		types.TickRange{Lower: -1087, Upper: 960}, openRequest())
	require.Error(t, err)
	assert.Empty(t, env.executor.executed)
}

func TestRemoveLiquidity_PercentOfCurrentLiquidity(t *testing.T) {
	env := newTestEnv(t)
	pos := env.putPosition(positionFixture{
		Liquidity: big.NewInt(1000),
		TickLower: -1088,
		TickUpper: 960,
	})
	env.executor.succeed("decrease_liquidity", "sig-dec")

	result, err := env.adapter.RemoveLiquidity(context.Background(), pos, 37, types.Percentage{})
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, env.executor.executed, 1)
	data, err := env.executor.executed[0].Instructions[0].Data()
	require.NoError(t, err)
	// disc(8) + liquidity u128 LE
	removed := u128FromLE(data[8:24])
	assert.Zero(t, removed.Cmp(big.NewInt(370)), "37%% of 1000, floor division")
}

func TestRemoveLiquidity_ZeroLiquidityIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	pos := env.putPosition(positionFixture{TickLower: -1088, TickUpper: 960})

	result, err := env.adapter.RemoveLiquidity(context.Background(), pos, 100, types.Percentage{})
	require.NoError(t, err)

	assert.True(t, result.NoOp)
	assert.False(t, result.Success)
	assert.Empty(t, result.Digest)
	assert.Empty(t, env.executor.executed, "no on-chain call for empty position")
}

func TestRemoveLiquidity_InvalidPercent(t *testing.T) {
	env := newTestEnv(t)
	pos := env.putPosition(positionFixture{Liquidity: big.NewInt(10), TickLower: -1088, TickUpper: 960})

	for _, percent := range []uint8{0, 101} {
		_, err := env.adapter.RemoveLiquidity(context.Background(), pos, percent, types.Percentage{})
		assert.Error(t, err, "percent=%d", percent)
	}
}

// Нулевые начисления наград должны давать no-op без единого он-чейн вызова:
// вызов программы с нулевыми суммами закончился бы revert'ом.
func TestCollectRewards_NothingOwedIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	rewardMint := solana.NewWallet().PublicKey()
	env.putPool(poolFixture{
		TickSpacing: 64,
		SqrtPrice:   tickmath.TickToSqrtPriceX64(0),
		RewardMints: [3]solana.PublicKey{rewardMint},
	})
	pos := env.putPosition(positionFixture{
		Liquidity: big.NewInt(1000),
		TickLower: -1088,
		TickUpper: 960,
	})

	result, err := env.adapter.CollectRewards(context.Background(), pos)
	require.NoError(t, err)

	assert.True(t, result.NoOp)
	assert.False(t, result.Success)
	assert.Empty(t, result.Digest)
	assert.Empty(t, env.executor.executed)
}

// Начисление в неинициализированном слоте пула игнорируется.
func TestCollectRewards_SkipsUninitializedSlot(t *testing.T) {
	env := newTestEnv(t)
	pos := env.putPosition(positionFixture{
		Liquidity:   big.NewInt(1000),
		TickLower:   -1088,
		TickUpper:   960,
		RewardsOwed: [3]uint64{999, 0, 0}, // слот 0 пула пуст
	})

	result, err := env.adapter.CollectRewards(context.Background(), pos)
	require.NoError(t, err)
	assert.True(t, result.NoOp)
	assert.Empty(t, env.executor.executed)
}

func TestCollectRewards_CollectsOwedSlots(t *testing.T) {
	env := newTestEnv(t)
	rewardMint := solana.NewWallet().PublicKey()
	env.putPool(poolFixture{
		TickSpacing: 64,
		SqrtPrice:   tickmath.TickToSqrtPriceX64(0),
		RewardMints: [3]solana.PublicKey{rewardMint},
	})
	pos := env.putPosition(positionFixture{
		Liquidity:   big.NewInt(1000),
		TickLower:   -1088,
		TickUpper:   960,
		RewardsOwed: [3]uint64{500, 0, 0},
	})
	env.executor.succeed("collect_rewards", "sig-rewards")

	result, err := env.adapter.CollectRewards(context.Background(), pos)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "sig-rewards", result.Digest)
	require.Len(t, env.executor.executed, 1)
	// idempotent ATA create + collect на каждый слот с начислением
	assert.Len(t, env.executor.executed[0].Instructions, 2)
}

func TestCollectFeesAndRewards_FallsBackToSequential(t *testing.T) {
	env := newTestEnv(t)
	rewardMint := solana.NewWallet().PublicKey()
	env.putPool(poolFixture{
		TickSpacing: 64,
		SqrtPrice:   tickmath.TickToSqrtPriceX64(0),
		RewardMints: [3]solana.PublicKey{rewardMint},
	})
	pos := env.putPosition(positionFixture{
		Liquidity:   big.NewInt(1000),
		TickLower:   -1088,
		TickUpper:   960,
		FeeOwedA:    42,
		RewardsOwed: [3]uint64{500, 0, 0},
	})
	env.executor.fail("collect_all", "custom program error: "+ErrCodeUnsupportedCombined)
	env.executor.succeed("collect_fees", "sig-fees")
	env.executor.succeed("collect_rewards", "sig-rewards")

	result, err := env.adapter.CollectFeesAndRewards(context.Background(), pos)
	require.NoError(t, err)

	assert.Equal(t, []string{"collect_all", "collect_fees", "collect_rewards"}, env.executor.labels())
	assert.True(t, result.Success)
	assert.True(t, result.Fallback)
	assert.Equal(t, "sig-rewards", result.Digest)
}

func TestClosePosition_MissingAccountIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	pos := &types.Position{
		ID:       solana.NewWallet().PublicKey(),
		PoolID:   env.poolID,
		Protocol: types.ProtocolWhirlpool,
	}

	result, err := env.adapter.ClosePosition(context.Background(), pos, dex.CloseOptions{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.NoOp)
	assert.Empty(t, result.Digest)
	assert.Empty(t, env.executor.executed)
	assert.Equal(t, types.StateClosed, pos.State)
}

func TestClosePosition_AlreadyClosedSignatureIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	pos := env.putPosition(positionFixture{TickLower: -1088, TickUpper: 960})
	env.executor.fail("close_position", "custom program error: "+ErrCodeAccountNotInitialized)

	result, err := env.adapter.ClosePosition(context.Background(), pos, dex.CloseOptions{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.NoOp)
	assert.Equal(t, types.StateClosed, pos.State)
}

func TestClosePosition_RemovesLiquidityFirst(t *testing.T) {
	env := newTestEnv(t)
	pos := env.putPosition(positionFixture{
		Liquidity: big.NewInt(1000),
		TickLower: -1088,
		TickUpper: 960,
	})
	env.executor.succeed("decrease_liquidity", "sig-dec")
	env.executor.succeed("close_position", "sig-close")

	result, err := env.adapter.ClosePosition(context.Background(), pos, dex.CloseOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"decrease_liquidity", "close_position"}, env.executor.labels())
	assert.True(t, result.Success)
	assert.Equal(t, "sig-close", result.Digest)
}

func TestExecuteStep_RetriesTransientErrors(t *testing.T) {
	env := newTestEnv(t)
	attempts := 0
	env.executor.on("flaky", func(*dex.CallStep) (*dex.StepReceipt, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("blockhash not found")
		}
		return &dex.StepReceipt{Signature: "sig-ok"}, nil
	})

	receipt, err := env.adapter.executeStep(context.Background(), &dex.CallStep{Label: "flaky"})
	require.NoError(t, err)
	assert.Equal(t, "sig-ok", receipt.Signature)
	assert.Equal(t, 2, attempts)
}

func TestExecuteStep_DoesNotRetryProgramErrors(t *testing.T) {
	env := newTestEnv(t)
	attempts := 0
	env.executor.on("rejected", func(*dex.CallStep) (*dex.StepReceipt, error) {
		attempts++
		return nil, errors.New("custom program error: " + ErrCodeUnsupportedCombined)
	})

	_, err := env.adapter.executeStep(context.Background(), &dex.CallStep{Label: "rejected"})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "deterministic program errors must not be retried")
}
