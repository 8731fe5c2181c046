package liquidity

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/clmm-manager/internal/clmm/tickmath"
	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

func testPool(t *testing.T) *types.Pool {
	t.Helper()
	return &types.Pool{
		ID:       solana.NewWallet().PublicKey(),
		Protocol: types.ProtocolWhirlpool,
		TokenA: types.TokenInfo{
			Mint:     solana.NewWallet().PublicKey(),
			Symbol:   "TKA",
			Decimals: 9,
		},
		TokenB: types.TokenInfo{
			Mint:     solana.NewWallet().PublicKey(),
			Symbol:   "TKB",
			Decimals: 9,
		},
		TickSpacing:  64,
		SqrtPriceX64: tickmath.TickToSqrtPriceX64(0), // цена ровно 1.0
		CurrentTick:  0,
	}
}

func testRange() types.TickRange {
	return types.TickRange{Lower: -1088, Upper: 960}
}

func TestBalanceAmounts_DerivesPairedSide(t *testing.T) {
	b := NewBalancer(zap.NewNop(), 0)

	res, err := b.BalanceAmounts(Request{
		Pool:    testPool(t),
		Range:   testRange(),
		AmountA: big.NewInt(1_000_000_000),
		Fixed:   FixedSideA,
	})
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(1_000_000_000), res.AmountA)
	assert.Positive(t, res.AmountB.Sign(), "paired side must be derived")
	assert.Positive(t, res.Liquidity.Sign())
	assert.False(t, res.Clamped)
}

// Подстановка собственного выхода обратно в балансировку даёт ту же
// ликвидность с точностью до 1 единицы целочисленного округления.
func TestBalanceAmounts_IdempotentUnderReevaluation(t *testing.T) {
	b := NewBalancer(zap.NewNop(), 0)
	pool := testPool(t)
	rng := testRange()

	first, err := b.BalanceAmounts(Request{
		Pool:    pool,
		Range:   rng,
		AmountA: big.NewInt(123_456_789),
		Fixed:   FixedSideA,
	})
	require.NoError(t, err)

	second, err := b.BalanceAmounts(Request{
		Pool:    pool,
		Range:   rng,
		AmountA: first.AmountA,
		AmountB: first.AmountB,
		Fixed:   FixedSideA,
	})
	require.NoError(t, err)

	diff := new(big.Int).Sub(first.Liquidity, second.Liquidity)
	assert.LessOrEqual(t, diff.CmpAbs(big.NewInt(1)), 0,
		"liquidity drifted: %s vs %s", first.Liquidity, second.Liquidity)
}

func TestBalanceAmounts_SlippageBounds(t *testing.T) {
	b := NewBalancer(zap.NewNop(), 0)
	pool := testPool(t)
	rng := testRange()

	slippages := []types.Percentage{
		{Numerator: 1, Denominator: 10_000},    // 0.01%
		{Numerator: 100, Denominator: 10_000},  // 1%
		{Numerator: 5000, Denominator: 10_000}, // 50%
		{Numerator: 9999, Denominator: 10_000},
	}
	for _, slip := range slippages {
		res, err := b.BalanceAmounts(Request{
			Pool:     pool,
			Range:    rng,
			AmountA:  big.NewInt(1_000_000_000),
			Fixed:    FixedSideA,
			Slippage: slip,
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, res.MinAmountA.Cmp(res.AmountA), 0, "minA must not exceed amountA")
		assert.LessOrEqual(t, res.MinAmountB.Cmp(res.AmountB), 0, "minB must not exceed amountB")
	}
}

func TestBalanceAmounts_ZeroSlippageKeepsAmounts(t *testing.T) {
	b := NewBalancer(zap.NewNop(), 0)

	res, err := b.BalanceAmounts(Request{
		Pool:    testPool(t),
		Range:   testRange(),
		AmountA: big.NewInt(1_000_000_000),
		Fixed:   FixedSideA,
	})
	require.NoError(t, err)

	assert.Zero(t, res.MinAmountA.Cmp(res.AmountA))
	assert.Zero(t, res.MinAmountB.Cmp(res.AmountB))
}

func TestBalanceAmounts_AutoFixesNonNativeSide(t *testing.T) {
	b := NewBalancer(zap.NewNop(), 0)
	pool := testPool(t)
	pool.TokenA = types.TokenInfo{Mint: types.WSOLMint, Symbol: "SOL", Decimals: 9}

	res, err := b.BalanceAmounts(Request{
		Pool:    pool,
		Range:   testRange(),
		AmountA: big.NewInt(5_000_000_000),
		AmountB: big.NewInt(2_000_000_000),
		Fixed:   FixedSideAuto,
	})
	require.NoError(t, err)

	// Токен A нативный, поэтому фиксируется сторона B.
	assert.Equal(t, big.NewInt(2_000_000_000), res.AmountB)
}

func TestBalanceAmounts_ClampsToAvailableMinusGasReserve(t *testing.T) {
	b := NewBalancer(zap.NewNop(), 0)
	pool := testPool(t)
	pool.TokenA = types.TokenInfo{Mint: types.WSOLMint, Symbol: "SOL", Decimals: 9}

	available := big.NewInt(1_000_000_000) // 1 SOL
	res, err := b.BalanceAmounts(Request{
		Pool:       pool,
		Range:      testRange(),
		AmountA:    big.NewInt(2_000_000_000), // больше, чем есть
		Fixed:      FixedSideA,
		AvailableA: available,
	})
	require.NoError(t, err)

	assert.True(t, res.Clamped)
	expected := new(big.Int).Sub(available, big.NewInt(GasReserveLamports))
	assert.Zero(t, res.AmountA.Cmp(expected), "clamp must leave the gas reserve untouched")
}

// Резерв из конфигурации вытесняет значение по умолчанию.
func TestBalanceAmounts_ConfiguredGasReserve(t *testing.T) {
	reserve := uint64(10_000_000) // 0.01 SOL вместо стандартных 0.05
	b := NewBalancer(zap.NewNop(), reserve)
	pool := testPool(t)
	pool.TokenA = types.TokenInfo{Mint: types.WSOLMint, Symbol: "SOL", Decimals: 9}

	available := big.NewInt(1_000_000_000)
	res, err := b.BalanceAmounts(Request{
		Pool:       pool,
		Range:      testRange(),
		AmountA:    big.NewInt(2_000_000_000),
		Fixed:      FixedSideA,
		AvailableA: available,
	})
	require.NoError(t, err)

	require.True(t, res.Clamped)
	expected := new(big.Int).Sub(available, new(big.Int).SetUint64(reserve))
	assert.Zero(t, res.AmountA.Cmp(expected))
}

func TestBalanceAmounts_InsufficientAfterGasReserve(t *testing.T) {
	b := NewBalancer(zap.NewNop(), 0)
	pool := testPool(t)
	pool.TokenA = types.TokenInfo{Mint: types.WSOLMint, Symbol: "SOL", Decimals: 9}

	_, err := b.BalanceAmounts(Request{
		Pool:       pool,
		Range:      testRange(),
		AmountA:    big.NewInt(100_000),
		Fixed:      FixedSideA,
		AvailableA: big.NewInt(GasReserveLamports), // ровно резерв, свободного нет
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestBalanceAmounts_DegeneratePool(t *testing.T) {
	b := NewBalancer(zap.NewNop(), 0)
	pool := testPool(t)
	pool.SqrtPriceX64 = big.NewInt(0)

	_, err := b.BalanceAmounts(Request{
		Pool:    pool,
		Range:   testRange(),
		AmountA: big.NewInt(1_000_000),
		Fixed:   FixedSideA,
	})
	assert.ErrorIs(t, err, ErrPoolState)
}

func TestBalanceAmounts_RejectsZeroFixedAmount(t *testing.T) {
	b := NewBalancer(zap.NewNop(), 0)

	_, err := b.BalanceAmounts(Request{
		Pool:  testPool(t),
		Range: testRange(),
		Fixed: FixedSideA,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAmountsForLiquidity_RoundTrip(t *testing.T) {
	b := NewBalancer(zap.NewNop(), 0)
	pool := testPool(t)
	rng := testRange()

	res, err := b.BalanceAmounts(Request{
		Pool:    pool,
		Range:   rng,
		AmountA: big.NewInt(500_000_000),
		Fixed:   FixedSideA,
	})
	require.NoError(t, err)

	amountA, amountB, err := AmountsForLiquidity(pool, rng, res.Liquidity)
	require.NoError(t, err)

	// Назад из ликвидности: не больше исходных сумм и в пределах округления.
	assert.LessOrEqual(t, amountA.Cmp(res.AmountA), 0)
	assert.LessOrEqual(t, amountB.Cmp(res.AmountB), 0)

	diffA := new(big.Int).Sub(res.AmountA, amountA)
	assert.LessOrEqual(t, diffA.Cmp(big.NewInt(10)), 0, "amountA drift too large: %s", diffA)
}
