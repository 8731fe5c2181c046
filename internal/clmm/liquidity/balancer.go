// internal/clmm/liquidity/balancer.go
package liquidity

import (
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/clmm-manager/internal/clmm/tickmath"
	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

var (
	// ErrInvalidAmount возвращается для нулевых или отрицательных сумм.
	ErrInvalidAmount = errors.New("invalid amount: must be positive")
	// ErrPoolState возвращается для пула с вырожденной ценой (нулевые резервы).
	ErrPoolState = errors.New("degenerate pool state")
	// ErrInsufficientBalance возвращается, когда после газового резерва
	// на нативной стороне не остаётся средств.
	ErrInsufficientBalance = errors.New("insufficient balance after gas reserve")
)

// FixedSide указывает, сумма какого токена фиксирована при балансировке.
type FixedSide string

const (
	FixedSideA    FixedSide = "a"
	FixedSideB    FixedSide = "b"
	FixedSideAuto FixedSide = "auto" // non-native side when one token is SOL, else A
)

// GasReserveLamports — минимум SOL, оставляемый на комиссии (0.05 SOL),
// когда конфигурация не задаёт собственный резерв.
const GasReserveLamports = 50_000_000

// Request описывает вход балансировки.
type Request struct {
	Pool     *types.Pool
	Range    types.TickRange
	AmountA  *big.Int
	AmountB  *big.Int
	Fixed    FixedSide
	Slippage types.Percentage

	// Available balances in base units; nil means "do not clamp".
	AvailableA *big.Int
	AvailableB *big.Int
}

// Result — сбалансированные суммы и минимумы с учётом slippage.
type Result struct {
	AmountA    *big.Int
	AmountB    *big.Int
	MinAmountA *big.Int
	MinAmountB *big.Int
	Liquidity  *big.Int
	// Clamped выставляется, если фиксированная сумма была урезана до
	// доступного баланса (поведение документировано: не ошибка).
	Clamped bool
}

// Balancer выводит парную сумму из фиксированной стороны через текущую
// sqrt-цену пула и границы диапазона.
type Balancer struct {
	logger     *zap.Logger
	gasReserve *big.Int
}

// NewBalancer создаёт балансировщик. gasReserveLamports == 0 означает
// резерв по умолчанию (GasReserveLamports).
func NewBalancer(logger *zap.Logger, gasReserveLamports uint64) *Balancer {
	if gasReserveLamports == 0 {
		gasReserveLamports = GasReserveLamports
	}
	return &Balancer{
		logger:     logger.Named("liquidity-balancer"),
		gasReserve: new(big.Int).SetUint64(gasReserveLamports),
	}
}

// BalanceAmounts derives the paired token amount implied by the fixed side's
// amount at the pool's current price, plus slippage-adjusted minimums.
func (b *Balancer) BalanceAmounts(req Request) (*Result, error) {
	if req.Pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrPoolState)
	}
	if req.Pool.SqrtPriceX64 == nil || req.Pool.SqrtPriceX64.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero sqrt price in pool %s", ErrPoolState, req.Pool.ID)
	}
	if !req.Range.Valid(req.Pool.TickSpacing) {
		return nil, fmt.Errorf("tick range %d..%d not aligned to spacing %d",
			req.Range.Lower, req.Range.Upper, req.Pool.TickSpacing)
	}

	fixed := b.resolveFixedSide(req)
	fixedAmount := req.AmountA
	if fixed == FixedSideB {
		fixedAmount = req.AmountB
	}
	if fixedAmount == nil || fixedAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: fixed side %s", ErrInvalidAmount, fixed)
	}

	fixedAmount, clamped, err := b.clampToAvailable(req, fixed, fixedAmount)
	if err != nil {
		return nil, err
	}

	sqrtLower := tickmath.TickToSqrtPriceX64(req.Range.Lower)
	sqrtUpper := tickmath.TickToSqrtPriceX64(req.Range.Upper)
	sqrtCurrent := clampSqrtPrice(req.Pool.SqrtPriceX64, sqrtLower, sqrtUpper)

	var liq, amountA, amountB *big.Int
	if fixed == FixedSideA {
		liq = liquidityFromAmountA(fixedAmount, sqrtCurrent, sqrtUpper)
		amountA = fixedAmount
		amountB = amountBForLiquidity(liq, sqrtLower, sqrtCurrent)
	} else {
		liq = liquidityFromAmountB(fixedAmount, sqrtLower, sqrtCurrent)
		amountB = fixedAmount
		amountA = amountAForLiquidity(liq, sqrtCurrent, sqrtUpper)
	}
	if liq.Sign() <= 0 {
		return nil, fmt.Errorf("%w: computed zero liquidity for range %d..%d",
			ErrInvalidAmount, req.Range.Lower, req.Range.Upper)
	}

	res := &Result{
		AmountA:    amountA,
		AmountB:    amountB,
		MinAmountA: req.Slippage.MinAfterSlippage(amountA),
		MinAmountB: req.Slippage.MinAfterSlippage(amountB),
		Liquidity:  liq,
		Clamped:    clamped,
	}
	b.logger.Debug("balanced amounts",
		zap.String("pool", req.Pool.ID.String()),
		zap.String("fixed_side", string(fixed)),
		zap.String("amount_a", amountA.String()),
		zap.String("amount_b", amountB.String()),
		zap.String("liquidity", liq.String()),
		zap.Bool("clamped", clamped))
	return res, nil
}

// LiquidityForAmounts возвращает ликвидность, соответствующую паре сумм
// в заданном диапазоне (используется при выводе minAmount для remove).
func LiquidityForAmounts(pool *types.Pool, rng types.TickRange, amountA, amountB *big.Int) (*big.Int, error) {
	if pool == nil || pool.SqrtPriceX64 == nil || pool.SqrtPriceX64.Sign() <= 0 {
		return nil, ErrPoolState
	}
	sqrtLower := tickmath.TickToSqrtPriceX64(rng.Lower)
	sqrtUpper := tickmath.TickToSqrtPriceX64(rng.Upper)
	sqrtCurrent := clampSqrtPrice(pool.SqrtPriceX64, sqrtLower, sqrtUpper)

	liqA := liquidityFromAmountA(amountA, sqrtCurrent, sqrtUpper)
	liqB := liquidityFromAmountB(amountB, sqrtLower, sqrtCurrent)
	switch {
	case liqA.Sign() == 0:
		return liqB, nil
	case liqB.Sign() == 0:
		return liqA, nil
	case liqA.Cmp(liqB) < 0:
		return liqA, nil
	default:
		return liqB, nil
	}
}

// AmountsForLiquidity converts a liquidity figure back to token amounts at the
// pool's current price. Used for remove-liquidity minimum outputs.
func AmountsForLiquidity(pool *types.Pool, rng types.TickRange, liq *big.Int) (amountA, amountB *big.Int, err error) {
	if pool == nil || pool.SqrtPriceX64 == nil || pool.SqrtPriceX64.Sign() <= 0 {
		return nil, nil, ErrPoolState
	}
	if liq == nil || liq.Sign() < 0 {
		return nil, nil, ErrInvalidAmount
	}
	sqrtLower := tickmath.TickToSqrtPriceX64(rng.Lower)
	sqrtUpper := tickmath.TickToSqrtPriceX64(rng.Upper)
	sqrtCurrent := clampSqrtPrice(pool.SqrtPriceX64, sqrtLower, sqrtUpper)

	return amountAForLiquidity(liq, sqrtCurrent, sqrtUpper), amountBForLiquidity(liq, sqrtLower, sqrtCurrent), nil
}

func (b *Balancer) resolveFixedSide(req Request) FixedSide {
	if req.Fixed == FixedSideA || req.Fixed == FixedSideB {
		return req.Fixed
	}
	// Фиксируем не-нативную сторону: нативный остаток должен покрыть комиссии.
	if req.Pool.TokenA.IsNative() {
		return FixedSideB
	}
	return FixedSideA
}

// clampToAvailable урезает фиксированную сумму до доступного баланса,
// предварительно вычитая газовый резерв из нативной стороны.
func (b *Balancer) clampToAvailable(req Request, fixed FixedSide, amount *big.Int) (*big.Int, bool, error) {
	available := req.AvailableA
	token := req.Pool.TokenA
	if fixed == FixedSideB {
		available = req.AvailableB
		token = req.Pool.TokenB
	}
	if available == nil {
		return amount, false, nil
	}

	usable := new(big.Int).Set(available)
	if token.IsNative() {
		usable.Sub(usable, b.gasReserve)
	}
	if usable.Sign() <= 0 {
		return nil, false, fmt.Errorf("%w: %s available %s", ErrInsufficientBalance, token.Symbol, available)
	}
	if amount.Cmp(usable) <= 0 {
		return amount, false, nil
	}
	b.logger.Warn("requested amount exceeds available balance, clamping",
		zap.String("token", token.Symbol),
		zap.String("requested", amount.String()),
		zap.String("usable", usable.String()))
	return usable, true, nil
}

func clampSqrtPrice(current, lower, upper *big.Int) *big.Int {
	if current.Cmp(lower) < 0 {
		return lower
	}
	if current.Cmp(upper) > 0 {
		return upper
	}
	return current
}

// liquidityFromAmountA: L = amountA * (sqrtCurrent * sqrtUpper / Q64) / (sqrtUpper - sqrtCurrent).
// При current == upper позиция полностью в токене B и вклад A равен нулю.
func liquidityFromAmountA(amountA, sqrtCurrent, sqrtUpper *big.Int) *big.Int {
	if amountA == nil || amountA.Sign() <= 0 || sqrtUpper.Cmp(sqrtCurrent) <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amountA, sqrtCurrent)
	num.Mul(num, sqrtUpper)
	num.Quo(num, tickmath.Q64)
	den := new(big.Int).Sub(sqrtUpper, sqrtCurrent)
	return num.Quo(num, den)
}

// liquidityFromAmountB: L = amountB * Q64 / (sqrtCurrent - sqrtLower).
func liquidityFromAmountB(amountB, sqrtLower, sqrtCurrent *big.Int) *big.Int {
	if amountB == nil || amountB.Sign() <= 0 || sqrtCurrent.Cmp(sqrtLower) <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amountB, tickmath.Q64)
	den := new(big.Int).Sub(sqrtCurrent, sqrtLower)
	return num.Quo(num, den)
}

// amountAForLiquidity: amountA = L * Q64 * (sqrtUpper - sqrtCurrent) / (sqrtCurrent * sqrtUpper).
func amountAForLiquidity(liq, sqrtCurrent, sqrtUpper *big.Int) *big.Int {
	if liq.Sign() <= 0 || sqrtUpper.Cmp(sqrtCurrent) <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(liq, tickmath.Q64)
	num.Mul(num, new(big.Int).Sub(sqrtUpper, sqrtCurrent))
	den := new(big.Int).Mul(sqrtCurrent, sqrtUpper)
	return num.Quo(num, den)
}

// amountBForLiquidity: amountB = L * (sqrtCurrent - sqrtLower) / Q64.
func amountBForLiquidity(liq, sqrtLower, sqrtCurrent *big.Int) *big.Int {
	if liq.Sign() <= 0 || sqrtCurrent.Cmp(sqrtLower) <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(liq, new(big.Int).Sub(sqrtCurrent, sqrtLower))
	return num.Quo(num, tickmath.Q64)
}
