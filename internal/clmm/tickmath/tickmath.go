// internal/clmm/tickmath/tickmath.go
package tickmath

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

// ErrInvalidPrice возвращается для неположительных цен. Значение никогда не
// подменяется дефолтом: ошибка в цене должна остановить операцию до выхода в сеть.
var ErrInvalidPrice = errors.New("invalid price: must be positive")

const (
	// tickBase: price(tick) = 1.0001^tick
	tickBase = 1.0001
)

// Q64 — фиксированная точка X64, в которой протоколы хранят sqrt-цену.
var Q64 = new(big.Int).Lsh(big.NewInt(1), 64)

// adjustForDecimals переводит человеческую цену (tokenB за tokenA) во
// внутреннюю, учитывая разницу десятичных знаков токенов.
func adjustForDecimals(price float64, decimalsA, decimalsB uint8) float64 {
	return price * math.Pow10(int(decimalsA)-int(decimalsB))
}

// PriceToTick converts a human price to the nearest initializable tick.
// roundUp selects the rounding direction: false for a lower bound (floor to
// spacing), true for an upper bound (ceil to spacing). The result is always an
// exact multiple of tickSpacing; clamping to protocol min/max tick is the
// adapter's job.
func PriceToTick(price float64, decimalsA, decimalsB uint8, tickSpacing int32, roundUp bool) (int32, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: %f", ErrInvalidPrice, price)
	}
	if tickSpacing <= 0 {
		return 0, fmt.Errorf("invalid tick spacing: %d", tickSpacing)
	}

	adjusted := adjustForDecimals(price, decimalsA, decimalsB)
	rawTick := math.Log(adjusted) / math.Log(tickBase)
	return AlignTick(int32(math.Floor(rawTick)), tickSpacing, roundUp), nil
}

// AlignTick rounds a tick to a multiple of spacing: floor when roundUp is
// false, ceil when true. Уже выровненный тик возвращается как есть.
func AlignTick(tick, spacing int32, roundUp bool) int32 {
	rem := tick % spacing
	if rem == 0 {
		return tick
	}
	aligned := tick - rem
	if rem < 0 {
		aligned -= spacing // floor for negative ticks
	}
	if roundUp {
		aligned += spacing
	}
	return aligned
}

// TickToPrice возвращает человеческую цену на границе тика.
func TickToPrice(tick int32, decimalsA, decimalsB uint8) float64 {
	internal := math.Pow(tickBase, float64(tick))
	return internal * math.Pow10(int(decimalsB)-int(decimalsA))
}

// RangeAroundPrice derives a tick range centered on the current price:
// lower = price*(1-widthPct), upper = price*(1+widthPct), both rounded
// outward so the requested range is never narrower than intended.
func RangeAroundPrice(currentPrice, widthPct float64, decimalsA, decimalsB uint8, tickSpacing int32) (types.TickRange, error) {
	if currentPrice <= 0 {
		return types.TickRange{}, fmt.Errorf("%w: %f", ErrInvalidPrice, currentPrice)
	}
	if widthPct <= 0 || widthPct >= 1 {
		return types.TickRange{}, fmt.Errorf("range width must be in (0, 1): %f", widthPct)
	}

	lower, err := PriceToTick(currentPrice*(1-widthPct), decimalsA, decimalsB, tickSpacing, false)
	if err != nil {
		return types.TickRange{}, err
	}
	upper, err := PriceToTick(currentPrice*(1+widthPct), decimalsA, decimalsB, tickSpacing, true)
	if err != nil {
		return types.TickRange{}, err
	}
	if lower >= upper {
		// Узкий диапазон схлопнулся в одну границу после выравнивания.
		upper = lower + tickSpacing
	}
	return types.TickRange{Lower: lower, Upper: upper}, nil
}

// TickToSqrtPriceX64 возвращает sqrt(1.0001^tick) в фиксированной точке X64.
func TickToSqrtPriceX64(tick int32) *big.Int {
	sqrtPrice := math.Pow(tickBase, float64(tick)/2)
	out := new(big.Float).Mul(big.NewFloat(sqrtPrice), new(big.Float).SetInt(Q64))
	i, _ := out.Int(nil)
	return i
}

// SqrtPriceX64ToPrice converts an on-chain X64 sqrt price to a human price.
func SqrtPriceX64ToPrice(sqrtPriceX64 *big.Int, decimalsA, decimalsB uint8) (float64, error) {
	if sqrtPriceX64 == nil || sqrtPriceX64.Sign() <= 0 {
		return 0, fmt.Errorf("%w: degenerate sqrt price", ErrInvalidPrice)
	}
	f := new(big.Float).SetInt(sqrtPriceX64)
	f.Quo(f, new(big.Float).SetInt(Q64))
	sqrt, _ := f.Float64()
	internal := sqrt * sqrt
	return internal * math.Pow10(int(decimalsB)-int(decimalsA)), nil
}

// SqrtPriceX64ToTick возвращает текущий тик, соответствующий sqrt-цене.
func SqrtPriceX64ToTick(sqrtPriceX64 *big.Int) (int32, error) {
	price, err := SqrtPriceX64ToPrice(sqrtPriceX64, 0, 0)
	if err != nil {
		return 0, err
	}
	return int32(math.Floor(math.Log(price) / math.Log(tickBase))), nil
}
