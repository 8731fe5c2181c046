// internal/types/slippage.go
package types

import (
	"fmt"
	"math/big"
)

// Percentage — доля, выраженная отношением числитель/знаменатель, чтобы
// избежать накопления ошибок float при расчёте минимальных выходов.
type Percentage struct {
	Numerator   uint64
	Denominator uint64
}

// PercentageFromFloat builds a Percentage from a human value, e.g. 0.5 → 0.5%.
// Resolution is one hundredth of a percent.
func PercentageFromFloat(percent float64) (Percentage, error) {
	if percent < 0 || percent > 100 {
		return Percentage{}, fmt.Errorf("percentage out of range: %f", percent)
	}
	return Percentage{
		Numerator:   uint64(percent * 100),
		Denominator: 10_000,
	}, nil
}

// IsZero reports whether the percentage is exactly zero.
func (p Percentage) IsZero() bool {
	return p.Numerator == 0
}

// Float возвращает значение в процентах (для логов).
func (p Percentage) Float() float64 {
	if p.Denominator == 0 {
		return 0
	}
	return float64(p.Numerator) / float64(p.Denominator) * 100
}

// ApplyFloor computes floor(amount * numerator / denominator).
func (p Percentage) ApplyFloor(amount *big.Int) *big.Int {
	if amount == nil || p.Denominator == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(p.Numerator))
	return out.Quo(out, new(big.Int).SetUint64(p.Denominator))
}

// MinAfterSlippage computes floor(amount * (1 - slippage)). Slippage of zero
// returns the amount unchanged.
func (p Percentage) MinAfterSlippage(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	if p.IsZero() || p.Denominator == 0 {
		return new(big.Int).Set(amount)
	}
	keep := new(big.Int).SetUint64(p.Denominator - min(p.Numerator, p.Denominator))
	out := new(big.Int).Mul(amount, keep)
	return out.Quo(out, new(big.Int).SetUint64(p.Denominator))
}
