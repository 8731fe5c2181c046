// internal/types/types.go
package types

import (
	"math"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Protocol identifies the CLMM implementation a pool belongs to.
type Protocol string

const (
	ProtocolWhirlpool Protocol = "whirlpool"
	ProtocolRaydium   Protocol = "raydium-clmm"
)

// WSOLMint — обёрнутый SOL, нативный газовый токен сети.
var WSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// TokenInfo описывает токен пула.
type TokenInfo struct {
	Mint     solana.PublicKey
	Symbol   string
	Decimals uint8
}

// IsNative reports whether the token is the chain's gas asset (wrapped SOL).
func (t TokenInfo) IsNative() bool {
	return t.Mint.Equals(WSOLMint)
}

// TokenAmount — целочисленная сумма в минимальных единицах токена.
// Amount всегда неотрицательный; человекочитаемые float-суммы конвертируются
// в базовые единицы ровно один раз, на границе (см. ToBaseUnits).
type TokenAmount struct {
	Token  TokenInfo
	Amount *big.Int
}

// ToBaseUnits converts a human-readable amount to base units: round(x * 10^decimals).
func ToBaseUnits(amount float64, decimals uint8) *big.Int {
	if amount <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(math.Pow10(int(decimals))))
	scaled.Add(scaled, big.NewFloat(0.5)) // big.Float.Int truncates
	i, _ := scaled.Int(nil)
	return i
}

// FromBaseUnits форматирует целочисленную сумму обратно в float для отображения.
func FromBaseUnits(amount *big.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	f.Quo(f, big.NewFloat(math.Pow10(int(decimals))))
	out, _ := f.Float64()
	return out
}

// Pool — снимок состояния пула на момент чтения из сети. Не мутируется,
// при необходимости перечитывается целиком.
type Pool struct {
	ID           solana.PublicKey
	Protocol     Protocol
	TokenA       TokenInfo
	TokenB       TokenInfo
	TickSpacing  int32
	SqrtPriceX64 *big.Int
	CurrentTick  int32
	FeeRate      uint16 // hundredths of a basis point
}

// TickRange — границы позиции, обе кратны tick spacing пула.
type TickRange struct {
	Lower int32
	Upper int32
}

// Valid reports whether the range is ordered and aligned to the given spacing.
func (r TickRange) Valid(spacing int32) bool {
	if spacing <= 0 || r.Lower >= r.Upper {
		return false
	}
	return r.Lower%spacing == 0 && r.Upper%spacing == 0
}

// PositionState — этапы жизненного цикла позиции.
type PositionState string

const (
	StateOpen     PositionState = "open"
	StateRemoving PositionState = "removing"
	StateClosed   PositionState = "closed"
)

// FeeRecord — накопленная, но не собранная комиссия по одному токену.
type FeeRecord struct {
	Token    TokenInfo
	Owed     *big.Int
	ValueUSD float64
}

// RewardRecord — накопленная эмиссионная награда по одному токену.
type RewardRecord struct {
	Token    TokenInfo
	Owed     *big.Int
	ValueUSD float64
}

// Position — протокол-независимое представление позиции ликвидности.
type Position struct {
	ID        solana.PublicKey // position account (NFT-backed)
	PoolID    solana.PublicKey
	Protocol  Protocol
	Range     TickRange
	Liquidity *big.Int
	State     PositionState

	// Derived snapshot, recomputed on refresh.
	AmountA  *big.Int
	AmountB  *big.Int
	ValueUSD float64

	Fees    []FeeRecord
	Rewards []RewardRecord

	FetchedAt time.Time
}

// HasLiquidity reports whether the position still carries non-zero liquidity.
func (p *Position) HasLiquidity() bool {
	return p.Liquidity != nil && p.Liquidity.Sign() > 0
}

// PoolGroup — корень агрегации: все позиции пользователя в одном пуле плюс
// свёрнутые итоги. Пересобирается целиком при каждом обновлении.
type PoolGroup struct {
	PoolID         string
	Protocol       Protocol
	TokenA         TokenInfo
	TokenB         TokenInfo
	Positions      []*Position
	TotalLiquidity *big.Int
	TotalValueUSD  float64
	TotalFeesUSD   float64
	Rewards        []RewardRecord // one rolled-up record per reward mint
}
