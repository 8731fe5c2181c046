// =============================
// File: internal/dex/whirlpool/constants.go
// =============================
package whirlpool

import "github.com/gagliardetto/solana-go"

// Whirlpool (Orca) program IDs
const (
	// WhirlpoolProgramIDStr is the Orca Whirlpool CLMM program
	WhirlpoolProgramIDStr = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
)

var (
	WhirlpoolProgramID = solana.MustPublicKeyFromBase58(WhirlpoolProgramIDStr)

	// MetadataProgramID — Metaplex token metadata (для NFT позиции).
	MetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")
)

// Tick constants
const (
	MinTick       int32 = -443636
	MaxTick       int32 = 443636
	TickArraySize int32 = 88
)

// Сигнатуры ошибок программы, по которым классифицируется отказ.
const (
	// Комбинированный open+increase отклоняется частью конфигураций пулов.
	ErrCodeUnsupportedCombined = "0x1770" // InvalidInstructionSequence
	ErrCodeTokenMaxExceeded    = "0x1781"
	// Закрытие несуществующей/уже закрытой позиции.
	ErrCodeAccountNotInitialized = "0xbc4" // AccountNotInitialized (anchor 3012)
	ErrCodeClosePositionNotEmpty = "0x1775"
	// Сбор наград при нулевых начислениях.
	ErrCodeRewardNotInitialized = "0x178a"
)

// Anchor-дискриминаторы инструкций (первые 8 байт sha256("global:<name>")).
var (
	ixOpenPosition               = []byte{0x87, 0x80, 0x2f, 0x4d, 0x0f, 0x98, 0xf0, 0x31}
	ixOpenPositionWithLiquidity  = []byte{0xb9, 0x15, 0x7f, 0x52, 0x66, 0x34, 0xd0, 0x49}
	ixIncreaseLiquidity          = []byte{0x2e, 0x9c, 0xf3, 0x76, 0x0d, 0xcd, 0xfb, 0xb2}
	ixDecreaseLiquidity          = []byte{0xa0, 0x26, 0xd0, 0x6f, 0x68, 0x5b, 0x2c, 0x01}
	ixCollectFees                = []byte{0xa4, 0x98, 0xcf, 0x63, 0x1e, 0xba, 0x13, 0xb6}
	ixCollectReward              = []byte{0x46, 0x05, 0x84, 0x5b, 0x57, 0x5a, 0xa7, 0x83}
	ixClosePosition              = []byte{0x7b, 0x86, 0x51, 0x00, 0x31, 0x44, 0x6d, 0x4b}
)

// Дискриминаторы аккаунтов программы.
var (
	whirlpoolAccountDiscriminator = []byte{0x3f, 0x95, 0x30, 0x0c, 0x1d, 0x2c, 0xc1, 0x6b}
	positionAccountDiscriminator  = []byte{0xaa, 0xbc, 0x8f, 0xe4, 0x7a, 0x40, 0xf7, 0xd0}
)
