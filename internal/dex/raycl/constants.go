// =============================
// File: internal/dex/raycl/constants.go
// =============================
package raycl

import "github.com/gagliardetto/solana-go"

// Raydium CLMM program IDs
const (
	CLMMProgramIDStr = "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK"
)

var (
	CLMMProgramID = solana.MustPublicKeyFromBase58(CLMMProgramIDStr)

	// MetadataProgramID — Metaplex token metadata; комбинированный open
	// по умолчанию создаёт metadata-аккаунт NFT позиции.
	MetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")
)

// Tick constants
const (
	MinTick       int32 = -443636
	MaxTick       int32 = 443636
	TickArraySize int32 = 60 // Raydium CLMM использует 60 тиков на массив
)

// RewardScale — фиксированный множитель 10^12, в котором программа хранит
// нормированные ставки наград. Конвенция протокола, не выводится из данных;
// значение требует сверки с документацией при обновлениях программы.
const RewardScale = 1_000_000_000_000

// Сигнатуры ошибок программы.
const (
	// Комбинированный open с metadata отклоняется пулами без поддержки
	// metadata-расширения.
	ErrCodeMetadataUnsupported = "0x1786"
	ErrCodeCombinedRejected    = "0x1773"
	// Закрытие уже закрытой позиции / позиции с ликвидностью.
	ErrCodeAccountNotInitialized = "0xbc4"
	ErrCodeNotApproved           = "0x1779" // ClosePositionErr: position not empty
	// Нулевые награды.
	ErrCodeNoRewards = "0x1790"
)

// Anchor-дискриминаторы инструкций.
var (
	ixOpenPositionWithMetadata = []byte{0x4d, 0xb8, 0x4a, 0xd6, 0x7c, 0x22, 0x9d, 0x51}
	ixOpenPosition             = []byte{0x77, 0x0e, 0xa2, 0x3c, 0x95, 0x33, 0x44, 0xaf}
	ixIncreaseLiquidityV2      = []byte{0x85, 0x1d, 0x59, 0xdf, 0x45, 0xee, 0xeb, 0x00}
	ixDecreaseLiquidityV2      = []byte{0x3a, 0x7f, 0xbc, 0x3e, 0x4f, 0x52, 0xc4, 0x60}
	ixCollectRemainingRewards  = []byte{0x12, 0xed, 0xcd, 0xb6, 0x21, 0x3f, 0x26, 0x75}
	ixClosePosition            = []byte{0x7b, 0x86, 0x51, 0x00, 0x31, 0x44, 0x6d, 0x4b}
)

// Дискриминаторы аккаунтов.
var (
	poolStateDiscriminator        = []byte{0xf7, 0xed, 0xe3, 0xf5, 0xd7, 0xc3, 0xde, 0x46}
	personalPositionDiscriminator = []byte{0x70, 0xe9, 0x33, 0x60, 0x32, 0xfc, 0x9e, 0x74}
)
