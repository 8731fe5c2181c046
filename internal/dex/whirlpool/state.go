// =============================
// File: internal/dex/whirlpool/state.go
// =============================
package whirlpool

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// PoolAccount — лейаут аккаунта Whirlpool (без маппинга через borsh:
// раскладываем вручную по смещениям, как и остальные декодеры в репозитории).
type PoolAccount struct {
	WhirlpoolsConfig solana.PublicKey
	WhirlpoolBump    uint8
	TickSpacing      uint16
	FeeRate          uint16
	ProtocolFeeRate  uint16
	Liquidity        *big.Int
	SqrtPrice        *big.Int
	TickCurrentIndex int32
	ProtocolFeeOwedA uint64
	ProtocolFeeOwedB uint64
	TokenMintA       solana.PublicKey
	TokenVaultA      solana.PublicKey
	TokenMintB       solana.PublicKey
	TokenVaultB      solana.PublicKey
	RewardInfos      [3]RewardInfo
}

// RewardInfo — слот награды пула.
type RewardInfo struct {
	Mint      solana.PublicKey
	Vault     solana.PublicKey
	Authority solana.PublicKey
}

// Initialized reports whether the reward slot carries a mint.
func (r RewardInfo) Initialized() bool {
	return !r.Mint.IsZero()
}

func u128FromLE(data []byte) *big.Int {
	buf := make([]byte, 16)
	copy(buf, data[:16])
	// little endian → big endian для big.Int
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return new(big.Int).SetBytes(buf)
}

// DecodePoolAccount разбирает данные аккаунта пула.
func DecodePoolAccount(data []byte) (*PoolAccount, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("whirlpool account too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], whirlpoolAccountDiscriminator) {
		return nil, fmt.Errorf("not a whirlpool account")
	}
	data = data[8:]
	if len(data) < 245 {
		return nil, fmt.Errorf("whirlpool account truncated: %d bytes", len(data))
	}

	p := &PoolAccount{}
	offset := 0

	p.WhirlpoolsConfig = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.WhirlpoolBump = data[offset]
	offset++
	p.TickSpacing = binary.LittleEndian.Uint16(data[offset : offset+2])
	offset += 2
	offset += 2 // fee tier index seed
	p.FeeRate = binary.LittleEndian.Uint16(data[offset : offset+2])
	offset += 2
	p.ProtocolFeeRate = binary.LittleEndian.Uint16(data[offset : offset+2])
	offset += 2
	p.Liquidity = u128FromLE(data[offset:])
	offset += 16
	p.SqrtPrice = u128FromLE(data[offset:])
	offset += 16
	p.TickCurrentIndex = int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	p.ProtocolFeeOwedA = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	p.ProtocolFeeOwedB = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	p.TokenMintA = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.TokenVaultA = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	offset += 16 // fee growth global A
	p.TokenMintB = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.TokenVaultB = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	offset += 16 // fee growth global B
	offset += 8  // reward last updated timestamp

	for i := 0; i < 3; i++ {
		if len(data) < offset+128 {
			break
		}
		p.RewardInfos[i].Mint = solana.PublicKeyFromBytes(data[offset : offset+32])
		offset += 32
		p.RewardInfos[i].Vault = solana.PublicKeyFromBytes(data[offset : offset+32])
		offset += 32
		p.RewardInfos[i].Authority = solana.PublicKeyFromBytes(data[offset : offset+32])
		offset += 32
		offset += 32 // emissions + growth global (2 * u128)
	}
	return p, nil
}

// PositionAccount — лейаут аккаунта позиции.
type PositionAccount struct {
	Whirlpool    solana.PublicKey
	PositionMint solana.PublicKey
	Liquidity    *big.Int
	TickLower    int32
	TickUpper    int32
	FeeOwedA     uint64
	FeeOwedB     uint64
	RewardsOwed  [3]uint64
}

// DecodePositionAccount разбирает данные аккаунта позиции.
func DecodePositionAccount(data []byte) (*PositionAccount, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("position account too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], positionAccountDiscriminator) {
		return nil, fmt.Errorf("not a position account")
	}
	data = data[8:]
	// whirlpool(32) + mint(32) + liquidity(16) + ticks(8) + feeGrowthA(16) +
	// feeOwedA(8) + feeGrowthB(16) + feeOwedB(8) + 3 * (growth(16) + owed(8))
	if len(data) < 208 {
		return nil, fmt.Errorf("position account truncated: %d bytes", len(data))
	}

	p := &PositionAccount{}
	offset := 0

	p.Whirlpool = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.PositionMint = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.Liquidity = u128FromLE(data[offset:])
	offset += 16
	p.TickLower = int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	p.TickUpper = int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	offset += 16 // fee growth checkpoint A
	p.FeeOwedA = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	offset += 16 // fee growth checkpoint B
	p.FeeOwedB = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8

	for i := 0; i < 3; i++ {
		offset += 16 // growth inside checkpoint
		p.RewardsOwed[i] = binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
	}
	return p, nil
}

// PositionPDA выводит адрес аккаунта позиции из минта её NFT.
func PositionPDA(positionMint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("position"), positionMint.Bytes()},
		WhirlpoolProgramID,
	)
	return addr, err
}

// TickArrayStartIndex возвращает стартовый индекс tick array, накрывающего тик.
func TickArrayStartIndex(tick, tickSpacing int32) int32 {
	span := tickSpacing * TickArraySize
	start := tick / span
	if tick < 0 && tick%span != 0 {
		start--
	}
	return start * span
}

// TickArrayPDA выводит адрес tick array по пулу и стартовому индексу.
func TickArrayPDA(pool solana.PublicKey, startIndex int32) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("tick_array"), pool.Bytes(), []byte(fmt.Sprintf("%d", startIndex))},
		WhirlpoolProgramID,
	)
	return addr, err
}
