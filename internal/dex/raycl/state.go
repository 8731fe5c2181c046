// =============================
// File: internal/dex/raycl/state.go
// =============================
package raycl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// PoolState — лейаут аккаунта пула Raydium CLMM (раскладка по смещениям).
type PoolState struct {
	Bump          uint8
	AmmConfig     solana.PublicKey
	Owner         solana.PublicKey
	TokenMint0    solana.PublicKey
	TokenMint1    solana.PublicKey
	TokenVault0   solana.PublicKey
	TokenVault1   solana.PublicKey
	MintDecimals0 uint8
	MintDecimals1 uint8
	TickSpacing   uint16
	Liquidity     *big.Int
	SqrtPriceX64  *big.Int
	TickCurrent   int32
	FeeRate       uint16
	RewardInfos   [3]PoolRewardInfo
}

// PoolRewardInfo — слот награды пула.
type PoolRewardInfo struct {
	Mint  solana.PublicKey
	Vault solana.PublicKey
}

// Initialized reports whether the reward slot carries a mint.
func (r PoolRewardInfo) Initialized() bool {
	return !r.Mint.IsZero()
}

func u128FromLE(data []byte) *big.Int {
	buf := make([]byte, 16)
	copy(buf, data[:16])
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return new(big.Int).SetBytes(buf)
}

// DecodePoolState разбирает данные аккаунта пула.
func DecodePoolState(data []byte) (*PoolState, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("pool state too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], poolStateDiscriminator) {
		return nil, fmt.Errorf("not a clmm pool state account")
	}
	data = data[8:]
	if len(data) < 429 {
		return nil, fmt.Errorf("pool state truncated: %d bytes", len(data))
	}

	p := &PoolState{}
	offset := 0

	p.Bump = data[offset]
	offset++
	p.AmmConfig = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.Owner = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.TokenMint0 = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.TokenMint1 = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.TokenVault0 = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.TokenVault1 = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	offset += 32 // observation state key
	p.MintDecimals0 = data[offset]
	offset++
	p.MintDecimals1 = data[offset]
	offset++
	p.TickSpacing = binary.LittleEndian.Uint16(data[offset : offset+2])
	offset += 2
	p.Liquidity = u128FromLE(data[offset:])
	offset += 16
	p.SqrtPriceX64 = u128FromLE(data[offset:])
	offset += 16
	p.TickCurrent = int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	p.FeeRate = binary.LittleEndian.Uint16(data[offset : offset+2])
	offset += 2
	offset += 2  // padding
	offset += 16 // fee growth global 0
	offset += 16 // fee growth global 1
	offset += 8  // protocol fees 0
	offset += 8  // protocol fees 1
	offset += 16 // swap in amount token 0
	offset += 16 // swap out amount token 1

	for i := 0; i < 3; i++ {
		if len(data) < offset+64 {
			break
		}
		p.RewardInfos[i].Mint = solana.PublicKeyFromBytes(data[offset : offset+32])
		offset += 32
		p.RewardInfos[i].Vault = solana.PublicKeyFromBytes(data[offset : offset+32])
		offset += 32
		offset += 48 // emissions per second x64, growth global x64, claimed
	}
	return p, nil
}

// PersonalPosition — лейаут аккаунта позиции Raydium CLMM.
type PersonalPosition struct {
	Bump          uint8
	NftMint       solana.PublicKey
	PoolID        solana.PublicKey
	TickLower     int32
	TickUpper     int32
	Liquidity     *big.Int
	TokenFeesOwed0 uint64
	TokenFeesOwed1 uint64
	RewardsOwed   [3]uint64
}

// DecodePersonalPosition разбирает данные аккаунта позиции.
func DecodePersonalPosition(data []byte) (*PersonalPosition, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("personal position too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], personalPositionDiscriminator) {
		return nil, fmt.Errorf("not a personal position account")
	}
	data = data[8:]
	if len(data) < 185 {
		return nil, fmt.Errorf("personal position truncated: %d bytes", len(data))
	}

	p := &PersonalPosition{}
	offset := 0

	p.Bump = data[offset]
	offset++
	p.NftMint = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.PoolID = solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	p.TickLower = int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	p.TickUpper = int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	p.Liquidity = u128FromLE(data[offset:])
	offset += 16
	offset += 16 // fee growth inside 0
	offset += 16 // fee growth inside 1
	p.TokenFeesOwed0 = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	p.TokenFeesOwed1 = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8

	for i := 0; i < 3; i++ {
		if len(data) < offset+24 {
			break
		}
		offset += 16 // growth inside checkpoint
		p.RewardsOwed[i] = binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
	}
	return p, nil
}

// PersonalPositionPDA выводит адрес позиции из минта её NFT.
func PersonalPositionPDA(nftMint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("position"), nftMint.Bytes()},
		CLMMProgramID,
	)
	return addr, err
}

// ProtocolPositionPDA выводит адрес протокольной позиции (пул + диапазон).
func ProtocolPositionPDA(pool solana.PublicKey, tickLower, tickUpper int32) (solana.PublicKey, error) {
	lower := make([]byte, 4)
	upper := make([]byte, 4)
	binary.BigEndian.PutUint32(lower, uint32(tickLower))
	binary.BigEndian.PutUint32(upper, uint32(tickUpper))
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("position"), pool.Bytes(), lower, upper},
		CLMMProgramID,
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
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, uint32(startIndex))
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("tick_array"), pool.Bytes(), idx},
		CLMMProgramID,
	)
	return addr, err
}
