// =============================
// File: internal/dex/whirlpool/instructions.go
// =============================
package whirlpool

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

// ixData накапливает данные инструкции: anchor-дискриминатор + аргументы
// в little-endian, как их ждёт программа.
type ixData struct {
	buf []byte
}

func newIxData(discriminator []byte) *ixData {
	d := &ixData{}
	d.buf = append(d.buf, discriminator...)
	return d
}

func (d *ixData) u64(v uint64) *ixData {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	d.buf = append(d.buf, b[:]...)
	return d
}

func (d *ixData) i32(v int32) *ixData {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	d.buf = append(d.buf, b[:]...)
	return d
}

func (d *ixData) u8(v uint8) *ixData {
	d.buf = append(d.buf, v)
	return d
}

func (d *ixData) bool(v bool) *ixData {
	if v {
		return d.u8(1)
	}
	return d.u8(0)
}

// u128 кодирует big.Int как 16 байт little-endian.
func (d *ixData) u128(v *big.Int) *ixData {
	var b [16]byte
	if v != nil {
		v.FillBytes(b[:]) // big endian
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
	}
	d.buf = append(d.buf, b[:]...)
	return d
}

func bigToU64(v *big.Int) uint64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}

// positionAccounts — производные адреса для инструкций по одной позиции.
type positionAccounts struct {
	Position           solana.PublicKey
	PositionMint       solana.PublicKey
	PositionTokenATA   solana.PublicKey
	TickArrayLower     solana.PublicKey
	TickArrayUpper     solana.PublicKey
	OwnerATAForMintA   solana.PublicKey
	OwnerATAForMintB   solana.PublicKey
}

func (a *Adapter) derivePositionAccounts(poolID solana.PublicKey, pool *PoolAccount, positionMint solana.PublicKey, rng types.TickRange) (*positionAccounts, error) {
	position, err := PositionPDA(positionMint)
	if err != nil {
		return nil, fmt.Errorf("derive position pda: %w", err)
	}
	positionATA, _, err := solana.FindAssociatedTokenAddress(a.wallet.PublicKey, positionMint)
	if err != nil {
		return nil, fmt.Errorf("derive position token account: %w", err)
	}
	lowerStart := TickArrayStartIndex(rng.Lower, int32(pool.TickSpacing))
	upperStart := TickArrayStartIndex(rng.Upper, int32(pool.TickSpacing))
	lowerTA, err := TickArrayPDA(poolID, lowerStart)
	if err != nil {
		return nil, err
	}
	upperTA, err := TickArrayPDA(poolID, upperStart)
	if err != nil {
		return nil, err
	}
	ataA, err := a.wallet.GetATA(pool.TokenMintA)
	if err != nil {
		return nil, err
	}
	ataB, err := a.wallet.GetATA(pool.TokenMintB)
	if err != nil {
		return nil, err
	}
	return &positionAccounts{
		Position:         position,
		PositionMint:     positionMint,
		PositionTokenATA: positionATA,
		TickArrayLower:   lowerTA,
		TickArrayUpper:   upperTA,
		OwnerATAForMintA: ataA,
		OwnerATAForMintB: ataB,
	}, nil
}

// buildOpenPosition строит инструкцию открытия пустой позиции.
func (a *Adapter) buildOpenPosition(poolID solana.PublicKey, acc *positionAccounts, rng types.TickRange) solana.Instruction {
	data := newIxData(ixOpenPosition).
		i32(rng.Lower).
		i32(rng.Upper).
		buf

	return solana.NewInstruction(
		WhirlpoolProgramID,
		solana.AccountMetaSlice{
			{PublicKey: a.wallet.PublicKey, IsSigner: true, IsWritable: true}, // funder
			{PublicKey: a.wallet.PublicKey, IsSigner: false},                  // owner
			{PublicKey: acc.Position, IsWritable: true},
			{PublicKey: acc.PositionMint, IsSigner: true, IsWritable: true},
			{PublicKey: acc.PositionTokenATA, IsWritable: true},
			{PublicKey: poolID},
			{PublicKey: solana.TokenProgramID},
			{PublicKey: solana.SystemProgramID},
			{PublicKey: solana.SysVarRentPubkey},
			{PublicKey: solana.SPLAssociatedTokenAccountProgramID},
		},
		data,
	)
}

// buildOpenPositionWithLiquidity строит комбинированную инструкцию
// open+increase. Отклоняется частью конфигураций пулов — тогда адаптер
// переходит на двухшаговый fallback.
func (a *Adapter) buildOpenPositionWithLiquidity(poolID solana.PublicKey, pool *PoolAccount, acc *positionAccounts, rng types.TickRange, liquidity, maxA, maxB *big.Int) solana.Instruction {
	data := newIxData(ixOpenPositionWithLiquidity).
		i32(rng.Lower).
		i32(rng.Upper).
		u128(liquidity).
		u64(bigToU64(maxA)).
		u64(bigToU64(maxB)).
		buf

	return solana.NewInstruction(
		WhirlpoolProgramID,
		solana.AccountMetaSlice{
			{PublicKey: a.wallet.PublicKey, IsSigner: true, IsWritable: true},
			{PublicKey: a.wallet.PublicKey, IsSigner: false},
			{PublicKey: acc.Position, IsWritable: true},
			{PublicKey: acc.PositionMint, IsSigner: true, IsWritable: true},
			{PublicKey: acc.PositionTokenATA, IsWritable: true},
			{PublicKey: poolID, IsWritable: true},
			{PublicKey: acc.OwnerATAForMintA, IsWritable: true},
			{PublicKey: acc.OwnerATAForMintB, IsWritable: true},
			{PublicKey: pool.TokenVaultA, IsWritable: true},
			{PublicKey: pool.TokenVaultB, IsWritable: true},
			{PublicKey: acc.TickArrayLower, IsWritable: true},
			{PublicKey: acc.TickArrayUpper, IsWritable: true},
			{PublicKey: solana.TokenProgramID},
			{PublicKey: solana.SystemProgramID},
			{PublicKey: solana.SysVarRentPubkey},
			{PublicKey: solana.SPLAssociatedTokenAccountProgramID},
		},
		data,
	)
}

// buildIncreaseLiquidity строит инструкцию долива ликвидности.
func (a *Adapter) buildIncreaseLiquidity(poolID solana.PublicKey, pool *PoolAccount, acc *positionAccounts, liquidity, maxA, maxB *big.Int) solana.Instruction {
	data := newIxData(ixIncreaseLiquidity).
		u128(liquidity).
		u64(bigToU64(maxA)).
		u64(bigToU64(maxB)).
		buf

	return solana.NewInstruction(
		WhirlpoolProgramID,
		a.liquidityAccounts(poolID, pool, acc),
		data,
	)
}

// buildDecreaseLiquidity строит инструкцию снятия ликвидности; комиссии
// выметаются тем же вызовом программы.
func (a *Adapter) buildDecreaseLiquidity(poolID solana.PublicKey, pool *PoolAccount, acc *positionAccounts, liquidity, minA, minB *big.Int) solana.Instruction {
	data := newIxData(ixDecreaseLiquidity).
		u128(liquidity).
		u64(bigToU64(minA)).
		u64(bigToU64(minB)).
		bool(true). // collect fees in the same call
		buf

	return solana.NewInstruction(
		WhirlpoolProgramID,
		a.liquidityAccounts(poolID, pool, acc),
		data,
	)
}

func (a *Adapter) liquidityAccounts(poolID solana.PublicKey, pool *PoolAccount, acc *positionAccounts) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		{PublicKey: poolID, IsWritable: true},
		{PublicKey: solana.TokenProgramID},
		{PublicKey: a.wallet.PublicKey, IsSigner: true},
		{PublicKey: acc.Position, IsWritable: true},
		{PublicKey: acc.PositionTokenATA},
		{PublicKey: acc.OwnerATAForMintA, IsWritable: true},
		{PublicKey: acc.OwnerATAForMintB, IsWritable: true},
		{PublicKey: pool.TokenVaultA, IsWritable: true},
		{PublicKey: pool.TokenVaultB, IsWritable: true},
		{PublicKey: acc.TickArrayLower, IsWritable: true},
		{PublicKey: acc.TickArrayUpper, IsWritable: true},
	}
}

// buildCollectFees строит инструкцию сбора комиссий.
func (a *Adapter) buildCollectFees(poolID solana.PublicKey, pool *PoolAccount, acc *positionAccounts) solana.Instruction {
	return solana.NewInstruction(
		WhirlpoolProgramID,
		solana.AccountMetaSlice{
			{PublicKey: poolID, IsWritable: true},
			{PublicKey: a.wallet.PublicKey, IsSigner: true},
			{PublicKey: acc.Position, IsWritable: true},
			{PublicKey: acc.PositionTokenATA},
			{PublicKey: acc.OwnerATAForMintA, IsWritable: true},
			{PublicKey: pool.TokenVaultA, IsWritable: true},
			{PublicKey: acc.OwnerATAForMintB, IsWritable: true},
			{PublicKey: pool.TokenVaultB, IsWritable: true},
			{PublicKey: solana.TokenProgramID},
		},
		newIxData(ixCollectFees).buf,
	)
}

// buildCollectReward строит инструкцию сбора награды по слоту rewardIndex.
func (a *Adapter) buildCollectReward(poolID solana.PublicKey, acc *positionAccounts, reward RewardInfo, rewardIndex uint8, ownerRewardATA solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		WhirlpoolProgramID,
		solana.AccountMetaSlice{
			{PublicKey: poolID, IsWritable: true},
			{PublicKey: a.wallet.PublicKey, IsSigner: true},
			{PublicKey: acc.Position, IsWritable: true},
			{PublicKey: acc.PositionTokenATA},
			{PublicKey: ownerRewardATA, IsWritable: true},
			{PublicKey: reward.Vault, IsWritable: true},
			{PublicKey: solana.TokenProgramID},
		},
		newIxData(ixCollectReward).u8(rewardIndex).buf,
	)
}

// buildClosePosition строит инструкцию закрытия пустой позиции.
func (a *Adapter) buildClosePosition(acc *positionAccounts) solana.Instruction {
	return solana.NewInstruction(
		WhirlpoolProgramID,
		solana.AccountMetaSlice{
			{PublicKey: a.wallet.PublicKey, IsSigner: true, IsWritable: true}, // receives rent
			{PublicKey: acc.Position, IsWritable: true},
			{PublicKey: acc.PositionMint, IsWritable: true},
			{PublicKey: acc.PositionTokenATA, IsWritable: true},
			{PublicKey: solana.TokenProgramID},
		},
		newIxData(ixClosePosition).buf,
	)
}
