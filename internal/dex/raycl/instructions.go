// =============================
// File: internal/dex/raycl/instructions.go
// =============================
package raycl

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

// appendU64 / appendI32 / appendU128 кодируют аргументы инструкции в
// little-endian, как их ждёт программа.
func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendI32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func appendU128(buf []byte, v *big.Int) []byte {
	var b [16]byte
	if v != nil {
		v.FillBytes(b[:])
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
	}
	return append(buf, b[:]...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
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

// positionContext — производные адреса для инструкций по одной позиции.
type positionContext struct {
	PersonalPosition solana.PublicKey
	ProtocolPosition solana.PublicKey
	NftMint          solana.PublicKey
	NftTokenAccount  solana.PublicKey
	TickArrayLower   solana.PublicKey
	TickArrayUpper   solana.PublicKey
	OwnerATA0        solana.PublicKey
	OwnerATA1        solana.PublicKey
}

func (a *Adapter) derivePositionContext(poolID solana.PublicKey, pool *PoolState, nftMint solana.PublicKey, rng types.TickRange) (*positionContext, error) {
	personal, err := PersonalPositionPDA(nftMint)
	if err != nil {
		return nil, fmt.Errorf("derive personal position: %w", err)
	}
	protocol, err := ProtocolPositionPDA(poolID, rng.Lower, rng.Upper)
	if err != nil {
		return nil, fmt.Errorf("derive protocol position: %w", err)
	}
	nftATA, _, err := solana.FindAssociatedTokenAddress(a.wallet.PublicKey, nftMint)
	if err != nil {
		return nil, err
	}
	spacing := int32(pool.TickSpacing)
	lowerTA, err := TickArrayPDA(poolID, TickArrayStartIndex(rng.Lower, spacing))
	if err != nil {
		return nil, err
	}
	upperTA, err := TickArrayPDA(poolID, TickArrayStartIndex(rng.Upper, spacing))
	if err != nil {
		return nil, err
	}
	ata0, err := a.wallet.GetATA(pool.TokenMint0)
	if err != nil {
		return nil, err
	}
	ata1, err := a.wallet.GetATA(pool.TokenMint1)
	if err != nil {
		return nil, err
	}
	return &positionContext{
		PersonalPosition: personal,
		ProtocolPosition: protocol,
		NftMint:          nftMint,
		NftTokenAccount:  nftATA,
		TickArrayLower:   lowerTA,
		TickArrayUpper:   upperTA,
		OwnerATA0:        ata0,
		OwnerATA1:        ata1,
	}, nil
}

// buildOpenPosition строит инструкцию открытия позиции. В отличие от
// стандартного протокола ликвидность передаётся в том же вызове:
// liquidity == 0 открывает пустую позицию.
func (a *Adapter) buildOpenPosition(poolID solana.PublicKey, pool *PoolState, pctx *positionContext, rng types.TickRange, liquidity, max0, max1 *big.Int, withMetadata bool) solana.Instruction {
	disc := ixOpenPosition
	if withMetadata {
		disc = ixOpenPositionWithMetadata
	}
	spacing := int32(pool.TickSpacing)

	data := append([]byte{}, disc...)
	data = appendI32(data, rng.Lower)
	data = appendI32(data, rng.Upper)
	data = appendI32(data, TickArrayStartIndex(rng.Lower, spacing))
	data = appendI32(data, TickArrayStartIndex(rng.Upper, spacing))
	data = appendU128(data, liquidity)
	data = appendU64(data, bigToU64(max0))
	data = appendU64(data, bigToU64(max1))
	data = appendBool(data, withMetadata)

	metas := solana.AccountMetaSlice{
		{PublicKey: a.wallet.PublicKey, IsSigner: true, IsWritable: true}, // payer
		{PublicKey: a.wallet.PublicKey, IsSigner: false},                  // position owner
		{PublicKey: pctx.NftMint, IsSigner: true, IsWritable: true},
		{PublicKey: pctx.NftTokenAccount, IsWritable: true},
		{PublicKey: poolID, IsWritable: true},
		{PublicKey: pctx.ProtocolPosition, IsWritable: true},
		{PublicKey: pctx.PersonalPosition, IsWritable: true},
		{PublicKey: pctx.TickArrayLower, IsWritable: true},
		{PublicKey: pctx.TickArrayUpper, IsWritable: true},
		{PublicKey: pctx.OwnerATA0, IsWritable: true},
		{PublicKey: pctx.OwnerATA1, IsWritable: true},
		{PublicKey: pool.TokenVault0, IsWritable: true},
		{PublicKey: pool.TokenVault1, IsWritable: true},
		{PublicKey: solana.TokenProgramID},
		{PublicKey: solana.SystemProgramID},
		{PublicKey: solana.SysVarRentPubkey},
		{PublicKey: solana.SPLAssociatedTokenAccountProgramID},
	}
	if withMetadata {
		metas = append(metas, &solana.AccountMeta{PublicKey: MetadataProgramID})
	}
	return solana.NewInstruction(CLMMProgramID, metas, data)
}

// buildIncreaseLiquidity строит инструкцию долива ликвидности.
func (a *Adapter) buildIncreaseLiquidity(poolID solana.PublicKey, pool *PoolState, pctx *positionContext, liquidity, max0, max1 *big.Int) solana.Instruction {
	data := append([]byte{}, ixIncreaseLiquidityV2...)
	data = appendU128(data, liquidity)
	data = appendU64(data, bigToU64(max0))
	data = appendU64(data, bigToU64(max1))

	return solana.NewInstruction(CLMMProgramID, a.liquidityMetas(poolID, pool, pctx), data)
}

// buildDecreaseLiquidity строит инструкцию снятия ликвидности. Конвенция
// протокола: вызов с liquidity == 0 не меняет позицию, но выметает
// накопленные комиссии и начисленные награды на кошелёк владельца.
func (a *Adapter) buildDecreaseLiquidity(poolID solana.PublicKey, pool *PoolState, pctx *positionContext, liquidity, min0, min1 *big.Int) solana.Instruction {
	data := append([]byte{}, ixDecreaseLiquidityV2...)
	data = appendU128(data, liquidity)
	data = appendU64(data, bigToU64(min0))
	data = appendU64(data, bigToU64(min1))

	return solana.NewInstruction(CLMMProgramID, a.liquidityMetas(poolID, pool, pctx), data)
}

func (a *Adapter) liquidityMetas(poolID solana.PublicKey, pool *PoolState, pctx *positionContext) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		{PublicKey: a.wallet.PublicKey, IsSigner: true},
		{PublicKey: pctx.NftTokenAccount},
		{PublicKey: poolID, IsWritable: true},
		{PublicKey: pctx.ProtocolPosition, IsWritable: true},
		{PublicKey: pctx.PersonalPosition, IsWritable: true},
		{PublicKey: pctx.TickArrayLower, IsWritable: true},
		{PublicKey: pctx.TickArrayUpper, IsWritable: true},
		{PublicKey: pctx.OwnerATA0, IsWritable: true},
		{PublicKey: pctx.OwnerATA1, IsWritable: true},
		{PublicKey: pool.TokenVault0, IsWritable: true},
		{PublicKey: pool.TokenVault1, IsWritable: true},
		{PublicKey: solana.TokenProgramID},
	}
}

// buildCollectRemainingRewards строит инструкцию сбора награды по слоту.
func (a *Adapter) buildCollectRemainingRewards(poolID solana.PublicKey, pctx *positionContext, reward PoolRewardInfo, rewardIndex uint8, ownerRewardATA solana.PublicKey) solana.Instruction {
	data := append([]byte{}, ixCollectRemainingRewards...)
	data = append(data, rewardIndex)

	return solana.NewInstruction(
		CLMMProgramID,
		solana.AccountMetaSlice{
			{PublicKey: a.wallet.PublicKey, IsSigner: true},
			{PublicKey: pctx.NftTokenAccount},
			{PublicKey: poolID, IsWritable: true},
			{PublicKey: pctx.PersonalPosition, IsWritable: true},
			{PublicKey: reward.Vault, IsWritable: true},
			{PublicKey: ownerRewardATA, IsWritable: true},
			{PublicKey: solana.TokenProgramID},
		},
		data,
	)
}

// buildClosePosition строит инструкцию закрытия пустой позиции.
func (a *Adapter) buildClosePosition(pctx *positionContext) solana.Instruction {
	return solana.NewInstruction(
		CLMMProgramID,
		solana.AccountMetaSlice{
			{PublicKey: a.wallet.PublicKey, IsSigner: true, IsWritable: true},
			{PublicKey: pctx.NftMint, IsWritable: true},
			{PublicKey: pctx.NftTokenAccount, IsWritable: true},
			{PublicKey: pctx.PersonalPosition, IsWritable: true},
			{PublicKey: solana.TokenProgramID},
			{PublicKey: solana.SystemProgramID},
		},
		append([]byte{}, ixClosePosition...),
	)
}
