package raycl

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/clmm-manager/internal/clmm/tickmath"
)

// Тестовые фикстуры повторяют лейаут аккаунтов программы байт в байт.

func appendU16LE(buf []byte, v uint16) []byte {
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, v)
	return append(buf, tmp...)
}

func appendU32LE(buf []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(buf, tmp...)
}

func appendU64LE(buf []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	return append(buf, tmp...)
}

func appendU128LE(buf []byte, v *big.Int) []byte {
	tmp := make([]byte, 16)
	vb := v.Bytes()
	copy(tmp[16-len(vb):], vb)
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return append(buf, tmp...)
}

type poolFixture struct {
	Mint0       solana.PublicKey
	Mint1       solana.PublicKey
	Decimals0   uint8
	Decimals1   uint8
	TickSpacing uint16
	Liquidity   *big.Int
	SqrtPrice   *big.Int
	CurrentTick int32
	FeeRate     uint16
	RewardMints [3]solana.PublicKey
}

func (f poolFixture) encode() []byte {
	if f.Liquidity == nil {
		f.Liquidity = big.NewInt(0)
	}
	buf := append([]byte{}, poolStateDiscriminator...)
	buf = append(buf, 255)                 // bump
	buf = append(buf, make([]byte, 32)...) // amm config
	buf = append(buf, make([]byte, 32)...) // owner
	buf = append(buf, f.Mint0.Bytes()...)
	buf = append(buf, f.Mint1.Bytes()...)
	buf = append(buf, make([]byte, 32)...) // vault 0
	buf = append(buf, make([]byte, 32)...) // vault 1
	buf = append(buf, make([]byte, 32)...) // observation state
	buf = append(buf, f.Decimals0, f.Decimals1)
	buf = appendU16LE(buf, f.TickSpacing)
	buf = appendU128LE(buf, f.Liquidity)
	buf = appendU128LE(buf, f.SqrtPrice)
	buf = appendU32LE(buf, uint32(f.CurrentTick))
	buf = appendU16LE(buf, f.FeeRate)
	buf = appendU16LE(buf, 0)              // padding
	buf = append(buf, make([]byte, 32)...) // fee growth global 0/1
	buf = appendU64LE(buf, 0)              // protocol fees 0
	buf = appendU64LE(buf, 0)              // protocol fees 1
	buf = append(buf, make([]byte, 32)...) // swap amount counters
	for i := 0; i < 3; i++ {
		buf = append(buf, f.RewardMints[i].Bytes()...)
		buf = append(buf, make([]byte, 32)...) // vault
		buf = append(buf, make([]byte, 48)...) // emissions, growth, claimed
	}
	return buf
}

type positionFixture struct {
	NftMint     solana.PublicKey
	PoolID      solana.PublicKey
	TickLower   int32
	TickUpper   int32
	Liquidity   *big.Int
	FeesOwed0   uint64
	FeesOwed1   uint64
	RewardsOwed [3]uint64
}

func (f positionFixture) encode() []byte {
	if f.Liquidity == nil {
		f.Liquidity = big.NewInt(0)
	}
	buf := append([]byte{}, personalPositionDiscriminator...)
	buf = append(buf, 254) // bump
	buf = append(buf, f.NftMint.Bytes()...)
	buf = append(buf, f.PoolID.Bytes()...)
	buf = appendU32LE(buf, uint32(f.TickLower))
	buf = appendU32LE(buf, uint32(f.TickUpper))
	buf = appendU128LE(buf, f.Liquidity)
	buf = append(buf, make([]byte, 32)...) // fee growth inside 0/1
	buf = appendU64LE(buf, f.FeesOwed0)
	buf = appendU64LE(buf, f.FeesOwed1)
	for i := 0; i < 3; i++ {
		buf = append(buf, make([]byte, 16)...) // growth inside checkpoint
		buf = appendU64LE(buf, f.RewardsOwed[i])
	}
	return buf
}

func TestDecodePoolState(t *testing.T) {
	mint0 := solana.NewWallet().PublicKey()
	mint1 := solana.NewWallet().PublicKey()
	reward := solana.NewWallet().PublicKey()
	sqrtPrice := tickmath.TickToSqrtPriceX64(500)

	data := poolFixture{
		Mint0:       mint0,
		Mint1:       mint1,
		Decimals0:   9,
		Decimals1:   6,
		TickSpacing: 10,
		Liquidity:   big.NewInt(55555),
		SqrtPrice:   sqrtPrice,
		CurrentTick: 500,
		FeeRate:     2500,
		RewardMints: [3]solana.PublicKey{{}, reward},
	}.encode()

	pool, err := DecodePoolState(data)
	require.NoError(t, err)

	assert.Equal(t, mint0, pool.TokenMint0)
	assert.Equal(t, mint1, pool.TokenMint1)
	assert.Equal(t, uint8(9), pool.MintDecimals0)
	assert.Equal(t, uint8(6), pool.MintDecimals1)
	assert.Equal(t, uint16(10), pool.TickSpacing)
	assert.Zero(t, pool.Liquidity.Cmp(big.NewInt(55555)))
	assert.Zero(t, pool.SqrtPriceX64.Cmp(sqrtPrice))
	assert.Equal(t, int32(500), pool.TickCurrent)
	assert.Equal(t, uint16(2500), pool.FeeRate)
	assert.False(t, pool.RewardInfos[0].Initialized())
	assert.True(t, pool.RewardInfos[1].Initialized())
}

func TestDecodePoolState_RejectsForeignDiscriminator(t *testing.T) {
	data := poolFixture{SqrtPrice: big.NewInt(1)}.encode()
	copy(data[:8], personalPositionDiscriminator)

	_, err := DecodePoolState(data)
	assert.Error(t, err)
}

func TestDecodePersonalPosition(t *testing.T) {
	nftMint := solana.NewWallet().PublicKey()
	poolID := solana.NewWallet().PublicKey()

	data := positionFixture{
		NftMint:     nftMint,
		PoolID:      poolID,
		TickLower:   -1200,
		TickUpper:   600,
		Liquidity:   new(big.Int).Lsh(big.NewInt(3), 68),
		FeesOwed0:   17,
		RewardsOwed: [3]uint64{0, 0, 9_000_000_000_000},
	}.encode()

	pos, err := DecodePersonalPosition(data)
	require.NoError(t, err)

	assert.Equal(t, nftMint, pos.NftMint)
	assert.Equal(t, poolID, pos.PoolID)
	assert.Equal(t, int32(-1200), pos.TickLower)
	assert.Equal(t, int32(600), pos.TickUpper)
	assert.Zero(t, pos.Liquidity.Cmp(new(big.Int).Lsh(big.NewInt(3), 68)))
	assert.Equal(t, uint64(17), pos.TokenFeesOwed0)
	assert.Equal(t, uint64(0), pos.TokenFeesOwed1)
	assert.Equal(t, uint64(9_000_000_000_000), pos.RewardsOwed[2])
}

func TestTickArrayStartIndex(t *testing.T) {
	// span = spacing * 60
	cases := []struct {
		tick    int32
		spacing int32
		want    int32
	}{
		{0, 10, 0},
		{599, 10, 0},
		{600, 10, 600},
		{-1, 10, -600},
		{-600, 10, -600},
		{-601, 10, -1200},
		{-1200, 64, -3840},
		{960, 64, 0},
	}
	for _, tc := range cases {
		got := TickArrayStartIndex(tc.tick, tc.spacing)
		assert.Equal(t, tc.want, got, "tick=%d spacing=%d", tc.tick, tc.spacing)
	}
}

func TestPositionPDAs_Deterministic(t *testing.T) {
	nftMint := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()

	a, err := PersonalPositionPDA(nftMint)
	require.NoError(t, err)
	b, err := PersonalPositionPDA(nftMint)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Протокольная позиция адресуется диапазоном: другой диапазон — другой PDA.
	p1, err := ProtocolPositionPDA(pool, -1200, 600)
	require.NoError(t, err)
	p2, err := ProtocolPositionPDA(pool, -1200, 1200)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}
