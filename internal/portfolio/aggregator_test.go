package portfolio

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/clmm-manager/internal/blockchain"
	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

type fakeSource struct {
	groups []*types.PoolGroup
	err    error
	calls  int
}

func (f *fakeSource) GetPortfolio(context.Context, solana.PublicKey) ([]*types.PoolGroup, error) {
	f.calls++
	return f.groups, f.err
}

type fakeLister struct {
	protocol  types.Protocol
	positions []*types.Position
	pools     map[solana.PublicKey]*types.Pool
	err       error
}

func (f *fakeLister) Protocol() types.Protocol { return f.protocol }

func (f *fakeLister) GetPool(_ context.Context, id solana.PublicKey) (*types.Pool, error) {
	if pool, ok := f.pools[id]; ok {
		return pool, nil
	}
	return nil, errors.New("pool not found")
}

func (f *fakeLister) ListPositions(context.Context, solana.PublicKey) ([]*types.Position, error) {
	return f.positions, f.err
}

func position(protocol types.Protocol, poolID solana.PublicKey, liquidity int64) *types.Position {
	return &types.Position{
		ID:        solana.NewWallet().PublicKey(),
		PoolID:    poolID,
		Protocol:  protocol,
		Liquidity: big.NewInt(liquidity),
		State:     types.StateOpen,
	}
}

func withReward(pos *types.Position, mint solana.PublicKey, owed int64, usd float64) *types.Position {
	pos.Rewards = append(pos.Rewards, types.RewardRecord{
		Token:    types.TokenInfo{Mint: mint},
		Owed:     big.NewInt(owed),
		ValueUSD: usd,
	})
	return pos
}

func TestAggregator_PrefersIndexer(t *testing.T) {
	poolID := solana.NewWallet().PublicKey()
	source := &fakeSource{groups: []*types.PoolGroup{{
		PoolID:    poolID.String(),
		Protocol:  types.ProtocolWhirlpool,
		Positions: []*types.Position{position(types.ProtocolWhirlpool, poolID, 100)},
	}}}
	lister := &fakeLister{
		protocol:  types.ProtocolWhirlpool,
		positions: []*types.Position{position(types.ProtocolWhirlpool, poolID, 999)},
	}

	agg := NewAggregator(source, []ChainLister{lister}, zap.NewNop(), 2)
	groups, err := agg.Load(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)

	require.Len(t, groups, 1)
	require.Len(t, groups[0].Positions, 1)
	assert.Zero(t, groups[0].Positions[0].Liquidity.Cmp(big.NewInt(100)),
		"indexer data must win over chain listing")
}

// Отказ индексера никогда не делает загрузку ошибочной: агрегатор молча
// переключается на прямой опрос адаптеров.
func TestAggregator_IndexerFailureFallsBackToChain(t *testing.T) {
	poolID := solana.NewWallet().PublicKey()
	source := &fakeSource{err: errors.New("indexer 502")}
	lister := &fakeLister{
		protocol:  types.ProtocolWhirlpool,
		positions: []*types.Position{position(types.ProtocolWhirlpool, poolID, 100)},
	}

	agg := NewAggregator(source, []ChainLister{lister}, zap.NewNop(), 2)
	groups, err := agg.Load(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err, "indexer failure must not surface")

	require.Len(t, groups, 1)
	assert.Equal(t, poolID.String(), groups[0].PoolID)
	assert.Equal(t, 1, source.calls)
}

func TestAggregator_NilIndexerGoesStraightToChain(t *testing.T) {
	poolID := solana.NewWallet().PublicKey()
	lister := &fakeLister{
		protocol:  types.ProtocolRaydium,
		positions: []*types.Position{position(types.ProtocolRaydium, poolID, 50)},
	}

	agg := NewAggregator(nil, []ChainLister{lister}, zap.NewNop(), 2)
	groups, err := agg.Load(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.Len(t, groups, 1)
}

// Отказ одного адаптера даёт частичный результат, а не пустой ответ с ошибкой.
func TestAggregator_PartialResultOnListerFailure(t *testing.T) {
	poolID := solana.NewWallet().PublicKey()
	healthy := &fakeLister{
		protocol:  types.ProtocolWhirlpool,
		positions: []*types.Position{position(types.ProtocolWhirlpool, poolID, 100)},
	}
	broken := &fakeLister{
		protocol: types.ProtocolRaydium,
		err:      errors.New("rpc node down"),
	}

	agg := NewAggregator(nil, []ChainLister{healthy, broken}, zap.NewNop(), 2)
	groups, err := agg.Load(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)

	require.Len(t, groups, 1)
	assert.Equal(t, types.ProtocolWhirlpool, groups[0].Protocol)
}

func TestAggregator_GroupsByPoolAndEnrichesTokens(t *testing.T) {
	poolID := solana.NewWallet().PublicKey()
	otherPool := solana.NewWallet().PublicKey()
	tokenA := types.TokenInfo{Mint: solana.NewWallet().PublicKey(), Symbol: "SOL", Decimals: 9}
	tokenB := types.TokenInfo{Mint: solana.NewWallet().PublicKey(), Symbol: "USDC", Decimals: 6}

	lister := &fakeLister{
		protocol: types.ProtocolWhirlpool,
		positions: []*types.Position{
			position(types.ProtocolWhirlpool, poolID, 100),
			position(types.ProtocolWhirlpool, poolID, 200),
			position(types.ProtocolWhirlpool, otherPool, 300),
		},
		pools: map[solana.PublicKey]*types.Pool{
			poolID: {ID: poolID, TokenA: tokenA, TokenB: tokenB},
		},
	}

	agg := NewAggregator(nil, []ChainLister{lister}, zap.NewNop(), 2)
	groups, err := agg.Load(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)

	require.Len(t, groups, 2)
	first := groups[0]
	assert.Equal(t, poolID.String(), first.PoolID)
	assert.Len(t, first.Positions, 2)
	assert.Zero(t, first.TotalLiquidity.Cmp(big.NewInt(300)))
	assert.Equal(t, "SOL", first.TokenA.Symbol)
	assert.Equal(t, "USDC", first.TokenB.Symbol)

	// Метаданные второго пула недоступны — группа всё равно создаётся.
	assert.Equal(t, otherPool.String(), groups[1].PoolID)
	assert.Empty(t, groups[1].TokenA.Symbol)
}

// Позиция, у которой не удалось разрешить пул, получает синтетическую группу,
// а не выбрасывается.
func TestAggregator_UnresolvedPoolKeepsPosition(t *testing.T) {
	lister := &fakeLister{
		protocol:  types.ProtocolRaydium,
		positions: []*types.Position{position(types.ProtocolRaydium, solana.PublicKey{}, 100)},
	}

	agg := NewAggregator(nil, []ChainLister{lister}, zap.NewNop(), 2)
	groups, err := agg.Load(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)

	require.Len(t, groups, 1)
	assert.Equal(t, "unresolved:raydium-clmm", groups[0].PoolID)
}

// Свёртка наград не зависит от порядка позиций: [R1, R2] и [R2, R1] дают
// одинаковый результат.
func TestAggregator_RewardRollupIsOrderIndependent(t *testing.T) {
	poolID := solana.NewWallet().PublicKey()
	mintX := solana.NewWallet().PublicKey()
	mintY := solana.NewWallet().PublicKey()

	build := func(reverse bool) []*types.PoolGroup {
		p1 := withReward(position(types.ProtocolWhirlpool, poolID, 100), mintX, 70, 1.5)
		p2 := withReward(withReward(position(types.ProtocolWhirlpool, poolID, 200), mintX, 30, 0.5), mintY, 11, 0.1)
		positions := []*types.Position{p1, p2}
		if reverse {
			positions = []*types.Position{p2, p1}
		}
		lister := &fakeLister{protocol: types.ProtocolWhirlpool, positions: positions}
		agg := NewAggregator(nil, []ChainLister{lister}, zap.NewNop(), 2)
		groups, err := agg.Load(context.Background(), solana.NewWallet().PublicKey())
		require.NoError(t, err)
		require.Len(t, groups, 1)
		return groups
	}

	forward := build(false)
	backward := build(true)

	require.Len(t, forward[0].Rewards, 2)
	require.Len(t, backward[0].Rewards, 2)
	for i := range forward[0].Rewards {
		assert.Equal(t, forward[0].Rewards[i].Token.Mint, backward[0].Rewards[i].Token.Mint)
		assert.Zero(t, forward[0].Rewards[i].Owed.Cmp(backward[0].Rewards[i].Owed))
		assert.InDelta(t, forward[0].Rewards[i].ValueUSD, backward[0].Rewards[i].ValueUSD, 1e-9)
	}

	// Сырые целые просуммированы по минту.
	total := map[string]*big.Int{
		mintX.String(): big.NewInt(100),
		mintY.String(): big.NewInt(11),
	}
	for _, r := range forward[0].Rewards {
		assert.Zero(t, r.Owed.Cmp(total[r.Token.Mint.String()]), "mint %s", r.Token.Mint)
	}
}

func TestAggregator_LoadFiltersZeroLiquidityButLoadRawKeeps(t *testing.T) {
	poolID := solana.NewWallet().PublicKey()
	emptyPool := solana.NewWallet().PublicKey()
	lister := &fakeLister{
		protocol: types.ProtocolWhirlpool,
		positions: []*types.Position{
			position(types.ProtocolWhirlpool, poolID, 100),
			position(types.ProtocolWhirlpool, poolID, 0),      // пустая, но с возможными комиссиями
			position(types.ProtocolWhirlpool, emptyPool, 0),   // группа целиком пустая
		},
	}
	agg := NewAggregator(nil, []ChainLister{lister}, zap.NewNop(), 2)
	owner := solana.NewWallet().PublicKey()

	filtered, err := agg.Load(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, filtered, 1, "fully empty group must disappear")
	assert.Len(t, filtered[0].Positions, 1)

	raw, err := agg.LoadRaw(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	assert.Len(t, raw[0].Positions, 2)
}

type fakePrefetcher struct {
	calls int
	mints []solana.PublicKey
}

func (f *fakePrefetcher) Prefetch(_ context.Context, _ blockchain.Client, mints []solana.PublicKey) {
	f.calls++
	f.mints = append(f.mints, mints...)
}

// Прогрев кэша метаданных выполняется один раз на загрузку из сети и получает
// уникальные минты наград без дублей.
func TestAggregator_PrefetchesRewardMintsFromChainLoad(t *testing.T) {
	poolID := solana.NewWallet().PublicKey()
	mintX := solana.NewWallet().PublicKey()
	mintY := solana.NewWallet().PublicKey()

	p1 := withReward(position(types.ProtocolWhirlpool, poolID, 100), mintX, 10, 0)
	p2 := withReward(withReward(position(types.ProtocolWhirlpool, poolID, 200), mintX, 20, 0), mintY, 5, 0)
	lister := &fakeLister{protocol: types.ProtocolWhirlpool, positions: []*types.Position{p1, p2}}

	prefetcher := &fakePrefetcher{}
	agg := NewAggregator(nil, []ChainLister{lister}, zap.NewNop(), 2).
		WithMetadataPrefetch(prefetcher, nil)

	_, err := agg.Load(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)

	assert.Equal(t, 1, prefetcher.calls)
	assert.ElementsMatch(t, []solana.PublicKey{mintX, mintY}, prefetcher.mints,
		"mints must be deduplicated")
}

// Ответ индексера уже обогащён: прогрев сети не нужен.
func TestAggregator_NoPrefetchOnIndexerPath(t *testing.T) {
	poolID := solana.NewWallet().PublicKey()
	source := &fakeSource{groups: []*types.PoolGroup{{
		PoolID:    poolID.String(),
		Protocol:  types.ProtocolWhirlpool,
		Positions: []*types.Position{position(types.ProtocolWhirlpool, poolID, 100)},
	}}}

	prefetcher := &fakePrefetcher{}
	agg := NewAggregator(source, nil, zap.NewNop(), 2).
		WithMetadataPrefetch(prefetcher, nil)

	_, err := agg.Load(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Zero(t, prefetcher.calls)
}

// После фильтрации пустых позиций итоги группы пересчитываются по оставшимся:
// стоимость, комиссии и награды отброшенных позиций не учитываются.
func TestAggregator_LoadRecomputesGroupTotals(t *testing.T) {
	poolID := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	live := withReward(position(types.ProtocolWhirlpool, poolID, 100), mint, 40, 0.4)
	live.ValueUSD = 250
	live.Fees = []types.FeeRecord{{Token: types.TokenInfo{Mint: mint}, Owed: big.NewInt(7), ValueUSD: 1.5}}

	drained := withReward(position(types.ProtocolWhirlpool, poolID, 0), mint, 60, 0.6)
	drained.ValueUSD = 90
	drained.Fees = []types.FeeRecord{{Token: types.TokenInfo{Mint: mint}, Owed: big.NewInt(3), ValueUSD: 2.5}}

	lister := &fakeLister{protocol: types.ProtocolWhirlpool, positions: []*types.Position{live, drained}}
	agg := NewAggregator(nil, []ChainLister{lister}, zap.NewNop(), 2)
	owner := solana.NewWallet().PublicKey()

	raw, err := agg.LoadRaw(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.InDelta(t, 340, raw[0].TotalValueUSD, 1e-9)
	assert.InDelta(t, 4.0, raw[0].TotalFeesUSD, 1e-9)
	require.Len(t, raw[0].Rewards, 1)
	assert.Zero(t, raw[0].Rewards[0].Owed.Cmp(big.NewInt(100)))

	filtered, err := agg.Load(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Zero(t, filtered[0].TotalLiquidity.Cmp(big.NewInt(100)))
	assert.InDelta(t, 250, filtered[0].TotalValueUSD, 1e-9)
	assert.InDelta(t, 1.5, filtered[0].TotalFeesUSD, 1e-9)
	require.Len(t, filtered[0].Rewards, 1)
	assert.Zero(t, filtered[0].Rewards[0].Owed.Cmp(big.NewInt(40)),
		"rewards of filtered positions must not leak into the rollup")

	// Исходный (raw) граф не мутирован фильтрацией.
	assert.Zero(t, raw[0].Rewards[0].Owed.Cmp(big.NewInt(100)))
}

func TestAggregator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lister := &fakeLister{protocol: types.ProtocolWhirlpool}
	agg := NewAggregator(nil, []ChainLister{lister}, zap.NewNop(), 2)

	_, err := agg.Load(ctx, solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, context.Canceled)
}
