// internal/portfolio/aggregator.go
package portfolio

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/clmm-manager/internal/blockchain"
	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

// Source — индексер портфелей (предпочтительный источник).
type Source interface {
	GetPortfolio(ctx context.Context, owner solana.PublicKey) ([]*types.PoolGroup, error)
}

// ChainLister — минимальный срез адаптера, нужный fallback-загрузке.
type ChainLister interface {
	Protocol() types.Protocol
	GetPool(ctx context.Context, id solana.PublicKey) (*types.Pool, error)
	ListPositions(ctx context.Context, owner solana.PublicKey) ([]*types.Position, error)
}

// MetadataPrefetcher прогревает кэш метаданных токенов перед группировкой.
type MetadataPrefetcher interface {
	Prefetch(ctx context.Context, client blockchain.Client, mints []solana.PublicKey)
}

// Aggregator собирает разнородные записи о позициях в единый граф
// PoolGroup → Position. Граф пересобирается целиком на каждом обновлении и
// после возврата не мутируется.
type Aggregator struct {
	indexer     Source
	listers     []ChainLister
	logger      *zap.Logger
	concurrency int

	prefetcher MetadataPrefetcher
	chain      blockchain.Client
}

func NewAggregator(indexer Source, listers []ChainLister, logger *zap.Logger, concurrency int) *Aggregator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Aggregator{
		indexer:     indexer,
		listers:     listers,
		logger:      logger.Named("portfolio"),
		concurrency: concurrency,
	}
}

// WithMetadataPrefetch включает прогрев кэша метаданных наград и комиссий
// перед группировкой позиций, прочитанных из сети.
func (a *Aggregator) WithMetadataPrefetch(p MetadataPrefetcher, client blockchain.Client) *Aggregator {
	a.prefetcher = p
	a.chain = client
	return a
}

// Load возвращает портфель владельца: сначала индексер, при пустом или
// неудачном ответе — прямой опрос адаптеров. Отказ индексера никогда не
// делает загрузку ошибочной. Позиции с нулевой ликвидностью отфильтрованы;
// см. LoadRaw для полного среза.
func (a *Aggregator) Load(ctx context.Context, owner solana.PublicKey) ([]*types.PoolGroup, error) {
	groups, err := a.loadGroups(ctx, owner)
	if err != nil {
		return nil, err
	}
	return filterZeroLiquidity(groups), nil
}

// LoadRaw — как Load, но позиции с нулевой ликвидностью сохраняются: они
// могут нести несобранные комиссии и награды.
func (a *Aggregator) LoadRaw(ctx context.Context, owner solana.PublicKey) ([]*types.PoolGroup, error) {
	return a.loadGroups(ctx, owner)
}

func (a *Aggregator) loadGroups(ctx context.Context, owner solana.PublicKey) ([]*types.PoolGroup, error) {
	var groups []*types.PoolGroup
	if a.indexer != nil {
		var err error
		groups, err = a.indexer.GetPortfolio(ctx, owner)
		if err != nil {
			a.logger.Warn("indexer unavailable, falling back to chain listing",
				zap.String("owner", owner.String()),
				zap.Error(err))
			groups = nil
		}
	}
	if len(groups) == 0 {
		var err error
		groups, err = a.loadFromChain(ctx, owner)
		if err != nil {
			return nil, err
		}
	}
	for _, g := range groups {
		rollupRewards(g)
	}
	return groups, nil
}

// loadFromChain опрашивает адаптеры конкурентно ограниченными партиями.
// Отказ одного адаптера не отменяет агрегацию остальных: частичный результат
// лучше полного провала.
func (a *Aggregator) loadFromChain(ctx context.Context, owner solana.PublicKey) ([]*types.PoolGroup, error) {
	var (
		mu        sync.Mutex
		positions []*types.Position
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, lister := range a.listers {
		lister := lister
		g.Go(func() error {
			list, err := lister.ListPositions(gctx, owner)
			if err != nil {
				a.logger.Warn("adapter listing failed, continuing with partial data",
					zap.String("protocol", string(lister.Protocol())),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			positions = append(positions, list...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.prefetcher != nil {
		a.prefetcher.Prefetch(ctx, a.chain, rewardAndFeeMints(positions))
	}
	return a.groupPositions(ctx, positions), nil
}

// rewardAndFeeMints собирает уникальные минты токенов, которые понадобятся
// при обогащении групп.
func rewardAndFeeMints(positions []*types.Position) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{})
	var mints []solana.PublicKey
	add := func(mint solana.PublicKey) {
		if mint.IsZero() {
			return
		}
		if _, ok := seen[mint]; ok {
			return
		}
		seen[mint] = struct{}{}
		mints = append(mints, mint)
	}
	for _, pos := range positions {
		for _, f := range pos.Fees {
			add(f.Token.Mint)
		}
		for _, r := range pos.Rewards {
			add(r.Token.Mint)
		}
	}
	return mints
}

// groupPositions группирует позиции по идентификатору пула. Позиция без
// разрешённого пула получает синтетический идентификатор группы и не
// выбрасывается.
func (a *Aggregator) groupPositions(ctx context.Context, positions []*types.Position) []*types.PoolGroup {
	byPool := make(map[string]*types.PoolGroup)
	var order []string

	listerByProtocol := make(map[types.Protocol]ChainLister, len(a.listers))
	for _, l := range a.listers {
		listerByProtocol[l.Protocol()] = l
	}

	for _, pos := range positions {
		key := pos.PoolID.String()
		if pos.PoolID.IsZero() {
			key = fmt.Sprintf("unresolved:%s", pos.Protocol)
		}
		group, ok := byPool[key]
		if !ok {
			group = &types.PoolGroup{
				PoolID:         key,
				Protocol:       pos.Protocol,
				TotalLiquidity: big.NewInt(0),
			}
			if !pos.PoolID.IsZero() {
				if lister, ok := listerByProtocol[pos.Protocol]; ok {
					if pool, err := lister.GetPool(ctx, pos.PoolID); err == nil {
						group.TokenA = pool.TokenA
						group.TokenB = pool.TokenB
					} else {
						a.logger.Debug("pool metadata unavailable",
							zap.String("pool", key),
							zap.Error(err))
					}
				}
			}
			byPool[key] = group
			order = append(order, key)
		}
		group.Positions = append(group.Positions, pos)
		if pos.Liquidity != nil {
			group.TotalLiquidity.Add(group.TotalLiquidity, pos.Liquidity)
		}
		group.TotalValueUSD += pos.ValueUSD
	}

	groups := make([]*types.PoolGroup, 0, len(byPool))
	for _, key := range order {
		groups = append(groups, byPool[key])
	}
	return groups
}

// rollupRewards сворачивает награды всех позиций группы в одну запись на
// токен. Суммируются сырые целые; отображаемое значение выводится из суммы,
// а не складывается из уже отформатированных чисел.
func rollupRewards(group *types.PoolGroup) {
	type bucket struct {
		token    types.TokenInfo
		owed     *big.Int
		valueUSD float64
	}
	buckets := make(map[string]*bucket)
	var feesUSD float64

	for _, pos := range group.Positions {
		for _, fee := range pos.Fees {
			feesUSD += fee.ValueUSD
		}
		for _, r := range pos.Rewards {
			key := r.Token.Mint.String()
			b, ok := buckets[key]
			if !ok {
				b = &bucket{token: r.Token, owed: big.NewInt(0)}
				buckets[key] = b
			}
			if r.Owed != nil {
				b.owed.Add(b.owed, r.Owed)
			}
			b.valueUSD += r.ValueUSD
		}
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	group.Rewards = group.Rewards[:0]
	for _, k := range keys {
		b := buckets[k]
		group.Rewards = append(group.Rewards, types.RewardRecord{
			Token:    b.token,
			Owed:     b.owed,
			ValueUSD: b.valueUSD,
		})
	}
	group.TotalFeesUSD = feesUSD
}

// filterZeroLiquidity отбрасывает пустые позиции и пересчитывает итоги группы
// по оставшимся: суммы отфильтрованных позиций не должны просачиваться в
// TotalValueUSD, TotalFeesUSD и свёрнутые награды.
func filterZeroLiquidity(groups []*types.PoolGroup) []*types.PoolGroup {
	out := make([]*types.PoolGroup, 0, len(groups))
	for _, g := range groups {
		kept := make([]*types.Position, 0, len(g.Positions))
		for _, pos := range g.Positions {
			if pos.HasLiquidity() {
				kept = append(kept, pos)
			}
		}
		if len(kept) == 0 {
			continue
		}
		filtered := *g
		filtered.Positions = kept
		filtered.TotalLiquidity = big.NewInt(0)
		filtered.TotalValueUSD = 0
		for _, pos := range kept {
			if pos.Liquidity != nil {
				filtered.TotalLiquidity.Add(filtered.TotalLiquidity, pos.Liquidity)
			}
			filtered.TotalValueUSD += pos.ValueUSD
		}
		// Свёртку нельзя вести по разделяемому с исходной группой слайсу.
		filtered.Rewards = nil
		rollupRewards(&filtered)
		out = append(out, &filtered)
	}
	return out
}
