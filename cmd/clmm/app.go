// ====================================
// File: cmd/clmm/app.go
// ====================================
package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/clmm-manager/internal/blockchain/solbc"
	"github.com/rovshanmuradov/clmm-manager/internal/clmm/liquidity"
	"github.com/rovshanmuradov/clmm-manager/internal/config"
	"github.com/rovshanmuradov/clmm-manager/internal/dex"
	"github.com/rovshanmuradov/clmm-manager/internal/dex/raycl"
	"github.com/rovshanmuradov/clmm-manager/internal/dex/whirlpool"
	"github.com/rovshanmuradov/clmm-manager/internal/logger"
	"github.com/rovshanmuradov/clmm-manager/internal/portfolio"
	"github.com/rovshanmuradov/clmm-manager/internal/storage"
	"github.com/rovshanmuradov/clmm-manager/internal/storage/models"
	"github.com/rovshanmuradov/clmm-manager/internal/storage/postgres"
	"github.com/rovshanmuradov/clmm-manager/internal/transaction"
	"github.com/rovshanmuradov/clmm-manager/internal/types"
	"github.com/rovshanmuradov/clmm-manager/internal/wallet"
)

// App wires the full stack: RPC client, wallet, adapters, router and the
// portfolio aggregator. Built once per command invocation.
type App struct {
	cfg        *config.Config
	log        *logger.Logger
	client     *solbc.Client
	wallet     *wallet.Wallet
	balancer   *liquidity.Balancer
	router     *dex.Router
	aggregator *portfolio.Aggregator
	store      storage.Storage // nil when postgres is not configured
}

func newApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(&logger.Config{
		LogFile:     "clmm.log",
		MaxSize:     100,
		MaxAge:      7,
		MaxBackups:  3,
		Compress:    true,
		Development: cfg.DebugLogging,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	w, err := wallet.LoadFromFile(cfg.WalletKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	// Адрес кошелька попадает во все последующие записи.
	log.Logger = log.WithWallet(w.PublicKey.String())

	client := solbc.NewClient(cfg.RPCList[0], log.Logger)

	execCfg := transaction.DefaultConfig()
	execCfg.PriorityLevel = types.PriorityLevel(cfg.PriorityLevel)
	execCfg.Simulate = cfg.SimulateFirst
	executor, err := transaction.NewExecutor(client, w, log.Logger, execCfg)
	if err != nil {
		return nil, err
	}

	metadata := solbc.NewTokenMetadataCache(cfg.MetadataAPIURL, log.Logger)
	metadata.SetBatching(0, time.Duration(cfg.FetchBatchDelay)*time.Millisecond)

	whCfg := whirlpool.DefaultConfig()
	whCfg.MaxStepRetries = uint(cfg.Retries)
	wh, err := whirlpool.NewAdapter(client, executor, w, metadata, log.Logger, whCfg)
	if err != nil {
		return nil, err
	}

	rayCfg := raycl.DefaultConfig()
	rayCfg.MaxStepRetries = uint(cfg.Retries)
	ray, err := raycl.NewAdapter(client, executor, w, metadata, log.Logger, rayCfg)
	if err != nil {
		return nil, err
	}

	router, err := dex.NewRouter(wh, dex.DefaultClassifier, log.Logger)
	if err != nil {
		return nil, err
	}
	router.Register(ray)

	var indexer portfolio.Source
	if cfg.IndexerURL != "" {
		indexer = portfolio.NewIndexerClient(cfg.IndexerURL, log.Logger)
	}
	aggregator := portfolio.NewAggregator(indexer,
		[]portfolio.ChainLister{wh, ray},
		log.Logger, cfg.FetchConcurrency).
		WithMetadataPrefetch(metadata, client)

	app := &App{
		cfg:        cfg,
		log:        log,
		client:     client,
		wallet:     w,
		balancer:   liquidity.NewBalancer(log.Logger, cfg.GasReserveLamports),
		router:     router,
		aggregator: aggregator,
	}

	if cfg.PostgresURL != "" {
		store, err := postgres.NewStorage(cfg.PostgresURL, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect storage: %w", err)
		}
		if err := store.RunMigrations(); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		app.store = store
	}

	return app, nil
}

func (a *App) Close() {
	_ = a.log.Sync()
}

func (a *App) slippage() types.Percentage {
	return types.Percentage{Numerator: a.cfg.SlippageBps, Denominator: 10_000}
}

// availableBalances reads the wallet's spendable amounts for both pool
// tokens; SOL positions include the unwrapped lamport balance.
func (a *App) availableBalances(ctx context.Context, pool *types.Pool) (availA, availB *big.Int, err error) {
	accounts, err := a.client.GetTokenAccountsByOwner(ctx, a.wallet.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	byMint := make(map[solana.PublicKey]uint64)
	for _, acc := range accounts {
		byMint[acc.Mint] += acc.Amount
	}

	lookup := func(token types.TokenInfo) (*big.Int, error) {
		total := new(big.Int).SetUint64(byMint[token.Mint])
		if token.IsNative() {
			lamports, err := a.client.GetBalance(ctx, a.wallet.PublicKey, "confirmed")
			if err != nil {
				return nil, err
			}
			total.Add(total, new(big.Int).SetUint64(lamports))
		}
		return total, nil
	}

	if availA, err = lookup(pool.TokenA); err != nil {
		return nil, nil, err
	}
	if availB, err = lookup(pool.TokenB); err != nil {
		return nil, nil, err
	}
	return availA, availB, nil
}

// recordOperation persists the outcome when storage is configured. Persistence
// failures are logged, never surfaced: the on-chain operation already settled.
func (a *App) recordOperation(ctx context.Context, op dex.OperationType, protocol types.Protocol, poolID, positionID string, res *dex.ExecResult, opErr error) {
	if a.store == nil {
		return
	}
	rec := &models.OperationRecord{
		Operation:     string(op),
		Protocol:      string(protocol),
		WalletAddress: a.wallet.PublicKey.String(),
		PoolID:        poolID,
		PositionID:    positionID,
	}
	if res != nil {
		rec.Signature = res.Digest
		rec.State = string(res.State)
		rec.Success = res.Success
		rec.NoOp = res.NoOp
		rec.Fallback = res.Fallback
	}
	if opErr != nil {
		rec.ErrorMessage = opErr.Error()
	}
	if err := a.store.SaveOperation(ctx, rec); err != nil {
		a.log.WithPosition(positionID, poolID).Warn("failed to persist operation record", zap.Error(err))
	}
}

// cachePoolInfo записывает метаданные пула в хранилище: offline-просмотр
// портфеля подставляет из них символы токенов.
func (a *App) cachePoolInfo(ctx context.Context, pool *types.Pool) {
	if a.store == nil || pool == nil {
		return
	}
	info := &models.PoolInfo{
		PoolID:      pool.ID.String(),
		Protocol:    string(pool.Protocol),
		TokenAMint:  pool.TokenA.Mint.String(),
		TokenBMint:  pool.TokenB.Mint.String(),
		TokenASym:   pool.TokenA.Symbol,
		TokenBSym:   pool.TokenB.Symbol,
		TickSpacing: pool.TickSpacing,
		FeeRate:     pool.FeeRate,
		LastUpdate:  time.Now().UTC(),
	}
	if err := a.store.SavePoolInfo(ctx, info); err != nil {
		a.log.Warn("failed to cache pool info",
			zap.String("pool", info.PoolID),
			zap.Error(err))
	}
}

// loadSnapshot читает последний сохранённый снимок портфеля вместе с
// закэшированными метаданными упомянутых пулов.
func (a *App) loadSnapshot(ctx context.Context) ([]*models.PositionSnapshot, map[string]*models.PoolInfo, error) {
	if a.store == nil {
		return nil, nil, fmt.Errorf("offline mode requires postgres_url in the config")
	}
	rows, err := a.store.GetLatestSnapshot(ctx, a.wallet.PublicKey.String())
	if err != nil {
		return nil, nil, err
	}
	pools := make(map[string]*models.PoolInfo)
	for _, poolID := range snapshotPoolIDs(rows) {
		info, err := a.store.GetPoolInfo(ctx, poolID)
		if err != nil {
			a.log.Debug("pool info not cached", zap.String("pool", poolID), zap.Error(err))
			continue
		}
		pools[poolID] = info
	}
	return rows, pools, nil
}

// snapshotPoolIDs возвращает уникальные идентификаторы пулов снимка,
// сохраняя порядок первого появления.
func snapshotPoolIDs(rows []*models.PositionSnapshot) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, row := range rows {
		if _, ok := seen[row.PoolID]; ok {
			continue
		}
		seen[row.PoolID] = struct{}{}
		out = append(out, row.PoolID)
	}
	return out
}

// snapshotPortfolio persists a whole-graph snapshot of the loaded portfolio.
func (a *App) snapshotPortfolio(ctx context.Context, groups []*types.PoolGroup) {
	if a.store == nil {
		return
	}
	var rows []*models.PositionSnapshot
	for _, g := range groups {
		for _, pos := range g.Positions {
			var feesUSD, rewardsUSD float64
			for _, f := range pos.Fees {
				feesUSD += f.ValueUSD
			}
			for _, r := range pos.Rewards {
				rewardsUSD += r.ValueUSD
			}
			rows = append(rows, &models.PositionSnapshot{
				Protocol:   string(g.Protocol),
				PoolID:     g.PoolID,
				PositionID: pos.ID.String(),
				TickLower:  pos.Range.Lower,
				TickUpper:  pos.Range.Upper,
				Liquidity:  pos.Liquidity.String(),
				ValueUSD:   pos.ValueUSD,
				FeesUSD:    feesUSD,
				RewardsUSD: rewardsUSD,
				FetchedAt:  pos.FetchedAt,
			})
		}
	}
	if err := a.store.ReplaceSnapshot(ctx, a.wallet.PublicKey.String(), rows); err != nil {
		a.log.Warn("failed to persist portfolio snapshot", zap.Error(err))
	}
}

// resolvePosition loads a position via the adapter selected for it.
func (a *App) resolvePosition(ctx context.Context, positionID solana.PublicKey) (dex.Adapter, *types.Position, error) {
	for _, adapter := range a.router.Adapters() {
		pos, err := adapter.GetPosition(ctx, positionID)
		if err != nil {
			a.log.Debug("position lookup failed on adapter",
				zap.String("adapter", adapter.Name()),
				zap.Error(err))
			continue
		}
		if pos != nil {
			return adapter, pos, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", dex.ErrPositionNotFound, positionID)
}
