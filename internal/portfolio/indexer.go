// internal/portfolio/indexer.go
package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

// IndexerClient — клиент индексера портфелей. Индексер отдаёт позиции уже
// сгруппированными по пулам; это предпочтительный источник, но его отказ
// никогда не фатален для загрузки.
type IndexerClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewIndexerClient(baseURL string, logger *zap.Logger) *IndexerClient {
	return &IndexerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.Named("indexer"),
	}
}

// Суммы сериализуются строками: значения не помещаются в int53 JSON-числа.
type indexerToken struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type indexerAmount struct {
	Token    indexerToken `json:"token"`
	Owed     string       `json:"owed"`
	ValueUSD float64      `json:"value_usd"`
}

type indexerPosition struct {
	ID        string          `json:"id"`
	PoolID    string          `json:"pool_id"`
	TickLower int32           `json:"tick_lower"`
	TickUpper int32           `json:"tick_upper"`
	Liquidity string          `json:"liquidity"`
	ValueUSD  float64         `json:"value_usd"`
	Fees      []indexerAmount `json:"fees"`
	Rewards   []indexerAmount `json:"rewards"`
}

type indexerGroup struct {
	PoolID    string            `json:"pool_id"`
	Protocol  string            `json:"protocol"`
	TokenA    indexerToken      `json:"token_a"`
	TokenB    indexerToken      `json:"token_b"`
	Positions []indexerPosition `json:"positions"`
}

type portfolioResponse struct {
	Groups []indexerGroup `json:"groups"`
}

// GetPortfolio запрашивает сгруппированный портфель владельца.
func (c *IndexerClient) GetPortfolio(ctx context.Context, owner solana.PublicKey) ([]*types.PoolGroup, error) {
	url := fmt.Sprintf("%s/portfolio/%s", c.baseURL, owner.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indexer returned status %d", resp.StatusCode)
	}

	var payload portfolioResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode portfolio: %w", err)
	}

	groups := make([]*types.PoolGroup, 0, len(payload.Groups))
	for _, g := range payload.Groups {
		group, err := c.convertGroup(g)
		if err != nil {
			// Кривая группа не валит весь ответ.
			c.logger.Warn("skipping malformed portfolio group",
				zap.String("pool", g.PoolID),
				zap.Error(err))
			continue
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (c *IndexerClient) convertGroup(g indexerGroup) (*types.PoolGroup, error) {
	tokenA, err := convertToken(g.TokenA)
	if err != nil {
		return nil, err
	}
	tokenB, err := convertToken(g.TokenB)
	if err != nil {
		return nil, err
	}

	group := &types.PoolGroup{
		PoolID:         g.PoolID,
		Protocol:       types.Protocol(g.Protocol),
		TokenA:         tokenA,
		TokenB:         tokenB,
		TotalLiquidity: big.NewInt(0),
	}
	for _, p := range g.Positions {
		pos, err := c.convertPosition(g, p)
		if err != nil {
			return nil, err
		}
		group.Positions = append(group.Positions, pos)
		group.TotalLiquidity.Add(group.TotalLiquidity, pos.Liquidity)
		group.TotalValueUSD += pos.ValueUSD
	}
	return group, nil
}

func (c *IndexerClient) convertPosition(g indexerGroup, p indexerPosition) (*types.Position, error) {
	id, err := solana.PublicKeyFromBase58(p.ID)
	if err != nil {
		return nil, fmt.Errorf("position id %q: %w", p.ID, err)
	}
	poolID, err := solana.PublicKeyFromBase58(p.PoolID)
	if err != nil {
		// Пул может быть не разрешён индексером; позицию не выбрасываем.
		poolID = solana.PublicKey{}
	}
	liq, ok := new(big.Int).SetString(p.Liquidity, 10)
	if !ok {
		return nil, fmt.Errorf("position %s: bad liquidity %q", p.ID, p.Liquidity)
	}

	pos := &types.Position{
		ID:        id,
		PoolID:    poolID,
		Protocol:  types.Protocol(g.Protocol),
		Range:     types.TickRange{Lower: p.TickLower, Upper: p.TickUpper},
		Liquidity: liq,
		State:     types.StateOpen,
		ValueUSD:  p.ValueUSD,
		FetchedAt: time.Now(),
	}
	for _, f := range p.Fees {
		rec, err := convertAmount(f)
		if err != nil {
			return nil, err
		}
		pos.Fees = append(pos.Fees, types.FeeRecord{Token: rec.Token, Owed: rec.Owed, ValueUSD: rec.ValueUSD})
	}
	for _, r := range p.Rewards {
		rec, err := convertAmount(r)
		if err != nil {
			return nil, err
		}
		pos.Rewards = append(pos.Rewards, rec)
	}
	return pos, nil
}

func convertToken(t indexerToken) (types.TokenInfo, error) {
	mint, err := solana.PublicKeyFromBase58(t.Mint)
	if err != nil {
		return types.TokenInfo{}, fmt.Errorf("token mint %q: %w", t.Mint, err)
	}
	return types.TokenInfo{Mint: mint, Symbol: t.Symbol, Decimals: t.Decimals}, nil
}

func convertAmount(a indexerAmount) (types.RewardRecord, error) {
	token, err := convertToken(a.Token)
	if err != nil {
		return types.RewardRecord{}, err
	}
	owed, ok := new(big.Int).SetString(a.Owed, 10)
	if !ok {
		return types.RewardRecord{}, fmt.Errorf("bad owed amount %q", a.Owed)
	}
	return types.RewardRecord{Token: token, Owed: owed, ValueUSD: a.ValueUSD}, nil
}
