// internal/blockchain/solbc/token_metadata.go
package solbc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/clmm-manager/internal/blockchain"
)

const (
	// metadataTTL — многодневный срок жизни записи: символ и decimals
	// токена практически не меняются.
	metadataTTL = 72 * time.Hour

	// Пакетная подгрузка: размер пачки и пауза между пачками, чтобы не
	// упереться в rate limit внешнего API.
	metadataBatchSize  = 4
	metadataBatchDelay = 250 * time.Millisecond
)

// TokenMetadata хранит информацию о токене.
type TokenMetadata struct {
	Mint      string
	Symbol    string
	Name      string
	Decimals  uint8
	LogoURI   string
	PriceUSD  float64
	Source    string // "chain", "api", "cache"
	UpdatedAt time.Time
}

// tokenAPIResponse представляет ответ внешнего metadata API.
type tokenAPIResponse struct {
	Success bool `json:"success"`
	Token   struct {
		Symbol   string  `json:"symbol"`
		Name     string  `json:"name"`
		Decimals uint8   `json:"decimals"`
		LogoURI  string  `json:"logoUri"`
		Price    float64 `json:"price"`
	} `json:"token"`
}

// TokenMetadataCache управляет кэшированием метаданных токенов. Ключ —
// mint в нижнем регистре; запись заменяется целиком, частичных мутаций нет.
// Часы инжектируются, чтобы тесты управляли истечением детерминированно.
type TokenMetadataCache struct {
	mu         sync.RWMutex
	entries    map[string]*TokenMetadata
	now        func() time.Time
	ttl        time.Duration
	batchSize  int
	batchDelay time.Duration
	apiBaseURL string
	logger     *zap.Logger
	httpClient *http.Client
}

// NewTokenMetadataCache создаёт кэш с часами по умолчанию.
func NewTokenMetadataCache(apiBaseURL string, logger *zap.Logger) *TokenMetadataCache {
	return NewTokenMetadataCacheWithClock(apiBaseURL, logger, time.Now)
}

// NewTokenMetadataCacheWithClock создаёт кэш с инжектированными часами.
func NewTokenMetadataCacheWithClock(apiBaseURL string, logger *zap.Logger, now func() time.Time) *TokenMetadataCache {
	return &TokenMetadataCache{
		entries:    make(map[string]*TokenMetadata),
		now:        now,
		ttl:        metadataTTL,
		batchSize:  metadataBatchSize,
		batchDelay: metadataBatchDelay,
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		logger:     logger.Named("token-metadata"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// SetBatching переопределяет размер пачки и паузу между пачками Prefetch.
// size <= 0 и delay < 0 оставляют соответствующее значение по умолчанию.
func (c *TokenMetadataCache) SetBatching(size int, delay time.Duration) {
	if size > 0 {
		c.batchSize = size
	}
	if delay >= 0 {
		c.batchDelay = delay
	}
}

// GetTokenMetadata получает метаданные токена с кэшированием.
func (c *TokenMetadataCache) GetTokenMetadata(
	ctx context.Context,
	client blockchain.Client,
	mint solana.PublicKey,
) (*TokenMetadata, error) {
	key := strings.ToLower(mint.String())

	// 1. Проверяем кэш
	if metadata, ok := c.getFromCache(key); ok {
		return metadata, nil
	}

	// 2. Получаем on-chain decimals из mint-аккаунта
	metadata := &TokenMetadata{Mint: mint.String(), Source: "chain"}
	if decimals, err := c.getDecimalsFromChain(ctx, client, mint); err == nil {
		metadata.Decimals = decimals
	} else {
		c.logger.Debug("failed to get on-chain decimals",
			zap.String("mint", mint.String()),
			zap.Error(err))
	}

	// 3. Обогащаем данными из API (символ, имя, цена)
	if enriched, err := c.enrichFromAPI(ctx, mint, metadata); err == nil {
		metadata = enriched
	} else {
		c.logger.Debug("failed to enrich metadata from API",
			zap.String("mint", mint.String()),
			zap.Error(err))
	}

	if metadata.Symbol == "" {
		metadata.Symbol = shortMint(mint)
	}

	// 4. Сохраняем в кэш целиком
	metadata.UpdatedAt = c.now()
	c.put(key, metadata)
	return metadata, nil
}

// Prefetch прогревает кэш пачками с паузой между пачками.
func (c *TokenMetadataCache) Prefetch(ctx context.Context, client blockchain.Client, mints []solana.PublicKey) {
	pending := make([]solana.PublicKey, 0, len(mints))
	for _, mint := range mints {
		if _, ok := c.getFromCache(strings.ToLower(mint.String())); !ok {
			pending = append(pending, mint)
		}
	}

	for start := 0; start < len(pending); start += c.batchSize {
		end := min(start+c.batchSize, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.batchSize)
		for _, mint := range pending[start:end] {
			g.Go(func() error {
				// Ошибки отдельных токенов не прерывают прогрев.
				if _, err := c.GetTokenMetadata(gctx, client, mint); err != nil {
					c.logger.Debug("prefetch failed", zap.String("mint", mint.String()), zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()

		if end < len(pending) && c.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.batchDelay):
			}
		}
	}
}

func (c *TokenMetadataCache) getFromCache(key string) (*TokenMetadata, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.UpdatedAt) > c.ttl {
		return nil, false
	}
	cached := *entry
	cached.Source = "cache"
	return &cached, true
}

func (c *TokenMetadataCache) put(key string, metadata *TokenMetadata) {
	c.mu.Lock()
	c.entries[key] = metadata
	c.mu.Unlock()
}

// Смещение поля decimals в лейауте SPL mint-аккаунта.
const mintDecimalsOffset = 44

func (c *TokenMetadataCache) getDecimalsFromChain(ctx context.Context, client blockchain.Client, mint solana.PublicKey) (uint8, error) {
	info, err := client.GetAccountInfo(ctx, mint)
	if err != nil {
		return 0, err
	}
	if info == nil || info.Value == nil {
		return 0, ErrAccountNotFound
	}
	data := info.Value.Data.GetBinary()
	if len(data) <= mintDecimalsOffset {
		return 0, fmt.Errorf("mint account too short: %d bytes", len(data))
	}
	return data[mintDecimalsOffset], nil
}

func (c *TokenMetadataCache) enrichFromAPI(ctx context.Context, mint solana.PublicKey, base *TokenMetadata) (*TokenMetadata, error) {
	if c.apiBaseURL == "" {
		return nil, fmt.Errorf("no metadata API configured")
	}

	url := fmt.Sprintf("%s/token/%s", c.apiBaseURL, mint.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata API status %d", resp.StatusCode)
	}

	var parsed tokenAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if !parsed.Success {
		return nil, fmt.Errorf("metadata API rejected mint %s", mint.String())
	}

	enriched := *base
	enriched.Symbol = parsed.Token.Symbol
	enriched.Name = parsed.Token.Name
	enriched.LogoURI = parsed.Token.LogoURI
	enriched.PriceUSD = parsed.Token.Price
	if enriched.Decimals == 0 && parsed.Token.Decimals > 0 {
		enriched.Decimals = parsed.Token.Decimals
	}
	enriched.Source = "api"
	return &enriched, nil
}

func shortMint(mint solana.PublicKey) string {
	s := mint.String()
	if len(s) <= 8 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}
