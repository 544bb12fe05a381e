package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

const dexScreenerBaseURL = "https://api.dexscreener.com"

// DexScreenerService fetches market data for Solana tokens from the public
// DexScreener API. No API key required.
type DexScreenerService struct {
	baseURL string
	client  *http.Client
}

func NewDexScreenerService(baseURL string, timeout time.Duration) *DexScreenerService {
	if baseURL == "" {
		baseURL = dexScreenerBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DexScreenerService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// TokenPrice summarizes the most liquid trading pair for a token.
type TokenPrice struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	Mint         string  `json:"mint"`
	PriceUSD     float64 `json:"price_usd"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	Volume24h    float64 `json:"volume_24h"`
	Change24h    float64 `json:"change_24h"`
	DexID        string  `json:"dex_id"`
	PairURL      string  `json:"pair_url"`
}

type dexPair struct {
	ChainID   string `json:"chainId"`
	DexID     string `json:"dexId"`
	URL       string `json:"url"`
	PriceUSD  string `json:"priceUsd"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
}

// GetTokenPrice looks up a token by symbol or mint address and returns its
// deepest Solana pair. Pairs on other chains are ignored.
func (s *DexScreenerService) GetTokenPrice(ctx context.Context, query string) (*TokenPrice, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/search?q=%s", s.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dexscreener search: status %d", res.StatusCode)
	}

	var payload struct {
		Pairs []dexPair `json:"pairs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode pairs: %w", err)
	}

	var solanaPairs []dexPair
	for _, p := range payload.Pairs {
		if p.ChainID == "solana" {
			solanaPairs = append(solanaPairs, p)
		}
	}
	if len(solanaPairs) == 0 {
		return nil, fmt.Errorf("no solana pairs found for %q", query)
	}

	sort.Slice(solanaPairs, func(i, j int) bool {
		return solanaPairs[i].Liquidity.USD > solanaPairs[j].Liquidity.USD
	})
	best := solanaPairs[0]

	price, err := strconv.ParseFloat(best.PriceUSD, 64)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", best.PriceUSD, err)
	}

	return &TokenPrice{
		Symbol:       best.BaseToken.Symbol,
		Name:         best.BaseToken.Name,
		Mint:         best.BaseToken.Address,
		PriceUSD:     price,
		LiquidityUSD: best.Liquidity.USD,
		Volume24h:    best.Volume.H24,
		Change24h:    best.PriceChange.H24,
		DexID:        best.DexID,
		PairURL:      best.URL,
	}, nil
}
