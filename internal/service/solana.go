package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const lamportsPerSOL = 1_000_000_000

// SolanaService talks to a Solana RPC node over JSON-RPC 2.0.
type SolanaService struct {
	rpcURL string
	client *http.Client
}

// NewSolanaService creates a client for the given RPC endpoint.
func NewSolanaService(rpcURL string, timeout time.Duration) *SolanaService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SolanaService{
		rpcURL: rpcURL,
		client: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Balance holds a wallet's SOL balance.
type Balance struct {
	Address  string  `json:"address"`
	Lamports uint64  `json:"lamports"`
	SOL      float64 `json:"sol"`
}

// GetBalance returns the SOL balance for a wallet address.
func (s *SolanaService) GetBalance(ctx context.Context, address string) (*Balance, error) {
	raw, err := s.call(ctx, "getBalance", []any{address})
	if err != nil {
		return nil, err
	}
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return &Balance{
		Address:  address,
		Lamports: result.Value,
		SOL:      float64(result.Value) / lamportsPerSOL,
	}, nil
}

// TokenBalance holds an SPL token account balance.
type TokenBalance struct {
	Mint   string  `json:"mint"`
	Amount float64 `json:"amount"`
}

// GetTokenBalances returns SPL token balances for a wallet, keyed by mint.
func (s *SolanaService) GetTokenBalances(ctx context.Context, address string) ([]TokenBalance, error) {
	params := []any{
		address,
		map[string]any{"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"},
		map[string]any{"encoding": "jsonParsed"},
	}
	raw, err := s.call(ctx, "getTokenAccountsByOwner", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								UIAmount float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode token accounts: %w", err)
	}

	var balances []TokenBalance
	for _, acct := range result.Value {
		info := acct.Account.Data.Parsed.Info
		if info.TokenAmount.UIAmount == 0 {
			continue
		}
		balances = append(balances, TokenBalance{
			Mint:   info.Mint,
			Amount: info.TokenAmount.UIAmount,
		})
	}
	return balances, nil
}

// TestConnection checks the node is reachable and healthy.
func (s *SolanaService) TestConnection(ctx context.Context) error {
	raw, err := s.call(ctx, "getHealth", nil)
	if err != nil {
		return err
	}
	var status string
	if err := json.Unmarshal(raw, &status); err == nil && status != "ok" {
		return fmt.Errorf("node unhealthy: %s", status)
	}
	return nil
}

func (s *SolanaService) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("rpc call %s: status %d: %s", method, res.StatusCode, body)
	}

	var rpcRes rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&rpcRes); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcRes.Error != nil {
		return nil, fmt.Errorf("rpc error [%d]: %s", rpcRes.Error.Code, rpcRes.Error.Message)
	}
	return rpcRes.Result, nil
}
