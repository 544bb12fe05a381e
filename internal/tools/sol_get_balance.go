package tools

import (
	"context"
	"fmt"

	"github.com/solagent/solagent/internal/service"
)

// SolGetBalanceTool returns a wallet's SOL and SPL token balances.
func SolGetBalanceTool(sol *service.SolanaService) (Spec, Handler) {
	spec := Spec{
		Name:        "sol_get_balance",
		Description: "Get the SOL balance and SPL token balances for a Solana wallet address.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"address": map[string]any{
					"type":        "string",
					"description": "The base58 Solana wallet address",
					"minLength":   32,
					"maxLength":   44,
				},
			},
			"required": []string{"address"},
		},
	}
	handler := func(ctx context.Context, args map[string]any) (any, error) {
		address, _ := args["address"].(string)

		balance, err := sol.GetBalance(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("get balance: %w", err)
		}
		tokens, err := sol.GetTokenBalances(ctx, address)
		if err != nil {
			// SOL balance alone is still a usable answer
			tokens = nil
		}

		return map[string]any{
			"address": balance.Address,
			"sol":     balance.SOL,
			"tokens":  tokens,
		}, nil
	}
	return spec, handler
}
