package tools

import (
	"context"
	"fmt"

	"github.com/solagent/solagent/internal/service"
)

// SolTokenPriceTool looks up market data for a Solana token.
func SolTokenPriceTool(dex *service.DexScreenerService) (Spec, Handler) {
	spec := Spec{
		Name:        "sol_token_price",
		Description: "Get the current USD price, liquidity, and 24h volume for a Solana token by symbol or mint address.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"token": map[string]any{
					"type":        "string",
					"description": "Token symbol (e.g. SOL, BONK) or mint address",
					"minLength":   1,
				},
			},
			"required": []string{"token"},
		},
	}
	handler := func(ctx context.Context, args map[string]any) (any, error) {
		token, _ := args["token"].(string)

		price, err := dex.GetTokenPrice(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("token price: %w", err)
		}
		return price, nil
	}
	return spec, handler
}
