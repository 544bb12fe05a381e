package config

const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8000
	DefaultEnvironment = "development"
	DefaultAPIPrefix   = "/api/v1"
	DefaultLogLevel    = "info"

	DefaultRateLimitPerMinute = 60

	DefaultAgentTimeout = 300 // seconds

	DefaultMaxIterations       = 10
	DefaultMaxConcurrentTools  = 4
	DefaultLoopDetectionTurns  = 3
	DefaultContextBudgetTokens = 100_000
	DefaultContextHighWater    = 0.8
	DefaultCompactKeepRecent   = 4
	DefaultModelRetries        = 3
	DefaultModelRetryDelayMs   = 500

	DefaultToolMaxRetries  = 2
	DefaultToolBaseDelayMs = 200

	DefaultBreakerThreshold       = 5
	DefaultBreakerCooldownSeconds = 60

	DefaultSolanaRPCURL = "https://api.mainnet-beta.solana.com"

	DefaultCORSMaxAge = 300
)

var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
}

var DefaultSensitiveKeys = []string{
	"email", "phone", "credit_card", "password", "secret",
	"token", "api_key", "access_key", "private_key",
	"mnemonic", "seed_phrase", "keypair",
}

var DefaultPIIKeywords = []string{
	"password", "ssn", "social security", "credit card",
	"bank account", "pin", "secret", "private key",
	"seed phrase", "mnemonic", "api key", "personal data",
}

const DefaultSystemPrompt = `You are a Solana network assistant. You can look up wallet balances and token market data using the tools provided.

Rules:
- Use tools to answer questions about balances and prices; never invent numbers.
- If a tool fails, explain the failure to the user instead of retrying endlessly.
- Never ask for or repeat private keys, seed phrases, or other secrets.
- Answer concisely with the figures the user asked for.`
