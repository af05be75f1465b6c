package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

// Sizing strategies for BUY copies
const (
	SizingProportionalToPortfolio = "proportional_to_portfolio"
	SizingProportionalToTrader    = "proportional_to_trader"
	SizingFixed                   = "fixed"
)

// Sell strategies
const (
	SellProportional = "proportional"
	SellFullExit     = "full_exit"
	SellMatchDelta   = "match_delta"
)

// Below-minimum actions
const (
	BelowMinSkip     = "skip"
	BelowMinBuyAtMin = "buy_at_min"
)

// Detection methods
const (
	DetectActivity  = "activity"
	DetectPositions = "positions"
)

// Config holds all configuration for the copy engine
type Config struct {
	// Leader
	LeaderAddress string
	LeaderTag     string

	// Detection
	PollInterval         time.Duration
	MaxConsecutiveErrors int
	DetectionMethod      string

	// Sizing
	SizingMethod        string
	PortfolioPercent    decimal.Decimal // e.g. 0.05 = 5% of balance per copy
	MinOrderSize        decimal.Decimal // venue floor is 5 shares
	MaxPositionPerToken decimal.Decimal
	BelowMinAction      string
	SellStrategy        string

	// Order shaping
	OrderType          types.OrderType
	OrderExpirationSec int
	PriceOffsetBps     float64

	// Adaptive pricing
	AdaptiveSpreadThresholdBps float64
	AdaptiveSpreadMultiplier   float64
	MaxAdaptiveOffsetBps       float64

	// Risk limits
	MaxDailyLoss       decimal.Decimal
	MaxTotalLoss       decimal.Decimal
	MaxTokenSpend      decimal.Decimal // zero = unlimited
	MaxMarketSpend     decimal.Decimal // zero = unlimited
	TotalHoldingsLimit decimal.Decimal // zero = unlimited

	// Market-condition gates
	WideSpreadThresholdBps float64
	MaxSpreadBps           float64
	MaxDivergenceBps       float64
	MinDepthShares         decimal.Decimal
	DepthRangePercent      float64
	StalePriceThresholdMs  int

	// TP/SL
	TpSlEnabled       bool
	TakeProfitPercent float64 // e.g. 0.10 = +10%
	StopLossPercent   float64 // e.g. 0.05 = -5%

	// Mode
	TradingMode    types.TradingMode
	PaperBalance   decimal.Decimal
	UseTraderPrice bool
	Debug          bool

	// Venue endpoints
	DataAPIURL string
	ClobAPIURL string
	WSURL      string

	// Live executor credentials
	CLOBApiKey       string
	CLOBApiSecret    string
	CLOBPassphrase   string
	WalletPrivateKey string

	// Alerts
	AlertMinSeverity  string
	TelegramToken     string
	TelegramChatID    int64
	DiscordWebhookURL string

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		LeaderAddress: os.Getenv("LEADER_ADDRESS"),
		LeaderTag:     os.Getenv("LEADER_TAG"),

		PollInterval:         time.Duration(getEnvInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		MaxConsecutiveErrors: getEnvInt("MAX_CONSECUTIVE_ERRORS", 5),
		DetectionMethod:      getEnv("DETECTION_METHOD", DetectActivity),

		SizingMethod:        getEnv("SIZING_METHOD", SizingProportionalToPortfolio),
		PortfolioPercent:    getEnvDecimal("PORTFOLIO_PERCENT", decimal.NewFromFloat(0.05)),
		MinOrderSize:        getEnvDecimal("MIN_ORDER_SIZE", decimal.NewFromInt(5)),
		MaxPositionPerToken: getEnvDecimal("MAX_POSITION_PER_TOKEN", decimal.NewFromInt(500)),
		BelowMinAction:      getEnv("BELOW_MIN_ACTION", BelowMinSkip),
		SellStrategy:        getEnv("SELL_STRATEGY", SellProportional),

		OrderType:          types.OrderType(getEnv("ORDER_TYPE", string(types.OrderTypeLimit))),
		OrderExpirationSec: getEnvInt("ORDER_EXPIRATION_SECONDS", 60),
		PriceOffsetBps:     getEnvFloat("PRICE_OFFSET_BPS", 50),

		AdaptiveSpreadThresholdBps: getEnvFloat("ADAPTIVE_SPREAD_THRESHOLD_BPS", 150),
		AdaptiveSpreadMultiplier:   getEnvFloat("ADAPTIVE_SPREAD_MULTIPLIER", 0.5),
		MaxAdaptiveOffsetBps:       getEnvFloat("MAX_ADAPTIVE_OFFSET_BPS", 300),

		MaxDailyLoss:       getEnvDecimal("MAX_DAILY_LOSS", decimal.NewFromInt(100)),
		MaxTotalLoss:       getEnvDecimal("MAX_TOTAL_LOSS", decimal.NewFromInt(500)),
		MaxTokenSpend:      getEnvDecimal("MAX_TOKEN_SPEND", decimal.Zero),
		MaxMarketSpend:     getEnvDecimal("MAX_MARKET_SPEND", decimal.Zero),
		TotalHoldingsLimit: getEnvDecimal("TOTAL_HOLDINGS_LIMIT", decimal.Zero),

		WideSpreadThresholdBps: getEnvFloat("WIDE_SPREAD_THRESHOLD_BPS", 400),
		MaxSpreadBps:           getEnvFloat("MAX_SPREAD_BPS", 800),
		MaxDivergenceBps:       getEnvFloat("MAX_DIVERGENCE_BPS", 500),
		MinDepthShares:         getEnvDecimal("MIN_DEPTH_SHARES", decimal.NewFromInt(20)),
		DepthRangePercent:      getEnvFloat("DEPTH_RANGE_PERCENT", 0.01),
		StalePriceThresholdMs:  getEnvInt("STALE_PRICE_THRESHOLD_MS", 10000),

		TpSlEnabled:       getEnvBool("TPSL_ENABLED", false),
		TakeProfitPercent: getEnvFloat("TAKE_PROFIT_PERCENT", 0),
		StopLossPercent:   getEnvFloat("STOP_LOSS_PERCENT", 0),

		TradingMode:    types.TradingMode(getEnv("TRADING_MODE", string(types.ModePaper))),
		PaperBalance:   getEnvDecimal("PAPER_BALANCE", decimal.NewFromInt(1000)),
		UseTraderPrice: getEnvBool("USE_TRADER_PRICE", false),
		Debug:          getEnvBool("DEBUG", false),

		DataAPIURL: getEnv("DATA_API_URL", "https://data-api.polymarket.com"),
		ClobAPIURL: getEnv("CLOB_API_URL", "https://clob.polymarket.com"),
		WSURL:      getEnv("WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),

		CLOBApiKey:       os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:    os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase:   os.Getenv("CLOB_PASSPHRASE"),
		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),

		AlertMinSeverity:  getEnv("ALERT_MIN_SEVERITY", "medium"),
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),

		DatabasePath: getEnv("DATABASE_PATH", "data/polycopy.db"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.LeaderAddress == "" {
		return nil, fmt.Errorf("LEADER_ADDRESS is required")
	}

	if cfg.TradingMode != types.ModePaper && cfg.TradingMode != types.ModeLive {
		return nil, fmt.Errorf("invalid TRADING_MODE %q", cfg.TradingMode)
	}

	if cfg.TradingMode == types.ModeLive && cfg.WalletPrivateKey == "" {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY is required in live mode")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
