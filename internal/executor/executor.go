package executor

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

// Executor places follower orders. Two backends exist: the paper simulator
// and the live venue client. The engine only sees this interface.
type Executor interface {
	// Execute places one order and reports the outcome. A rejected or
	// failed order comes back with StatusFailed and an ErrorMsg rather
	// than an error; errors are reserved for transport-level trouble.
	Execute(ctx context.Context, order types.OrderSpec) (types.OrderResult, error)

	// GetBalance returns the spendable cash balance
	GetBalance(ctx context.Context) (decimal.Decimal, error)

	// GetPosition returns the held quantity for a token, zero when flat
	GetPosition(tokenID string) decimal.Decimal

	// GetAllPositions returns token -> quantity for every open position
	GetAllPositions() map[string]decimal.Decimal

	// GetAllPositionDetails returns full position state, keyed by token.
	// The TP/SL monitor reads entry prices from here.
	GetAllPositionDetails() map[string]types.PaperPosition

	// GetSpendTracker returns a copy of the running spend totals
	GetSpendTracker() types.SpendTracker

	// DailyPnL is realized P&L since the UTC day started
	DailyPnL() decimal.Decimal

	// TotalPnL is realized P&L since the session started
	TotalPnL() decimal.Decimal

	// SellAllPositions market-exits everything at the given prices,
	// falling back to each position's average price when absent
	SellAllPositions(ctx context.Context, prices map[string]decimal.Decimal) []types.OrderResult

	// CancelAllOrders cancels any resting orders
	CancelAllOrders(ctx context.Context) error

	// GetMode reports which backend this is
	GetMode() types.TradingMode

	// IsReady reports whether the executor can accept orders
	IsReady() bool
}
