package executor

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIVE EXECUTOR - Signed order placement against the venue CLOB
// ═══════════════════════════════════════════════════════════════════════════════
//
// Orders are signed with the wallet key and authenticated with the API-key
// HMAC headers. Position and P&L accounting mirrors the paper executor so
// the engine sees identical semantics in both modes.
//
// ═══════════════════════════════════════════════════════════════════════════════

// LiveConfig holds credentials and the CLOB endpoint
type LiveConfig struct {
	BaseURL    string
	PrivateKey string
	APIKey     string
	APISecret  string
	Passphrase string
	DryRun     bool
}

// Live places real orders on the venue
type Live struct {
	cfg     LiveConfig
	http    *resty.Client
	key     *ecdsa.PrivateKey
	address string

	mu        sync.RWMutex
	positions map[string]*types.PaperPosition
	spend     types.SpendTracker
	dailyPnL  decimal.Decimal
	totalPnL  decimal.Decimal
	pnlDay    time.Time
	openIDs   []string
}

// NewLive creates a live executor. The private key is required unless dry
// run is set.
func NewLive(cfg LiveConfig) (*Live, error) {
	l := &Live{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Content-Type", "application/json"),
		positions: make(map[string]*types.PaperPosition),
		spend:     types.NewSpendTracker(),
		pnlDay:    utcDay(time.Now()),
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid wallet private key: %w", err)
		}
		l.key = key
		l.address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	} else if !cfg.DryRun {
		return nil, fmt.Errorf("live executor requires a wallet private key")
	}

	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY RUN"
	}
	log.Info().
		Str("mode", mode).
		Str("address", l.address).
		Msg("🚀 Live executor initialized")
	return l, nil
}

type orderPayload struct {
	TokenID       string `json:"tokenID"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	Side          string `json:"side"`
	Expiration    int64  `json:"expiration"`
	Nonce         int64  `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature,omitempty"`
	ClientID      string `json:"clientOrderId"`
}

type orderResponse struct {
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Matched string `json:"makingAmount"`
	Error   string `json:"error"`
}

// Execute signs and submits the order
func (l *Live) Execute(ctx context.Context, order types.OrderSpec) (types.OrderResult, error) {
	result := types.OrderResult{
		Mode:      types.ModeLive,
		OrderType: order.OrderType,
		PlacedAt:  time.Now(),
	}

	if l.cfg.DryRun {
		result.OrderID = "dry-" + uuid.NewString()
		result.Status = types.StatusFilled
		result.FilledSize = order.Size
		result.AvgFillPrice = order.Price
		result.ExecutedAt = time.Now()
		l.applyFill(order, result.FilledSize, result.AvgFillPrice)
		log.Info().
			Str("side", string(order.Side)).
			Str("size", order.Size.String()).
			Str("price", order.Price.String()).
			Msg("📝 DRY RUN order")
		return result, nil
	}

	expiration := time.Now().Add(time.Duration(order.ExpirationSec) * time.Second).Unix()
	payload := orderPayload{
		TokenID:       order.TokenID,
		Price:         order.Price.String(),
		Size:          order.Size.String(),
		Side:          string(order.Side),
		Expiration:    expiration,
		Nonce:         time.Now().UnixNano(),
		FeeRateBps:    "0",
		SignatureType: 2,
		ClientID:      uuid.NewString(),
	}

	sig, err := l.signOrder(payload)
	if err != nil {
		return result, fmt.Errorf("signing failed: %w", err)
	}
	payload.Signature = sig

	var body orderResponse
	resp, err := l.http.R().
		SetContext(ctx).
		SetHeaders(l.authHeaders("POST", "/order")).
		SetBody(payload).
		SetResult(&body).
		Post("/order")
	if err != nil {
		return result, err
	}
	if resp.StatusCode() >= 400 || body.Error != "" {
		result.Status = types.StatusFailed
		result.ErrorMsg = body.Error
		if result.ErrorMsg == "" {
			result.ErrorMsg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.String())
		}
		return result, nil
	}

	result.OrderID = body.OrderID
	result.ExecutedAt = time.Now()
	result.AvgFillPrice = order.Price

	matched := decimal.Zero
	if body.Matched != "" {
		matched, _ = decimal.NewFromString(body.Matched)
	}
	switch {
	case matched.GreaterThanOrEqual(order.Size):
		result.Status = types.StatusFilled
		result.FilledSize = order.Size
	case matched.IsPositive():
		result.Status = types.StatusPartial
		result.FilledSize = matched
		result.RemainingSize = order.Size.Sub(matched)
	default:
		result.Status = types.StatusLive
		result.RemainingSize = order.Size
		l.mu.Lock()
		l.openIDs = append(l.openIDs, body.OrderID)
		l.mu.Unlock()
	}

	if result.FilledSize.IsPositive() {
		l.applyFill(order, result.FilledSize, result.AvgFillPrice)
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("status", string(result.Status)).
		Msg("✅ Live order placed")
	return result, nil
}

// applyFill mirrors the paper executor's position accounting
func (l *Live) applyFill(order types.OrderSpec, filled, price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := utcDay(time.Now())
	if today.After(l.pnlDay) {
		l.dailyPnL = decimal.Zero
		l.pnlDay = today
	}

	cost := filled.Mul(price)
	if order.Side == types.SideBuy {
		pos, ok := l.positions[order.TokenID]
		if !ok {
			pos = &types.PaperPosition{TokenID: order.TokenID, EntryPrice: price, OpenedAt: time.Now()}
			l.positions[order.TokenID] = pos
		}
		if order.Trigger != nil {
			pos.MarketID = order.Trigger.MarketID
		}
		pos.TotalCost = pos.TotalCost.Add(cost)
		pos.Quantity = pos.Quantity.Add(filled)
		pos.AvgPrice = pos.TotalCost.Div(pos.Quantity)

		l.spend.TokenSpend[order.TokenID] = l.spend.TokenSpend[order.TokenID].Add(cost)
		if pos.MarketID != "" {
			l.spend.MarketSpend[pos.MarketID] = l.spend.MarketSpend[pos.MarketID].Add(cost)
		}
		l.spend.TotalHoldings = l.spend.TotalHoldings.Add(cost)
		return
	}

	pos, ok := l.positions[order.TokenID]
	if !ok {
		return
	}
	sold := decimal.Min(filled, pos.Quantity)
	costBasis := sold.Mul(pos.AvgPrice)
	pnl := sold.Mul(price).Sub(costBasis)
	l.dailyPnL = l.dailyPnL.Add(pnl)
	l.totalPnL = l.totalPnL.Add(pnl)
	pos.Quantity = pos.Quantity.Sub(sold)
	pos.TotalCost = pos.TotalCost.Sub(costBasis)
	l.spend.TotalHoldings = decimal.Max(decimal.Zero, l.spend.TotalHoldings.Sub(costBasis))
	if pos.Quantity.IsZero() {
		delete(l.positions, order.TokenID)
	}
}

// GetBalance fetches the spendable collateral balance
func (l *Live) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	if l.cfg.DryRun {
		return decimal.NewFromInt(100), nil
	}

	var body struct {
		Balance string `json:"balance"`
	}
	resp, err := l.http.R().
		SetContext(ctx).
		SetHeaders(l.authHeaders("GET", "/balance")).
		SetResult(&body).
		Get("/balance")
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode() >= 400 {
		return decimal.Zero, fmt.Errorf("balance: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return decimal.NewFromString(body.Balance)
}

// GetPosition returns the tracked quantity for a token
func (l *Live) GetPosition(tokenID string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[tokenID]; ok {
		return pos.Quantity
	}
	return decimal.Zero
}

// GetAllPositions returns token -> quantity
func (l *Live) GetAllPositions() map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(l.positions))
	for id, pos := range l.positions {
		out[id] = pos.Quantity
	}
	return out
}

// GetAllPositionDetails returns copies of tracked positions
func (l *Live) GetAllPositionDetails() map[string]types.PaperPosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]types.PaperPosition, len(l.positions))
	for id, pos := range l.positions {
		out[id] = *pos
	}
	return out
}

// GetSpendTracker returns a copy of spend totals
func (l *Live) GetSpendTracker() types.SpendTracker {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.spend.Clone()
}

// DailyPnL returns realized P&L for the current UTC day
func (l *Live) DailyPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dailyPnL
}

// TotalPnL returns realized P&L since start
func (l *Live) TotalPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalPnL
}

// SellAllPositions market-exits every tracked position
func (l *Live) SellAllPositions(ctx context.Context, prices map[string]decimal.Decimal) []types.OrderResult {
	details := l.GetAllPositionDetails()
	results := make([]types.OrderResult, 0, len(details))
	for id, pos := range details {
		price, ok := prices[id]
		if !ok || !price.IsPositive() {
			price = pos.AvgPrice
		}
		r, err := l.Execute(ctx, types.OrderSpec{
			TokenID:   id,
			Side:      types.SideSell,
			Size:      pos.Quantity,
			Price:     price,
			OrderType: types.OrderTypeMarket,
		})
		if err != nil {
			log.Error().Err(err).Str("token", id).Msg("Sell-all leg failed")
			continue
		}
		results = append(results, r)
	}
	return results
}

// CancelAllOrders cancels every order this executor left resting
func (l *Live) CancelAllOrders(ctx context.Context) error {
	l.mu.Lock()
	ids := l.openIDs
	l.openIDs = nil
	l.mu.Unlock()

	for _, id := range ids {
		resp, err := l.http.R().
			SetContext(ctx).
			SetHeaders(l.authHeaders("DELETE", "/order/"+id)).
			Delete("/order/" + id)
		if err != nil {
			return err
		}
		if resp.StatusCode() >= 400 {
			log.Warn().Str("order_id", id).Int("status", resp.StatusCode()).Msg("Cancel failed")
		}
	}
	return nil
}

// GetMode reports live
func (l *Live) GetMode() types.TradingMode { return types.ModeLive }

// IsReady reports whether credentials are loaded
func (l *Live) IsReady() bool {
	return l.cfg.DryRun || (l.key != nil && l.cfg.APIKey != "")
}

// ───────────────────────────────────────────────────────────────────────────────
// Auth
// ───────────────────────────────────────────────────────────────────────────────

func (l *Live) signOrder(payload orderPayload) (string, error) {
	if l.key == nil {
		return "", fmt.Errorf("private key not loaded")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	hash := crypto.Keccak256(raw)
	sig, err := crypto.Sign(hash, l.key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (l *Live) authHeaders(method, path string) map[string]string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	headers := map[string]string{
		"POLY_API_KEY":    l.cfg.APIKey,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": l.cfg.Passphrase,
		"POLY_ADDRESS":    l.address,
	}
	if l.cfg.APISecret != "" {
		mac := hmac.New(sha256.New, []byte(l.cfg.APISecret))
		mac.Write([]byte(ts + method + path))
		headers["POLY_SIGNATURE"] = hex.EncodeToString(mac.Sum(nil))
	}
	return headers
}
