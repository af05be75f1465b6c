package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/internal/ratelimit"
	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VENUE DATA CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Typed, read-only access to the venue's leader-data and market-data HTTP
// endpoints. Every call passes its endpoint-family rate gate first. Price
// and portfolio-value reads are cache-backed and fall back to a stale value
// on fetch failure so the hot path never dies on a flaky read.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	portfolioValueTTL = 30 * time.Second
	priceTTL          = 5 * time.Second
	bookTTL           = 5 * time.Second

	// Clock drift below this is considered synchronized
	maxSyncDriftMs = 100
)

// TradeQuery narrows an activity fetch
type TradeQuery struct {
	Limit        int
	AfterUnixSec int64
}

// PriceRequest is one leg of a parallel price fetch
type PriceRequest struct {
	TokenID string
	Intent  types.Side
}

// Client talks to the venue's data and market APIs
type Client struct {
	http    *resty.Client
	dataURL string
	clobURL string
	gates   *ratelimit.Gates

	prices    *priceCache
	portfolio *valueCache

	booksMu sync.RWMutex
	books   map[string]bookEntry

	driftMu sync.RWMutex
	driftMs int64
	synced  bool
}

type bookEntry struct {
	book      types.OrderBook
	fetchedAt time.Time
}

// NewClient creates a venue client for the given API base URLs
func NewClient(dataURL, clobURL string) *Client {
	return &Client{
		http: resty.New().
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
		dataURL:   dataURL,
		clobURL:   clobURL,
		gates:     ratelimit.NewGates(),
		prices:    newPriceCache(priceTTL),
		portfolio: newValueCache(portfolioValueTTL),
		books:     make(map[string]bookEntry),
	}
}

// ───────────────────────────────────────────────────────────────────────────────
// Leader data endpoints
// ───────────────────────────────────────────────────────────────────────────────

type positionRecord struct {
	Asset       string          `json:"asset"`
	ConditionID string          `json:"conditionId"`
	Size        decimal.Decimal `json:"size"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	CurPrice    decimal.Decimal `json:"curPrice"`
	Title       string          `json:"title"`
	Outcome     string          `json:"outcome"`
}

// GetPositions returns the open positions of addr
func (c *Client) GetPositions(ctx context.Context, addr string) ([]types.Position, error) {
	if err := c.gates.Positions.Wait(ctx); err != nil {
		return nil, err
	}

	var records []positionRecord
	if err := c.getJSON(ctx, c.dataURL+"/positions", map[string]string{"user": addr}, &records); err != nil {
		return nil, err
	}

	out := make([]types.Position, 0, len(records))
	for _, r := range records {
		if r.Size.LessThanOrEqual(decimal.Zero) {
			continue
		}
		out = append(out, types.Position{
			TokenID:      r.Asset,
			MarketID:     r.ConditionID,
			Quantity:     r.Size,
			AvgPrice:     r.AvgPrice,
			CurrentPrice: r.CurPrice,
			Title:        r.Title,
			Outcome:      r.Outcome,
		})
	}
	return out, nil
}

type activityRecord struct {
	TransactionHash string          `json:"transactionHash"`
	Timestamp       int64           `json:"timestamp"`
	ConditionID     string          `json:"conditionId"`
	Asset           string          `json:"asset"`
	Type            string          `json:"type"`
	Side            string          `json:"side"`
	Size            decimal.Decimal `json:"size"`
	Price           decimal.Decimal `json:"price"`
	Title           string          `json:"title"`
	Outcome         string          `json:"outcome"`
}

// GetTrades returns addr's trades newest-first. Only records with
// type == "TRADE" count; everything else on the feed (splits, merges,
// redeems) is ignored.
func (c *Client) GetTrades(ctx context.Context, addr string, q TradeQuery) ([]types.TradeEvent, error) {
	if err := c.gates.Activity.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]string{"user": addr}
	if q.Limit > 0 {
		params["limit"] = fmt.Sprintf("%d", q.Limit)
	}
	if q.AfterUnixSec > 0 {
		params["after"] = fmt.Sprintf("%d", q.AfterUnixSec)
	}

	var records []activityRecord
	if err := c.getJSON(ctx, c.dataURL+"/activity", params, &records); err != nil {
		return nil, err
	}

	out := make([]types.TradeEvent, 0, len(records))
	for _, r := range records {
		if r.Type != "TRADE" {
			continue
		}
		out = append(out, types.TradeEvent{
			ID:        tradeID(r.TransactionHash, r.Timestamp, r.Size),
			TokenID:   r.Asset,
			MarketID:  r.ConditionID,
			Side:      types.Side(r.Side),
			Size:      r.Size,
			Price:     r.Price,
			Timestamp: r.Timestamp,
			Title:     r.Title,
			Outcome:   r.Outcome,
		})
	}
	return out, nil
}

// tradeID dedups fills within one transaction: two fills of the same tx
// share the hash but differ in size (or second).
func tradeID(txHash string, ts int64, size decimal.Decimal) string {
	return fmt.Sprintf("%s_%d_%s", txHash, ts, size.String())
}

// GetPortfolioValue returns addr's total portfolio value. Cached for 30s;
// forceRefresh bypasses the TTL (used by the prefetch loop). On fetch
// failure a stale cached value is returned with a warning.
func (c *Client) GetPortfolioValue(ctx context.Context, addr string, forceRefresh bool) (decimal.Decimal, error) {
	if !forceRefresh {
		if v, ok := c.portfolio.get(addr); ok {
			return v, nil
		}
	}

	v, err := c.fetchPortfolioValue(ctx, addr)
	if err != nil {
		if stale, ok := c.portfolio.getStale(addr); ok {
			log.Warn().Err(err).Str("addr", addr).Msg("portfolio value fetch failed, using stale cache")
			return stale, nil
		}
		return decimal.Zero, err
	}
	c.portfolio.put(addr, v)
	return v, nil
}

func (c *Client) fetchPortfolioValue(ctx context.Context, addr string) (decimal.Decimal, error) {
	if err := c.gates.Positions.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, c.dataURL+"/value", map[string]string{"user": addr}, &raw); err != nil {
		return decimal.Zero, err
	}
	return parseValuePayload(raw)
}

// parseValuePayload accepts {value: "123.4"}, {value: 123.4} or a one-element
// array of either shape.
func parseValuePayload(raw json.RawMessage) (decimal.Decimal, error) {
	type valueObj struct {
		Value json.Number `json:"value"`
	}

	var obj valueObj
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Value != "" {
		return decimal.NewFromString(obj.Value.String())
	}

	var arr []valueObj
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 && arr[0].Value != "" {
		return decimal.NewFromString(arr[0].Value.String())
	}

	return decimal.Zero, apiErr("/value", 0, fmt.Errorf("unrecognized value payload: %s", string(raw)))
}

// ───────────────────────────────────────────────────────────────────────────────
// Market data endpoints
// ───────────────────────────────────────────────────────────────────────────────

// GetPrice returns the executable price for acting with the given intent.
// The side flip happens here and only here: to BUY at market we need the
// best SELL quote (ask) and vice versa. Cached per (token, intent) for 5s;
// a stale value is returned on fetch failure.
func (c *Client) GetPrice(ctx context.Context, tokenID string, intent types.Side) (decimal.Decimal, error) {
	key := tokenID + "|" + string(intent)
	if v, ok := c.prices.get(key); ok {
		return v, nil
	}

	p, err := c.fetchPrice(ctx, tokenID, intent)
	if err != nil {
		if stale, ok := c.prices.getStale(key); ok {
			log.Warn().Err(err).Str("token", short(tokenID)).Msg("price fetch failed, using stale cache")
			return stale, nil
		}
		return decimal.Zero, err
	}
	c.prices.put(key, p)
	return p, nil
}

// RefreshPrice fetches a price bypassing the cache and stores the result.
// The price warmer calls this on its refresh tick so hot-path reads stay
// inside the TTL instead of being served the previous warm's value.
func (c *Client) RefreshPrice(ctx context.Context, tokenID string, intent types.Side) (decimal.Decimal, error) {
	p, err := c.fetchPrice(ctx, tokenID, intent)
	if err != nil {
		return decimal.Zero, err
	}
	c.prices.put(tokenID+"|"+string(intent), p)
	return p, nil
}

func (c *Client) fetchPrice(ctx context.Context, tokenID string, intent types.Side) (decimal.Decimal, error) {
	if err := c.gates.Book.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	var body struct {
		Price decimal.Decimal `json:"price"`
	}
	params := map[string]string{
		"token_id": tokenID,
		"side":     string(intent.Opposite()),
	}
	if err := c.getJSON(ctx, c.clobURL+"/price", params, &body); err != nil {
		return decimal.Zero, err
	}
	return body.Price, nil
}

// PriceResult is one leg of GetPricesParallel's answer
type PriceResult struct {
	TokenID string
	Intent  types.Side
	Price   decimal.Decimal
	Err     error
}

// GetPricesParallel fetches many prices concurrently, one result per request
func (c *Client) GetPricesParallel(ctx context.Context, reqs []PriceRequest) []PriceResult {
	results := make([]PriceResult, len(reqs))
	var wg sync.WaitGroup
	for i, r := range reqs {
		wg.Add(1)
		go func(i int, r PriceRequest) {
			defer wg.Done()
			p, err := c.GetPrice(ctx, r.TokenID, r.Intent)
			results[i] = PriceResult{TokenID: r.TokenID, Intent: r.Intent, Price: p, Err: err}
		}(i, r)
	}
	wg.Wait()
	return results
}

type rawBook struct {
	Bids []rawLevel `json:"bids"`
	Asks []rawLevel `json:"asks"`
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// GetOrderBook returns the raw book for a token, from the warmed cache when
// fresh enough, otherwise fetched.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (types.OrderBook, error) {
	c.booksMu.RLock()
	entry, ok := c.books[tokenID]
	c.booksMu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < bookTTL {
		return entry.book, nil
	}
	return c.RefreshBook(ctx, tokenID)
}

// RefreshBook fetches the book bypassing the cache and stores the result.
// The book warmer calls this on its refresh tick.
func (c *Client) RefreshBook(ctx context.Context, tokenID string) (types.OrderBook, error) {
	if err := c.gates.Book.Wait(ctx); err != nil {
		return types.OrderBook{}, err
	}

	var raw rawBook
	if err := c.getJSON(ctx, c.clobURL+"/book", map[string]string{"token_id": tokenID}, &raw); err != nil {
		return types.OrderBook{}, err
	}

	book := types.OrderBook{
		Bids: parseLevels(raw.Bids),
		Asks: parseLevels(raw.Asks),
	}

	c.booksMu.Lock()
	c.books[tokenID] = bookEntry{book: book, fetchedAt: time.Now()}
	c.booksMu.Unlock()

	return book, nil
}

func parseLevels(raw []rawLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err1 := decimal.NewFromString(l.Price)
		size, err2 := decimal.NewFromString(l.Size)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

// GetMidpoint returns the book midpoint for a token
func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	if err := c.gates.Book.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	var body struct {
		Mid decimal.Decimal `json:"mid"`
	}
	if err := c.getJSON(ctx, c.clobURL+"/midpoint", map[string]string{"token_id": tokenID}, &body); err != nil {
		return decimal.Zero, err
	}
	return body.Mid, nil
}

// GetSpread returns the current bid-ask spread for a token
func (c *Client) GetSpread(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	if err := c.gates.Book.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	var body struct {
		Spread decimal.Decimal `json:"spread"`
	}
	if err := c.getJSON(ctx, c.clobURL+"/spread", map[string]string{"token_id": tokenID}, &body); err != nil {
		return decimal.Zero, err
	}
	return body.Spread, nil
}

// ───────────────────────────────────────────────────────────────────────────────
// Clock sync
// ───────────────────────────────────────────────────────────────────────────────

// CheckClockSync measures local clock drift against the venue.
// drift = avg(localBefore, localAfter) - serverTime, in milliseconds.
// The measured drift is stored and later subtracted from reported latencies.
func (c *Client) CheckClockSync(ctx context.Context) (driftMs int64, synced bool, err error) {
	before := time.Now()
	resp, err := c.http.R().SetContext(ctx).Get(c.clobURL + "/time")
	after := time.Now()
	if err != nil {
		return 0, false, apiErr("/time", 0, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, false, apiErr("/time", resp.StatusCode(), fmt.Errorf("%s", resp.String()))
	}

	var serverSec json.Number
	if err := json.Unmarshal(resp.Body(), &serverSec); err != nil {
		return 0, false, apiErr("/time", 0, fmt.Errorf("decode server time: %w", err))
	}
	sec, err := serverSec.Float64()
	if err != nil {
		return 0, false, apiErr("/time", 0, fmt.Errorf("parse server time: %w", err))
	}

	localMs := (before.UnixMilli() + after.UnixMilli()) / 2
	serverMs := int64(sec * 1000)
	driftMs = localMs - serverMs
	synced = driftMs > -maxSyncDriftMs && driftMs < maxSyncDriftMs

	c.driftMu.Lock()
	c.driftMs = driftMs
	c.synced = synced
	c.driftMu.Unlock()

	log.Info().
		Int64("drift_ms", driftMs).
		Bool("synced", synced).
		Msg("🕐 Clock sync calibrated")

	return driftMs, synced, nil
}

// DriftMs returns the last measured clock drift in milliseconds
func (c *Client) DriftMs() int64 {
	c.driftMu.RLock()
	defer c.driftMu.RUnlock()
	return c.driftMs
}

// ───────────────────────────────────────────────────────────────────────────────
// HTTP helper
// ───────────────────────────────────────────────────────────────────────────────

func (c *Client) getJSON(ctx context.Context, url string, params map[string]string, out interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(url)
	if err != nil {
		return apiErr(url, 0, err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", url, ErrRateLimited)
	}
	if resp.StatusCode() >= 400 {
		return apiErr(url, resp.StatusCode(), fmt.Errorf("%s", resp.String()))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apiErr(url, 0, fmt.Errorf("decode: %w", err))
	}
	return nil
}

func short(id string) string {
	if len(id) > 16 {
		return id[:16] + "..."
	}
	return id
}
