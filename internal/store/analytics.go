package store

import (
	"math"

	"github.com/shopspring/decimal"
)

// Summary aggregates every trade of a session
type Summary struct {
	TotalTrades     int64
	BuyCount        int64
	SellCount       int64
	Volume          decimal.Decimal
	TotalPnL        decimal.Decimal
	WinCount        int64
	LossCount       int64
	WinRate         float64
	AvgSize         decimal.Decimal
	AvgTotalLatency float64
	BestPnL         decimal.Decimal
	WorstPnL        decimal.Decimal
}

// AdvancedMetrics covers the risk-adjusted statistics over closed trades
type AdvancedMetrics struct {
	Sharpe         float64
	MaxDrawdown    decimal.Decimal
	MaxDrawdownPct float64
	ProfitFactor   float64
	AvgWin         decimal.Decimal
	AvgLoss        decimal.Decimal
	WinStreak      int
	LossStreak     int
	Expectancy     decimal.Decimal
}

// Summarize computes the session summary from its trade rows
func (s *Store) Summarize(sessionID uint) (Summary, error) {
	trades, err := s.Trades(sessionID)
	if err != nil {
		return Summary{}, err
	}
	return summarize(trades), nil
}

func summarize(trades []TradeRecord) Summary {
	var sum Summary
	var latencySum int64
	var sizeSum decimal.Decimal
	first := true

	for _, t := range trades {
		sum.TotalTrades++
		switch t.Side {
		case sideBuy:
			sum.BuyCount++
		case sideSell:
			sum.SellCount++
		}
		sum.Volume = sum.Volume.Add(t.Cost)
		sizeSum = sizeSum.Add(t.FilledSize)
		latencySum += t.TotalLatencyMs

		if t.PnL.Valid {
			pnl := t.PnL.Decimal
			sum.TotalPnL = sum.TotalPnL.Add(pnl)
			if pnl.IsPositive() {
				sum.WinCount++
			} else if pnl.IsNegative() {
				sum.LossCount++
			}
			if first || pnl.GreaterThan(sum.BestPnL) {
				sum.BestPnL = pnl
			}
			if first || pnl.LessThan(sum.WorstPnL) {
				sum.WorstPnL = pnl
			}
			first = false
		}
	}

	if sum.TotalTrades > 0 {
		sum.AvgSize = sizeSum.Div(decimal.NewFromInt(sum.TotalTrades))
		sum.AvgTotalLatency = float64(latencySum) / float64(sum.TotalTrades)
	}
	if decided := sum.WinCount + sum.LossCount; decided > 0 {
		sum.WinRate = float64(sum.WinCount) / float64(decided)
	}
	return sum
}

// Advanced computes risk-adjusted metrics over a session's closed trades,
// meaning SELL rows with a recorded P&L, in time order.
func (s *Store) Advanced(sessionID uint) (AdvancedMetrics, error) {
	trades, err := s.Trades(sessionID)
	if err != nil {
		return AdvancedMetrics{}, err
	}

	pnls := make([]decimal.Decimal, 0, len(trades))
	for _, t := range trades {
		if t.Side == sideSell && t.PnL.Valid {
			pnls = append(pnls, t.PnL.Decimal)
		}
	}
	return computeAdvanced(pnls), nil
}

func computeAdvanced(pnls []decimal.Decimal) AdvancedMetrics {
	var m AdvancedMetrics
	if len(pnls) == 0 {
		return m
	}

	var (
		grossProfit, grossLoss decimal.Decimal
		wins, losses           int
		winStreak, lossStreak  int
		cumulative, peak       decimal.Decimal
	)

	for _, pnl := range pnls {
		switch {
		case pnl.IsPositive():
			wins++
			grossProfit = grossProfit.Add(pnl)
			winStreak++
			lossStreak = 0
		case pnl.IsNegative():
			losses++
			grossLoss = grossLoss.Add(pnl.Abs())
			lossStreak++
			winStreak = 0
		default:
			// Breakeven resets both streaks
			winStreak = 0
			lossStreak = 0
		}
		if winStreak > m.WinStreak {
			m.WinStreak = winStreak
		}
		if lossStreak > m.LossStreak {
			m.LossStreak = lossStreak
		}

		cumulative = cumulative.Add(pnl)
		if cumulative.GreaterThan(peak) {
			peak = cumulative
		}
		drawdown := peak.Sub(cumulative)
		if drawdown.GreaterThan(m.MaxDrawdown) {
			m.MaxDrawdown = drawdown
			if peak.IsPositive() {
				m.MaxDrawdownPct, _ = drawdown.Div(peak).Mul(decimal.NewFromInt(100)).Float64()
			}
		}
	}

	m.Sharpe = sharpe(pnls)

	switch {
	case grossLoss.IsPositive():
		pf, _ := grossProfit.Div(grossLoss).Float64()
		m.ProfitFactor = pf
	case grossProfit.IsPositive():
		m.ProfitFactor = math.Inf(1)
	}

	if wins > 0 {
		m.AvgWin = grossProfit.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		m.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(losses))).Neg()
	}

	if decided := wins + losses; decided > 0 {
		winRate := decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(decided)))
		lossRate := decimal.NewFromInt(int64(losses)).Div(decimal.NewFromInt(int64(decided)))
		m.Expectancy = winRate.Mul(m.AvgWin).Sub(lossRate.Mul(m.AvgLoss.Abs()))
	}
	return m
}

// sharpe annualizes assuming one observation per day
func sharpe(pnls []decimal.Decimal) float64 {
	if len(pnls) < 2 {
		return 0
	}
	values := make([]float64, len(pnls))
	var sum float64
	for i, p := range pnls {
		v, _ := p.Float64()
		values[i] = v
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}
	return mean / stdev * math.Sqrt(365)
}
