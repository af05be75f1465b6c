// Polycopy - Copy-trading engine for Polymarket
//
// Watches a leader wallet's fills on the activity feed and mirrors them
// from a follower account with independent sizing, market-quality gates
// and loss limits. A websocket trade signal accelerates detection; polling
// alone is fully correct.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polycopy/internal/alert"
	"github.com/web3guy0/polycopy/internal/config"
	"github.com/web3guy0/polycopy/internal/detector"
	"github.com/web3guy0/polycopy/internal/engine"
	"github.com/web3guy0/polycopy/internal/executor"
	"github.com/web3guy0/polycopy/internal/market"
	"github.com/web3guy0/polycopy/internal/monitor"
	"github.com/web3guy0/polycopy/internal/risk"
	"github.com/web3guy0/polycopy/internal/sizing"
	"github.com/web3guy0/polycopy/internal/store"
	"github.com/web3guy0/polycopy/internal/venue"
	"github.com/web3guy0/polycopy/types"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("leader", cfg.LeaderAddress).
		Str("mode", string(cfg.TradingMode)).
		Str("sizing", cfg.SizingMethod).
		Str("detection", cfg.DetectionMethod).
		Msg("🤖 Polycopy starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Venue data client and cache warmer
	client := venue.NewClient(cfg.DataAPIURL, cfg.ClobAPIURL)
	if _, synced, err := client.CheckClockSync(ctx); err != nil {
		log.Warn().Err(err).Msg("Clock sync failed, latencies uncalibrated")
	} else if !synced {
		log.Warn().Int64("drift_ms", client.DriftMs()).Msg("Local clock drifts from the venue")
	}
	// The watch set starts as the leader's current holdings so the warmers
	// and the websocket trigger cover sells on pre-held positions
	var watched []string
	if positions, err := client.GetPositions(ctx, cfg.LeaderAddress); err != nil {
		log.Warn().Err(err).Msg("Could not fetch leader positions for the initial watch set")
	} else {
		for _, p := range positions {
			watched = append(watched, p.TokenID)
		}
	}
	warmer := venue.NewWarmer(client, cfg.LeaderAddress, watched)

	// Executor
	var exec executor.Executor
	switch cfg.TradingMode {
	case types.ModeLive:
		live, err := executor.NewLive(executor.LiveConfig{
			BaseURL:    cfg.ClobAPIURL,
			PrivateKey: cfg.WalletPrivateKey,
			APIKey:     cfg.CLOBApiKey,
			APISecret:  cfg.CLOBApiSecret,
			Passphrase: cfg.CLOBPassphrase,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize live executor")
		}
		exec = live
	default:
		exec = executor.NewPaper(cfg.PaperBalance)
	}

	// Trade store
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open trade store")
	}

	// Alert channels
	var notifiers []alert.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := alert.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram channel disabled")
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if cfg.DiscordWebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.DiscordWebhookURL))
	}
	alerts := alert.NewSink(alert.Severity(cfg.AlertMinSeverity), notifiers...)

	// Detectors
	dcfg := detector.Config{
		LeaderAddress:        cfg.LeaderAddress,
		PollInterval:         cfg.PollInterval,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
	}
	var (
		act    *detector.ActivityDetector
		posDet *detector.PositionsDetector
		det    detector.Detector
	)
	if cfg.DetectionMethod == config.DetectPositions {
		posDet = detector.NewPositionsDetector(dcfg, client)
		det = posDet
	} else {
		act = detector.NewActivityDetector(dcfg, client)
		det = act
	}
	ws := detector.NewWSTrigger(cfg.WSURL)

	// Engine
	killSw := risk.NewKillSwitch()
	eng := engine.New(cfg, engine.Deps{
		Data: client,
		Analyzer: market.NewAnalyzer(market.AnalyzerConfig{
			DepthRangePercent:      cfg.DepthRangePercent,
			MaxSpreadBps:           cfg.MaxSpreadBps,
			WideSpreadThresholdBps: cfg.WideSpreadThresholdBps,
			MaxDivergenceBps:       cfg.MaxDivergenceBps,
			MinDepthShares:         cfg.MinDepthShares,
		}),
		Adjuster: market.NewAdjuster(market.AdjusterConfig{
			BaseOffsetBps:        cfg.PriceOffsetBps,
			AdaptiveThresholdBps: cfg.AdaptiveSpreadThresholdBps,
			SpreadMultiplier:     cfg.AdaptiveSpreadMultiplier,
			MaxAdaptiveOffsetBps: cfg.MaxAdaptiveOffsetBps,
		}),
		Sizer: sizing.NewCalculator(sizing.Config{
			Method:              cfg.SizingMethod,
			PortfolioPercent:    cfg.PortfolioPercent,
			MinOrderSize:        cfg.MinOrderSize,
			MaxPositionPerToken: cfg.MaxPositionPerToken,
			BelowMinAction:      cfg.BelowMinAction,
			SellStrategy:        cfg.SellStrategy,
		}),
		Checker: risk.NewChecker(risk.Config{
			MaxDailyLoss:       cfg.MaxDailyLoss,
			MaxTotalLoss:       cfg.MaxTotalLoss,
			MaxTokenSpend:      cfg.MaxTokenSpend,
			MaxMarketSpend:     cfg.MaxMarketSpend,
			TotalHoldingsLimit: cfg.TotalHoldingsLimit,
		}, killSw),
		Gate: risk.NewConditionGate(risk.ConditionConfig{
			MaxSpreadBps:           cfg.MaxSpreadBps,
			WideSpreadThresholdBps: cfg.WideSpreadThresholdBps,
			MaxDivergenceBps:       cfg.MaxDivergenceBps,
			MinDepthShares:         cfg.MinDepthShares,
		}),
		Exec:         exec,
		Store:        st,
		Alerts:       alerts,
		WatchedSinks: []engine.WatchedSink{warmer, ws},
		PollCount:    det.Polls,
	})

	// Producers publish onto the engine's queue
	onDegraded := func(consecutive int) {
		alerts.Notify(alert.SeverityHigh, "Detection degraded",
			"Leader feed failing, copies may lag")
	}
	onRecovered := func() {
		alerts.Notify(alert.SeverityMedium, "Detection recovered", "Leader feed healthy again")
	}
	if posDet != nil {
		posDet.OnTrade = eng.SubmitTrade
		posDet.OnDegraded = onDegraded
		posDet.OnRecovered = onRecovered
	} else {
		act.OnTrade = eng.SubmitTrade
		act.OnDegraded = onDegraded
		act.OnRecovered = onRecovered
	}
	ws.OnSignal = func(string) { det.TriggerPollNow() }

	// TP/SL monitor
	var tpsl *monitor.TpSl
	if cfg.TpSlEnabled {
		tpsl = monitor.NewTpSl(monitor.Config{
			TakeProfitPercent: cfg.TakeProfitPercent,
			StopLossPercent:   cfg.StopLossPercent,
		}, exec, client)
		tpsl.OnTrigger = eng.SubmitExit
		eng.OnExitRejected = tpsl.Rearm
	}

	eng.SeedWatched(watched)

	// Start everything
	eng.Start(ctx)
	warmer.Start(ctx)
	det.Start(ctx)
	ws.Start(ctx)
	if tpsl != nil {
		tpsl.Start(ctx)
	}

	alerts.Notify(alert.SeverityMedium, "Polycopy started",
		"Following "+cfg.LeaderAddress+" in "+string(cfg.TradingMode)+" mode")

	// Wait for shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutdown signal received")

	// Stop producers first so no new events land, then the engine
	if tpsl != nil {
		tpsl.Stop()
	}
	ws.Stop()
	det.Stop()
	warmer.Stop()
	eng.Stop(context.Background())

	if err := exec.CancelAllOrders(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Order cancellation failed")
	}

	stats := eng.Stats()
	log.Info().
		Int64("detected", stats.TradesDetected).
		Int64("executed", stats.TradesExecuted).
		Int64("rejected", stats.TradesRejected).
		Str("total_pnl", exec.TotalPnL().StringFixed(2)).
		Float64("avg_latency_ms", stats.Latency.AvgTotalMs).
		Msg("📊 Session summary")

	alerts.Notify(alert.SeverityMedium, "Polycopy stopped",
		fmt.Sprintf("P&L %s, trades %d", exec.TotalPnL().StringFixed(2), stats.TradesExecuted))
	alerts.Flush()

	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("Trade store close failed")
	}

	cancel()
}
