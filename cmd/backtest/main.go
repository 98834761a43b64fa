package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"barmatch/internal/feed"
	"barmatch/internal/params"
	"barmatch/internal/replay"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	barsPath := flag.String("bars", "", "CSV file of index,timestamp,open,high,low,close rows (compulsory)")
	envPath := flag.String("env", "", "Optional .env file")
	sweep := flag.String("sweep", "", "Comma-separated entry discounts to run side by side (e.g. 0.001,0.002)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *barsPath == "" {
		log.Error().Msg("-bars is compulsory")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := params.LoadFromEnv(*envPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	f, err := os.Open(*barsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *barsPath).Msg("unable to open bars")
	}
	bars, err := feed.ReadCSV(f)
	f.Close()
	if err != nil {
		log.Fatal().Err(err).Str("path", *barsPath).Msg("unable to read bars")
	}

	deltas := []decimal.Decimal{cfg.GFOB.DeltaIn}
	if *sweep != "" {
		deltas = deltas[:0]
		for _, s := range strings.Split(*sweep, ",") {
			d, err := decimal.NewFromString(strings.TrimSpace(s))
			if err != nil {
				log.Fatal().Err(err).Str("value", s).Msg("invalid sweep value")
			}
			deltas = append(deltas, d)
		}
	}

	jobs := make([]replay.Job, 0, len(deltas))
	for _, d := range deltas {
		managerCfg := cfg.Manager()
		managerCfg.DeltaIn = d
		jobs = append(jobs, replay.Job{
			Name:        "delta-in-" + d.String(),
			Config:      managerCfg,
			Capital:     cfg.Backtest.InitialCapital,
			Bars:        bars,
			NewStrategy: func() replay.Strategy { return replay.NewTailStrategy() },
		})
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	results, err := replay.NewPool(cfg.Backtest.Workers).Run(ctx, jobs)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest aborted")
	}

	for _, r := range results {
		stats := r.Report.Stats
		log.Info().
			Str("job", r.Job).
			Int("bars", r.Report.Bars).
			Str("available", stats.Ledger.Available.String()).
			Str("frozen", stats.Ledger.Frozen.String()).
			Str("total", stats.Ledger.Total.String()).
			Int("orders", stats.OrderCount).
			Int("buy_fills", stats.Journal.BuyFills).
			Int("sell_fills", stats.Journal.SellFills).
			Int("expired", stats.Journal.Expired).
			Int("insufficient_capital", stats.Ledger.InsufficientCapital).
			Str("win_rate", stats.Journal.WinRate.StringFixed(2)).
			Str("realized_pnl", stats.Journal.RealizedPnL.String()).
			Msg("backtest result")
	}
}
