// Package replay drives GFOB managers over recorded bars.
package replay

import (
	"context"
	"fmt"

	. "barmatch/internal/common"
	"barmatch/internal/gfob"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Strategy decides what to quote once a bar has been matched. It must only
// touch the manager through its exported operations.
type Strategy interface {
	OnBar(bar Bar, result gfob.MatchResult, m *gfob.Manager) error
}

type Report struct {
	Bars    int
	Fills   []Fill
	Expired []Expiry
	Stats   gfob.Stats
}

type Runner struct {
	manager  *gfob.Manager
	strategy Strategy
	log      zerolog.Logger
}

func NewRunner(manager *gfob.Manager, strategy Strategy) *Runner {
	return &Runner{
		manager:  manager,
		strategy: strategy,
		log:      log.Logger.With().Str("component", "replay").Logger(),
	}
}

func (r *Runner) WithLogger(logger zerolog.Logger) *Runner {
	r.log = logger
	return r
}

// Run initializes the manager with capital and replays bars one at a time:
// match first, then let the strategy quote for the next bar.
func (r *Runner) Run(ctx context.Context, capital decimal.Decimal, bars []Bar) (Report, error) {
	var report Report
	if err := r.manager.Initialize(capital); err != nil {
		return report, err
	}

	for _, bar := range bars {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		result, err := r.manager.MatchOrders(bar.Index, bar.Low, bar.High, bar.Timestamp)
		if err != nil {
			return report, fmt.Errorf("match bar %d: %w", bar.Index, err)
		}
		report.Fills = append(report.Fills, result.SellFills...)
		report.Fills = append(report.Fills, result.BuyFills...)
		report.Expired = append(report.Expired, result.Expired...)

		if err := r.strategy.OnBar(bar, result, r.manager); err != nil {
			return report, fmt.Errorf("strategy on bar %d: %w", bar.Index, err)
		}
		report.Bars++
	}

	report.Stats = r.manager.Statistics()
	r.log.Info().
		Int("bars", report.Bars).
		Int("fills", len(report.Fills)).
		Int("expired", len(report.Expired)).
		Str("total", report.Stats.Ledger.Total.String()).
		Str("win_rate", report.Stats.Journal.WinRate.StringFixed(2)).
		Msg("replay finished")
	return report, nil
}
