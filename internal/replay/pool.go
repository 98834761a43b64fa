package replay

import (
	"context"
	"fmt"

	. "barmatch/internal/common"
	"barmatch/internal/gfob"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"
)

// Job is one independent backtest. Jobs share the bar slice read-only and
// nothing else; every job gets its own manager.
type Job struct {
	Name        string
	Config      gfob.Config
	Capital     decimal.Decimal
	Bars        []Bar
	NewStrategy func() Strategy
}

type Result struct {
	Job    string
	Report Report
}

// Pool runs jobs on a fixed number of workers. Each backtest stays single
// threaded; only separate jobs run in parallel.
type Pool struct {
	n   int // number of workers
	log zerolog.Logger
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		n:   size,
		log: log.Logger.With().Str("component", "pool").Logger(),
	}
}

func (pool *Pool) WithLogger(logger zerolog.Logger) *Pool {
	pool.log = logger
	return pool
}

// Run executes every job and returns results in job order. The first job
// error kills the pool, since it means a caller or engine bug rather than a
// market outcome.
func (pool *Pool) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	tasks := make(chan int)
	t, ctx := tomb.WithContext(ctx)

	// t.Go must only be called while a tracked goroutine is alive, so the
	// feeder starts the workers.
	t.Go(func() error {
		for id := 0; id < pool.n; id++ {
			t.Go(func() error {
				return pool.worker(ctx, t, id, tasks, jobs, results)
			})
		}

		defer close(tasks)
		for i := range jobs {
			select {
			case <-t.Dying():
				return nil
			case tasks <- i:
			}
		}
		return nil
	})

	if err := t.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Workers wait on job indexes and run them.
func (pool *Pool) worker(ctx context.Context, t *tomb.Tomb, id int, tasks <-chan int, jobs []Job, results []Result) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case i, ok := <-tasks:
			if !ok {
				return nil
			}
			job := jobs[i]
			logger := pool.log.With().Str("job", job.Name).Int("worker", id).Logger()
			manager := gfob.New(job.Config,
				gfob.WithLogger(logger),
				gfob.WithIDs(SequentialIDs(job.Name)),
			)
			report, err := NewRunner(manager, job.NewStrategy()).
				WithLogger(logger).
				Run(ctx, job.Capital, job.Bars)
			if err != nil {
				logger.Error().Err(err).Msg("worker exiting")
				return fmt.Errorf("job %s: %w", job.Name, err)
			}
			results[i] = Result{Job: job.Name, Report: report}
		}
	}
}
