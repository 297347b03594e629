package main

import (
	"context"
	"log"
	"sync"
	"time"

	"forex-backtest/internal/backtest"
	"forex-backtest/internal/model"
	"forex-backtest/internal/simulator"

	"golang.org/x/sync/errgroup"
)

// job is one engine invocation.
type job struct {
	Timeframe model.Timeframe
	Symbols   []string
}

// summary aggregates the outcome of a batch run.
type summary struct {
	Invocations int
	Failed      int
	Skipped     int
	Tally       simulator.Tally
}

// buildJobs expands symbols x timeframes. With perSymbol false each timeframe
// becomes a single invocation over all symbols.
func buildJobs(symbols []string, tfs []model.Timeframe, perSymbol bool) []job {
	var jobs []job
	for _, tf := range tfs {
		if !perSymbol {
			jobs = append(jobs, job{Timeframe: tf, Symbols: symbols})
			continue
		}
		for _, s := range symbols {
			jobs = append(jobs, job{Timeframe: tf, Symbols: []string{s}})
		}
	}
	return jobs
}

// runBatches runs jobs size at a time and waits delay between batches.
// A failed invocation is logged and counted; it does not stop the others.
func runBatches(ctx context.Context, jobs []job, size int, delay time.Duration,
	run func(context.Context, job) (*backtest.Report, error)) summary {
	if size <= 0 {
		size = 1
	}

	var (
		mu  sync.Mutex
		sum summary
	)
	for i := 0; i < len(jobs); i += size {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			log.Printf("[backtest] cancelled, %d invocations not started", len(jobs)-i)
			break
		}

		batch := jobs[i:min(i+size, len(jobs))]
		var g errgroup.Group
		for _, j := range batch {
			g.Go(func() error {
				rep, err := run(ctx, j)

				mu.Lock()
				defer mu.Unlock()
				sum.Invocations++
				if err != nil {
					sum.Failed++
					log.Printf("[backtest] %s %v failed: %v", j.Timeframe, j.Symbols, err)
					return nil
				}
				sum.Skipped += len(rep.Skipped)
				sum.Tally.Merge(rep.Tally)
				return nil
			})
		}
		g.Wait()
	}
	return sum
}
