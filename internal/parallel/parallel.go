// Package parallel splits index ranges across goroutines.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 256, // A few hundred cosine products per goroutine.
	}
}

// chunkSize returns the range length each goroutine handles, or 0 when n
// should run sequentially.
func (cfg Config) chunkSize(n int) int {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < cfg.MinChunkSize {
		return 0
	}
	return max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	size := cfg.chunkSize(n)
	if size == 0 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForContext is For with cancellation. Every chunk checks ctx before it
// starts; once ctx is done the remaining chunks are skipped and ctx.Err()
// is returned. f must not block.
func ForContext(ctx context.Context, n int, f func(i int), cfg Config) error {
	size := cfg.chunkSize(n)
	if size == 0 {
		size = max(n, 1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.NumWorkers, 1))

	for start := 0; start < n; start += size {
		start, end := start, min(start+size, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				f(i)
			}
			return nil
		})
	}
	return g.Wait()
}
