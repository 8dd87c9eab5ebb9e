// Package loadgen keeps CPU cores busy for a while, to give the usage logger
// something to record.
package loadgen

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is one labelled load level of a demo run.
type Phase struct {
	Label   string
	Workers int
}

// Phases returns the demo schedule for a machine with cores logical CPUs:
// one core, then a quarter, half, and all of them.
func Phases(cores int) []Phase {
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return []Phase{
		{Label: "single core", Workers: 1},
		{Label: "quarter load", Workers: max(1, cores/4)},
		{Label: "half load", Workers: max(1, cores/2)},
		{Label: "full load", Workers: cores},
	}
}

// Burn runs workers busy loops for d and returns the number of spin
// iterations completed. It returns early with ctx.Err() when ctx is done.
func Burn(ctx context.Context, workers int, d time.Duration) (uint64, error) {
	if workers <= 0 {
		return 0, errors.New("workers must be > 0")
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	jobs := make(chan int, workers)
	var (
		wg    sync.WaitGroup
		spins atomic.Uint64
	)
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				spins.Add(spin(ctx))
			}
		}()
	}
	for i := 0; i < workers; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// Reaching d is the normal way out; only the caller's ctx is an error.
	return spins.Load(), parent.Err()
}

// spin burns CPU until ctx is done, checking it every few thousand rounds.
func spin(ctx context.Context) uint64 {
	var n, x uint64 = 0, 20
	for {
		for i := 0; i < 4096; i++ {
			x = x*x%1_000_003 + 1
		}
		n++
		select {
		case <-ctx.Done():
			sink.Store(x)
			return n
		default:
		}
	}
}

// sink keeps the spin loop from being optimised away.
var sink atomic.Uint64
