// Package prop is a small property checker used by the binder's tests. Trials
// are generated from a seeded PRNG and evaluated by a pool of workers; the
// first failing input is shrunk sequentially.
package prop

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"runtime"
	"testing"
	"time"
)

// Generator produces a value of type T from a PRNG and a size hint.
type Generator[T any] func(r *rand.Rand, size int) T

// Shrinker produces smaller candidates that may still falsify a property.
type Shrinker[T any] func(v T) []T

// Property1 is a unary property predicate.
type Property1[A any] func(a A) bool

// Options control property checking.
type Options struct {
	Trials          int   // number of trials
	Seed            int64 // 0 means time.Now().UnixNano()
	Size            int   // size hint for generators
	Parallelism     int   // <=0 means GOMAXPROCS
	MaxShrinkRounds int
	MaxShrinkTime   time.Duration // 0 disables the limit
}

// Result is the outcome of a property check.
type Result struct {
	PassedTrials int
	Failed       bool
	FailingInput any
	ShrunkInput  any
	Seed         int64
	Duration     time.Duration
	ShrinkRounds int
}

func (o Options) withDefaults() Options {
	if o.Trials <= 0 {
		o.Trials = 200
	}

	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}

	if o.Size <= 0 {
		o.Size = 30
	}

	if o.Parallelism <= 0 {
		o.Parallelism = max(runtime.GOMAXPROCS(0), 1)
	}

	if o.MaxShrinkRounds <= 0 {
		o.MaxShrinkRounds = 200
	}

	return o
}

// ForAll1 checks a unary property with the given generator and optional shrinker.
func ForAll1[A any](genA Generator[A], shrinkA Shrinker[A], prop Property1[A], opts Options) Result {
	start := time.Now()
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		a  A
		ok bool
	}

	trials := make(chan int)
	outs := make(chan outcome)

	for w := 0; w < opts.Parallelism; w++ {
		go func() {
			for idx := range trials {
				r := rand.New(rand.NewSource(deriveSeed(opts.Seed, idx)))
				a := genA(r, opts.Size)

				select {
				case outs <- outcome{a: a, ok: prop(a)}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(trials)

		for i := 0; i < opts.Trials; i++ {
			select {
			case trials <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	res := Result{Seed: opts.Seed}

	for completed := 0; completed < opts.Trials; completed++ {
		o := <-outs
		if o.ok {
			res.PassedTrials++
			continue
		}

		res.Failed = true
		res.FailingInput = o.a

		cancel()

		if shrinkA != nil {
			res.ShrunkInput, res.ShrinkRounds = shrink(o.a, shrinkA, prop, opts)
		}

		break
	}

	res.Duration = time.Since(start)

	return res
}

func shrink[A any](best A, shrinkA Shrinker[A], prop Property1[A], opts Options) (A, int) {
	var deadline time.Time
	if opts.MaxShrinkTime > 0 {
		deadline = time.Now().Add(opts.MaxShrinkTime)
	}

	rounds := 0

	for rounds < opts.MaxShrinkRounds {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		progressed := false

		for _, c := range shrinkA(best) {
			if !prop(c) {
				best = c
				progressed = true

				break
			}
		}

		rounds++

		if !progressed {
			break
		}
	}

	return best, rounds
}

// Check runs ForAll1 and fails t with the seed and shrunk input on failure.
func Check[A any](t testing.TB, genA Generator[A], shrinkA Shrinker[A], prop Property1[A], opts Options) {
	t.Helper()

	res := ForAll1(genA, shrinkA, prop, opts)
	if res.Failed {
		t.Fatalf("property failed after %d trials: seed=%d input=%v shrunk=%v",
			res.PassedTrials, res.Seed, res.FailingInput, res.ShrunkInput)
	}
}

// deriveSeed mixes the base seed with the trial index via SHA-256.
func deriveSeed(base int64, idx int) int64 {
	var b [16]byte

	binary.LittleEndian.PutUint64(b[0:8], uint64(base))
	binary.LittleEndian.PutUint64(b[8:16], uint64(idx))
	h := sha256.Sum256(b[:])

	return int64(binary.LittleEndian.Uint64(h[0:8]))
}
