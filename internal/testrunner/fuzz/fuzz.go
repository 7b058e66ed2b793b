// Package fuzz is a small deterministic mutation fuzzer for byte-level
// decoders. Runs are bounded by an execution count rather than wall time so
// they behave identically on every machine.
package fuzz

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
)

// Mutator produces a mutated payload from a parent.
type Mutator func(r *rand.Rand, in []byte) []byte

// Target is the fuzz target. Returning an error or panicking indicates a crash.
type Target func(data []byte) error

// Options controls the fuzzing loop.
type Options struct {
	Execs    int   // executions per worker
	Seed     int64 // seed for PRNG
	MaxInput int   // max input size
	Workers  int   // parallel workers
}

func (o Options) withDefaults() Options {
	if o.Execs <= 0 {
		o.Execs = 2000
	}
	if o.Seed == 0 {
		o.Seed = 1
	}
	if o.MaxInput <= 0 {
		o.MaxInput = 1 << 12
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}

	return o
}

// Crash records an input that made the target fail.
type Crash struct {
	Input []byte
	Err   error
}

func (c Crash) String() string {
	return fmt.Sprintf("0x%s: %v", hex.EncodeToString(c.Input), c.Err)
}

// Stats captures aggregate counters for a fuzzing run.
type Stats struct {
	Executions int
	Crashes    []Crash
}

// ByteMutator inserts, flips, replaces or deletes single bytes.
func ByteMutator() Mutator {
	return func(r *rand.Rand, in []byte) []byte {
		out := append([]byte(nil), in...)

		switch {
		case len(out) == 0 || r.Intn(4) == 0:
			pos := r.Intn(len(out) + 1)
			out = append(out[:pos], append([]byte{byte(r.Intn(256))}, out[pos:]...)...)
		case r.Intn(2) == 0:
			out[r.Intn(len(out))] ^= 1 << uint(r.Intn(8))
		case r.Intn(2) == 0:
			out[r.Intn(len(out))] = byte(r.Intn(256))
		default:
			pos := r.Intn(len(out))
			out = append(out[:pos], out[pos+1:]...)
		}

		return out
	}
}

// WordMutator overwrites an aligned little-endian u32 with an interesting
// value, or truncates the input at a word boundary. It suits formats made
// of 32-bit fields.
func WordMutator() Mutator {
	interesting := []uint32{0, 1, 0x7F, 0xFF, 0xFFFF, 0x7FFFFFFF, 0xFFFFFFFF}

	return func(r *rand.Rand, in []byte) []byte {
		out := append([]byte(nil), in...)
		words := len(out) / 4

		if words == 0 {
			return ByteMutator()(r, out)
		}

		if r.Intn(5) == 0 {
			return out[:4*r.Intn(words)]
		}

		i := 4 * r.Intn(words)
		binary.LittleEndian.PutUint32(out[i:], interesting[r.Intn(len(interesting))])

		return out
	}
}

// Run mutates the corpus and calls target on every candidate. Each worker
// starts from a corpus entry and keeps mutating its last candidate.
func Run(opts Options, corpus [][]byte, target Target, mut Mutator) Stats {
	opts = opts.withDefaults()
	if mut == nil {
		mut = ByteMutator()
	}
	if len(corpus) == 0 {
		corpus = [][]byte{{}}
	}

	var (
		mu    sync.Mutex
		stats Stats
		wg    sync.WaitGroup
	)

	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			r := rand.New(rand.NewSource(derive(opts.Seed, w)))
			cur := corpus[w%len(corpus)]

			for n := 0; n < opts.Execs; n++ {
				if r.Intn(16) == 0 {
					cur = corpus[r.Intn(len(corpus))]
				}

				cand := mut(r, cur)
				if len(cand) > opts.MaxInput {
					cand = cand[:opts.MaxInput]
				}

				err := callTargetSafe(target, cand)

				mu.Lock()
				stats.Executions++
				if err != nil {
					stats.Crashes = append(stats.Crashes, Crash{Input: cand, Err: err})
				}
				mu.Unlock()

				cur = cand
			}
		}(w)
	}

	wg.Wait()

	return stats
}

// callTargetSafe invokes the target and converts panics into errors for recording.
func callTargetSafe(t Target, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return t(data)
}

func derive(base int64, salt int) int64 {
	var b [16]byte

	binary.LittleEndian.PutUint64(b[0:8], uint64(base))
	binary.LittleEndian.PutUint64(b[8:16], uint64(salt))
	sh := sha256.Sum256(b[:])

	return int64(binary.LittleEndian.Uint64(sh[:8]))
}
