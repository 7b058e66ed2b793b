package prop

import (
	"math/rand"
)

// Pair holds two generated values.
type Pair[A, B any] struct {
	First  A
	Second B
}

// GenInt64 returns a generator for signed values whose magnitude grows with size.
func GenInt64() Generator[int64] {
	return func(r *rand.Rand, size int) int64 {
		bits := min(max(size, 1), 62)
		v := r.Int63n(int64(1) << bits)

		if r.Intn(2) == 0 {
			return -v
		}

		return v
	}
}

// GenRange returns a uniform generator over [lo, hi].
func GenRange(lo, hi int64) Generator[int64] {
	return func(r *rand.Rand, _ int) int64 {
		return lo + r.Int63n(hi-lo+1)
	}
}

// ShrinkInt64 moves a value toward zero.
func ShrinkInt64() Shrinker[int64] {
	return func(v int64) []int64 {
		if v == 0 {
			return nil
		}

		step := int64(1)
		if v < 0 {
			step = -1
		}

		return dedupe([]int64{0, v / 2, v - step})
	}
}

// ShrinkToward moves a value toward floor without crossing it.
func ShrinkToward(floor int64) Shrinker[int64] {
	return func(v int64) []int64 {
		if v <= floor {
			return nil
		}

		return dedupe([]int64{floor, floor + (v-floor)/2, v - 1})
	}
}

// GenPair combines two generators.
func GenPair[A, B any](a Generator[A], b Generator[B]) Generator[Pair[A, B]] {
	return func(r *rand.Rand, size int) Pair[A, B] {
		return Pair[A, B]{First: a(r, size), Second: b(r, size)}
	}
}

// ShrinkPair shrinks one component at a time.
func ShrinkPair[A, B any](sa Shrinker[A], sb Shrinker[B]) Shrinker[Pair[A, B]] {
	return func(p Pair[A, B]) []Pair[A, B] {
		var out []Pair[A, B]

		if sa != nil {
			for _, a := range sa(p.First) {
				out = append(out, Pair[A, B]{First: a, Second: p.Second})
			}
		}

		if sb != nil {
			for _, b := range sb(p.Second) {
				out = append(out, Pair[A, B]{First: p.First, Second: b})
			}
		}

		return out
	}
}

// GenSlice returns a slice generator of length up to size.
func GenSlice[T any](elem Generator[T]) Generator[[]T] {
	return func(r *rand.Rand, size int) []T {
		out := make([]T, r.Intn(max(0, size)+1))
		for i := range out {
			out[i] = elem(r, size)
		}

		return out
	}
}

// ShrinkSlice drops either half, then shrinks the head element.
func ShrinkSlice[T any](elem Shrinker[T]) Shrinker[[]T] {
	return func(v []T) [][]T {
		if len(v) == 0 {
			return nil
		}

		mid := len(v) / 2
		candidates := [][]T{
			append([]T(nil), v[:mid]...),
			append([]T(nil), v[mid:]...),
		}

		if elem != nil {
			for _, s := range elem(v[0]) {
				candidates = append(candidates, append([]T{s}, v[1:]...))
			}
		}

		return candidates
	}
}

func dedupe(xs []int64) []int64 {
	seen := make(map[int64]struct{}, len(xs))
	out := xs[:0]

	for _, x := range xs {
		if _, ok := seen[x]; !ok {
			seen[x] = struct{}{}
			out = append(out, x)
		}
	}

	return out
}
