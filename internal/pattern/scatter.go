package pattern

import "hash/fnv"

// Scatter returns a reproducible permutation of [0, n). It replaces true
// random slot shuffling: two processes seeded with the same wall id compute
// the same permutation, so the visual variety it adds never breaks the
// allocator's determinism contract.
func Scatter(seed string, n int) []int {
	if n <= 0 {
		return nil
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	state := h.Sum64()
	for i := n - 1; i > 0; i-- {
		state = splitmix64(state)
		j := int(state % uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// splitmix64 is the standard 64-bit mixing step; good enough for layout
// jitter, not for anything cryptographic.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
