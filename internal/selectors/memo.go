package selectors

// memo caches the result of the last computation and its input key.
type memo[K comparable, R any] struct {
	valid  bool
	key    K
	result R
}

// get returns the cached result when key matches the last key, otherwise
// computes, caches, and returns a fresh one.
func (m *memo[K, R]) get(key K, compute func() R) R {
	if m.valid && m.key == key {
		return m.result
	}
	m.result = compute()
	m.key = key
	m.valid = true
	return m.result
}
