package sliceutils

// RemoveDuplicates removes any duplicate entries from a list.
func RemoveDuplicates[T comparable](in []T) []T {
	return RemoveDuplicatesFunc(in, func(v T) T { return v })
}

// RemoveDuplicatesFunc removes entries whose derived key has already been
// seen, keeping the first occurrence and the original order.  A nil input
// yields a nil output so callers can keep using nil as "not specified".
func RemoveDuplicatesFunc[T any, K comparable](in []T, keyFn func(T) K) []T {
	if in == nil {
		return nil
	}

	seen := make(map[K]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		key := keyFn(v)
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
