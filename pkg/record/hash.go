package record

// FNV-1a 64-bit hash constants.
const (
	fnv1aOffsetBasis uint64 = 14695981039346656037
	fnv1aPrime       uint64 = 1099511628211
)

// fnv1a64 computes the FNV-1a 64-bit hash over key bytes.
//
// Unseeded, so index placement is reproducible across processes.
func fnv1a64(key []byte) uint64 {
	hash := fnv1aOffsetBasis
	for _, b := range key {
		hash ^= uint64(b)
		hash *= fnv1aPrime
	}

	return hash
}
