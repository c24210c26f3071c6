package selector

import (
	"hash/fnv"
)

// StableBucket maps (namespace, salt, key) to an integer in [0,100).
//
// The digest is FNV-1a over the concatenated inputs, reduced modulo 100.
// Determinism is load-bearing: the same triple must yield the same bucket
// across processes and re-implementations, so rollout membership is
// reproducible. FNV-1a 64-bit is specified precisely enough that any
// language can reproduce it.
func StableBucket(namespace, salt, key string) int {
	h := fnv.New64a()
	h.Write([]byte(namespace))
	h.Write([]byte(salt))
	h.Write([]byte(key))
	return int(h.Sum64() % 100)
}
