package curiosity

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"evotrader/internal/stats"
)

// stateEncoder discretizes continuous observations into a stable hash for
// count-based novelty lookups.
type stateEncoder struct {
	bins int
}

// encode maps an observation to a 64-bit hash of its per-dimension bins.
// Non-finite values fall into bin 0 rather than poisoning the hash.
func (e stateEncoder) encode(obs []float64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range obs {
		bin := 0
		if stats.IsFinite(v) {
			bin = int(stats.Clamp(v*float64(e.bins), 0, float64(e.bins-1)))
		}
		binary.LittleEndian.PutUint64(buf[:], uint64(bin))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// cosineSimilarity returns the cosine of the angle between two equal-length
// vectors, 0 when either is degenerate.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
