package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Local produces deterministic pseudo-embeddings derived from a content
// hash. Identical text always yields the identical unit vector, which is
// what idempotence and ordering tests need; it has no semantic meaning.
type Local struct {
	limits
}

func NewLocal(opts Options) (*Local, error) {
	return &Local{limits: newLimits(opts)}, nil
}

func (e *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// vector expands sha256(text) into dims values by rehashing with a
// counter, then L2-normalizes.
func (e *Local) vector(text string) []float32 {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, e.dims)

	var block [32]byte
	var counter [8]byte
	for i := 0; i < e.dims; i++ {
		if i%4 == 0 {
			binary.BigEndian.PutUint64(counter[:], uint64(i/4))
			h := sha256.New()
			h.Write(seed[:])
			h.Write(counter[:])
			h.Sum(block[:0])
		}
		bits := binary.BigEndian.Uint64(block[(i%4)*8 : (i%4)*8+8])
		// Map to (-1, 1).
		vec[i] = float32(int64(bits)) / float32(math.MaxInt64)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
