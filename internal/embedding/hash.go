package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/kbcopilot/pkg/utils"
)

// HashEmbedder is a deterministic bag-of-hashed-tokens pseudo-embedding.
// Each token adds 1/sqrt(tokenCount) to bucket |hash(token)| mod dimensions and the
// result is L2-normalised. Text without tokens yields the zero vector.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hash embedder producing vectors of the given length.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the pseudo-embedding of text. It never fails.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.Vector(text), nil
}

// Vector computes the embedding without a context.
func (e *HashEmbedder) Vector(text string) []float32 {
	emb := make([]float32, e.dimensions)
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return emb
	}
	weight := 1 / math.Sqrt(float64(len(tokens)))
	acc := make([]float64, e.dimensions)
	for _, tok := range tokens {
		acc[Bucket(HashToken(tok), e.dimensions)] += weight
	}
	for i, v := range acc {
		emb[i] = float32(v)
	}
	utils.NormalizeL2(emb)
	return emb
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error {
	return nil
}

// HashToken is the 32-bit rolling hash h = h*31 + c over the UTF-16 code units of
// s, wrapping on overflow.
func HashToken(s string) int32 {
	var h int32
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			h = h*31 + int32(0xD800+(r>>10))
			h = h*31 + int32(0xDC00+(r&0x3FF))
			continue
		}
		h = h*31 + int32(r)
	}
	return h
}

// Bucket maps a hash to [0, n) by absolute value modulo n.
func Bucket(h int32, n int) int {
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % int64(n))
}
