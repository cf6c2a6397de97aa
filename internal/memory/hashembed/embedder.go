// Package hashembed implements memory.Embedder with a deterministic
// hashing-trick embedding: no network call, no model weights, just a
// fixed-size bag-of-words projection. It stands in for the real embedding
// model the hybrid searcher's contract treats as opaque.
package hashembed

import (
	"hash/fnv"
	"math"
	"strings"
)

const defaultDims = 256

// Embedder projects text into a fixed-size vector by hashing each token
// into a bucket and accumulating a signed count, then L2-normalizing.
type Embedder struct {
	dims int
}

// New returns an Embedder with the given vector width; 0 uses the default.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = defaultDims
	}
	return &Embedder{dims: dims}
}

// Embed computes one embedding vector for text.
func (e *Embedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		bucket := int(h.Sum32()) % e.dims
		if bucket < 0 {
			bucket += e.dims
		}
		sign := float32(1)
		if (h.Sum32()>>31)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}
	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *Embedder) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
}
