package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// keywordDims is small on purpose: the hashing embedder captures lexical
// overlap, not meaning, and more buckets just add noise.
const keywordDims = 256

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"it": true, "this": true, "that": true, "be": true, "are": true, "as": true,
	"at": true, "by": true, "from": true, "into": true, "please": true,
}

// KeywordEngine is the offline fallback: tokens are hashed into a fixed
// number of buckets with sublinear term-frequency weighting, then
// L2-normalized. Deterministic and dependency free.
type KeywordEngine struct{}

func NewKeywordEngine() *KeywordEngine { return &KeywordEngine{} }

func (k *KeywordEngine) Name() string    { return "keyword" }
func (k *KeywordEngine) Dimensions() int { return keywordDims }

func (k *KeywordEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[uint32]float64)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		counts[h.Sum32()%keywordDims]++
	}

	vec := make([]float32, keywordDims)
	var norm float64
	for bucket, n := range counts {
		w := 1 + math.Log(n)
		vec[bucket] = float32(w)
		norm += w * w
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Cosine returns the cosine similarity of two vectors, 0 on mismatch.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
