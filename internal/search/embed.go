// Package search provides the text-to-vector machinery behind semantic
// retrieval: a deterministic, concurrency-safe local embedder, an optional
// remote embedder client, cosine scoring, and a chunk splitter. It is
// intentionally small and engineered with production-grade ergonomics:
//
//   - No logging in the library (callers decide how/what to log)
//   - Clear, documented types and functional options (Option pattern)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Deterministic vectors: the same text always embeds identically,
//     so query and chunk vectors remain comparable across restarts
//   - Normalized scores in [0,1] with stable tie behavior left to callers
//
// The local embedder hashes each token into a fixed-dimension bag-of-words
// vector and L2-normalizes the result. It is not a neural model; it is the
// deterministic fallback used when no external embedding backend is
// configured, and the reference behavior tests are written against.
package search

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Embedder converts text into a fixed-dimension vector. Implementations must
// be safe for concurrent use and must embed queries and chunks identically.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	dim       int
	stopwords map[string]struct{}
}

func defaultConfig() config {
	return config{
		dim:       256,
		stopwords: nil,
	}
}

// WithDim sets the embedding dimensionality. Non-positive values are ignored.
func WithDim(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.dim = n
		}
	}
}

// WithStopwords installs a stop-word set removed during tokenization.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// ----------------------------------------------------------------------------
// Local embedder

type hashedEmbedder struct {
	cfg config
}

// NewHashedEmbedder builds the deterministic local embedder.
func NewHashedEmbedder(opts ...Option) Embedder {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &hashedEmbedder{cfg: cfg}
}

// Dim returns the configured vector dimensionality.
func (e *hashedEmbedder) Dim() int { return e.cfg.dim }

// Embed maps text to an L2-normalized hashed bag-of-words vector. Empty or
// stop-word-only input yields the zero vector, which scores 0 against
// everything.
func (e *hashedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.cfg.dim)
	toks := Tokenize(text, e.cfg.stopwords)
	if len(toks) == 0 {
		return vec, nil
	}
	for tok, n := range toks {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		slot := int(sum % uint32(e.cfg.dim))
		// Sign bit decorrelates colliding tokens.
		sign := float32(1)
		if sum&0x80000000 != 0 {
			sign = -1
		}
		vec[slot] += sign * float32(n)
	}
	normalize(vec)
	return vec, nil
}

// ----------------------------------------------------------------------------
// Scoring

// Cosine returns the cosine similarity of two vectors, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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

// NormalizeScore maps a cosine similarity in [-1,1] to [0,1], clamping
// numerical drift at the boundaries.
func NormalizeScore(cos float64) float64 {
	s := (cos + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func normalize(v []float32) {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	if n == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(n))
	for i := range v {
		v[i] *= inv
	}
}

// ----------------------------------------------------------------------------
// Tokenization

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

// Tokenize lowercases s and returns token counts, dropping stop words.
// Returns nil when no tokens remain.
func Tokenize(s string, stop map[string]struct{}) map[string]int {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]int, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w]++
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
