// Package relevance scores cache entries for pruning decisions.
//
// The score blends recency decay, access frequency, entry-type weight,
// and tag overlap with the current query context, normalized into
// [0, 1]. When an embedding backend is configured, query similarity is
// blended in; when it is unavailable, scoring silently degrades to the
// pure heuristic. Relevance is never a hard dependency of cache
// correctness, so Score cannot fail.
package relevance

import (
	"context"
	"crypto/sha256"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Backend produces embeddings for similarity scoring.
// May be unavailable at any time.
type Backend interface {
	// Embed returns a vector representation of the text.
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Default configuration values.
const (
	DefaultHalfLife           = 30 * time.Minute
	DefaultEmbeddingCacheSize = 512
)

// Blend weights. Similarity replaces part of the heuristic mass when
// an embedding backend is available.
const (
	weightRecency    = 0.40
	weightFrequency  = 0.25
	weightType       = 0.15
	weightTags       = 0.20
	weightSimilarity = 0.35
)

// Config holds scorer tuning parameters.
type Config struct {
	// HalfLife controls recency decay: an entry unaccessed for one
	// half-life contributes half the recency score.
	HalfLife time.Duration

	// TypeWeights maps entry types to a weight in [0, 1]. Types not
	// listed get a neutral 0.5.
	TypeWeights map[string]float64

	// EmbeddingCacheSize bounds the LRU cache of embeddings.
	EmbeddingCacheSize int
}

// DefaultConfig returns the default scorer configuration. The type
// weights favor conversation turns over bulky tool output.
func DefaultConfig() Config {
	return Config{
		HalfLife: DefaultHalfLife,
		TypeWeights: map[string]float64{
			"conversation-turn": 0.9,
			"file-read":         0.6,
			"tool-result":       0.5,
			"error":             0.7,
			"custom":            0.5,
		},
		EmbeddingCacheSize: DefaultEmbeddingCacheSize,
	}
}

// Input is the entry state the scorer reads. A value copy, so scoring
// can run concurrently with other reads of the same entry.
type Input struct {
	Content     string
	Type        string
	Tags        []string
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount int64
}

// QueryContext is the current query state scores are computed against.
type QueryContext struct {
	Query string
	Tags  []string
}

// Scorer computes relevance scores.
type Scorer struct {
	backend Backend
	cfg     Config
	cache   *lru.Cache[[32]byte, []float64]
	logger  *zap.Logger
	now     func() time.Time
	observe func(time.Duration)
}

// New creates a Scorer. backend may be nil, in which case only the
// heuristic is used. If logger is nil, a no-op logger is used.
func New(backend Backend, cfg Config, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultHalfLife
	}
	if cfg.EmbeddingCacheSize <= 0 {
		cfg.EmbeddingCacheSize = DefaultEmbeddingCacheSize
	}

	// Size is validated above, so this cannot fail.
	cache, _ := lru.New[[32]byte, []float64](cfg.EmbeddingCacheSize)

	return &Scorer{
		backend: backend,
		cfg:     cfg,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Scorer) SetClock(now func() time.Time) {
	s.now = now
}

// SetSimilarityObserver registers a callback receiving the elapsed time
// of each embedding similarity computation, cache hits included.
func (s *Scorer) SetSimilarityObserver(fn func(time.Duration)) {
	s.observe = fn
}

// Score computes the relevance of an entry in [0, 1].
func (s *Scorer) Score(ctx context.Context, in Input, q QueryContext) float64 {
	recency := s.recencyScore(in)
	frequency := frequencyScore(in.AccessCount)
	typeWeight := s.typeWeight(in.Type)
	tagOverlap := overlapScore(in.Tags, q.Tags)

	heuristic := weightRecency*recency +
		weightFrequency*frequency +
		weightType*typeWeight +
		weightTags*tagOverlap

	similarity, ok := s.similarity(ctx, in.Content, q.Query)
	if !ok {
		return clamp01(heuristic)
	}

	return clamp01((1-weightSimilarity)*heuristic + weightSimilarity*similarity)
}

// recencyScore decays exponentially with time since last access.
func (s *Scorer) recencyScore(in Input) float64 {
	last := in.LastAccess
	if last.IsZero() {
		last = in.CreatedAt
	}
	age := s.now().Sub(last)
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(s.cfg.HalfLife))
}

// frequencyScore saturates logarithmically; the difference between 0
// and 10 accesses matters far more than between 100 and 110.
func frequencyScore(count int64) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(1, math.Log1p(float64(count))/math.Log1p(64))
}

func (s *Scorer) typeWeight(typ string) float64 {
	if w, ok := s.cfg.TypeWeights[typ]; ok {
		return w
	}
	return 0.5
}

// overlapScore is the Jaccard overlap between entry tags and query tags.
func overlapScore(entryTags, queryTags []string) float64 {
	if len(entryTags) == 0 || len(queryTags) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(entryTags))
	for _, t := range entryTags {
		set[t] = struct{}{}
	}
	shared := 0
	for _, t := range queryTags {
		if _, ok := set[t]; ok {
			shared++
		}
	}
	union := len(entryTags) + len(queryTags) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// similarity returns cosine similarity between content and query
// embeddings, mapped to [0, 1]. Returns ok=false when the backend is
// absent, the query is empty, or the backend fails.
func (s *Scorer) similarity(ctx context.Context, content, query string) (float64, bool) {
	if s.backend == nil || query == "" || content == "" {
		return 0, false
	}
	if s.observe != nil {
		start := s.now()
		defer func() { s.observe(s.now().Sub(start)) }()
	}

	contentVec, err := s.embed(ctx, content)
	if err != nil {
		s.logger.Debug("embedding backend unavailable, using heuristic",
			zap.Error(err),
		)
		return 0, false
	}
	queryVec, err := s.embed(ctx, query)
	if err != nil {
		s.logger.Debug("embedding backend unavailable, using heuristic",
			zap.Error(err),
		)
		return 0, false
	}

	cos := cosine(contentVec, queryVec)
	return (cos + 1) / 2, true
}

// embed returns the embedding for text, serving repeats from the LRU
// cache. Cache eviction here never touches cache-entry lifecycle.
func (s *Scorer) embed(ctx context.Context, text string) ([]float64, error) {
	key := sha256.Sum256([]byte(text))
	if vec, ok := s.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := s.backend.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, vec)
	return vec, nil
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
