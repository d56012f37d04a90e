// Package similarity decides whether a freshly synthesized name is a new
// concept or a near-duplicate of an element that already exists.
package similarity

import (
	"context"

	"go.uber.org/zap"

	"neuralcraft/internal/domain"
	"neuralcraft/internal/logging"
)

// DefaultThreshold is the minimum cosine similarity for a duplicate.
const DefaultThreshold = 0.80

// Status is the resolver's three-way verdict.
type Status int

const (
	// Failed means no embedding could be produced.
	Failed Status = iota
	// Novel means no existing element is close enough.
	Novel
	// Duplicate means Match names an existing element for the same concept.
	Duplicate
)

func (s Status) String() string {
	switch s {
	case Failed:
		return "failed"
	case Novel:
		return "novel"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

// Verdict is the resolver result. Vector is nil only when Status is Failed.
type Verdict struct {
	Status Status
	Match  domain.Match
	Vector []float32
}

// Resolver embeds candidate names and queries a vector index for the
// nearest existing element.
type Resolver struct {
	embedder  domain.Embedder
	index     domain.VectorIndex
	threshold float64
	log       *zap.Logger
}

func NewResolver(embedder domain.Embedder, index domain.VectorIndex, threshold float64, log *zap.Logger) *Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Resolver{
		embedder:  embedder,
		index:     index,
		threshold: threshold,
		log:       logging.OrNop(log),
	}
}

// Threshold returns the configured similarity threshold.
func (r *Resolver) Threshold() float64 { return r.threshold }

// Resolve never returns an error: an embedding failure is a Failed verdict
// and an index failure degrades to Novel.
func (r *Resolver) Resolve(ctx context.Context, candidate string) Verdict {
	vec, err := r.embedder.Embed(ctx, candidate)
	if err != nil || len(vec) == 0 {
		r.log.Warn("embedding failed", zap.String("candidate", candidate), zap.String("embedder", r.embedder.Name()), zap.Error(err))
		return Verdict{Status: Failed}
	}
	matches, err := r.index.Nearest(ctx, vec, r.threshold, 1)
	if err != nil {
		r.log.Warn("similarity search failed, treating as novel", zap.String("candidate", candidate), zap.Error(err))
		return Verdict{Status: Novel, Vector: vec}
	}
	if len(matches) == 0 || matches[0].Similarity < r.threshold {
		return Verdict{Status: Novel, Vector: vec}
	}
	m := matches[0]
	r.log.Debug("duplicate concept",
		zap.String("candidate", candidate),
		zap.Int64("element_id", m.ElementID),
		zap.String("element", m.Name),
		zap.Float64("similarity", m.Similarity),
	)
	return Verdict{Status: Duplicate, Match: m, Vector: vec}
}
