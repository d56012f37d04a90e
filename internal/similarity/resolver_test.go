package similarity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"neuralcraft/internal/domain"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s stubEmbedder) Name() string { return "stub" }
func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vec, s.err
}

type stubIndex struct {
	matches  []domain.Match
	err      error
	minSeen  float64
	limitSee int
}

func (s *stubIndex) Nearest(_ context.Context, _ []float32, minSimilarity float64, limit int) ([]domain.Match, error) {
	s.minSeen, s.limitSee = minSimilarity, limit
	return s.matches, s.err
}

func (s *stubIndex) Index(context.Context, domain.Element) error { return nil }

func TestResolve(t *testing.T) {
	vec := []float32{1, 0}
	tests := []struct {
		name   string
		emb    stubEmbedder
		index  *stubIndex
		status Status
		match  domain.Match
		vector []float32
	}{
		{
			name:   "embedding error",
			emb:    stubEmbedder{err: errors.New("boom")},
			index:  &stubIndex{},
			status: Failed,
		},
		{
			name:   "empty vector",
			emb:    stubEmbedder{},
			index:  &stubIndex{},
			status: Failed,
		},
		{
			name:   "no neighbour",
			emb:    stubEmbedder{vec: vec},
			index:  &stubIndex{},
			status: Novel,
			vector: vec,
		},
		{
			name:   "index failure degrades to novel",
			emb:    stubEmbedder{vec: vec},
			index:  &stubIndex{err: errors.New("db down")},
			status: Novel,
			vector: vec,
		},
		{
			name:   "neighbour below threshold",
			emb:    stubEmbedder{vec: vec},
			index:  &stubIndex{matches: []domain.Match{{ElementID: 3, Name: "Air", Similarity: 0.79}}},
			status: Novel,
			vector: vec,
		},
		{
			name:   "neighbour at threshold",
			emb:    stubEmbedder{vec: vec},
			index:  &stubIndex{matches: []domain.Match{{ElementID: 9, Name: "Steam", Similarity: 0.80}}},
			status: Duplicate,
			match:  domain.Match{ElementID: 9, Name: "Steam", Similarity: 0.80},
			vector: vec,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.emb, tt.index, 0, nil)
			got := r.Resolve(context.Background(), "vapor")
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.match, got.Match)
			assert.Equal(t, tt.vector, got.Vector)
		})
	}
}

func TestResolve_QueriesTopOneAtThreshold(t *testing.T) {
	idx := &stubIndex{}
	r := NewResolver(stubEmbedder{vec: []float32{1}}, idx, 0.9, nil)
	r.Resolve(context.Background(), "vapor")
	assert.Equal(t, 0.9, idx.minSeen)
	assert.Equal(t, 1, idx.limitSee)
	assert.Equal(t, 0.9, r.Threshold())
	assert.Equal(t, DefaultThreshold, NewResolver(nil, nil, 0, nil).Threshold())
}

func TestResolve_LogsDegradation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewResolver(stubEmbedder{vec: []float32{1}}, &stubIndex{err: errors.New("db down")}, 0, zap.New(core))
	r.Resolve(context.Background(), "vapor")
	assert.Equal(t, 1, logs.FilterMessage("similarity search failed, treating as novel").Len())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "novel", Novel.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "unknown", Status(42).String())
}
