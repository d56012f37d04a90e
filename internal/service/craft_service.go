// Package service implements the combination pipeline: recipe memoization,
// model synthesis, duplicate detection and the ordered catalog, recipe and
// inventory writes that follow.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"neuralcraft/internal/domain"
	"neuralcraft/internal/logging"
	"neuralcraft/internal/similarity"
)

var tracer = otel.Tracer("neuralcraft/internal/service")

// Resolver classifies a candidate name as failed, novel or duplicate.
type Resolver interface {
	Resolve(ctx context.Context, candidate string) similarity.Verdict
}

// Deps are the collaborators of CraftService. Images, Assets and Index are
// optional.
type Deps struct {
	Store    domain.Store
	Oracle   domain.Oracle
	Embedder domain.Embedder
	Resolver Resolver
	// Index is a secondary vector index kept in sync with the catalog.
	Index  domain.VectorIndex
	Images domain.IconGenerator
	Assets domain.AssetRelocator
	// Starter names the base elements granted to empty inventories.
	Starter []string
	Logger  *zap.Logger
	Now     func() time.Time
}

// CraftService coordinates the catalog and inventory stores.
type CraftService struct {
	store    domain.Store
	oracle   domain.Oracle
	embedder domain.Embedder
	resolver Resolver
	index    domain.VectorIndex
	images   domain.IconGenerator
	assets   domain.AssetRelocator
	starter  []string
	log      *zap.Logger
	now      func() time.Time
	flight   singleflight.Group
}

func NewCraftService(d Deps) *CraftService {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &CraftService{
		store:    d.Store,
		oracle:   d.Oracle,
		embedder: d.Embedder,
		resolver: d.Resolver,
		index:    d.Index,
		images:   d.Images,
		assets:   d.Assets,
		starter:  d.Starter,
		log:      logging.OrNop(d.Logger),
		now:      now,
	}
}

type source int

const (
	sourceReplayed source = iota
	sourceMatched
	sourceCreated
)

// resolution is the catalog-level answer for a pair, shared by every caller
// that waited on the same in-flight resolution.
type resolution struct {
	source     source
	element    *domain.Element
	discoverer string
}

// Combine runs the pipeline for one request. Errors wrap ErrInvalidInput,
// ErrUnavailable or ErrStorage.
func (s *CraftService) Combine(ctx context.Context, userID string, first, second int64) (domain.Outcome, error) {
	ctx, span := tracer.Start(ctx, "craft.Combine", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int64("element.first", first),
		attribute.Int64("element.second", second),
	))
	defer span.End()

	out, err := s.combine(ctx, userID, first, second)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Outcome{}, err
	}
	span.SetAttributes(attribute.String("craft.outcome", out.Kind.String()))
	return out, nil
}

func (s *CraftService) combine(ctx context.Context, userID string, first, second int64) (domain.Outcome, error) {
	if userID == "" || first <= 0 || second <= 0 {
		return domain.Outcome{}, domain.InvalidInput("Invalid request body")
	}
	owns, err := s.store.Owns(ctx, userID, first, second)
	if err != nil {
		return domain.Outcome{}, domain.StorageFailure("check ownership", err)
	}
	if !owns {
		return domain.Outcome{}, domain.ErrNotOwned
	}
	a, err := s.lookupInput(ctx, first, 1)
	if err != nil {
		return domain.Outcome{}, err
	}
	b, err := s.lookupInput(ctx, second, 2)
	if err != nil {
		return domain.Outcome{}, err
	}

	pair := domain.NewPair(first, second)
	if a.ID != pair.A {
		a, b = b, a
	}

	res, found, err := s.replayRecipe(ctx, pair)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !found {
		// The flight is detached from ctx. A cancelled caller stops waiting
		// while the resolution runs to completion.
		ch := s.flight.DoChan(pair.Key(), func() (any, error) {
			return s.resolvePair(context.WithoutCancel(ctx), pair, a.Name, b.Name, userID)
		})
		select {
		case <-ctx.Done():
			return domain.Outcome{}, ctx.Err()
		case r := <-ch:
			if r.Err != nil {
				return domain.Outcome{}, r.Err
			}
			res = r.Val.(resolution)
			if r.Shared {
				s.log.Debug("pair resolution shared between requests", zap.String("pair", pair.Key()), zap.String("user", userID))
			}
		}
	}
	return s.settle(ctx, userID, pair, res)
}

func (s *CraftService) lookupInput(ctx context.Context, id int64, position int) (domain.Element, error) {
	el, err := s.store.ElementByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Element{}, domain.InvalidInput("Element %d not found", position)
	}
	if err != nil {
		return domain.Element{}, domain.StorageFailure("load element", err)
	}
	return el, nil
}

// replayRecipe reads the memoized recipe for pair. found is false when the
// pair has never been resolved.
func (s *CraftService) replayRecipe(ctx context.Context, pair domain.Pair) (resolution, bool, error) {
	rec, err := s.store.Recipe(ctx, pair)
	if errors.Is(err, domain.ErrNotFound) {
		return resolution{}, false, nil
	}
	if err != nil {
		return resolution{}, false, domain.StorageFailure("load recipe", err)
	}
	if !rec.Combinable() {
		return resolution{source: sourceReplayed}, true, nil
	}
	el, err := s.store.ElementByID(ctx, *rec.Result)
	if err != nil {
		return resolution{}, false, domain.StorageFailure("load recipe result", err)
	}
	return resolution{source: sourceReplayed, element: &el}, true, nil
}

// afterConflict follows a recipe written by a concurrent writer.
func (s *CraftService) afterConflict(ctx context.Context, pair domain.Pair) (resolution, error) {
	s.log.Info("recipe written concurrently, replaying", zap.String("pair", pair.Key()))
	res, found, err := s.replayRecipe(ctx, pair)
	if err != nil {
		return resolution{}, err
	}
	if !found {
		return resolution{}, domain.StorageFailure("reload recipe", fmt.Errorf("recipe %s vanished after conflict", pair.Key()))
	}
	return res, nil
}

func (s *CraftService) resolvePair(ctx context.Context, pair domain.Pair, nameA, nameB, userID string) (resolution, error) {
	// A previous flight for this pair may have finished since the caller looked.
	if res, found, err := s.replayRecipe(ctx, pair); err != nil || found {
		return res, err
	}

	synth, err := s.synthesize(ctx, nameA, nameB)
	if err != nil {
		return resolution{}, err
	}
	if synth.None() {
		if err := s.store.PutRecipe(ctx, domain.Recipe{Pair: pair}); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return s.afterConflict(ctx, pair)
			}
			return resolution{}, domain.StorageFailure("save empty recipe", err)
		}
		s.log.Info("pair does not combine", zap.String("pair", pair.Key()), zap.String("first", nameA), zap.String("second", nameB))
		return resolution{source: sourceReplayed}, nil
	}

	candidate := domain.LowerName(synth.Name)
	verdict := s.resolve(ctx, candidate)
	switch verdict.Status {
	case similarity.Failed:
		return resolution{}, domain.ErrEmbeddingUnavailable
	case similarity.Duplicate:
		el, err := s.store.ElementByID(ctx, verdict.Match.ElementID)
		if err != nil {
			return resolution{}, domain.StorageFailure("load duplicate", err)
		}
		return s.linkExisting(ctx, pair, el)
	}

	// Exact name matches are duplicates even when the index missed them.
	if el, err := s.store.ElementByName(ctx, candidate); err == nil {
		return s.linkExisting(ctx, pair, el)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return resolution{}, domain.StorageFailure("load element by name", err)
	}
	return s.create(ctx, pair, candidate, verdict.Vector, userID)
}

func (s *CraftService) synthesize(ctx context.Context, nameA, nameB string) (domain.Synthesis, error) {
	ctx, span := tracer.Start(ctx, "craft.Synthesize", trace.WithAttributes(attribute.String("oracle", s.oracle.Name())))
	defer span.End()

	start := s.now()
	synth, err := s.oracle.Synthesize(ctx, nameA, nameB)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle failed")
		s.log.Warn("oracle failed", zap.String("first", nameA), zap.String("second", nameB), zap.Error(err))
		if !errors.Is(err, domain.ErrOracleUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
		}
		return domain.Synthesis{}, err
	}
	s.log.Debug("oracle answered",
		zap.String("first", nameA),
		zap.String("second", nameB),
		zap.String("result", synth.Name),
		zap.Duration("took", s.now().Sub(start)),
	)
	return synth, nil
}

func (s *CraftService) resolve(ctx context.Context, candidate string) similarity.Verdict {
	ctx, span := tracer.Start(ctx, "craft.Resolve", trace.WithAttributes(attribute.String("candidate", candidate)))
	defer span.End()
	v := s.resolver.Resolve(ctx, candidate)
	span.SetAttributes(attribute.String("similarity.status", v.Status.String()))
	if v.Status == similarity.Duplicate {
		span.SetAttributes(
			attribute.Int64("similarity.element_id", v.Match.ElementID),
			attribute.Float64("similarity.score", v.Match.Similarity),
		)
	}
	return v
}

// linkExisting memoizes pair -> el.
func (s *CraftService) linkExisting(ctx context.Context, pair domain.Pair, el domain.Element) (resolution, error) {
	id := el.ID
	if err := s.store.PutRecipe(ctx, domain.Recipe{Pair: pair, Result: &id}); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.afterConflict(ctx, pair)
		}
		return resolution{}, domain.StorageFailure("save recipe", err)
	}
	s.log.Info("recipe linked to existing element", zap.String("pair", pair.Key()), zap.Int64("element_id", el.ID), zap.String("element", el.Name))
	return resolution{source: sourceMatched, element: &el}, nil
}

func (s *CraftService) create(ctx context.Context, pair domain.Pair, candidate string, vector []float32, userID string) (resolution, error) {
	ctx, span := tracer.Start(ctx, "craft.Create")
	defer span.End()

	name := domain.DisplayName(candidate)
	el, err := s.store.CreateDiscovery(ctx, domain.NewElement{
		Name:         name,
		Embedding:    vector,
		ImageURL:     s.icon(ctx, name),
		DiscoveredBy: userID,
	}, pair)
	switch {
	case errors.Is(err, domain.ErrElementExists):
		existing, lookupErr := s.store.ElementByName(ctx, name)
		if lookupErr != nil {
			return resolution{}, domain.StorageFailure("load existing element", lookupErr)
		}
		return s.linkExisting(ctx, pair, existing)
	case errors.Is(err, domain.ErrRecipeExists):
		return s.afterConflict(ctx, pair)
	case err != nil:
		span.RecordError(err)
		return resolution{}, domain.StorageFailure("create element", err)
	}
	span.SetAttributes(attribute.Int64("element.id", el.ID))
	s.log.Info("element created", zap.Int64("element_id", el.ID), zap.String("element", el.Name), zap.String("pair", pair.Key()), zap.String("discovered_by", userID))

	if s.index != nil {
		if err := s.index.Index(ctx, el); err != nil {
			s.log.Warn("secondary index update failed", zap.Int64("element_id", el.ID), zap.Error(err))
		}
	}
	return resolution{source: sourceCreated, element: &el, discoverer: userID}, nil
}

// icon renders and relocates an icon. Failures leave the element without one.
func (s *CraftService) icon(ctx context.Context, name string) string {
	if s.images == nil {
		return ""
	}
	ctx, span := tracer.Start(ctx, "craft.Icon")
	defer span.End()

	tmp, err := s.images.GenerateIcon(ctx, name)
	if err != nil {
		span.RecordError(err)
		s.log.Warn("icon generation failed", zap.String("element", name), zap.Error(err))
		return ""
	}
	if s.assets == nil {
		return tmp
	}
	url, err := s.assets.Relocate(ctx, tmp, domain.IconFilename(name, s.now().UnixMilli()))
	if err != nil {
		span.RecordError(err)
		s.log.Warn("icon relocation failed", zap.String("element", name), zap.Error(err))
		return ""
	}
	return url
}

// settle grants the resolved element to the caller and picks the outcome.
func (s *CraftService) settle(ctx context.Context, userID string, pair domain.Pair, res resolution) (domain.Outcome, error) {
	if res.element == nil {
		return domain.Outcome{Kind: domain.NoCombination}, nil
	}
	granted, err := s.store.Grant(ctx, userID, res.element.ID)
	if err != nil {
		s.log.Error("inventory grant failed", zap.String("user", userID), zap.Int64("element_id", res.element.ID), zap.String("pair", pair.Key()), zap.Error(err))
		return domain.Outcome{}, domain.StorageFailure("grant element", err)
	}
	kind := domain.AlreadyOwned
	switch {
	case granted && res.source == sourceCreated && res.discoverer == userID:
		kind = domain.Created
	case granted:
		kind = domain.Unlocked
	case res.source == sourceMatched:
		kind = domain.RecipeDiscovered
	}
	return domain.Outcome{Kind: kind, Element: res.element}, nil
}
