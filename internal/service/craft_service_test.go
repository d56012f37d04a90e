package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"neuralcraft/internal/domain"
	"neuralcraft/internal/similarity"
	"neuralcraft/internal/storage/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var starters = []string{"Fire", "Water", "Air", "Earth"}

// conceptEmbedder gives every concept its own axis. Aliases share the axis of
// the concept they stand for.
type conceptEmbedder struct {
	mu      sync.Mutex
	axes    map[string]int
	aliases map[string]string
	fail    map[string]bool
}

func newConceptEmbedder() *conceptEmbedder {
	return &conceptEmbedder{
		axes:    map[string]int{},
		aliases: map[string]string{"vapor": "steam", "water vapor": "steam"},
		fail:    map[string]bool{},
	}
}

func (e *conceptEmbedder) Name() string { return "concept" }

func (e *conceptEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(text))
	if e.fail[key] {
		return nil, nil
	}
	if alias, ok := e.aliases[key]; ok {
		key = alias
	}
	axis, ok := e.axes[key]
	if !ok {
		axis = len(e.axes)
		e.axes[key] = axis
	}
	vec := make([]float32, 32)
	vec[axis%len(vec)] = 1
	return vec, nil
}

type scriptedOracle struct {
	mu      sync.Mutex
	answers map[string]string
	err     error
	before  func()
	calls   atomic.Int32
	asked   [][2]string
}

func (o *scriptedOracle) Name() string { return "scripted" }

func (o *scriptedOracle) Synthesize(_ context.Context, first, second string) (domain.Synthesis, error) {
	o.calls.Add(1)
	if o.before != nil {
		o.before()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.asked = append(o.asked, [2]string{first, second})
	if o.err != nil {
		return domain.Synthesis{}, o.err
	}
	return domain.Synthesis{Name: o.answers[first+"+"+second]}, nil
}

type fakeImages struct{ err error }

func (f fakeImages) GenerateIcon(_ context.Context, concept string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://provider.test/tmp/" + concept + ".png", nil
}

type fakeAssets struct{ relocated []string }

func (f *fakeAssets) Relocate(_ context.Context, _ string, filename string) (string, error) {
	f.relocated = append(f.relocated, filename)
	return "https://cdn.test/icons/" + filename + ".png", nil
}

type brokenIndex struct{}

func (brokenIndex) Nearest(context.Context, []float32, float64, int) ([]domain.Match, error) {
	return nil, errors.New("index offline")
}

func (brokenIndex) Index(context.Context, domain.Element) error { return nil }

type harness struct {
	store    *sqlite.Store
	embedder *conceptEmbedder
	oracle   *scriptedOracle
	svc      *CraftService
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "craft.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:    store,
		embedder: newConceptEmbedder(),
		oracle:   &scriptedOracle{answers: map[string]string{}},
	}
	h.svc = h.build(t, mutate...)
	_, err = h.svc.SeedStarterSet(ctx)
	require.NoError(t, err)
	return h
}

func (h *harness) build(t *testing.T, mutate ...func(*Deps)) *CraftService {
	log := zaptest.NewLogger(t)
	d := Deps{
		Store:    h.store,
		Oracle:   h.oracle,
		Embedder: h.embedder,
		Resolver: similarity.NewResolver(h.embedder, h.store, similarity.DefaultThreshold, log),
		Starter:  starters,
		Logger:   log,
		Now:      func() time.Time { return time.UnixMilli(1700000000000) },
	}
	for _, fn := range mutate {
		fn(&d)
	}
	return NewCraftService(d)
}

func (h *harness) element(t *testing.T, name string) domain.Element {
	t.Helper()
	el, err := h.store.ElementByName(context.Background(), name)
	require.NoError(t, err)
	return el
}

// player returns a user that owns the starter set.
func (h *harness) player(t *testing.T, id string) string {
	t.Helper()
	_, err := h.svc.Inventory(context.Background(), id)
	require.NoError(t, err)
	return id
}

func (h *harness) combine(t *testing.T, user, a, b string) domain.Outcome {
	t.Helper()
	out, err := h.svc.Combine(context.Background(), user, h.element(t, a).ID, h.element(t, b).ID)
	require.NoError(t, err)
	return out
}

func (h *harness) countElements(t *testing.T) int {
	t.Helper()
	n := 0
	require.NoError(t, h.store.EachElement(context.Background(), func(domain.Element) error {
		n++
		return nil
	}))
	return n
}

func TestCombine_CreatesNewElement(t *testing.T) {
	h := newHarness(t)
	h.oracle.answers["Fire+Water"] = "Steam"
	user := h.player(t, "u1")

	out := h.combine(t, user, "Fire", "Water")
	require.Equal(t, domain.Created, out.Kind)
	require.NotNil(t, out.Element)
	assert.Equal(t, "Steam", out.Element.Name)
	assert.Equal(t, "u1", out.Element.DiscoveredBy)
	assert.Len(t, out.Element.Embedding, 32)

	rec, err := h.store.Recipe(context.Background(), domain.NewPair(h.element(t, "Fire").ID, h.element(t, "Water").ID))
	require.NoError(t, err)
	require.True(t, rec.Combinable())
	assert.Equal(t, out.Element.ID, *rec.Result)

	owns, err := h.store.Owns(context.Background(), user, out.Element.ID)
	require.NoError(t, err)
	assert.True(t, owns)
}

func TestCombine_ReplayForOtherUserUnlocks(t *testing.T) {
	h := newHarness(t)
	h.oracle.answers["Fire+Water"] = "Steam"
	h.combine(t, h.player(t, "u1"), "Fire", "Water")

	out := h.combine(t, h.player(t, "u2"), "Water", "Fire")
	assert.Equal(t, domain.Unlocked, out.Kind)
	assert.Equal(t, "Steam", out.Element.Name)
	assert.EqualValues(t, 1, h.oracle.calls.Load())
}

func TestCombine_IsIdempotentAndOrderInvariant(t *testing.T) {
	h := newHarness(t)
	h.oracle.answers["Fire+Water"] = "Steam"
	user := h.player(t, "u1")

	first := h.combine(t, user, "Water", "Fire")
	require.Equal(t, domain.Created, first.Kind)
	again := h.combine(t, user, "Fire", "Water")
	assert.Equal(t, domain.AlreadyOwned, again.Kind)
	assert.Equal(t, first.Element.ID, again.Element.ID)
	assert.EqualValues(t, 1, h.oracle.calls.Load())
	assert.Equal(t, [][2]string{{"Fire", "Water"}}, h.oracle.asked, "names reach the oracle in canonical order")
	assert.Equal(t, len(starters)+1, h.countElements(t))
}

func TestCombine_DuplicateConceptLinksExistingElement(t *testing.T) {
	h := newHarness(t)
	h.oracle.answers["Fire+Water"] = "Steam"
	h.oracle.answers["Water+Air"] = "Vapor"
	user := h.player(t, "u1")
	steam := h.combine(t, user, "Fire", "Water").Element

	out := h.combine(t, user, "Water", "Air")
	assert.Equal(t, domain.RecipeDiscovered, out.Kind)
	assert.Equal(t, steam.ID, out.Element.ID)
	assert.Equal(t, len(starters)+1, h.countElements(t))

	other := h.combine(t, h.player(t, "u2"), "Air", "Water")
	assert.Equal(t, domain.Unlocked, other.Kind)
	assert.Equal(t, steam.ID, other.Element.ID)
	assert.EqualValues(t, 2, h.oracle.calls.Load())
}

func TestCombine_ExactNameConvergesWithoutIndex(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Resolver = similarity.NewResolver(d.Embedder, brokenIndex{}, similarity.DefaultThreshold, d.Logger)
	})
	h.oracle.answers["Fire+Water"] = "steam"
	h.oracle.answers["Water+Air"] = "  STEAM "
	user := h.player(t, "u1")

	created := h.combine(t, user, "Fire", "Water")
	require.Equal(t, domain.Created, created.Kind)
	assert.Equal(t, "Steam", created.Element.Name)

	linked := h.combine(t, user, "Water", "Air")
	assert.Equal(t, domain.RecipeDiscovered, linked.Kind)
	assert.Equal(t, created.Element.ID, linked.Element.ID)
}

func TestCombine_NoCombinationIsPermanent(t *testing.T) {
	h := newHarness(t)
	user := h.player(t, "u1")

	out := h.combine(t, user, "Earth", "Air")
	assert.Equal(t, domain.NoCombination, out.Kind)
	assert.Nil(t, out.Element)

	h.oracle.answers["Air+Earth"] = "Dust"
	out = h.combine(t, h.player(t, "u2"), "Air", "Earth")
	assert.Equal(t, domain.NoCombination, out.Kind)
	assert.EqualValues(t, 1, h.oracle.calls.Load())
	assert.Equal(t, len(starters), h.countElements(t))
}

func TestCombine_OracleFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.oracle.err = errors.New("connection refused")
	user := h.player(t, "u1")
	fire, water := h.element(t, "Fire"), h.element(t, "Water")

	_, err := h.svc.Combine(context.Background(), user, fire.ID, water.ID)
	require.ErrorIs(t, err, domain.ErrOracleUnavailable)
	assert.Equal(t, "AI Service Unavailable", domain.PublicMessage(err))
	_, err = h.store.Recipe(context.Background(), domain.NewPair(fire.ID, water.ID))
	require.ErrorIs(t, err, domain.ErrNotFound)

	h.oracle.err = nil
	h.oracle.answers["Fire+Water"] = "Steam"
	assert.Equal(t, domain.Created, h.combine(t, user, "Fire", "Water").Kind)
}

func TestCombine_EmbeddingFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.oracle.answers["Fire+Water"] = "Steam"
	h.embedder.fail["steam"] = true
	user := h.player(t, "u1")
	fire, water := h.element(t, "Fire"), h.element(t, "Water")
	before, err := h.store.List(context.Background(), user)
	require.NoError(t, err)

	_, err = h.svc.Combine(context.Background(), user, fire.ID, water.ID)
	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Equal(t, "Vector generation failed", domain.PublicMessage(err))

	_, err = h.store.Recipe(context.Background(), domain.NewPair(fire.ID, water.ID))
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.store.ElementByName(context.Background(), "Steam")
	require.ErrorIs(t, err, domain.ErrNotFound)
	after, err := h.store.List(context.Background(), user)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestCombine_RejectsBadInput(t *testing.T) {
	h := newHarness(t)
	user := h.player(t, "u1")
	fire := h.element(t, "Fire")
	ctx := context.Background()

	_, err := h.svc.Combine(ctx, user, fire.ID, 0)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.svc.Combine(ctx, "stranger", fire.ID, fire.ID)
	require.ErrorIs(t, err, domain.ErrNotOwned)
	assert.Equal(t, "One or both elements not in inventory", domain.PublicMessage(err))

	_, err = h.svc.Combine(ctx, user, fire.ID, 9999)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.EqualValues(t, 0, h.oracle.calls.Load())
}

func TestCombine_KnownRecipeStillRequiresOwnership(t *testing.T) {
	h := newHarness(t)
	h.oracle.answers["Fire+Water"] = "Steam"
	steam := h.combine(t, h.player(t, "u1"), "Fire", "Water").Element
	fire, water := h.element(t, "Fire"), h.element(t, "Water")

	ctx := context.Background()
	_, err := h.store.Grant(ctx, "u2", fire.ID)
	require.NoError(t, err)

	_, err = h.svc.Combine(ctx, "u2", fire.ID, water.ID)
	require.ErrorIs(t, err, domain.ErrNotOwned)
	assert.EqualValues(t, 1, h.oracle.calls.Load())

	owns, err := h.store.Owns(ctx, "u2", steam.ID)
	require.NoError(t, err)
	assert.False(t, owns)
}

func TestCombine_CancelledCallerLeavesResolutionRunning(t *testing.T) {
	// the detached flight may still log after the test returns
	h := newHarness(t, func(d *Deps) { d.Logger = zap.NewNop() })
	h.oracle.answers["Fire+Water"] = "Steam"
	entered := make(chan struct{})
	release := make(chan struct{})
	h.oracle.before = func() {
		close(entered)
		<-release
	}
	user := h.player(t, "u1")
	fire, water := h.element(t, "Fire"), h.element(t, "Water")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := h.svc.Combine(ctx, user, fire.ID, water.ID)
		errc <- err
	}()
	<-entered
	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("combine did not return after cancellation")
	}

	close(release)
	require.Eventually(t, func() bool {
		rec, err := h.store.Recipe(context.Background(), domain.NewPair(fire.ID, water.ID))
		return err == nil && rec.Combinable()
	}, 5*time.Second, 10*time.Millisecond)

	out := h.combine(t, user, "Fire", "Water")
	assert.Equal(t, domain.Unlocked, out.Kind)
	assert.Equal(t, "Steam", out.Element.Name)
	assert.EqualValues(t, 1, h.oracle.calls.Load())
}

func TestCombine_SelfPairIsAllowed(t *testing.T) {
	h := newHarness(t)
	h.oracle.answers["Fire+Fire"] = "Inferno"
	out := h.combine(t, h.player(t, "u1"), "Fire", "Fire")
	assert.Equal(t, domain.Created, out.Kind)
	assert.Equal(t, "Inferno", out.Element.Name)
}

func TestCombine_IconIsRelocated(t *testing.T) {
	assets := &fakeAssets{}
	h := newHarness(t, func(d *Deps) {
		d.Images = fakeImages{}
		d.Assets = assets
	})
	h.oracle.answers["Fire+Water"] = "Hot Spring"
	out := h.combine(t, h.player(t, "u1"), "Fire", "Water")
	require.Equal(t, domain.Created, out.Kind)
	assert.Equal(t, []string{domain.IconFilename("Hot Spring", 1700000000000)}, assets.relocated)
	assert.Equal(t, "https://cdn.test/icons/"+assets.relocated[0]+".png", out.Element.ImageURL)
}

func TestCombine_IconFailureStillCreates(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Images = fakeImages{err: errors.New("quota exceeded")}
	})
	h.oracle.answers["Fire+Water"] = "Steam"
	out := h.combine(t, h.player(t, "u1"), "Fire", "Water")
	require.Equal(t, domain.Created, out.Kind)
	assert.Empty(t, out.Element.ImageURL)
}

func TestCombine_ConcurrentRequestsCreateOnce(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.oracle.before = func() { <-release }
	h.oracle.answers["Fire+Water"] = "Steam"
	fire, water := h.element(t, "Fire"), h.element(t, "Water")

	const players = 6
	users := make([]string, players)
	for i := range users {
		users[i] = h.player(t, "racer-"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	outcomes := make([]domain.Outcome, players)
	errs := make([]error, players)
	for i, user := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], errs[i] = h.svc.Combine(context.Background(), user, fire.ID, water.ID)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	created := 0
	for i := range users {
		require.NoError(t, errs[i])
		require.NotNil(t, outcomes[i].Element)
		assert.Equal(t, "Steam", outcomes[i].Element.Name)
		if outcomes[i].Kind == domain.Created {
			created++
		} else {
			assert.Equal(t, domain.Unlocked, outcomes[i].Kind)
		}
	}
	assert.Equal(t, 1, created)
	assert.EqualValues(t, 1, h.oracle.calls.Load())
	assert.Equal(t, len(starters)+1, h.countElements(t))
}

func TestCombine_FollowsRecipeWrittenByAnotherProcess(t *testing.T) {
	h := newHarness(t)
	h.oracle.answers["Fire+Water"] = "Steam"
	other := h.build(t, func(d *Deps) {
		d.Oracle = &scriptedOracle{answers: map[string]string{"Fire+Water": "Steam"}}
	})
	slow, fast := h.player(t, "slow"), h.player(t, "fast")
	fire, water := h.element(t, "Fire"), h.element(t, "Water")

	// The other process finishes the pair while this one waits on the oracle.
	h.oracle.before = func() {
		out, err := other.Combine(context.Background(), fast, fire.ID, water.ID)
		require.NoError(t, err)
		require.Equal(t, domain.Created, out.Kind)
	}

	out, err := h.svc.Combine(context.Background(), slow, fire.ID, water.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Unlocked, out.Kind)
	assert.Equal(t, "fast", out.Element.DiscoveredBy)
	assert.Equal(t, len(starters)+1, h.countElements(t))
}
