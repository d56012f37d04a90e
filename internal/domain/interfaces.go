package domain

import "context"

// Embedder converts a short text into a fixed-length vector.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Oracle asks a language model what two elements make together.
// Transport and protocol failures are errors; a declined combination is a
// Synthesis with an empty name.
type Oracle interface {
	Name() string
	Synthesize(ctx context.Context, first, second string) (Synthesis, error)
}

// IconGenerator produces a provider-hosted, short-lived image URL for a concept.
type IconGenerator interface {
	GenerateIcon(ctx context.Context, concept string) (string, error)
}

// AssetRelocator copies a transient asset into durable storage and returns its
// public URL.
type AssetRelocator interface {
	Relocate(ctx context.Context, sourceURL, filename string) (string, error)
}

// VectorIndex answers nearest-neighbour queries over element embeddings.
type VectorIndex interface {
	Nearest(ctx context.Context, vector []float32, minSimilarity float64, limit int) ([]Match, error)
	Index(ctx context.Context, element Element) error
}

// Catalog is the global registry of elements and recipes.
type Catalog interface {
	ElementByID(ctx context.Context, id int64) (Element, error)
	ElementByName(ctx context.Context, name string) (Element, error)
	// EnsureElement inserts the element unless one with the same name key
	// exists, returning the stored row and whether it was inserted.
	EnsureElement(ctx context.Context, element NewElement) (Element, bool, error)
	// EachElement streams every element, including embeddings, in id order.
	EachElement(ctx context.Context, fn func(Element) error) error

	Recipe(ctx context.Context, pair Pair) (Recipe, error)
	// PutRecipe returns ErrConflict when the pair already has a recipe.
	PutRecipe(ctx context.Context, recipe Recipe) error
	// CreateDiscovery inserts a new element and the recipe producing it in one
	// transaction. It returns ErrConflict wrapped with the violated record:
	// ErrElementExists or ErrRecipeExists.
	CreateDiscovery(ctx context.Context, element NewElement, pair Pair) (Element, error)
}

// Inventory tracks which elements each user owns.
type Inventory interface {
	Owns(ctx context.Context, userID string, elementIDs ...int64) (bool, error)
	// Grant adds the element to the user's inventory and reports whether it
	// was newly added.
	Grant(ctx context.Context, userID string, elementID int64) (bool, error)
	List(ctx context.Context, userID string) ([]Element, error)
}

// Rankings exposes the leaderboard and the profiles it reads names from.
type Rankings interface {
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	SetUsername(ctx context.Context, userID, username string) error
}

// Store is everything a storage backend provides.
type Store interface {
	Catalog
	Inventory
	Rankings
	VectorIndex
	Close() error
}
