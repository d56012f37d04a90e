package domain

import (
	"fmt"
	"time"
)

// Element is a discovered concept in the shared catalog.
type Element struct {
	ID           int64
	Name         string
	Embedding    []float32
	ImageURL     string
	DiscoveredBy string
	IsBase       bool
	CreatedAt    time.Time
}

// NewElement carries the fields needed to insert an Element.
type NewElement struct {
	Name         string
	Embedding    []float32
	ImageURL     string
	DiscoveredBy string
	IsBase       bool
}

// Pair is an unordered pair of element ids stored smallest-first.
type Pair struct {
	A int64
	B int64
}

// NewPair returns the canonical pair for two element ids.
func NewPair(first, second int64) Pair {
	if first > second {
		first, second = second, first
	}
	return Pair{A: first, B: second}
}

// Key is a stable string form of the pair.
func (p Pair) Key() string { return fmt.Sprintf("%d+%d", p.A, p.B) }

// Recipe memoizes the result of combining a pair. A nil Result means the pair
// was tried and does not combine.
type Recipe struct {
	Pair   Pair
	Result *int64
}

// Combinable reports whether the recipe points at an element.
func (r Recipe) Combinable() bool { return r.Result != nil }

// Match is a nearest-neighbour hit from a vector index.
type Match struct {
	ElementID  int64
	Name       string
	Similarity float64
}

// LeaderboardEntry ranks a user by the number of elements they discovered.
type LeaderboardEntry struct {
	UserID   string
	Username string
	Score    int
}

// Synthesis is the oracle's answer for a pair of names. An empty Name means
// the model declined to combine them.
type Synthesis struct {
	Name string
}

// None reports whether the oracle declined the combination.
func (s Synthesis) None() bool { return s.Name == "" }
