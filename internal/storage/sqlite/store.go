// Package sqlite provides the SQLite-backed catalog, inventory and
// leaderboard store. Nearest-neighbour queries run in SQL through the
// vector_distance_cos function registered by this package.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"neuralcraft/internal/domain"
	"neuralcraft/internal/storage/migrate"
	"neuralcraft/internal/storage/sqlite/migrations"
	"neuralcraft/internal/vectorstore"
)

// Store persists the catalog and inventories in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate.ApplySQLite(ctx, sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const elementColumns = `id, name, embedding, image_url, discovered_by, is_base, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanElement(row rowScanner) (domain.Element, error) {
	var (
		el        domain.Element
		blob      []byte
		isBase    int
		createdAt int64
	)
	if err := row.Scan(&el.ID, &el.Name, &blob, &el.ImageURL, &el.DiscoveredBy, &isBase, &createdAt); err != nil {
		return domain.Element{}, err
	}
	vec, err := vectorstore.DecodeFloat32(blob)
	if err != nil {
		return domain.Element{}, fmt.Errorf("element %d: %w", el.ID, err)
	}
	el.Embedding = vec
	el.IsBase = isBase != 0
	el.CreatedAt = fromMillis(createdAt)
	return el, nil
}

// ElementByID returns the element or domain.ErrNotFound.
func (s *Store) ElementByID(ctx context.Context, id int64) (domain.Element, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM elements WHERE id = ?`, id)
	el, err := scanElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Element{}, fmt.Errorf("element %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Element{}, fmt.Errorf("get element %d: %w", id, err)
	}
	return el, nil
}

// ElementByName looks the element up by its normalized name key.
func (s *Store) ElementByName(ctx context.Context, name string) (domain.Element, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM elements WHERE name_key = ?`, domain.NameKey(name))
	el, err := scanElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Element{}, fmt.Errorf("element %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Element{}, fmt.Errorf("get element %q: %w", name, err)
	}
	return el, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertElement(ctx context.Context, db execer, el domain.NewElement) (domain.Element, error) {
	name := domain.CleanName(el.Name)
	if name == "" {
		return domain.Element{}, fmt.Errorf("element name is required")
	}
	if len(el.Embedding) == 0 {
		return domain.Element{}, fmt.Errorf("element embedding is required")
	}
	createdAt := s.now().UTC()
	isBase := 0
	if el.IsBase {
		isBase = 1
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO elements (name, name_key, embedding, image_url, discovered_by, is_base, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		name, domain.NameKey(name), vectorstore.EncodeFloat32(el.Embedding),
		el.ImageURL, el.DiscoveredBy, isBase, toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Element{}, fmt.Errorf("insert element %q: %w", name, domain.ErrElementExists)
		}
		return domain.Element{}, fmt.Errorf("insert element %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Element{}, fmt.Errorf("insert element %q: %w", name, err)
	}
	return domain.Element{
		ID:           id,
		Name:         name,
		Embedding:    el.Embedding,
		ImageURL:     el.ImageURL,
		DiscoveredBy: el.DiscoveredBy,
		IsBase:       el.IsBase,
		CreatedAt:    fromMillis(toMillis(createdAt)),
	}, nil
}

// EnsureElement inserts the element unless its name key is taken.
func (s *Store) EnsureElement(ctx context.Context, el domain.NewElement) (domain.Element, bool, error) {
	created, err := s.insertElement(ctx, s.sqlDB, el)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, domain.ErrElementExists) {
		return domain.Element{}, false, err
	}
	existing, err := s.ElementByName(ctx, el.Name)
	if err != nil {
		return domain.Element{}, false, err
	}
	return existing, false, nil
}

// EachElement streams every element in id order.
func (s *Store) EachElement(ctx context.Context, fn func(domain.Element) error) error {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+elementColumns+` FROM elements ORDER BY id`)
	if err != nil {
		return fmt.Errorf("list elements: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return fmt.Errorf("scan element: %w", err)
		}
		if err := fn(el); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Recipe returns the memoized recipe for the pair or domain.ErrNotFound.
func (s *Store) Recipe(ctx context.Context, pair domain.Pair) (domain.Recipe, error) {
	var result sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id_result FROM recipes WHERE id_a = ? AND id_b = ?`, pair.A, pair.B,
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recipe{}, fmt.Errorf("recipe %s: %w", pair.Key(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("get recipe %s: %w", pair.Key(), err)
	}
	r := domain.Recipe{Pair: pair}
	if result.Valid {
		id := result.Int64
		r.Result = &id
	}
	return r, nil
}

func (s *Store) insertRecipe(ctx context.Context, db execer, r domain.Recipe) error {
	pair := domain.NewPair(r.Pair.A, r.Pair.B)
	var result sql.NullInt64
	if r.Result != nil {
		result = sql.NullInt64{Int64: *r.Result, Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO recipes (id_a, id_b, id_result, created_at) VALUES (?, ?, ?, ?)`,
		pair.A, pair.B, result, toMillis(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert recipe %s: %w", pair.Key(), domain.ErrRecipeExists)
		}
		return fmt.Errorf("insert recipe %s: %w", pair.Key(), err)
	}
	return nil
}

// PutRecipe records a recipe. An existing recipe for the pair is never
// overwritten; domain.ErrRecipeExists is returned instead.
func (s *Store) PutRecipe(ctx context.Context, r domain.Recipe) error {
	return s.insertRecipe(ctx, s.sqlDB, r)
}

// CreateDiscovery inserts a new element and the recipe that produced it atomically.
func (s *Store) CreateDiscovery(ctx context.Context, el domain.NewElement, pair domain.Pair) (domain.Element, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Element{}, fmt.Errorf("begin discovery: %w", err)
	}
	created, err := s.insertElement(ctx, tx, el)
	if err != nil {
		_ = tx.Rollback()
		return domain.Element{}, err
	}
	id := created.ID
	if err := s.insertRecipe(ctx, tx, domain.Recipe{Pair: pair, Result: &id}); err != nil {
		_ = tx.Rollback()
		return domain.Element{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Element{}, fmt.Errorf("commit discovery: %w", err)
	}
	return created, nil
}

// Owns reports whether the user owns every listed element.
func (s *Store) Owns(ctx context.Context, userID string, elementIDs ...int64) (bool, error) {
	distinct := uniqueIDs(elementIDs)
	if len(distinct) == 0 {
		return false, nil
	}
	args := make([]any, 0, len(distinct)+1)
	args = append(args, userID)
	for _, id := range distinct {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(distinct)), ",")
	var n int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inventory WHERE user_id = ? AND element_id IN (`+placeholders+`)`,
		args...,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check ownership: %w", err)
	}
	return n == len(distinct), nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Grant adds the element to the user's inventory if absent.
func (s *Store) Grant(ctx context.Context, userID string, elementID int64) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO inventory (user_id, element_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, element_id) DO NOTHING`,
		userID, elementID, toMillis(s.now()),
	)
	if err != nil {
		return false, fmt.Errorf("grant element %d: %w", elementID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grant element %d: %w", elementID, err)
	}
	return n == 1, nil
}

// List returns the user's elements in the order they were acquired.
func (s *Store) List(ctx context.Context, userID string) ([]domain.Element, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT e.id, e.name, e.embedding, e.image_url, e.discovered_by, e.is_base, e.created_at
		 FROM inventory i JOIN elements e ON e.id = i.element_id
		 WHERE i.user_id = ?
		 ORDER BY i.created_at, e.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()
	var out []domain.Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out = append(out, el)
	}
	return out, rows.Err()
}

// Leaderboard ranks discoverers by the number of elements they created.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id, username, score FROM leaderboard ORDER BY score DESC, username ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()
	var out []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Score); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetUsername creates or updates the user's profile.
func (s *Store) SetUsername(ctx context.Context, userID, username string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO profiles (user_id, username, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET username = excluded.username, updated_at = excluded.updated_at`,
		userID, username, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("set username: %w", err)
	}
	return nil
}

// Nearest returns elements whose embedding has cosine similarity of at least
// minSimilarity with vector, most similar first.
func (s *Store) Nearest(ctx context.Context, vector []float32, minSimilarity float64, limit int) ([]domain.Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if limit <= 0 {
		limit = 1
	}
	blob := vectorstore.EncodeFloat32(vector)
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, similarity FROM (
		   SELECT id, name, 1 - vector_distance_cos(embedding, ?) AS similarity
		   FROM elements
		   WHERE length(embedding) = ?
		 )
		 WHERE similarity >= ?
		 ORDER BY similarity DESC, id ASC
		 LIMIT ?`,
		blob, len(blob), minSimilarity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("nearest elements: %w", err)
	}
	defer rows.Close()
	var out []domain.Match
	for rows.Next() {
		var m domain.Match
		if err := rows.Scan(&m.ElementID, &m.Name, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Index is a no-op: the catalog table is the index.
func (s *Store) Index(context.Context, domain.Element) error { return nil }

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ domain.Store = (*Store)(nil)
