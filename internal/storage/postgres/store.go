// Package postgres provides the Postgres catalog and inventory store.
// Embeddings live in a pgvector column and nearest-neighbour queries use the
// cosine distance operator.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"neuralcraft/internal/domain"
	"neuralcraft/internal/storage/migrate"
	"neuralcraft/internal/storage/postgres/migrations"
)

const uniqueViolation = "23505"

// Store persists the catalog and inventories in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and applies embedded migrations.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate.ApplyPostgres(ctx, pool, migrations.FS, "."); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// formatVector renders a pgvector text literal.
func formatVector(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector is the inverse of formatVector.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector value %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

const elementColumns = `id, name, embedding::text, image_url, discovered_by, is_base, created_at`

func scanElement(row pgx.Row) (domain.Element, error) {
	var (
		el  domain.Element
		vec string
	)
	if err := row.Scan(&el.ID, &el.Name, &vec, &el.ImageURL, &el.DiscoveredBy, &el.IsBase, &el.CreatedAt); err != nil {
		return domain.Element{}, err
	}
	parsed, err := parseVector(vec)
	if err != nil {
		return domain.Element{}, fmt.Errorf("element %d: %w", el.ID, err)
	}
	el.Embedding = parsed
	el.CreatedAt = el.CreatedAt.UTC()
	return el, nil
}

func (s *Store) ElementByID(ctx context.Context, id int64) (domain.Element, error) {
	el, err := scanElement(s.pool.QueryRow(ctx, `SELECT `+elementColumns+` FROM elements WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Element{}, fmt.Errorf("element %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Element{}, fmt.Errorf("get element %d: %w", id, err)
	}
	return el, nil
}

func (s *Store) ElementByName(ctx context.Context, name string) (domain.Element, error) {
	el, err := scanElement(s.pool.QueryRow(ctx, `SELECT `+elementColumns+` FROM elements WHERE name_key = $1`, domain.NameKey(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Element{}, fmt.Errorf("element %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Element{}, fmt.Errorf("get element %q: %w", name, err)
	}
	return el, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertElement(ctx context.Context, q querier, el domain.NewElement) (domain.Element, error) {
	name := domain.CleanName(el.Name)
	if name == "" {
		return domain.Element{}, fmt.Errorf("element name is required")
	}
	if len(el.Embedding) == 0 {
		return domain.Element{}, fmt.Errorf("element embedding is required")
	}
	row := q.QueryRow(ctx,
		`INSERT INTO elements (name, name_key, embedding, image_url, discovered_by, is_base)
		 VALUES ($1, $2, $3::vector, $4, $5, $6)
		 RETURNING `+elementColumns,
		name, domain.NameKey(name), formatVector(el.Embedding), el.ImageURL, el.DiscoveredBy, el.IsBase,
	)
	created, err := scanElement(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Element{}, fmt.Errorf("insert element %q: %w", name, domain.ErrElementExists)
		}
		return domain.Element{}, fmt.Errorf("insert element %q: %w", name, err)
	}
	return created, nil
}

func (s *Store) EnsureElement(ctx context.Context, el domain.NewElement) (domain.Element, bool, error) {
	created, err := insertElement(ctx, s.pool, el)
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

func (s *Store) EachElement(ctx context.Context, fn func(domain.Element) error) error {
	rows, err := s.pool.Query(ctx, `SELECT `+elementColumns+` FROM elements ORDER BY id`)
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

func (s *Store) Recipe(ctx context.Context, pair domain.Pair) (domain.Recipe, error) {
	var result *int64
	err := s.pool.QueryRow(ctx, `SELECT id_result FROM recipes WHERE id_a = $1 AND id_b = $2`, pair.A, pair.B).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Recipe{}, fmt.Errorf("recipe %s: %w", pair.Key(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("get recipe %s: %w", pair.Key(), err)
	}
	return domain.Recipe{Pair: pair, Result: result}, nil
}

func insertRecipe(ctx context.Context, q querier, r domain.Recipe) error {
	pair := domain.NewPair(r.Pair.A, r.Pair.B)
	_, err := q.Exec(ctx, `INSERT INTO recipes (id_a, id_b, id_result) VALUES ($1, $2, $3)`, pair.A, pair.B, r.Result)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert recipe %s: %w", pair.Key(), domain.ErrRecipeExists)
		}
		return fmt.Errorf("insert recipe %s: %w", pair.Key(), err)
	}
	return nil
}

func (s *Store) PutRecipe(ctx context.Context, r domain.Recipe) error {
	return insertRecipe(ctx, s.pool, r)
}

func (s *Store) CreateDiscovery(ctx context.Context, el domain.NewElement, pair domain.Pair) (domain.Element, error) {
	var created domain.Element
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		created, err = insertElement(ctx, tx, el)
		if err != nil {
			return err
		}
		id := created.ID
		return insertRecipe(ctx, tx, domain.Recipe{Pair: pair, Result: &id})
	})
	if err != nil {
		return domain.Element{}, err
	}
	return created, nil
}

func (s *Store) Owns(ctx context.Context, userID string, elementIDs ...int64) (bool, error) {
	distinct := make(map[int64]struct{}, len(elementIDs))
	ids := make([]int64, 0, len(elementIDs))
	for _, id := range elementIDs {
		if _, ok := distinct[id]; !ok {
			distinct[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return false, nil
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM inventory WHERE user_id = $1 AND element_id = ANY($2)`, userID, ids,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check ownership: %w", err)
	}
	return n == len(ids), nil
}

func (s *Store) Grant(ctx context.Context, userID string, elementID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO inventory (user_id, element_id) VALUES ($1, $2) ON CONFLICT (user_id, element_id) DO NOTHING`,
		userID, elementID,
	)
	if err != nil {
		return false, fmt.Errorf("grant element %d: %w", elementID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) List(ctx context.Context, userID string) ([]domain.Element, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.name, e.embedding::text, e.image_url, e.discovered_by, e.is_base, e.created_at
		 FROM inventory i JOIN elements e ON e.id = i.element_id
		 WHERE i.user_id = $1
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

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, username, score FROM leaderboard ORDER BY score DESC, username ASC LIMIT $1`, limit)
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

func (s *Store) SetUsername(ctx context.Context, userID, username string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, username) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username, updated_at = now()`,
		userID, username,
	)
	if err != nil {
		return fmt.Errorf("set username: %w", err)
	}
	return nil
}

// Nearest uses the pgvector cosine distance operator. Rows of a different
// dimension are skipped.
func (s *Store) Nearest(ctx context.Context, vector []float32, minSimilarity float64, limit int) ([]domain.Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, similarity FROM (
		   SELECT id, name, 1 - (embedding <=> $1::vector) AS similarity
		   FROM elements
		   WHERE vector_dims(embedding) = $2
		 ) m
		 WHERE similarity >= $3
		 ORDER BY similarity DESC, id ASC
		 LIMIT $4`,
		formatVector(vector), len(vector), minSimilarity, limit,
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

// Index is a no-op: the elements table is the index.
func (s *Store) Index(context.Context, domain.Element) error { return nil }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ domain.Store = (*Store)(nil)
