package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"neuralcraft/internal/assets"
)

// Store uploads icons to a Supabase Storage bucket through its REST API and
// returns public object URLs.
type Store struct {
	url     string
	key     string
	bucket  string
	prefix  string
	client  *http.Client
	fetcher *assets.Fetcher
}

// Config configures the Supabase storage client.
type Config struct {
	URL           string
	ServiceKeyEnv string
	Bucket        string
	Prefix        string
	Timeout       time.Duration
}

func NewStore(cfg Config, fetcher *assets.Fetcher) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	key := os.Getenv(cfg.ServiceKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing service key in env %s", cfg.ServiceKeyEnv)
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "icons"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &Store{
		url:     strings.TrimRight(cfg.URL, "/"),
		key:     key,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		client:  &http.Client{Timeout: t},
		fetcher: fetcher,
	}, nil
}

// Relocate downloads sourceURL and upserts it at <prefix>/<filename>.png.
func (s *Store) Relocate(ctx context.Context, sourceURL, filename string) (string, error) {
	data, err := s.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	object := assets.ObjectPath(s.prefix, filename)
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, url.PathEscape(s.bucket), assets.EscapePath(object))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	req.Header.Set("Content-Type", assets.ContentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("supabase upload %s: %s: %s", object, resp.Status, strings.TrimSpace(string(msg)))
	}
	return s.PublicURL(object), nil
}

// PublicURL is the anonymous download URL of an object in the bucket.
func (s *Store) PublicURL(object string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, url.PathEscape(s.bucket), assets.EscapePath(object))
}
