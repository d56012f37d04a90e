// Package client talks to the neuralcraft HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Item is an inventory entry.
type Item struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image"`
}

// CombineResult is the server's answer to a combination. ElementID is zero
// when the elements do not combine.
type CombineResult struct {
	Message     string  `json:"message"`
	ElementID   int64   `json:"elementId"`
	ElementName string  `json:"elementName"`
	ImageURL    *string `json:"imageUrl"`
}

// Rank is a leaderboard row.
type Rank struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the API mounted at baseURL, e.g.
// "http://localhost:3000/api".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Inventory(ctx context.Context, userID string) ([]Item, error) {
	var items []Item
	err := c.do(ctx, http.MethodGet, "/inventory/"+url.PathEscape(userID), nil, &items)
	return items, err
}

func (c *Client) Combine(ctx context.Context, userID string, first, second int64) (CombineResult, error) {
	var res CombineResult
	body := map[string]any{"userId": userID, "element1Id": first, "element2Id": second}
	err := c.do(ctx, http.MethodPost, "/combine", body, &res)
	return res, err
}

func (c *Client) Leaderboard(ctx context.Context) ([]Rank, error) {
	var ranks []Rank
	err := c.do(ctx, http.MethodGet, "/leaderboard", nil, &ranks)
	return ranks, err
}

func (c *Client) SetUsername(ctx context.Context, userID, username string) error {
	return c.do(ctx, http.MethodPut, "/profile/"+url.PathEscape(userID), map[string]string{"username": username}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
