package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RoundTrips(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/inventory/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u-1", r.PathValue("id"))
		_, _ = w.Write([]byte(`[{"id":1,"name":"Fire","image":null},{"id":5,"name":"Steam","image":"https://cdn.test/s.png"}]`))
	})
	mux.HandleFunc("POST /api/combine", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"userId": "u-1", "element1Id": float64(1), "element2Id": float64(2)}, body)
		_, _ = w.Write([]byte(`{"message":"New element created and added to inventory","elementId":5,"elementName":"Steam","imageUrl":null}`))
	})
	mux.HandleFunc("GET /api/leaderboard", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"username":"ada","score":4}]`))
	})
	mux.HandleFunc("PUT /api/profile/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL+"/api/", time.Second)
	ctx := context.Background()

	items, err := c.Inventory(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Nil(t, items[0].Image)
	assert.Equal(t, "https://cdn.test/s.png", *items[1].Image)

	res, err := c.Combine(ctx, "u-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.ElementID)
	assert.Equal(t, "Steam", res.ElementName)

	ranks, err := c.Leaderboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Rank{{Username: "ada", Score: 4}}, ranks)

	require.NoError(t, c.SetUsername(ctx, "u-1", "ada"))
}

func TestClient_SurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"One or both elements not in inventory"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Combine(context.Background(), "u", 1, 2)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "One or both elements not in inventory", apiErr.Message)
}
