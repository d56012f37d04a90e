package huggingface

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Embed(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`[[0.25, 0.5, 0.75]]`))
	}))
	defer srv.Close()

	t.Setenv("TEST_HF_KEY", "hf_abc")
	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKeyEnv: "TEST_HF_KEY", Model: "sentence-transformers/all-MiniLM-L6-v2"})
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "steam")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5, 0.75}, vec)
	assert.Equal(t, "/sentence-transformers/all-MiniLM-L6-v2/pipeline/feature-extraction", gotPath)
	assert.Equal(t, "Bearer hf_abc", gotAuth)
	assert.Equal(t, map[string]string{"inputs": "steam"}, gotBody)
	assert.Equal(t, "huggingface:sentence-transformers/all-MiniLM-L6-v2", c.Name())
}

func TestClient_EmbedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_HF_KEY", "hf_abc")
	c, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_HF_KEY"})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "steam")
	require.ErrorContains(t, err, "503")
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Setenv("TEST_HF_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "TEST_HF_KEY"})
	require.Error(t, err)
}
