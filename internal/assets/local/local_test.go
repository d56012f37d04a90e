package local

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralcraft/internal/assets"
	"neuralcraft/internal/domain"
)

func TestStore_Relocate(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer src.Close()

	dir := filepath.Join(t.TempDir(), "icons")
	s, err := NewStore(dir, "http://localhost:3000/assets/", assets.NewFetcher(0, 0))
	require.NoError(t, err)

	url, err := s.Relocate(context.Background(), src.URL+"/tmp.png", "steam_1700000000000")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/assets/steam_1700000000000.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "steam_1700000000000.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("PNGDATA"), data)

	// upsert
	_, err = s.Relocate(context.Background(), src.URL+"/tmp.png", "steam_1700000000000")
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_RelocateRejectsPathTraversal(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer src.Close()

	s, err := NewStore(t.TempDir(), "http://x/assets", assets.NewFetcher(0, 0))
	require.NoError(t, err)
	_, err = s.Relocate(context.Background(), src.URL, "../evil")
	require.Error(t, err)
}

func TestStore_RelocatedURLsResolve(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer src.Close()

	dir := t.TempDir()
	mux := http.NewServeMux()
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(dir))))
	public := httptest.NewServer(mux)
	defer public.Close()

	s, err := NewStore(dir, public.URL+"/assets", assets.NewFetcher(0, 0))
	require.NoError(t, err)

	for _, filename := range []string{
		domain.IconFilename("Steam", 1700000000000),
		domain.IconFilename("C#", 1700000000000),
		domain.IconFilename("Why?", 1700000000000),
		domain.IconFilename("100% juice", 1700000000000),
		"raw#name?_1",
		"100%_1",
	} {
		t.Run(filename, func(t *testing.T) {
			got, err := s.Relocate(context.Background(), src.URL+"/tmp.png", filename)
			require.NoError(t, err)

			resp, err := http.Get(got)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode, got)
			assert.Equal(t, "PNGDATA", string(body))
		})
	}
}
