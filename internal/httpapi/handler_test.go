package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"neuralcraft/internal/domain"
)

const alice = "6f1c2a5e-8d4b-4c1e-9a3f-2b7d9e0c4a11"

type fakeCrafter struct {
	outcome   domain.Outcome
	err       error
	inventory []domain.Element
	board     []domain.LeaderboardEntry
	panic     bool

	gotUser     string
	gotFirst    int64
	gotSecond   int64
	gotUsername string
}

func (f *fakeCrafter) Combine(_ context.Context, userID string, first, second int64) (domain.Outcome, error) {
	if f.panic {
		panic("boom")
	}
	f.gotUser, f.gotFirst, f.gotSecond = userID, first, second
	return f.outcome, f.err
}

func (f *fakeCrafter) Inventory(_ context.Context, userID string) ([]domain.Element, error) {
	f.gotUser = userID
	return f.inventory, f.err
}

func (f *fakeCrafter) Leaderboard(context.Context, int) ([]domain.LeaderboardEntry, error) {
	return f.board, f.err
}

func (f *fakeCrafter) SetUsername(_ context.Context, userID, username string) error {
	f.gotUser, f.gotUsername = userID, username
	return f.err
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCombine_Outcomes(t *testing.T) {
	steam := &domain.Element{ID: 7, Name: "Steam", ImageURL: "https://cdn.test/steam.png"}
	tests := []struct {
		name    string
		outcome domain.Outcome
		want    any
	}{
		{
			name:    "no combination",
			outcome: domain.Outcome{Kind: domain.NoCombination},
			want:    map[string]any{"message": "Elements cannot be combined"},
		},
		{
			name:    "created",
			outcome: domain.Outcome{Kind: domain.Created, Element: steam},
			want: map[string]any{
				"message":     "New element created and added to inventory",
				"elementId":   float64(7),
				"elementName": "Steam",
				"imageUrl":    "https://cdn.test/steam.png",
			},
		},
		{
			name:    "recipe discovered without image",
			outcome: domain.Outcome{Kind: domain.RecipeDiscovered, Element: &domain.Element{ID: 3, Name: "Mud"}},
			want: map[string]any{
				"message":     "Recipe discovered (Element already owned)",
				"elementId":   float64(3),
				"elementName": "Mud",
				"imageUrl":    nil,
			},
		},
		{
			name:    "created without image",
			outcome: domain.Outcome{Kind: domain.Created, Element: &domain.Element{ID: 9, Name: "Lava"}},
			want: map[string]any{
				"message":     "New element created and added to inventory",
				"elementId":   float64(9),
				"elementName": "Lava",
				"imageUrl":    nil,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCrafter{outcome: tt.outcome}
			h := NewHandler(f, Options{BasePath: "/api"})
			rec := serve(t, h, http.MethodPost, "/api/combine",
				fmt.Sprintf(`{"userId":%q,"element1Id":1,"element2Id":"2"}`, alice))
			require.Equal(t, http.StatusOK, rec.Code)
			if diff := cmp.Diff(tt.want, decode(t, rec)); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, alice, f.gotUser)
			assert.EqualValues(t, 1, f.gotFirst)
			assert.EqualValues(t, 2, f.gotSecond)
		})
	}
}

func TestCombine_BadRequests(t *testing.T) {
	h := NewHandler(&fakeCrafter{}, Options{BasePath: "/api"})
	for name, body := range map[string]string{
		"not json":        `{`,
		"missing element": fmt.Sprintf(`{"userId":%q,"element1Id":1}`, alice),
		"zero element":    fmt.Sprintf(`{"userId":%q,"element1Id":0,"element2Id":2}`, alice),
		"non uuid user":   `{"userId":"bob","element1Id":1,"element2Id":2}`,
		"word id":         fmt.Sprintf(`{"userId":%q,"element1Id":"fire","element2Id":2}`, alice),
	} {
		t.Run(name, func(t *testing.T) {
			rec := serve(t, h, http.MethodPost, "/api/combine", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]any{"error": "Invalid request body"}, decode(t, rec))
		})
	}
}

func TestCombine_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{domain.ErrNotOwned, http.StatusBadRequest, "One or both elements not in inventory"},
		{domain.InvalidInput("Element %d not found", 2), http.StatusBadRequest, "Element 2 not found"},
		{fmt.Errorf("%w: timeout", domain.ErrOracleUnavailable), http.StatusInternalServerError, "AI Service Unavailable"},
		{domain.ErrEmbeddingUnavailable, http.StatusInternalServerError, "Vector generation failed"},
		{domain.StorageFailure("grant", errors.New("disk full")), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)
			h := NewHandler(&fakeCrafter{err: tt.err}, Options{BasePath: "/api", Logger: zap.New(core)})
			rec := serve(t, h, http.MethodPost, "/api/combine",
				fmt.Sprintf(`{"userId":%q,"element1Id":1,"element2Id":2}`, alice))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, map[string]any{"error": tt.msg}, decode(t, rec))
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
			}
		})
	}
}

func TestInventory(t *testing.T) {
	f := &fakeCrafter{inventory: []domain.Element{
		{ID: 1, Name: "Fire"},
		{ID: 9, Name: "Steam", ImageURL: "https://cdn.test/steam.png"},
	}}
	h := NewHandler(f, Options{BasePath: "/api"})

	rec := serve(t, h, http.MethodGet, "/api/inventory/"+alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	want := []any{
		map[string]any{"id": float64(1), "name": "Fire", "image": nil},
		map[string]any{"id": float64(9), "name": "Steam", "image": "https://cdn.test/steam.png"},
	}
	if diff := cmp.Diff(want, decode(t, rec)); diff != "" {
		t.Errorf("inventory mismatch (-want +got):\n%s", diff)
	}

	rec = serve(t, h, http.MethodGet, "/api/inventory/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboard_EmptyIsArray(t *testing.T) {
	h := NewHandler(&fakeCrafter{}, Options{BasePath: "/api"})
	rec := serve(t, h, http.MethodGet, "/api/leaderboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	h = NewHandler(&fakeCrafter{board: []domain.LeaderboardEntry{{UserID: alice, Username: "ada", Score: 3}}}, Options{BasePath: "/api"})
	rec = serve(t, h, http.MethodGet, "/api/leaderboard", "")
	assert.JSONEq(t, `[{"username":"ada","score":3}]`, rec.Body.String())
}

func TestProfile(t *testing.T) {
	f := &fakeCrafter{}
	h := NewHandler(f, Options{BasePath: "/api"})
	rec := serve(t, h, http.MethodPut, "/api/profile/"+alice, `{"username":"ada"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ada", f.gotUsername)

	f.err = domain.InvalidInput("Invalid username")
	rec = serve(t, h, http.MethodPut, "/api/profile/"+alice, `{"username":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "Invalid username"}, decode(t, rec))
}

func TestHealthAndNotFound(t *testing.T) {
	h := NewHandler(&fakeCrafter{}, Options{BasePath: "api/"})
	rec := serve(t, h, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNoBasePath(t *testing.T) {
	h := NewHandler(&fakeCrafter{}, Options{})
	rec := serve(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAssetsAreServed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "steam_1.png"), []byte("png-bytes"), 0o644))
	h := NewHandler(&fakeCrafter{}, Options{BasePath: "/api", AssetsDir: dir})
	rec := serve(t, h, http.MethodGet, "/assets/steam_1.png", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())
}

func TestPanicsBecome500(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := NewHandler(&fakeCrafter{panic: true}, Options{BasePath: "/api", Logger: zap.New(core)})
	rec := serve(t, h, http.MethodPost, "/api/combine",
		fmt.Sprintf(`{"userId":%q,"element1Id":1,"element2Id":2}`, alice))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("handler panic").Len())
}

func TestRequestIDAndLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewHandler(&fakeCrafter{}, Options{BasePath: "/api", Logger: zap.New(core)})
	rec := serve(t, h, http.MethodGet, "/api/healthz", "")
	id := rec.Header().Get("X-Request-ID")
	assert.NotEmpty(t, id)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/healthz", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.Equal(t, id, fields["request_id"])
}

func TestCORS(t *testing.T) {
	h := NewHandler(&fakeCrafter{}, Options{BasePath: "/api", CORSOrigins: []string{"https://play.test"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/combine", nil)
	req.Header.Set("Origin", "https://play.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://play.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.Header.Set("Origin", "https://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	open := NewHandler(&fakeCrafter{}, Options{CORSOrigins: []string{"*"}})
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://anywhere.test")
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
