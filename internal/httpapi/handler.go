// Package httpapi exposes the crafting service as a JSON HTTP API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"neuralcraft/internal/domain"
	"neuralcraft/internal/logging"
)

const leaderboardSize = 10

// Crafter is the HTTP-facing subset of the crafting service.
type Crafter interface {
	Combine(ctx context.Context, userID string, first, second int64) (domain.Outcome, error)
	Inventory(ctx context.Context, userID string) ([]domain.Element, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	SetUsername(ctx context.Context, userID, username string) error
}

// Options configure the handler tree.
type Options struct {
	// BasePath prefixes every API route, e.g. "/api".
	BasePath    string
	CORSOrigins []string
	// AssetsDir, when set, is served under /assets/.
	AssetsDir string
	Logger    *zap.Logger
}

type handler struct {
	crafter Crafter
	log     *zap.Logger
}

// NewHandler builds the routed, middleware-wrapped API handler.
func NewHandler(crafter Crafter, opts Options) http.Handler {
	h := &handler{crafter: crafter, log: logging.OrNop(opts.Logger)}
	base := "/" + strings.Trim(opts.BasePath, "/")
	if base == "/" {
		base = ""
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+base+"/combine", h.combine)
	mux.HandleFunc("GET "+base+"/inventory/{userId}", h.inventory)
	mux.HandleFunc("GET "+base+"/leaderboard", h.leaderboard)
	mux.HandleFunc("PUT "+base+"/profile/{userId}", h.profile)
	mux.HandleFunc("GET "+base+"/healthz", h.health)
	if opts.AssetsDir != "" {
		mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(opts.AssetsDir))))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	return chain(mux,
		recoverPanics(h.log),
		logRequests(h.log),
		cors(opts.CORSOrigins),
	)
}

// elementID accepts both JSON numbers and numeric strings.
type elementID int64

func (id *elementID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*id = elementID(v)
	return nil
}

type combineRequest struct {
	UserID     string    `json:"userId"`
	Element1ID elementID `json:"element1Id"`
	Element2ID elementID `json:"element2Id"`
}

// messageResponse is the combine body when no element resulted.
type messageResponse struct {
	Message string `json:"message"`
}

type combineResponse struct {
	Message     string  `json:"message"`
	ElementID   int64   `json:"elementId"`
	ElementName string  `json:"elementName"`
	ImageURL    *string `json:"imageUrl"`
}

type inventoryItem struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image"`
}

type leaderboardRow struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

type profileRequest struct {
	Username string `json:"username"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) combine(w http.ResponseWriter, r *http.Request) {
	var req combineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		!validUserID(req.UserID) || req.Element1ID <= 0 || req.Element2ID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	out, err := h.crafter.Combine(r.Context(), req.UserID, int64(req.Element1ID), int64(req.Element2ID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if out.Element == nil {
		writeJSON(w, http.StatusOK, messageResponse{Message: out.Kind.Message()})
		return
	}
	writeJSON(w, http.StatusOK, combineResponse{
		Message:     out.Kind.Message(),
		ElementID:   out.Element.ID,
		ElementName: out.Element.Name,
		ImageURL:    nullable(out.Element.ImageURL),
	})
}

func (h *handler) inventory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if !validUserID(userID) {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	elements, err := h.crafter.Inventory(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items := make([]inventoryItem, 0, len(elements))
	for _, el := range elements {
		items = append(items, inventoryItem{ID: el.ID, Name: el.Name, Image: nullable(el.ImageURL)})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.crafter.Leaderboard(r.Context(), leaderboardSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows := make([]leaderboardRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, leaderboardRow{Username: e.Username, Score: e.Score})
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validUserID(userID) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.crafter.SetUsername(r.Context(), userID, req.Username); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps the error taxonomy onto status codes.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, domain.PublicMessage(err))
		return
	}
	h.log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, domain.PublicMessage(err))
}

func validUserID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
