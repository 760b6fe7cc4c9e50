package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/newthinker/keywatch/internal/api/response"
	"github.com/newthinker/keywatch/internal/core"
)

// WatchlistApp defines the interface needed from app.App.
type WatchlistApp interface {
	GetWatchlist() []string
	AddToWatchlist(keyword string) bool
	RemoveFromWatchlist(keyword string) bool
}

// WatchlistHandler handles watchlist API requests.
type WatchlistHandler struct {
	app WatchlistApp
}

// NewWatchlistHandler creates a new watchlist handler.
func NewWatchlistHandler(app WatchlistApp) *WatchlistHandler {
	return &WatchlistHandler{app: app}
}

// AddRequest is the request body for adding a keyword.
type AddRequest struct {
	Keyword string `json:"keyword"`
}

// List returns all keywords refreshed on schedule.
func (h *WatchlistHandler) List(w http.ResponseWriter, r *http.Request) {
	response.List(w, http.StatusOK, h.app.GetWatchlist())
}

// Add adds a keyword to the watchlist.
func (h *WatchlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrConfigInvalid, err))
		return
	}

	keyword := core.NormalizeKeyword(req.Keyword)
	if keyword == "" {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrConfigMissing, fmt.Errorf("keyword is required")))
		return
	}

	status := http.StatusOK
	added := h.app.AddToWatchlist(keyword)
	if added {
		status = http.StatusCreated
	}
	response.JSON(w, status, map[string]any{
		"keyword": keyword,
		"added":   added,
	})
}

// Remove removes the keyword named in the path from the watchlist.
func (h *WatchlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	keyword := core.NormalizeKeyword(r.PathValue("keyword"))
	if !h.app.RemoveFromWatchlist(keyword) {
		response.Error(w, http.StatusNotFound,
			core.WrapError(core.ErrNoData, fmt.Errorf("keyword %q not in watchlist", keyword)))
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"keyword": keyword,
		"removed": true,
	})
}
