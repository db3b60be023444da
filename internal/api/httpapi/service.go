// Package httpapi exposes the playback engine over HTTP: form and JSON
// endpoints for commands plus a Server-Sent Events feed of engine
// events.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/arai051/tunebox/internal/app/notification"
	"github.com/arai051/tunebox/internal/app/playback"
	"github.com/arai051/tunebox/internal/app/queue"
	"github.com/arai051/tunebox/internal/domain/media"
	"github.com/arai051/tunebox/internal/infra/resolver"
)

// controlActions are the accepted values for POST /control.
var controlActions = []string{"playpause", "stop", "skip"}

// Enqueuer feeds submissions to the resolution worker.
type Enqueuer interface {
	Enqueue(id, url string)
}

// Searcher forwards search queries to the resolver service.
type Searcher interface {
	Search(ctx context.Context, query string) ([]resolver.SearchResult, error)
}

// Service implements the HTTP control surface.
type Service struct {
	director *playback.Director
	store    *queue.Store
	worker   Enqueuer
	searcher Searcher
	events   *notification.Manager
}

// NewService creates a new Service.
func NewService(director *playback.Director, store *queue.Store, worker Enqueuer, searcher Searcher, events *notification.Manager) *Service {
	return &Service{
		director: director,
		store:    store,
		worker:   worker,
		searcher: searcher,
		events:   events,
	}
}

// Register mounts all routes on the mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /submit", s.handleSubmit)
	mux.HandleFunc("POST /control", s.handleControl)
	mux.HandleFunc("POST /volume", s.handleVolume)
	mux.HandleFunc("POST /seek", s.handleSeek)
	mux.HandleFunc("POST /play-now", s.handlePlayNow)
	mux.HandleFunc("POST /remove-item", s.handleRemoveItem)
	mux.HandleFunc("POST /move-up", s.handleMoveUp)
	mux.HandleFunc("POST /move-down", s.handleMoveDown)
	mux.HandleFunc("POST /reorder-queue", s.handleReorderQueue)
	mux.HandleFunc("POST /shuffle-queue", s.handleShuffleQueue)
	mux.HandleFunc("POST /clear-queue", s.handleClearQueue)
	mux.HandleFunc("POST /toggle-autoplay", s.handleToggleAutoplay)
	mux.HandleFunc("GET /autoplay-status", s.handleAutoplayStatus)
	mux.HandleFunc("GET /queue", s.handleQueue)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /debug-queue", s.handleDebugQueue)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("GET /events", s.handleEvents)
}

type submitResponse struct {
	Item media.Item `json:"item"`
}

type queueResponse struct {
	Items []media.Item `json:"items"`
}

type autoplayResponse struct {
	Enabled bool `json:"enabled"`
}

type reorderRequest struct {
	OldIndex *int `json:"oldIndex"`
	NewIndex *int `json:"newIndex"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Results []resolver.SearchResult `json:"results"`
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.FormValue("url"))
	if url == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	item := s.store.Submit(url)
	s.worker.Enqueue(item.ID, item.URL)
	writeJSON(w, http.StatusOK, submitResponse{Item: item})
}

func (s *Service) handleControl(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimSpace(r.FormValue("action"))
	if !lo.Contains(controlActions, action) {
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	switch action {
	case "playpause":
		s.director.TogglePause()
	case "stop":
		s.director.Stop()
	case "skip":
		s.director.Skip()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleVolume(w http.ResponseWriter, r *http.Request) {
	volume, err := strconv.ParseFloat(r.FormValue("volume"), 64)
	if err != nil {
		http.Error(w, "volume must be a number", http.StatusBadRequest)
		return
	}
	s.director.SetVolume(volume)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleSeek(w http.ResponseWriter, r *http.Request) {
	percent, err := strconv.ParseFloat(r.FormValue("position"), 64)
	if err != nil {
		http.Error(w, "position must be a number", http.StatusBadRequest)
		return
	}
	s.director.SeekPercent(percent)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handlePlayNow(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	switch err := s.director.PlayNow(id); {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, playback.ErrNotReady):
		http.Error(w, "item not found or not ready", http.StatusNotFound)
	default:
		zlog.Warn().Err(err).Str("id", id).Msg("Play-now failed on the player")
		http.Error(w, "player did not accept the track", http.StatusBadGateway)
	}
}

func (s *Service) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := s.director.Remove(id); err != nil {
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) handleMoveUp(w http.ResponseWriter, r *http.Request) {
	s.handleNeighborMove(w, r, s.director.MoveUp)
}

func (s *Service) handleMoveDown(w http.ResponseWriter, r *http.Request) {
	s.handleNeighborMove(w, r, s.director.MoveDown)
}

// handleNeighborMove shares the form handling of move-up and move-down.
// Boundary moves answer 200 like real moves; only unknown IDs are 404.
func (s *Service) handleNeighborMove(w http.ResponseWriter, r *http.Request, move func(id string) error) {
	id := r.FormValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := move(id); err != nil {
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) handleReorderQueue(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.OldIndex == nil || req.NewIndex == nil {
		http.Error(w, "oldIndex and newIndex are required", http.StatusBadRequest)
		return
	}

	if err := s.director.Reorder(*req.OldIndex, *req.NewIndex); err != nil {
		http.Error(w, "index out of range", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleShuffleQueue(w http.ResponseWriter, _ *http.Request) {
	s.director.ShuffleQueue()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleClearQueue(w http.ResponseWriter, _ *http.Request) {
	s.director.ClearQueue()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleToggleAutoplay(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, autoplayResponse{Enabled: s.director.ToggleAutoplay()})
}

func (s *Service) handleAutoplayStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, autoplayResponse{Enabled: s.director.AutoplayEnabled()})
}

func (s *Service) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, queueResponse{Items: s.store.Items()})
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.director.Snapshot())
}

func (s *Service) handleDebugQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.director.Debug())
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	results, err := s.searcher.Search(r.Context(), req.Query)
	if err != nil {
		zlog.Warn().Err(err).Str("query", req.Query).Msg("Search failed")
		http.Error(w, "search failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("Failed to encode response")
	}
}
