package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rcliao/aangan/internal/search"
	"github.com/rcliao/aangan/internal/store"
)

// defaultTopK applies when a request omits top_k. Larger values are not
// capped; a search returns at most as many results as there are candidates.
const defaultTopK = 10

// RegisterSearch registers similarity routes.
func (s *Server) RegisterSearch(r *mux.Router) {
	r.HandleFunc("/search", s.search).Methods(http.MethodPost)
	r.HandleFunc("/whispers/{id}/similar", s.similar).Methods(http.MethodGet)
}

type searchRequest struct {
	Vector  []float32 `json:"vector"`
	Text    string    `json:"text"`
	TopK    *int      `json:"top_k"`
	Zone    string    `json:"zone"`
	Emotion string    `json:"emotion"`
}

type searchResponse struct {
	Results []search.Result `json:"results"`
}

// search handles POST /api/search with either a vector or a text query.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	topK, err := topKFrom(req.TopK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := store.Filter{Zone: req.Zone, Emotion: req.Emotion}

	var results []search.Result
	switch {
	case req.Vector != nil:
		results, err = s.svc.Search(r.Context(), req.Vector, topK, f)
	case strings.TrimSpace(req.Text) != "":
		results, err = s.svc.SearchText(r.Context(), req.Text, topK, f)
	default:
		err = fmt.Errorf("vector or text is required: %w", store.ErrValidation)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

// similar handles GET /api/whispers/{id}/similar?top_k=.
func (s *Server) similar(w http.ResponseWriter, r *http.Request) {
	topK, err := queryInt(r, "top_k", defaultTopK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.svc.Similar(r.Context(), mux.Vars(r)["id"], topK, filterFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

// topKFrom defaults an omitted top_k; an explicit value must be positive.
func topKFrom(k *int) (int, error) {
	if k == nil {
		return defaultTopK, nil
	}
	if *k <= 0 {
		return 0, fmt.Errorf("top_k must be positive, got %d: %w", *k, store.ErrValidation)
	}
	return *k, nil
}
