package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/rcliao/aangan/internal/store"
)

// RegisterWhispers registers whisper, reaction and embedding routes.
func (s *Server) RegisterWhispers(r *mux.Router) {
	r.HandleFunc("/whispers", s.createWhisper).Methods(http.MethodPost)
	r.HandleFunc("/whispers", s.listWhispers).Methods(http.MethodGet)

	r.HandleFunc("/whispers/{id}", s.getWhisper).Methods(http.MethodGet)
	r.HandleFunc("/whispers/{id}", s.deleteWhisper).Methods(http.MethodDelete)

	r.HandleFunc("/whispers/{id}/reactions", s.addReaction).Methods(http.MethodPost)
	r.HandleFunc("/whispers/{id}/reactions", s.listReactions).Methods(http.MethodGet)

	r.HandleFunc("/whispers/{id}/embedding", s.putEmbedding).Methods(http.MethodPut)
	r.HandleFunc("/whispers/{id}/embedding", s.getEmbedding).Methods(http.MethodGet)
	r.HandleFunc("/whispers/{id}/embedding", s.deleteEmbedding).Methods(http.MethodDelete)
}

type createWhisperRequest struct {
	Content       string `json:"content"`
	Emotion       string `json:"emotion"`
	Zone          string `json:"zone"`
	TTL           string `json:"ttl"`
	IsAIGenerated bool   `json:"is_ai_generated"`
}

// createWhisper handles POST /api/whispers. ttl accepts "7d", "24h", "30m" or "60s".
func (s *Server) createWhisper(w http.ResponseWriter, r *http.Request) {
	var req createWhisperRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var ttl time.Duration
	if strings.TrimSpace(req.TTL) != "" {
		d, err := store.ParseTTL(strings.TrimSpace(req.TTL))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("ttl: %v: %w", err, store.ErrValidation))
			return
		}
		ttl = d
	}

	wh, err := s.svc.Create(r.Context(), store.CreateParams{
		Content:       req.Content,
		Emotion:       req.Emotion,
		Zone:          req.Zone,
		IsAIGenerated: req.IsAIGenerated,
		TTL:           ttl,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

// listWhispers handles GET /api/whispers?zone=&emotion=&limit=&cursor=.
func (s *Server) listWhispers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", store.DefaultListLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.svc.List(r.Context(), store.ListParams{
		Filter: filterFrom(r),
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getWhisper(w http.ResponseWriter, r *http.Request) {
	wh, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (s *Server) deleteWhisper(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reactionRequest struct {
	GuestID string `json:"guest_id"`
	Emoji   string `json:"emoji"`
}

// addReaction handles POST /api/whispers/{id}/reactions. The guest id comes
// from the body or the X-Guest-ID header and is rate limited.
func (s *Server) addReaction(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.GuestID) == "" {
		req.GuestID = r.Header.Get("X-Guest-ID")
	}
	req.GuestID = strings.TrimSpace(req.GuestID)
	if req.GuestID == "" {
		s.writeError(w, r, fmt.Errorf("guest_id is required: %w", store.ErrValidation))
		return
	}
	if len(req.GuestID) > store.MaxGuestIDLen {
		s.writeError(w, r, fmt.Errorf("guest_id is longer than %d characters: %w", store.MaxGuestIDLen, store.ErrValidation))
		return
	}
	if !s.limiter.Allow(req.GuestID) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many reactions"})
		return
	}

	rx, err := s.svc.React(r.Context(), store.ReactParams{
		WhisperID: mux.Vars(r)["id"],
		GuestID:   req.GuestID,
		Emoji:     req.Emoji,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rx)
}

func (s *Server) listReactions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	counts, err := s.svc.ReactionCounts(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reactions, err := s.svc.Reactions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts, "reactions": reactions})
}

type embeddingRequest struct {
	Vector []float32 `json:"vector"`
}

func (s *Server) putEmbedding(w http.ResponseWriter, r *http.Request) {
	var req embeddingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.UpsertEmbedding(r.Context(), mux.Vars(r)["id"], req.Vector); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getEmbedding(w http.ResponseWriter, r *http.Request) {
	emb, err := s.svc.GetEmbedding(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emb)
}

func (s *Server) deleteEmbedding(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteEmbedding(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
