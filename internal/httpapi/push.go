package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rcliao/aangan/internal/store"
)

// RegisterPush registers client token routes.
func (s *Server) RegisterPush(r *mux.Router) {
	r.HandleFunc("/push/tokens", s.registerToken).Methods(http.MethodPost)
	r.HandleFunc("/push/tokens", s.removeToken).Methods(http.MethodDelete)
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) readToken(w http.ResponseWriter, r *http.Request) (string, error) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return "", err
	}
	tok := strings.TrimSpace(req.Token)
	if tok == "" {
		return "", fmt.Errorf("token is required: %w", store.ErrValidation)
	}
	return tok, nil
}

func (s *Server) registerToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.readToken(w, r)
	if err == nil {
		err = s.svc.RegisterPushToken(r.Context(), tok)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.readToken(w, r)
	if err == nil {
		err = s.svc.RemovePushToken(r.Context(), tok)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
