package httpapi

import (
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rcliao/aangan/internal/offline"
)

// RegisterOffline registers the cache manifest and the static shell.
func (s *Server) RegisterOffline(r *mux.Router) {
	r.HandleFunc("/offline/manifest.json", s.offlineManifest).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(http.FileServer(http.FS(s.static))).Methods(http.MethodGet, http.MethodHead)
}

func (s *Server) offlineManifest(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, s.manifest)
}

// buildManifest names the generation after the current bytes of every key.
func buildManifest(static fs.FS, prefix string, keys []string) (offline.Document, error) {
	m := offline.Manifest{Keys: keys}.Normalized()
	contents := make(map[string][]byte, len(m.Keys))
	for _, k := range m.Keys {
		name := strings.TrimPrefix(k, "/")
		if name == "" || strings.HasSuffix(name, "/") {
			name += "index.html"
		}
		b, err := fs.ReadFile(static, name)
		if err != nil {
			return offline.Document{}, fmt.Errorf("manifest key %s: %w", k, err)
		}
		contents[k] = b
	}
	return offline.Document{
		Generation: offline.GenerationName(prefix, m, contents),
		Keys:       m.Keys,
	}, nil
}
