// Package httpapi exposes the whisper service over JSON HTTP endpoints.
package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/rcliao/aangan/internal/logger"
	"github.com/rcliao/aangan/internal/metrics"
	"github.com/rcliao/aangan/internal/offline"
	"github.com/rcliao/aangan/internal/whispers"
)

//go:embed static
var staticFS embed.FS

// DefaultManifestKeys are the static resources a client pre-caches.
var DefaultManifestKeys = []string{"/", "/manifest.json", "/offline.html", "/icon.svg"}

// Options configures the HTTP surface.
type Options struct {
	ReactionRPS      float64
	ReactionBurst    int
	GenerationPrefix string
	ManifestKeys     []string
	// Static overrides the embedded static assets.
	Static fs.FS
}

// Server routes HTTP requests to the whisper service.
type Server struct {
	svc      *whispers.Service
	log      *logger.Logger
	metrics  *metrics.Metrics
	limiter  *limiterPool
	static   fs.FS
	manifest offline.Document
	router   *mux.Router
}

// New builds the router.
func New(svc *whispers.Service, log *logger.Logger, m *metrics.Metrics, opts Options) (*Server, error) {
	static := opts.Static
	if static == nil {
		sub, err := fs.Sub(staticFS, "static")
		if err != nil {
			return nil, err
		}
		static = sub
	}
	keys := opts.ManifestKeys
	if len(keys) == 0 {
		keys = DefaultManifestKeys
	}
	doc, err := buildManifest(static, opts.GenerationPrefix, keys)
	if err != nil {
		return nil, err
	}

	s := &Server{
		svc:      svc,
		log:      log.With("service", "HTTPServer"),
		metrics:  m,
		limiter:  newLimiterPool(opts.ReactionRPS, opts.ReactionBurst),
		static:   static,
		manifest: doc,
		router:   mux.NewRouter(),
	}

	s.router.Use(s.instrument)
	s.router.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	if m != nil {
		s.router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	api := s.router.PathPrefix("/api").Subrouter()
	s.RegisterWhispers(api)
	s.RegisterSearch(api)
	s.RegisterPush(api)
	s.RegisterOffline(s.router)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Manifest returns the published offline manifest.
func (s *Server) Manifest() offline.Document { return s.manifest }

// HTTPServer wraps the handler with timeouts.
func (s *Server) HTTPServer(addr string, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.metrics != nil {
			s.metrics.Requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
		s.log.Debug("request", "method", r.Method, "route", route, "status", rec.status, "duration_ms", time.Since(start).Milliseconds())
	})
}
