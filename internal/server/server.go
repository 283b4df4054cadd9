// Package server exposes uploads, batch runs, history and metrics over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/receipt-extractor/internal/batch"
	"github.com/zombor/receipt-extractor/internal/dataset"
	"github.com/zombor/receipt-extractor/internal/receipt"
)

// ErrBusy is returned when a batch is requested while another one is running
var ErrBusy = errors.New("a batch is already running")

// BatchRunner runs the pipeline over a directory
type BatchRunner interface {
	Run(ctx context.Context, dir string) (*batch.Result, error)
}

// History is the read side of the run history
type History interface {
	GetReceipt(receiptNumber string) (*receipt.Record, error)
	ListReceipts() (receipt.Dataset, error)
	GetRun(id string) (*dataset.Run, error)
	ListRuns() ([]*dataset.Run, error)
}

// IDGenerator generates upload name prefixes
type IDGenerator interface {
	Generate() string
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.New().String()
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Server handles HTTP requests for uploads, runs and receipts
type Server struct {
	runner     BatchRunner
	history    History
	storage    Storage
	gatherer   prometheus.Gatherer
	basicAuth  BasicAuth
	extensions []string
	idGen      IDGenerator
	mux        *http.ServeMux

	// mu serializes batch runs
	mu sync.Mutex
}

// Config collects the collaborators of a Server
type Config struct {
	Runner  BatchRunner
	History History
	Storage Storage
	// Gatherer backs /metrics, prometheus.DefaultGatherer when nil
	Gatherer  prometheus.Gatherer
	BasicAuth BasicAuth
	// Extensions accepted for uploads, batch.DefaultExtensions when empty
	Extensions []string
}

// NewServer creates a new Server with default mux
func NewServer(cfg Config) *Server {
	return NewServerWithDeps(cfg, http.NewServeMux(), &defaultIDGenerator{})
}

// NewServerWithDeps creates a new Server with a custom mux and id generator for testing
func NewServerWithDeps(cfg Config, mux *http.ServeMux, idGen IDGenerator) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = batch.DefaultExtensions
	}

	s := &Server{
		runner:     cfg.Runner,
		history:    cfg.History,
		storage:    cfg.Storage,
		gatherer:   cfg.Gatherer,
		basicAuth:  cfg.BasicAuth,
		extensions: cfg.Extensions,
		idGen:      idGen,
		mux:        mux,
	}
	s.registerRoutes()
	return s
}

// RunBatch processes the upload directory. It returns ErrBusy instead of waiting when a
// batch is already running.
func (s *Server) RunBatch(ctx context.Context) (*batch.Result, error) {
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	defer s.mu.Unlock()

	return s.runner.Run(ctx, s.storage.Dir())
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Extractor"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/uploads", s.requireAuth(s.handleUpload))

	s.mux.HandleFunc("GET /api/runs/{id}", s.requireAuth(s.handleGetRun))
	s.mux.HandleFunc("GET /api/runs", s.requireAuth(s.handleListRuns))
	s.mux.HandleFunc("POST /api/runs", s.requireAuth(s.handleCreateRun))

	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))

	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the server's routes wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// Start starts the HTTP server and shuts it down when ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	// Released on return so a failed listen does not leave the shutdown goroutine behind
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		slog.Info("Stopping server", "address", addr)
		srv.Shutdown(context.Background())
	}()

	slog.Info("Starting server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
