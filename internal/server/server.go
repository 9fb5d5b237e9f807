// Package server is a local stand-in for the hosted upload and code
// generation endpoints, used for development and demos.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/manash/buildfy/internal/image"
	"github.com/manash/buildfy/internal/log"
	"github.com/manash/buildfy/internal/security"
	"github.com/manash/buildfy/pkg/models"
)

const (
	DefaultChunkSize = 48
	maxRequestBody   = 64 << 10
	shutdownTimeout  = 10 * time.Second
)

type Config struct {
	UploadDir string
	// PublicURL prefixes returned upload URLs. When empty the request's own
	// scheme and host are used.
	PublicURL string
	// ChunkDelay is the pause between streamed chunks.
	ChunkDelay time.Duration
	ChunkSize  int
	// RateLimit is the number of API requests allowed per client IP per
	// minute. Zero disables limiting.
	RateLimit     int
	MaxUploadSize int64
	Registry      *models.ModelRegistry
	Logger        *zerolog.Logger
}

type Server struct {
	cfg      Config
	registry *models.ModelRegistry
	logger   zerolog.Logger
	metrics  *metrics
	gatherer prometheus.Gatherer
	router   chi.Router
}

func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.UploadDir) == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = image.DefaultMaxSize
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	registry := cfg.Registry
	if registry == nil {
		registry = models.DefaultRegistry()
	}

	logger := log.WithComponent("server")
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "server").Logger()
	}

	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		metrics:  newMetrics(reg),
		gatherer: reg,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.metrics.middleware)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/uploads/{name}", s.handleServeUpload)

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(rateLimit(s.cfg.RateLimit, time.Minute))
		}
		r.Post("/upload", s.handleUpload)
		r.Post("/generateCode", s.handleGenerate)
	})

	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
		}),
	)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("dev server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.uploadFailed(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		s.uploadFailed(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadSize+1))
	if err != nil {
		s.uploadFailed(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadSize {
		s.uploadFailed(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if len(data) == 0 {
		s.uploadFailed(w, http.StatusBadRequest, "file is empty")
		return
	}

	mimeType, err := image.DetectMIME(header.Filename, data)
	if err != nil {
		s.uploadFailed(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	name := uuid.New().String() + "." + mimeType.Extension()
	if err := renameio.WriteFile(filepath.Join(s.cfg.UploadDir, name), data, 0o644); err != nil {
		s.logger.Error().Err(err).Str("file", name).Msg("failed to store upload")
		s.uploadFailed(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	s.metrics.uploads.WithLabelValues("ok").Inc()
	s.metrics.uploadBytes.Observe(float64(len(data)))
	s.logger.Debug().Str("file", name).Str("original", header.Filename).Int("bytes", len(data)).Msg("stored upload")

	writeJSON(w, http.StatusOK, map[string]string{"url": s.publicBase(r) + "/uploads/" + name})
}

func (s *Server) uploadFailed(w http.ResponseWriter, status int, msg string) {
	s.metrics.uploads.WithLabelValues("error").Inc()
	writeError(w, status, msg)
}

func (s *Server) publicBase(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || security.SanitizeFilename(name) != name || strings.ContainsAny(name, `/\`) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	path := filepath.Join(s.cfg.UploadDir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeFile(w, r, path)
}

type generateRequest struct {
	Model    string `json:"model"`
	Shadcn   bool   `json:"shadcn"`
	ImageURL string `json:"imageUrl"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := &models.GenerateRequest{
		Model:               body.Model,
		UseComponentLibrary: body.Shadcn,
		ImageURL:            body.ImageURL,
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caps, ok := s.registry.Get(req.Model)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%v: %q", models.ErrUnknownModel, req.Model))
		return
	}
	if err := caps.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code, err := RenderComponent(req)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to render component")
		writeError(w, http.StatusInternalServerError, "failed to render component")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	sent, err := s.stream(r.Context(), w, code)
	s.metrics.generatedBytes.Add(float64(sent))
	if err != nil {
		s.metrics.generations.WithLabelValues(req.Model, "aborted").Inc()
		s.logger.Warn().Err(err).Str("model", req.Model).Int("sent", sent).Msg("generation stream aborted")
		return
	}
	s.metrics.generations.WithLabelValues(req.Model, "ok").Inc()
}

// stream writes code in ChunkSize-byte pieces, flushing each one. Pieces may
// split a multi-byte rune; clients reassemble the UTF-8 stream.
func (s *Server) stream(ctx context.Context, w http.ResponseWriter, code string) (int, error) {
	rc := http.NewResponseController(w)
	sent := 0
	for sent < len(code) {
		end := min(sent+s.cfg.ChunkSize, len(code))
		n, err := io.WriteString(w, code[sent:end])
		sent += n
		if err != nil {
			return sent, err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return sent, err
		}

		if s.cfg.ChunkDelay > 0 && sent < len(code) {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(s.cfg.ChunkDelay):
			}
		}
	}
	return sent, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
