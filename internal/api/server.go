package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-image-archiver/internal/archive"
	"github.com/JakeFAU/listing-image-archiver/internal/listing"
	"github.com/JakeFAU/listing-image-archiver/internal/metrics"
	"github.com/JakeFAU/listing-image-archiver/internal/session"
)

// Client-facing messages. Internal error detail is only logged.
const (
	msgInvalidJSON     = "invalid JSON"
	msgNoImages        = "No images found in the listing"
	msgNoItemsFetched  = "Failed to download any images"
	msgProcessFailed   = "Failed to process the listing. Please check the URL and try again."
	msgDownloadMissing = "Download not found or expired"
	msgDownloadFailed  = "Failed to process download"
	msgInternal        = "internal server error"

	apiPrefix       = "/api"
	maxRequestBytes = 1 << 20
)

// Processor runs extraction cycles.
type Processor interface {
	Process(ctx context.Context, rawURL string) (listing.Result, error)
	InvalidURLMessage() string
}

// Downloads opens archived sessions.
type Downloads interface {
	Open(ctx context.Context, id string) (session.Download, error)
}

// Options tune the HTTP surface.
type Options struct {
	// Site labels extraction metrics; it must come from configuration.
	Site           string
	StaticDir      string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the extraction service and session store.
type Server struct {
	router    chi.Router
	processor Processor
	downloads Downloads
	clock     listing.Clock
	logger    *zap.Logger
	opts      Options
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	processor Processor,
	downloads Downloads,
	clock listing.Clock,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		processor: processor,
		downloads: downloads,
		clock:     clock,
		logger:    logger,
		opts:      opts,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Handle("/metrics", metrics.Handler())
	s.mountRoutes(r)
	r.Route(apiPrefix, s.mountRoutes)

	if opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}

	s.router = r
	return s
}

func (s *Server) mountRoutes(r chi.Router) {
	r.Get("/health", s.health)
	r.With(timeoutMiddleware(s.opts.RequestTimeout)).Post("/extract-images", s.extractImages)
	r.Get("/download/{sessionId}", s.download)
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) extractImages(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	result, err := s.processor.Process(r.Context(), req.URL)
	if err != nil {
		status, msg := s.classify(err)
		metrics.ObserveExtractRequest(s.opts.Site, outcomeLabel(status))
		if status >= http.StatusInternalServerError {
			s.logger.Error("extraction failed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("url", req.URL),
				zap.Error(err),
			)
		} else {
			s.logger.Info("extraction rejected",
				zap.String("request_id", requestID(r.Context())),
				zap.String("url", req.URL),
				zap.Int("status", status),
				zap.Error(err),
			)
		}
		writeError(w, status, msg)
		return
	}

	metrics.ObserveExtractRequest(s.opts.Site, "success")
	writeJSON(w, http.StatusOK, extractResponse{
		Success:        true,
		Title:          result.Title,
		ImageCount:     result.ImageCount,
		DownloadURL:    downloadPath(r, result.SessionID),
		SanitizedTitle: result.SanitizedTitle,
	})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	dl, err := s.downloads.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, listing.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, msgDownloadMissing)
			return
		}
		s.logger.Error("download failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("session_id", id),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, msgDownloadFailed)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", archive.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Body); err != nil {
		s.logger.Warn("download interrupted",
			zap.String("session_id", id),
			zap.Error(err),
		)
	}
}

// classify maps a processing error to a status and client message.
func (s *Server) classify(err error) (int, string) {
	switch {
	case errors.Is(err, listing.ErrMissingURL):
		return http.StatusBadRequest, listing.ErrMissingURL.Error()
	case errors.Is(err, listing.ErrInvalidURL):
		return http.StatusBadRequest, s.processor.InvalidURLMessage()
	case errors.Is(err, listing.ErrNoImages):
		return http.StatusNotFound, msgNoImages
	case errors.Is(err, listing.ErrNoItemsFetched):
		return http.StatusInternalServerError, msgNoItemsFetched
	default:
		return http.StatusInternalServerError, msgProcessFailed
	}
}

func outcomeLabel(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "no_images"
	case status < http.StatusInternalServerError:
		return "rejected"
	default:
		return "failed"
	}
}

// downloadPath keeps clients on the prefix they called.
func downloadPath(r *http.Request, id string) string {
	path := "/download/" + id
	if strings.HasPrefix(r.URL.Path, apiPrefix+"/") {
		return apiPrefix + path
	}
	return path
}

type extractRequest struct {
	URL string `json:"url"`
}

type extractResponse struct {
	Success        bool   `json:"success"`
	Title          string `json:"title"`
	ImageCount     int    `json:"imageCount"`
	DownloadURL    string `json:"downloadUrl"`
	SanitizedTitle string `json:"sanitizedTitle"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, msgInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware bounds the request context. Handlers see the deadline
// through ctx; a zero duration disables it.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
