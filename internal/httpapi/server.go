// Package httpapi exposes the pipeline over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/pipeline"
	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultMaxTextBytes   = 5 << 20
	defaultRequestTimeout = 60 * time.Second
)

// Pipeline is the job service behind the API.
type Pipeline interface {
	Submit(ctx context.Context, req core.TTSRequest, requester core.Requester) (*core.SynthesisJob, error)
	Regenerate(ctx context.Context, jobID string, requester core.Requester) (*core.SynthesisJob, error)
	Get(ctx context.Context, jobID string, requester core.Requester) (*core.SynthesisJob, error)
	Delete(ctx context.Context, jobID string, requester core.Requester) error
	OpenArtifact(ctx context.Context, jobID string, segment int, requester core.Requester) (*pipeline.Artifact, error)
}

// VoiceCatalog lists the voices each engine can serve.
type VoiceCatalog interface {
	DefaultVoice() string
	Voices() map[string][]string
}

// Options tunes the server. Zero values select defaults.
type Options struct {
	MaxTextBytes   int64
	RequestTimeout time.Duration
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	router       *chi.Mux
	pipeline     Pipeline
	texts        core.TextRepository
	voices       VoiceCatalog
	log          *logger.Logger
	maxTextBytes int64
	timeout      time.Duration
}

// NewServer creates the server and registers its routes.
func NewServer(jobs Pipeline, texts core.TextRepository, voices VoiceCatalog, log *logger.Logger, opts Options) *Server {
	if opts.MaxTextBytes <= 0 {
		opts.MaxTextBytes = defaultMaxTextBytes
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	server := &Server{
		router:       chi.NewRouter(),
		pipeline:     jobs,
		texts:        texts,
		voices:       voices,
		log:          log,
		maxTextBytes: opts.MaxTextBytes,
		timeout:      opts.RequestTimeout,
	}

	server.registerRoutes()

	return server
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.health)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Use(requireRequester)

		r.Get("/voices", s.listVoices)
		r.Post("/texts", s.createText)

		r.Route("/audios", func(r chi.Router) {
			r.Post("/synthesize", s.synthesize)
			r.Get("/{id}", s.getJob)
			r.Get("/{id}/status", s.getStatus)
			r.Post("/{id}/regenerate", s.regenerate)
			r.Delete("/{id}", s.deleteJob)
			r.Get("/{id}/stream", s.streamAudio)
			r.Get("/{id}/segments/{index}/stream", s.streamSegment)
		})
	})
}
