package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"taskqueue/internal/domain"
	"taskqueue/internal/ports"
	"taskqueue/internal/usecase"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Payload must be present; an empty string is a valid payload.
type createTaskReq struct {
	Payload *string `json:"payload" validate:"required"`
}

type errorResp struct {
	Detail string `json:"detail"`
}

type Server struct {
	router   *chi.Mux
	store    ports.TaskStore
	enq      usecase.Enqueuer
	validate *validator.Validate
}

// NewServer wires the task routes. gatherer backs /metrics.
func NewServer(store ports.TaskStore, pub ports.Publisher, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		store:    store,
		enq:      usecase.Enqueuer{Store: store, Pub: pub},
		validate: validator.New(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Post("/tasks", s.createTask)
	s.router.Get("/tasks/{id}", s.getTask)
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Detail: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResp{Detail: err.Error()})
		return
	}

	t, _, err := s.enq.Submit(r.Context(), *req.Payload)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("error creating task")
		writeJSON(w, http.StatusInternalServerError, errorResp{Detail: "Failed to create task"})
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Detail: "Invalid task ID format"})
		return
	}

	t, err := s.store.Get(r.Context(), id)
	if errors.Is(err, domain.ErrTaskNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp{Detail: "Task not found"})
		return
	}
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("task_id", id).Msg("error getting task")
		writeJSON(w, http.StatusInternalServerError, errorResp{Detail: "Failed to get task"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger attaches a request-scoped zerolog logger to the context and
// logs each completed request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Run method of the Server struct runs the HTTP server on the specified port
// until SIGINT or SIGTERM, then shuts it down gracefully.
func (s *Server) Run(port int) {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}
