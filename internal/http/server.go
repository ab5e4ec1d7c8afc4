package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movietn/internal/config"
	"github.com/Clark-Hu/movietn/internal/domain"
	"github.com/Clark-Hu/movietn/internal/logging"
	"github.com/Clark-Hu/movietn/internal/metrics"
	"github.com/Clark-Hu/movietn/internal/review"
	"github.com/Clark-Hu/movietn/internal/store"
)

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// poolStater is implemented by *store.Store.
type poolStater interface {
	Stats() store.PoolStats
}

// ReviewService is the application surface the handlers call.
type ReviewService interface {
	RecordReview(ctx context.Context, p review.RecordReviewParams) (domain.ReviewResult, error)
	EditReview(ctx context.Context, p review.EditReviewParams) (domain.ReviewResult, error)
	RemoveReview(ctx context.Context, reviewID, userID string) error
	Recommend(ctx context.Context, movieID, userID string, amount int) ([]domain.MovieSummary, error)
	GetReview(ctx context.Context, reviewID string) (domain.Review, error)
	ListMovieReviews(ctx context.Context, movieID string) ([]domain.Review, error)
	GetMovie(ctx context.Context, movieID string) (domain.MovieSummary, error)
	GetMovies(ctx context.Context, ids []string) ([]domain.MovieSummary, error)
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	health   HealthChecker
	svc      ReviewService
	logger   zerolog.Logger
	validate *validator.Validate
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, health HealthChecker, svc ReviewService, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "http").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	s := &Server{
		cfg:      cfg,
		health:   health,
		svc:      svc,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/reviews", func(r chi.Router) {
		r.With(s.requireToken, s.requireUser).Post("/", s.handleRecordReview)
		r.Route("/{reviewID}", func(r chi.Router) {
			r.Get("/", s.handleGetReview)
			r.With(s.requireToken, s.requireUser).Put("/", s.handleEditReview)
			r.With(s.requireToken, s.requireUser).Delete("/", s.handleRemoveReview)
		})
	})
	s.router.Route("/movies", func(r chi.Router) {
		r.Get("/", s.handleGetMovies)
		r.Route("/{movieID}", func(r chi.Router) {
			r.Get("/", s.handleGetMovie)
			r.Get("/reviews", s.handleListMovieReviews)
			r.With(s.requireUser).Get("/recommendations", s.handleRecommend)
		})
	})
}

// Start boots the HTTP server and blocks until ctx is done or serving fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted or exercised directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status string           `json:"status"`
	DB     *store.PoolStats `json:"db,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.HealthCheck(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("health check failed")
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Database unreachable")
		return
	}

	resp := healthResponse{Status: "ok"}
	if ps, ok := s.health.(poolStater); ok {
		stats := ps.Stats()
		resp.DB = &stats
	}
	s.respondJSON(w, http.StatusOK, resp)
}
