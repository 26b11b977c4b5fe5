package http

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"livespese/internal/cache"
	applog "livespese/internal/log"
	"livespese/internal/middleware/ratelimit"
	"livespese/internal/middleware/security"
	"livespese/internal/middleware/trace"
	"livespese/internal/storage"
	"livespese/internal/view"
	appweb "livespese/web"
)

// Options configures NewServer.
type Options struct {
	Store      storage.DocumentStore
	Collection string
	// Ping checks the backend for /readyz. Nil means nothing to check.
	Ping func(ctx context.Context) error

	// BaseContext bounds every session's live subscription. Defaults to
	// context.Background.
	BaseContext context.Context
	Logger      *applog.Logger

	SessionTTL         time.Duration
	MaxSessions        int
	RateLimitPerMinute int
	// CacheCleanupInterval is how often expired sessions are swept.
	CacheCleanupInterval time.Duration

	// loadWait bounds how long a page render waits for the first snapshot.
	loadWait time.Duration
}

// Server serves the expense list UI.
type Server struct {
	http.Server

	templates   renderer
	sessions    *sessionRegistry
	cacheMgr    *cache.Manager
	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	tracer      *trace.Middleware
	ping        func(ctx context.Context) error
	logger      *applog.Logger
	collection  string
	loadWait    time.Duration

	// streamsDone ends open event streams on shutdown.
	streamsDone  chan struct{}
	shutdownOnce sync.Once
	metrics      appMetrics
}

type appMetrics struct {
	startedAt     time.Time
	itemsAdded    atomic.Int64
	itemsDeleted  atomic.Int64
	addFailures   atomic.Int64
	deleteFailure atomic.Int64
	openStreams   atomic.Int64
}

// NewServer configures routes, middleware and the session registry.
func NewServer(addr string, opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("http server requires a document store")
	}
	if opts.Collection == "" {
		return nil, errors.New("http server requires a collection name")
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = applog.Default()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 500
	}
	if opts.CacheCleanupInterval <= 0 {
		opts.CacheCleanupInterval = time.Minute
	}
	if opts.loadWait <= 0 {
		opts.loadWait = time.Second
	}

	t, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.WithComponent(applog.ComponentHTTP)
	viewLogger := opts.Logger.WithComponent(applog.ComponentView)
	s := &Server{
		templates:   renderer{templates: t},
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:    security.NewDetector(),
		ping:        opts.Ping,
		logger:      logger,
		collection:  opts.Collection,
		loadWait:    opts.loadWait,
		streamsDone: make(chan struct{}),
		metrics:     appMetrics{startedAt: time.Now()},
	}
	s.tracer = trace.NewMiddleware(opts.Logger, s.detector.ExtractClientIP)
	s.sessions = newSessionRegistry(opts.BaseContext, opts.MaxSessions, opts.SessionTTL, func() *view.Controller {
		return view.New(opts.Store, opts.Collection, view.WithLogger(viewLogger))
	}, opts.Logger)

	s.cacheMgr = cache.NewManager(opts.Logger.WithComponent(applog.ComponentCache).Slog())
	s.cacheMgr.Register(s.sessions.controllers)
	s.cacheMgr.StartCleanup(opts.CacheCleanupInterval)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Event streams clear their own write deadline.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.PathPrefix("/static/").Handler(security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	app := func(path string, h http.HandlerFunc) *mux.Route {
		return r.Handle(path, security.NoStoreMiddleware(h))
	}
	app("/", s.handleIndex).Methods(http.MethodGet, http.MethodHead)
	app("/draft", s.handleDraft).Methods(http.MethodPost)
	app("/items", s.handleAddItem).Methods(http.MethodPost)
	app("/items/{id}/delete", s.handleRequestDelete).Methods(http.MethodPost)
	app("/items/{id}/delete/confirm", s.handleConfirmDelete).Methods(http.MethodPost)
	app("/delete/cancel", s.handleCancelDelete).Methods(http.MethodPost)
	app("/alert/dismiss", s.handleDismissAlert).Methods(http.MethodPost)
	app("/events", s.handleEvents).Methods(http.MethodGet)
	app("/api/items", s.handleAPIItems).Methods(http.MethodGet)

	var h http.Handler = r
	h = s.rateLimiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.detector.Middleware(s.logger)(h)
	h = s.tracer.Middleware(h)
	return h
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Too many requests. Please slow down.").Write(w)
}

// Shutdown ends open event streams, drains the HTTP server and stops every
// session's subscription.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.streamsDone)
		shutdownErr = s.Server.Shutdown(ctx)

		n := s.sessions.closeAll()
		s.cacheMgr.Stop()
		s.rateLimiter.Stop()
		s.logger.Info("HTTP server stopped",
			applog.FieldOperation, applog.OpShutdown,
			"sessions_closed", n)
	})
	return shutdownErr
}

// Run serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.Addr, applog.FieldOperation, applog.OpStartup)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen on %s: %w", s.Addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

// templatesLoaded is used by readiness.
func (s *Server) templatesLoaded() bool {
	return s.templates.templates != nil && s.templates.templates.Lookup(pageIndex) != nil
}
