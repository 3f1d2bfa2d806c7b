package web

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"

	"schoolcal/internal/config"
	"schoolcal/internal/ics"
	appLog "schoolcal/internal/log"
	"schoolcal/internal/store"
)

// FeedSyncer runs a holiday feed import on demand.
type FeedSyncer interface {
	Sync(ctx context.Context) (ics.SyncReport, error)
}

// Options wires a Server.
type Options struct {
	Config *config.Config
	Repo   store.Repository
	// Syncer is optional; without it POST /api/feeds/sync reports nothing
	// to do.
	Syncer FeedSyncer
	Debug  bool
}

// Server serves the calendar API.
type Server struct {
	cfg    *config.Config
	repo   store.Repository
	syncer FeedSyncer
	loc    *time.Location
	app    *echo.Echo
	now    func() time.Time

	// occMu guards occCache, keyed by school then query.
	occMu    sync.RWMutex
	occCache map[string]map[string]occurrencesCacheEntry
}

// NewServer constructs a Server with routes and middleware registered.
func NewServer(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:      cfg,
		repo:     opts.Repo,
		syncer:   opts.Syncer,
		loc:      cfg.Location(),
		app:      echo.New(),
		now:      time.Now,
		occCache: make(map[string]map[string]occurrencesCacheEntry),
	}
	s.setup(opts.Debug)
	return s
}

func (s *Server) setup(debug bool) {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Debug = debug
	s.app.HTTPErrorHandler = newHTTPErrorHandler()

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recover())
	s.app.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			appLog.Debug("http request",
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency.String(),
				"request_id", v.RequestID,
			)
			return nil
		},
	}))
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		s.app.Use(middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
			Skipper:   func(c echo.Context) bool { return c.Request().URL.Path == "/health" },
			Validator: s.checkCredentials,
			Realm:     "schoolcal",
		}))
	}

	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)

	api := s.app.Group("/api")
	api.POST("/feeds/sync", s.handleFeedSync)

	school := api.Group("/schools/:school")
	school.GET("/events", s.handleListEvents)
	school.POST("/events", s.handleCreateEvent)
	school.POST("/events/validate", s.handleValidateEvent)
	school.GET("/events/:id", s.handleGetEvent)
	school.PUT("/events/:id", s.handleUpdateEvent)
	school.DELETE("/events/:id", s.handleDeleteEvent)
	school.POST("/events/:id/exceptions", s.handleAddException)
	school.GET("/occurrences", s.handleOccurrences)
	school.GET("/calendar.ics", s.handleCalendarICS)
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

// Start listens on the configured address. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "debug", s.app.Debug)
	return s.app.Start(s.cfg.Listen)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// checkCredentials accepts a plain configured password or a bcrypt hash of
// it.
func (s *Server) checkCredentials(username, password string, _ echo.Context) (bool, error) {
	want := s.cfg.BasicAuth
	if !secureCompare(username, want.Username) {
		return false, nil
	}
	if isBcryptHash(want.Password) {
		return bcrypt.CompareHashAndPassword([]byte(want.Password), []byte(password)) == nil, nil
	}
	return secureCompare(password, want.Password), nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}
