package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/auth"
	"github.com/clubinhonerd/clubinhonerd/internal/config"
	"github.com/clubinhonerd/clubinhonerd/internal/courses"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/jobs"
	"github.com/clubinhonerd/clubinhonerd/internal/media"
	"github.com/clubinhonerd/clubinhonerd/internal/notification"
	"github.com/clubinhonerd/clubinhonerd/internal/urls"
	"github.com/clubinhonerd/clubinhonerd/internal/web/handlers"
	"github.com/clubinhonerd/clubinhonerd/internal/web/live"
	"github.com/clubinhonerd/clubinhonerd/internal/web/middleware"
)

//go:embed templates/html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// maxRequestBody bounds request bodies, image uploads included
const maxRequestBody = media.MaxImageSize + 1<<20

// Server represents the web server
type Server struct {
	cfg             *config.Config
	db              *database.DB
	router          *chi.Mux
	templates       map[string]*template.Template
	templateFS      fs.FS
	authService     *auth.AuthService
	courses         *courses.Service
	media           media.Store
	cookies         *sessions.CookieStore
	hub             *live.Hub
	jobs            *jobs.Runner
	notificationMgr *notification.Manager
	adminNets       []*net.IPNet
	handlers        *handlers.Handlers
	stopOnce        sync.Once
}

// NewServer creates a new web server. Comments posted through courseService
// should be published to hub.
func NewServer(cfg *config.Config, db *database.DB, store media.Store, courseService *courses.Service, hub *live.Hub) (*Server, error) {
	adminNets, err := middleware.ParseSubnets(cfg.AdminSubnets)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		db:          db,
		router:      chi.NewRouter(),
		authService: auth.NewAuthService(db),
		courses:     courseService,
		media:       store,
		cookies:     middleware.NewCookieStore(cfg.SecretKey, !cfg.Dev && !cfg.Debug),
		hub:         hub,
		adminNets:   adminNets,
	}

	if cfg.Dev {
		s.templateFS = devTemplateFS(cfg.TemplateDir)
	} else {
		s.templateFS, err = fs.Sub(templatesFS, "templates/html")
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded templates: %w", err)
		}
	}

	s.templates, err = loadTemplates(s.templateFS, s.templateFuncMap())
	if err != nil {
		return nil, err
	}

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// AuthService returns the server's auth service
func (s *Server) AuthService() *auth.AuthService {
	return s.authService
}

// SetJobRunner sets the housekeeping runner shown on the admin page
func (s *Server) SetJobRunner(runner *jobs.Runner) {
	s.jobs = runner
	if s.handlers != nil {
		s.handlers.SetJobRunner(runner)
	}
}

// SetNotificationManager sets the notification manager
func (s *Server) SetNotificationManager(mgr *notification.Manager) {
	s.notificationMgr = mgr
	if s.handlers != nil {
		s.handlers.SetNotificationManager(mgr)
	}
}

// SetVersionInfo sets the version shown in the footer
func (s *Server) SetVersionInfo(version, commit, date string) {
	s.handlers.SetVersionInfo(version, commit, date)
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() error {
	r := s.router
	timeout := config.GetTimeouts().Request
	loginPath := s.cfg.LoginPath()

	// Global middleware (applied to all routes, except timeout which is per-group)
	r.Use(chimiddleware.RequestID)
	// PeerAddr must come BEFORE RealIP so the admin subnet check sees the actual connection source
	r.Use(middleware.PeerAddr)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestSize(maxRequestBody))
	r.Use(middleware.CSRF(s.cookies))
	r.Use(middleware.LoadUser(s.authService, !s.cfg.Dev && !s.cfg.Debug))
	// Note: Timeout middleware is applied per-group, not globally, to allow websocket long-lived connections

	h := handlers.New(s.cfg, s.db, s.templates, s.authService, s.courses, s.media, s.cookies, s.hub)
	s.handlers = h
	if s.jobs != nil {
		h.SetJobRunner(s.jobs)
	}
	if s.notificationMgr != nil {
		h.SetNotificationManager(s.notificationMgr)
	}

	r.NotFound(h.NotFound)

	// Live comments - no timeout (long-lived connections)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireLogin(loginPath))
		r.Get("/courses/{slug}/announcements/{id}/live", h.AnnouncementLive)
	})

	// Static files
	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		return fmt.Errorf("failed to setup static files: %w", err)
	}
	staticPrefix := ensureSlash(s.cfg.StaticURL)
	r.Handle(staticPrefix+"*", http.StripPrefix(staticPrefix, noDirListing(http.FileServer(http.FS(staticContent)))))

	// Uploaded media, when it lives on local disk
	if local, ok := s.media.(*media.LocalStore); ok && strings.HasPrefix(s.cfg.MediaURL, "/") {
		mediaPrefix := ensureSlash(s.cfg.MediaURL)
		r.Handle(mediaPrefix+"*", http.StripPrefix(mediaPrefix, noDirListing(http.FileServer(http.Dir(local.Root())))))
	}

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(timeout))
		r.Get(urls.BuildHome(), h.Home)
		r.Get("/courses", redirectTo(urls.BuildCourses()))
		r.Get("/courses/", h.CourseIndex)
		r.Get("/courses/{slug}", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, urls.BuildCourseDetails(chi.URLParam(r, "slug")), http.StatusMovedPermanently)
		})
		r.Get("/courses/{slug}/", h.CourseDetails)
		r.Post("/courses/{slug}/contact", h.Contact)

		r.Get("/accounts/login", h.LoginPage)
		r.Post("/accounts/login", h.LoginSubmit)
		r.Get("/accounts/logout", h.Logout)
		r.Post("/accounts/logout", h.Logout)
		r.Get("/accounts/register", h.RegisterPage)
		r.Post("/accounts/register", h.RegisterSubmit)
	})

	// JSON API, readable from other origins
	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(timeout))
		r.Use(cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
		}).Handler)
		r.Get("/courses", h.APICourses)
	})

	// Routes for logged-in users
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(timeout))
		r.Use(middleware.RequireLogin(loginPath))

		r.Post("/courses/{slug}/enroll", h.Enroll)
		r.Post("/courses/{slug}/cancel", h.CancelEnrollment)
		r.Get("/courses/{slug}/announcements", h.Announcements)
		r.Get("/courses/{slug}/announcements/{id}", h.AnnouncementDetail)
		r.Post("/courses/{slug}/announcements/{id}/comments", h.CommentSubmit)

		r.Get("/accounts/dashboard", h.Dashboard)
		r.Get("/accounts/edit", h.EditProfilePage)
		r.Post("/accounts/edit", h.EditProfileSubmit)
		r.Get("/accounts/password", h.ChangePasswordPage)
		r.Post("/accounts/password", h.ChangePasswordSubmit)
	})

	// Staff admin
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowSubnets(s.adminNets))
		r.Use(chimiddleware.Timeout(timeout))
		r.Use(middleware.RequireLogin(loginPath))
		r.Use(middleware.RequireStaff)

		r.Get("/", h.AdminIndex)
		r.Get("/settings", h.AdminSettingsPage)
		r.Post("/settings", h.AdminSettingsUpdate)
		r.Post("/jobs/{name}/run", h.AdminRunJob)

		r.Route("/courses", func(r chi.Router) {
			r.Get("/new", h.AdminCourseNew)
			r.Post("/new", h.AdminCourseCreate)
			r.Get("/{id}", h.AdminCourseEdit)
			r.Post("/{id}", h.AdminCourseUpdate)
			r.Post("/{id}/delete", h.AdminCourseDelete)
			r.Get("/{id}/announcements/new", h.AdminAnnouncementNew)
			r.Post("/{id}/announcements/new", h.AdminAnnouncementCreate)
			r.Post("/{id}/enrollments/{enrollmentID}/activate", h.AdminActivateEnrollment)
		})
	})

	return nil
}

func redirectTo(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	}
}

// noDirListing answers 404 for directory paths instead of listing them
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ensureSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// Start starts the web server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Addr()

	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow websocket long-lived connections
		// Chi middleware timeout protects regular requests
		WriteTimeout: 0,
		// IdleTimeout for keep-alive connections between requests
		IdleTimeout: 120 * time.Second,
	}

	if s.cfg.Dev {
		go s.watchTemplates(ctx)
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop the live hub first to close all sockets gracefully
		s.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetTimeouts().Shutdown)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.Stop()
		return err
	}
}

// Stop closes the live comment sockets
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.hub != nil {
			s.hub.Stop()
		}
	})
}
