package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/auth"
	"github.com/clubinhonerd/clubinhonerd/internal/config"
	"github.com/clubinhonerd/clubinhonerd/internal/courses"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/jobs"
	"github.com/clubinhonerd/clubinhonerd/internal/media"
	"github.com/clubinhonerd/clubinhonerd/internal/notification"
	"github.com/clubinhonerd/clubinhonerd/internal/web/live"
	"github.com/clubinhonerd/clubinhonerd/internal/web/middleware"
)

const (
	flashKey    = "flash"
	flashErrKey = "flash_err"
)

// VersionInfo holds application version information
type VersionInfo struct {
	Version       string
	Commit        string
	StaticVersion string // Cache-busting version for static files (empty in dev mode)
	Date          string // Formatted date for display
}

// Handlers contains all HTTP handlers
type Handlers struct {
	cfg             *config.Config
	db              *database.DB
	loader          *config.Loader
	templates       map[string]*template.Template
	templatesMu     sync.RWMutex
	authService     *auth.AuthService
	courses         *courses.Service
	media           media.Store
	sessions        sessions.Store
	hub             *live.Hub
	jobs            *jobs.Runner
	notificationMgr *notification.Manager
	versionInfo     VersionInfo
	versionMu       sync.RWMutex
}

// New creates a new Handlers instance
func New(cfg *config.Config, db *database.DB, templates map[string]*template.Template, authService *auth.AuthService, courseService *courses.Service, store media.Store, cookieStore sessions.Store, hub *live.Hub) *Handlers {
	return &Handlers{
		cfg:         cfg,
		db:          db,
		loader:      config.NewLoader(db),
		templates:   templates,
		authService: authService,
		courses:     courseService,
		media:       store,
		sessions:    cookieStore,
		hub:         hub,
	}
}

// SetTemplates swaps the parsed templates, used when they are reloaded in dev mode
func (h *Handlers) SetTemplates(templates map[string]*template.Template) {
	h.templatesMu.Lock()
	h.templates = templates
	h.templatesMu.Unlock()
}

// SetJobRunner sets the housekeeping job runner shown on the admin page
func (h *Handlers) SetJobRunner(runner *jobs.Runner) {
	h.jobs = runner
}

// SetNotificationManager sets the notification manager
func (h *Handlers) SetNotificationManager(mgr *notification.Manager) {
	h.notificationMgr = mgr
}

// SetVersionInfo sets the application version information
func (h *Handlers) SetVersionInfo(version, commit, date string) {
	// Parse and format the date to be human-readable
	formattedDate := date
	if t, err := time.Parse(time.RFC3339, date); err == nil {
		formattedDate = t.Format("02/01/2006 15:04 MST")
	}

	// Only set StaticVersion for non-dev builds (enables browser caching)
	staticVersion := ""
	if version != "0.0.0-dev" && commit != "none" && commit != "" {
		staticVersion = commit
	}

	h.versionMu.Lock()
	h.versionInfo = VersionInfo{
		Version:       version,
		Commit:        commit,
		StaticVersion: staticVersion,
		Date:          formattedDate,
	}
	h.versionMu.Unlock()
}

// getVersionInfo returns a copy of the version info (thread-safe)
func (h *Handlers) getVersionInfo() VersionInfo {
	h.versionMu.RLock()
	defer h.versionMu.RUnlock()
	return h.versionInfo
}

// PageData contains common data for all pages
type PageData struct {
	Title     string
	SiteName  string
	User      *database.User
	Flash     string
	FlashErr  string
	CSRFToken string
	Path      string
	Content   any
	Version   VersionInfo
}

func (h *Handlers) siteName() string {
	return h.loader.String("site.name", "Clubinho Nerd")
}

// render renders a template with common data
func (h *Handlers) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	h.renderStatus(w, r, http.StatusOK, name, data)
}

func (h *Handlers) renderStatus(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	pageData := PageData{
		SiteName:  h.siteName(),
		User:      middleware.GetUser(r.Context()),
		CSRFToken: middleware.CSRFToken(r.Context()),
		Path:      r.URL.RequestURI(),
		Content:   data,
		Version:   h.getVersionInfo(),
	}
	pageData.Title = pageData.SiteName
	pageData.Flash, pageData.FlashErr = h.takeFlashes(w, r)

	h.templatesMu.RLock()
	tmpl, ok := h.templates[name]
	h.templatesMu.RUnlock()
	if !ok {
		log.Error().Str("template", name).Msg("Template not found")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", pageData); err != nil {
		log.Error().Err(err).Str("template", name).Msg("Failed to render template")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// takeFlashes pops the pending flash messages from the cookie session
func (h *Handlers) takeFlashes(w http.ResponseWriter, r *http.Request) (string, string) {
	sess, err := h.sessions.Get(r, middleware.CookieSessionName)
	if err != nil && sess == nil {
		return "", ""
	}

	flashes := sess.Flashes(flashKey)
	errs := sess.Flashes(flashErrKey)
	if len(flashes) == 0 && len(errs) == 0 {
		return "", ""
	}
	if err := sess.Save(r, w); err != nil {
		log.Error().Err(err).Msg("Failed to save cookie session")
	}
	return joinFlashes(flashes), joinFlashes(errs)
}

func joinFlashes(values []any) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func (h *Handlers) addFlash(w http.ResponseWriter, r *http.Request, key, message string) {
	sess, err := h.sessions.Get(r, middleware.CookieSessionName)
	if err != nil && sess == nil {
		log.Error().Err(err).Msg("Failed to load cookie session")
		return
	}
	sess.AddFlash(message, key)
	if err := sess.Save(r, w); err != nil {
		log.Error().Err(err).Msg("Failed to save cookie session")
	}
}

// flash sets a flash message
func (h *Handlers) flash(w http.ResponseWriter, r *http.Request, message string) {
	h.addFlash(w, r, flashKey, message)
}

// flashErr sets an error flash message
func (h *Handlers) flashErr(w http.ResponseWriter, r *http.Request, message string) {
	h.addFlash(w, r, flashErrKey, message)
}

// redirect redirects to a URL
func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, url string) {
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// notFound renders the not found page
func (h *Handlers) notFound(w http.ResponseWriter, r *http.Request) {
	h.renderStatus(w, r, http.StatusNotFound, "error.html", errorPage{
		Status:  http.StatusNotFound,
		Message: "Página não encontrada.",
	})
}

// serverError logs err and renders the generic error page
func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	h.renderStatus(w, r, http.StatusInternalServerError, "error.html", errorPage{
		Status:  http.StatusInternalServerError,
		Message: "Algo deu errado. Tente novamente mais tarde.",
	})
}

type errorPage struct {
	Status  int
	Message string
}

// NotFound is the router's fallback handler
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.notFound(w, r)
}

// jsonError sends a JSON error response
func (h *Handlers) jsonError(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}

func (h *Handlers) jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

// applyCookieSecurity sets Secure/SameSite defaults based on environment.
func (h *Handlers) applyCookieSecurity(c *http.Cookie) {
	if h.cfg.Dev || h.cfg.Debug {
		if c.SameSite == 0 {
			c.SameSite = http.SameSiteLaxMode
		}
		return
	}
	c.Secure = true
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
}

// courseFromURL loads the course named by the {slug} URL parameter,
// answering 404 itself when there is none
func (h *Handlers) courseFromURL(w http.ResponseWriter, r *http.Request) (*database.Course, bool) {
	course, err := h.db.GetCourseBySlug(chiParam(r, "slug"))
	if err != nil {
		h.serverError(w, r, err, "Failed to load course")
		return nil, false
	}
	if course == nil {
		h.notFound(w, r)
		return nil, false
	}
	return course, true
}

func chiParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// idParam parses a numeric URL parameter
func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chiParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
