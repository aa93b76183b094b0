package web

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/markup"
	"github.com/clubinhonerd/clubinhonerd/internal/urls"
)

// pageTemplates are parsed one by one together with base.html and the partials
var pageTemplates = []string{
	"home.html",
	"courses.html",
	"details.html",
	"announcements.html",
	"announcement.html",
	"login.html",
	"register.html",
	"dashboard.html",
	"edit_profile.html",
	"change_password.html",
	"error.html",
	"admin/index.html",
	"admin/course.html",
	"admin/announcement.html",
	"admin/settings.html",
}

func (s *Server) templateFuncMap() template.FuncMap {
	funcs := sprig.FuncMap()

	custom := template.FuncMap{
		"formatTime": func(t time.Time) string {
			return t.Local().Format("02/01/2006 15:04")
		},
		"formatDate": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Format("02/01/2006")
		},
		"statusLabel": func(status database.EnrollmentStatus) string {
			switch status {
			case database.EnrollmentPending:
				return "Pendente"
			case database.EnrollmentApproved:
				return "Aprovada"
			case database.EnrollmentCancelled:
				return "Cancelada"
			}
			return status.String()
		},
		"markdown": markup.Markdown,
		"linkify":  markup.Linkify,
		"static": func(p string) string {
			return ensureSlash(s.cfg.StaticURL) + strings.TrimPrefix(p, "/")
		},
		"mediaURL": func(key string) string {
			if key == "" {
				return ""
			}
			return s.media.URL(key)
		},
		"reverse": func(name string, args ...string) (string, error) {
			return urls.Reverse(name, args...)
		},
		"absolute": urls.Absolute,

		"urlHome":                 urls.BuildHome,
		"urlCourses":              urls.BuildCourses,
		"urlCourseSearch":         urls.BuildCourseSearch,
		"urlDetails":              urls.BuildCourseDetails,
		"urlEnroll":               urls.BuildEnroll,
		"urlCancel":               urls.BuildCancelEnrollment,
		"urlContact":              urls.BuildContact,
		"urlAnnouncements":        urls.BuildAnnouncements,
		"urlAnnouncement":         urls.BuildAnnouncement,
		"urlComment":              urls.BuildComment,
		"urlCommentAnchor":        urls.BuildCommentAnchor,
		"urlLive":                 urls.BuildAnnouncementLive,
		"urlLogin":                urls.BuildLogin,
		"urlLogout":               urls.BuildLogout,
		"urlRegister":             urls.BuildRegister,
		"urlDashboard":            urls.BuildDashboard,
		"urlEditProfile":          urls.BuildEditProfile,
		"urlChangePassword":       urls.BuildChangePassword,
		"urlAdmin":                urls.BuildAdmin,
		"urlAdminSettings":        urls.BuildAdminSettings,
		"urlAdminRunJob":          urls.BuildAdminRunJob,
		"urlAdminCourseNew":       urls.BuildAdminCourseNew,
		"urlAdminCourse":          urls.BuildAdminCourse,
		"urlAdminCourseDelete":    urls.BuildAdminCourseDelete,
		"urlAdminAnnouncementNew": urls.BuildAdminAnnouncementNew,
		"urlAdminActivate":        urls.BuildAdminActivateEnrollment,
		"urlAPICourses":           urls.BuildAPICourses,
	}
	for name, fn := range custom {
		funcs[name] = fn
	}
	return funcs
}

// loadTemplates parses every page template.
// Each page template is parsed with the base template and partials.
func loadTemplates(fsys fs.FS, funcMap template.FuncMap) (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template, len(pageTemplates))

	for _, page := range pageTemplates {
		// Parse base template first, then partials, then the page template
		tmpl, err := template.New(path.Base(page)).Funcs(funcMap).ParseFS(fsys,
			"base.html",
			"partials/*.html",
			page,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		templates[page] = tmpl
	}
	return templates, nil
}

// devTemplateFS reads templates straight from disk so edits show up without a rebuild
func devTemplateFS(dir string) fs.FS {
	return os.DirFS(dir)
}

// watchTemplates reloads the templates from disk whenever a file under the
// template directory changes, until ctx is cancelled
func (s *Server) watchTemplates(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error().Err(err).Msg("Failed to start template watcher")
		return
	}
	defer watcher.Close()

	err = filepath.WalkDir(s.cfg.TemplateDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("dir", s.cfg.TemplateDir).Msg("Failed to watch templates")
		return
	}
	log.Info().Str("dir", s.cfg.TemplateDir).Msg("Watching templates for changes")

	// Editors save in bursts; reload once things settle
	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(event.Name, ".html") {
				reload = time.After(100 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Template watcher error")
		case <-reload:
			reload = nil
			s.reloadTemplates()
		}
	}
}

func (s *Server) reloadTemplates() {
	templates, err := loadTemplates(s.templateFS, s.templateFuncMap())
	if err != nil {
		// Keep serving the last good set
		log.Error().Err(err).Msg("Failed to reload templates")
		return
	}
	s.templates = templates
	s.handlers.SetTemplates(templates)
	log.Info().Msg("Templates reloaded")
}
