package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/jobs"
	"github.com/clubinhonerd/clubinhonerd/internal/logging"
	"github.com/clubinhonerd/clubinhonerd/internal/media"
	"github.com/clubinhonerd/clubinhonerd/internal/notification"
	"github.com/clubinhonerd/clubinhonerd/internal/urls"
)

type adminIndexPage struct {
	Courses       []*database.Course
	Jobs          []jobs.Status
	Providers     []string
	Stopped       bool
	Notifications []*database.NotificationLog
}

// AdminIndex lists the courses along with the job and notification status
func (h *Handlers) AdminIndex(w http.ResponseWriter, r *http.Request) {
	list, err := h.db.ListCourses()
	if err != nil {
		h.serverError(w, r, err, "Failed to list courses")
		return
	}

	page := adminIndexPage{Courses: list}
	if h.jobs != nil {
		page.Jobs = h.jobs.Statuses()
	}
	if h.notificationMgr != nil {
		page.Providers = h.notificationMgr.ListProviders()
		page.Stopped = !h.notificationMgr.IsRunning()
	}
	page.Notifications, err = h.db.ListNotificationLogs(20)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list notification logs")
	}

	h.render(w, r, "admin/index.html", page)
}

// adminCourse loads the {id} course for admin pages, answering 404 itself
func (h *Handlers) adminCourse(w http.ResponseWriter, r *http.Request) (*database.Course, bool) {
	id, err := idParam(r, "id")
	if err != nil {
		h.notFound(w, r)
		return nil, false
	}
	course, err := h.db.GetCourse(id)
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

type adminCoursePage struct {
	Course        *database.Course // nil when creating
	Form          courseForm
	Errors        FieldErrors
	Enrollments   []*database.EnrollmentWithUser
	Announcements []*database.Announcement
}

// AdminCourseNew renders the empty course form
func (h *Handlers) AdminCourseNew(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "admin/course.html", adminCoursePage{})
}

// AdminCourseCreate creates a course, with an optional image upload
func (h *Handlers) AdminCourseCreate(w http.ResponseWriter, r *http.Request) {
	form := parseCourseForm(r)
	if errs := validateForm(form); errs.Any() {
		h.renderStatus(w, r, http.StatusBadRequest, "admin/course.html", adminCoursePage{Form: form, Errors: errs})
		return
	}

	course := &database.Course{}
	form.apply(course)

	image, errs := h.saveCourseImage(r)
	if errs.Any() {
		h.renderStatus(w, r, http.StatusBadRequest, "admin/course.html", adminCoursePage{Form: form, Errors: errs})
		return
	}
	course.Image = image

	if err := h.db.CreateCourse(course); err != nil {
		h.discardImage(r, image)
		if errs := slugError(err); errs != nil {
			h.renderStatus(w, r, http.StatusBadRequest, "admin/course.html", adminCoursePage{Form: form, Errors: errs})
			return
		}
		h.serverError(w, r, err, "Failed to create course")
		return
	}

	log.Info().Str("course", course.Slug).Msg("Course created")
	h.flash(w, r, "Curso criado.")
	h.redirect(w, r, urls.BuildAdminCourse(course.ID))
}

// AdminCourseEdit renders a course's form with its enrollments and announcements
func (h *Handlers) AdminCourseEdit(w http.ResponseWriter, r *http.Request) {
	course, ok := h.adminCourse(w, r)
	if !ok {
		return
	}

	page, err := h.adminCoursePage(course, courseFormFrom(course), nil)
	if err != nil {
		h.serverError(w, r, err, "Failed to load course admin")
		return
	}
	h.render(w, r, "admin/course.html", page)
}

// slugError turns a slug conflict from saving a course into a form error
func slugError(err error) FieldErrors {
	switch {
	case errors.Is(err, database.ErrDuplicate):
		return FieldErrors{"slug": "Já existe um curso com este endereço."}
	case errors.Is(err, database.ErrEmptySlug):
		return FieldErrors{"slug": "Não foi possível gerar um endereço a partir do nome. Informe um endereço."}
	default:
		return nil
	}
}

func (h *Handlers) adminCoursePage(course *database.Course, form courseForm, errs FieldErrors) (adminCoursePage, error) {
	enrollments, err := h.db.ListEnrollmentsForCourse(course.ID)
	if err != nil {
		return adminCoursePage{}, err
	}
	announcements, err := h.db.ListAnnouncements(course.ID)
	if err != nil {
		return adminCoursePage{}, err
	}
	return adminCoursePage{
		Course:        course,
		Form:          form,
		Errors:        errs,
		Enrollments:   enrollments,
		Announcements: announcements,
	}, nil
}

// AdminCourseUpdate saves a course. A new image replaces the old one;
// the remove_image checkbox clears it.
func (h *Handlers) AdminCourseUpdate(w http.ResponseWriter, r *http.Request) {
	course, ok := h.adminCourse(w, r)
	if !ok {
		return
	}

	form := parseCourseForm(r)
	rerender := func(errs FieldErrors) {
		page, err := h.adminCoursePage(course, form, errs)
		if err != nil {
			h.serverError(w, r, err, "Failed to load course admin")
			return
		}
		h.renderStatus(w, r, http.StatusBadRequest, "admin/course.html", page)
	}

	if errs := validateForm(form); errs.Any() {
		rerender(errs)
		return
	}

	image, errs := h.saveCourseImage(r)
	if errs.Any() {
		rerender(errs)
		return
	}

	oldImage := course.Image
	updated := *course
	form.apply(&updated)
	switch {
	case image != "":
		updated.Image = image
	case r.PostFormValue("remove_image") == "on":
		updated.Image = ""
	}

	if err := h.db.UpdateCourse(&updated); err != nil {
		h.discardImage(r, image)
		if errs := slugError(err); errs != nil {
			rerender(errs)
			return
		}
		h.serverError(w, r, err, "Failed to update course")
		return
	}
	if oldImage != "" && oldImage != updated.Image {
		h.discardImage(r, oldImage)
	}

	log.Info().Str("course", updated.Slug).Msg("Course updated")
	h.flash(w, r, "Curso atualizado.")
	h.redirect(w, r, urls.BuildAdminCourse(updated.ID))
}

// AdminCourseDelete removes a course nobody references
func (h *Handlers) AdminCourseDelete(w http.ResponseWriter, r *http.Request) {
	course, ok := h.adminCourse(w, r)
	if !ok {
		return
	}

	err := h.db.DeleteCourse(course.ID)
	if errors.Is(err, database.ErrProtected) {
		h.flashErr(w, r, "Este curso tem inscrições ou anúncios e não pode ser removido.")
		h.redirect(w, r, urls.BuildAdminCourse(course.ID))
		return
	}
	if err != nil {
		h.serverError(w, r, err, "Failed to delete course")
		return
	}
	h.discardImage(r, course.Image)

	log.Info().Str("course", course.Slug).Msg("Course deleted")
	h.flash(w, r, "Curso removido.")
	h.redirect(w, r, urls.BuildAdmin())
}

// saveCourseImage stores the uploaded image field, if any, and returns its media key
func (h *Handlers) saveCourseImage(r *http.Request) (string, FieldErrors) {
	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return "", nil
	}
	if err != nil {
		return "", FieldErrors{"image": "Não foi possível ler a imagem enviada."}
	}
	defer file.Close()

	key, err := media.SaveImage(r.Context(), h.media, database.CourseImageDir, file)
	switch {
	case errors.Is(err, media.ErrTooLarge):
		return "", FieldErrors{"image": "A imagem deve ter no máximo 5 MB."}
	case errors.Is(err, media.ErrUnsupportedType):
		return "", FieldErrors{"image": "Envie uma imagem PNG, JPEG, GIF ou WebP."}
	case err != nil:
		log.Error().Err(err).Msg("Failed to store course image")
		return "", FieldErrors{"image": "Não foi possível salvar a imagem."}
	}
	return key, nil
}

func (h *Handlers) discardImage(r *http.Request, key string) {
	if key == "" {
		return
	}
	if err := h.media.Delete(r.Context(), key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to delete course image")
	}
}

type adminAnnouncementPage struct {
	Course *database.Course
	Form   announcementForm
	Errors FieldErrors
}

// AdminAnnouncementNew renders the announcement form for a course
func (h *Handlers) AdminAnnouncementNew(w http.ResponseWriter, r *http.Request) {
	course, ok := h.adminCourse(w, r)
	if !ok {
		return
	}
	h.render(w, r, "admin/announcement.html", adminAnnouncementPage{Course: course})
}

// AdminAnnouncementCreate posts an announcement and emails the enrollees
func (h *Handlers) AdminAnnouncementCreate(w http.ResponseWriter, r *http.Request) {
	course, ok := h.adminCourse(w, r)
	if !ok {
		return
	}

	form := parseAnnouncementForm(r)
	if errs := validateForm(form); errs.Any() {
		h.renderStatus(w, r, http.StatusBadRequest, "admin/announcement.html", adminAnnouncementPage{
			Course: course,
			Form:   form,
			Errors: errs,
		})
		return
	}

	announcement, err := h.courses.PostAnnouncement(course, form.Title, form.Content)
	if err != nil {
		h.serverError(w, r, err, "Failed to post announcement")
		return
	}

	h.flash(w, r, "Anúncio publicado.")
	h.redirect(w, r, urls.BuildAnnouncement(course.Slug, announcement.ID))
}

// AdminActivateEnrollment approves a pending enrollment
func (h *Handlers) AdminActivateEnrollment(w http.ResponseWriter, r *http.Request) {
	course, ok := h.adminCourse(w, r)
	if !ok {
		return
	}
	enrollmentID, err := idParam(r, "enrollmentID")
	if err != nil {
		h.notFound(w, r)
		return
	}

	if _, err := h.courses.Activate(course.ID, enrollmentID); err != nil {
		log.Error().Err(err).Int64("enrollment", enrollmentID).Msg("Failed to activate enrollment")
		h.flashErr(w, r, "Não foi possível aprovar a inscrição.")
		h.redirect(w, r, urls.BuildAdminCourse(course.ID))
		return
	}

	h.flash(w, r, "Inscrição aprovada.")
	h.redirect(w, r, urls.BuildAdminCourse(course.ID))
}

// AdminRunJob runs a housekeeping job immediately
func (h *Handlers) AdminRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		h.notFound(w, r)
		return
	}

	if err := h.jobs.RunNow(name); err != nil {
		h.flashErr(w, r, "Falha ao executar "+name+": "+err.Error())
	} else {
		h.flash(w, r, "Tarefa "+name+" executada.")
	}
	h.redirect(w, r, urls.BuildAdmin())
}

// SiteSettings holds the runtime settings editable from the admin
type SiteSettings struct {
	SiteName             string
	AutoApprove          bool
	NotificationsEnabled bool
	WebhookURL           string
	WebhookBody          string
	WebhookHeaders       string
	LogLevel             string
}

// AdminSettingsPage renders the runtime settings form
func (h *Handlers) AdminSettingsPage(w http.ResponseWriter, r *http.Request) {
	settings := SiteSettings{
		SiteName:             h.loader.String("site.name", "Clubinho Nerd"),
		AutoApprove:          h.loader.Bool("enrollment.auto_approve", true),
		NotificationsEnabled: h.loader.Bool("notifications.enabled", true),
		WebhookURL:           h.loader.String(notification.SettingWebhookURL, ""),
		WebhookBody:          h.loader.String(notification.SettingWebhookBody, notification.DefaultWebhookBody()),
		WebhookHeaders:       h.loader.String(notification.SettingWebhookHeaders, ""),
		LogLevel:             h.loader.String("log.level", "info"),
	}
	h.render(w, r, "admin/settings.html", settings)
}

// AdminSettingsUpdate saves the runtime settings
func (h *Handlers) AdminSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	siteName := strings.TrimSpace(r.PostFormValue("site_name"))
	webhookURL := strings.TrimSpace(r.PostFormValue("webhook_url"))
	webhookBody := strings.TrimSpace(r.PostFormValue("webhook_body"))
	logLevel := r.PostFormValue("log_level")

	if siteName == "" {
		h.flashErr(w, r, "O nome do site é obrigatório.")
		h.redirect(w, r, urls.BuildAdminSettings())
		return
	}
	if webhookURL != "" {
		if err := validate.Var(webhookURL, "url"); err != nil {
			h.flashErr(w, r, "URL do webhook inválida.")
			h.redirect(w, r, urls.BuildAdminSettings())
			return
		}
	}
	if err := notification.ValidateWebhookBody(webhookBody); err != nil {
		h.flashErr(w, r, "Modelo do webhook inválido: "+err.Error())
		h.redirect(w, r, urls.BuildAdminSettings())
		return
	}
	switch logLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		logLevel = "info"
	}

	strSettings := map[string]string{
		"site.name": siteName,
		"log.level": logLevel,
	}
	if webhookURL != "" {
		strSettings[notification.SettingWebhookURL] = webhookURL
		strSettings[notification.SettingWebhookBody] = webhookBody
		strSettings[notification.SettingWebhookHeaders] = strings.TrimSpace(r.PostFormValue("webhook_headers"))
	} else {
		// Clearing the URL turns the webhook off, so drop its template too
		for _, key := range []string{notification.SettingWebhookURL, notification.SettingWebhookBody, notification.SettingWebhookHeaders} {
			if err := h.db.DeleteSetting(key); err != nil {
				h.serverError(w, r, err, "Failed to clear setting")
				return
			}
		}
	}
	for key, value := range strSettings {
		if err := h.db.SetSetting(key, value); err != nil {
			h.serverError(w, r, err, "Failed to save setting")
			return
		}
	}

	boolSettings := map[string]bool{
		"enrollment.auto_approve": r.PostFormValue("auto_approve") == "on",
		"notifications.enabled":   r.PostFormValue("notifications_enabled") == "on",
	}
	for key, value := range boolSettings {
		if err := h.db.SetSettingJSON(key, value); err != nil {
			h.serverError(w, r, err, "Failed to save setting")
			return
		}
	}

	logging.SetLevel(logLevel)
	log.Info().Msg("Site settings updated")
	h.flash(w, r, "Configurações salvas.")
	h.redirect(w, r, urls.BuildAdminSettings())
}
