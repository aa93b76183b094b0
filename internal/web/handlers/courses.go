package handlers

import (
	"errors"
	"net/http"

	"github.com/clubinhonerd/clubinhonerd/internal/courses"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/urls"
	"github.com/clubinhonerd/clubinhonerd/internal/web/middleware"
)

type homePage struct {
	Courses []*database.Course
}

// Home renders the landing page with every course
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	list, err := h.db.ListCourses()
	if err != nil {
		h.serverError(w, r, err, "Failed to list courses")
		return
	}
	h.render(w, r, "home.html", homePage{Courses: list})
}

type courseIndexPage struct {
	Query   string
	Courses []*database.Course
}

// CourseIndex lists the courses, filtered by the q search parameter
func (h *Handlers) CourseIndex(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	list, err := h.db.SearchCourses(query)
	if err != nil {
		h.serverError(w, r, err, "Failed to search courses")
		return
	}
	h.render(w, r, "courses.html", courseIndexPage{Query: query, Courses: list})
}

type courseDetailsPage struct {
	Course        *database.Course
	Enrollment    *database.Enrollment
	CanView       bool
	Contact       contactForm
	ContactErrors FieldErrors
}

// CourseDetails renders a course page with the enrollment state and contact form
func (h *Handlers) CourseDetails(w http.ResponseWriter, r *http.Request) {
	course, ok := h.courseFromURL(w, r)
	if !ok {
		return
	}

	page, err := h.courseDetails(r, course)
	if err != nil {
		h.serverError(w, r, err, "Failed to load enrollment")
		return
	}
	h.render(w, r, "details.html", page)
}

func (h *Handlers) courseDetails(r *http.Request, course *database.Course) (courseDetailsPage, error) {
	page := courseDetailsPage{Course: course}
	user := middleware.GetUser(r.Context())
	if user == nil {
		return page, nil
	}

	canView, enrollment, err := h.courses.CanViewAnnouncements(user, course)
	if err != nil {
		return page, err
	}
	page.CanView = canView
	page.Enrollment = enrollment
	page.Contact = contactForm{Name: user.DisplayName(), Email: user.Email}
	return page, nil
}

// Enroll signs the user up for the course
func (h *Handlers) Enroll(w http.ResponseWriter, r *http.Request) {
	course, ok := h.courseFromURL(w, r)
	if !ok {
		return
	}
	user := middleware.GetUser(r.Context())

	enrollment, err := h.courses.Enroll(user, course)
	if err != nil {
		h.serverError(w, r, err, "Failed to enroll")
		return
	}

	if enrollment.IsApproved() {
		h.flash(w, r, "Inscrição confirmada em "+course.Name+".")
		h.redirect(w, r, urls.BuildAnnouncements(course.Slug))
		return
	}
	h.flash(w, r, "Inscrição recebida. Ela será analisada em breve.")
	h.redirect(w, r, urls.BuildDashboard())
}

// CancelEnrollment cancels the user's enrollment in the course
func (h *Handlers) CancelEnrollment(w http.ResponseWriter, r *http.Request) {
	course, ok := h.courseFromURL(w, r)
	if !ok {
		return
	}
	user := middleware.GetUser(r.Context())

	_, err := h.courses.Cancel(user, course)
	if errors.Is(err, courses.ErrNotEnrolled) {
		h.flashErr(w, r, "Você não está inscrito neste curso.")
		h.redirect(w, r, course.AbsoluteURL())
		return
	}
	if err != nil {
		h.serverError(w, r, err, "Failed to cancel enrollment")
		return
	}

	h.flash(w, r, "Inscrição cancelada.")
	h.redirect(w, r, urls.BuildDashboard())
}

// Contact forwards a visitor's question about the course to the contact address
func (h *Handlers) Contact(w http.ResponseWriter, r *http.Request) {
	course, ok := h.courseFromURL(w, r)
	if !ok {
		return
	}

	form := parseContactForm(r)
	if errs := validateForm(form); errs.Any() {
		page, err := h.courseDetails(r, course)
		if err != nil {
			h.serverError(w, r, err, "Failed to load enrollment")
			return
		}
		page.Contact = form
		page.ContactErrors = errs
		h.renderStatus(w, r, http.StatusBadRequest, "details.html", page)
		return
	}

	h.courses.SendContact(course, courses.ContactMessage{
		Name:    form.Name,
		Email:   form.Email,
		Message: form.Message,
	})

	h.flash(w, r, "Mensagem enviada. Responderemos em breve.")
	h.redirect(w, r, course.AbsoluteURL())
}
