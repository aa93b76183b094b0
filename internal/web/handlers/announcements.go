package handlers

import (
	"errors"
	"net/http"

	"github.com/clubinhonerd/clubinhonerd/internal/courses"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/urls"
	"github.com/clubinhonerd/clubinhonerd/internal/web/middleware"
)

// enrolledCourse loads the URL's course and checks the user may read its
// announcements. Users without access are sent back to the course page.
func (h *Handlers) enrolledCourse(w http.ResponseWriter, r *http.Request) (*database.Course, bool) {
	course, ok := h.courseFromURL(w, r)
	if !ok {
		return nil, false
	}

	canView, _, err := h.courses.CanViewAnnouncements(middleware.GetUser(r.Context()), course)
	if err != nil {
		h.serverError(w, r, err, "Failed to check enrollment")
		return nil, false
	}
	if !canView {
		h.flashErr(w, r, "Você precisa de uma inscrição aprovada para ver os anúncios deste curso.")
		h.redirect(w, r, course.AbsoluteURL())
		return nil, false
	}
	return course, true
}

// announcementFromURL loads the {id} announcement of course, answering 404 itself
func (h *Handlers) announcementFromURL(w http.ResponseWriter, r *http.Request, course *database.Course) (*database.Announcement, bool) {
	id, err := idParam(r, "id")
	if err != nil {
		h.notFound(w, r)
		return nil, false
	}

	announcement, err := h.db.GetAnnouncement(course.ID, id)
	if err != nil {
		h.serverError(w, r, err, "Failed to load announcement")
		return nil, false
	}
	if announcement == nil {
		h.notFound(w, r)
		return nil, false
	}
	return announcement, true
}

type announcementsPage struct {
	Course        *database.Course
	Announcements []*database.Announcement
}

// Announcements lists a course's announcements, newest first
func (h *Handlers) Announcements(w http.ResponseWriter, r *http.Request) {
	course, ok := h.enrolledCourse(w, r)
	if !ok {
		return
	}

	list, err := h.db.ListAnnouncements(course.ID)
	if err != nil {
		h.serverError(w, r, err, "Failed to list announcements")
		return
	}
	h.render(w, r, "announcements.html", announcementsPage{Course: course, Announcements: list})
}

type announcementPage struct {
	Course       *database.Course
	Announcement *database.Announcement
	Comments     []*database.Comment
	Errors       FieldErrors
	Comment      string
	Viewers      int // live sockets open on this announcement
}

// AnnouncementDetail shows an announcement with its comments, oldest first
func (h *Handlers) AnnouncementDetail(w http.ResponseWriter, r *http.Request) {
	course, ok := h.enrolledCourse(w, r)
	if !ok {
		return
	}
	announcement, ok := h.announcementFromURL(w, r, course)
	if !ok {
		return
	}

	comments, err := h.db.ListComments(announcement.ID)
	if err != nil {
		h.serverError(w, r, err, "Failed to list comments")
		return
	}
	page := announcementPage{
		Course:       course,
		Announcement: announcement,
		Comments:     comments,
	}
	if h.hub != nil {
		page.Viewers = h.hub.ClientCount(announcement.ID)
	}
	h.render(w, r, "announcement.html", page)
}

// CommentSubmit adds the user's comment to an announcement
func (h *Handlers) CommentSubmit(w http.ResponseWriter, r *http.Request) {
	course, ok := h.enrolledCourse(w, r)
	if !ok {
		return
	}
	announcement, ok := h.announcementFromURL(w, r, course)
	if !ok {
		return
	}

	form := parseCommentForm(r)
	if errs := validateForm(form); errs.Any() {
		comments, err := h.db.ListComments(announcement.ID)
		if err != nil {
			h.serverError(w, r, err, "Failed to list comments")
			return
		}
		h.renderStatus(w, r, http.StatusBadRequest, "announcement.html", announcementPage{
			Course:       course,
			Announcement: announcement,
			Comments:     comments,
			Errors:       errs,
			Comment:      form.Comment,
		})
		return
	}

	comment, err := h.courses.PostComment(middleware.GetUser(r.Context()), course, announcement, form.Comment)
	if errors.Is(err, courses.ErrNotEnrolled) {
		h.redirect(w, r, course.AbsoluteURL())
		return
	}
	if err != nil {
		h.serverError(w, r, err, "Failed to post comment")
		return
	}

	h.redirect(w, r, urls.BuildCommentAnchor(course.Slug, announcement.ID, comment.ID))
}

// AnnouncementLive streams new comments on an announcement over a websocket
func (h *Handlers) AnnouncementLive(w http.ResponseWriter, r *http.Request) {
	course, err := h.db.GetCourseBySlug(chiParam(r, "slug"))
	if err != nil || course == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	canView, _, err := h.courses.CanViewAnnouncements(middleware.GetUser(r.Context()), course)
	if err != nil || !canView {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	announcement, err := h.db.GetAnnouncement(course.ID, id)
	if err != nil || announcement == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	h.hub.Serve(w, r, announcement.ID)
}
