// Package courses holds the enrollment, announcement, comment and contact
// workflows that sit between the handlers and the database.
package courses

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/config"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/markup"
	"github.com/clubinhonerd/clubinhonerd/internal/notification"
	"github.com/clubinhonerd/clubinhonerd/internal/urls"
)

// ErrNotEnrolled is returned when a user without an approved enrollment
// tries to reach a course's announcements
var ErrNotEnrolled = errors.New("approved enrollment required")

// Notifier queues notification events
type Notifier interface {
	Notify(event notification.Event)
}

// Publisher pushes new comments to open announcement pages
type Publisher interface {
	Publish(announcementID int64, comment *database.Comment)
}

// Service implements the course workflows
type Service struct {
	db           *database.DB
	loader       *config.Loader
	notifier     Notifier
	publisher    Publisher
	contactEmail string
}

// NewService creates a course service. notifier and publisher may be nil.
func NewService(db *database.DB, notifier Notifier, publisher Publisher, contactEmail string) *Service {
	return &Service{
		db:           db,
		loader:       config.NewLoader(db),
		notifier:     notifier,
		publisher:    publisher,
		contactEmail: contactEmail,
	}
}

func (s *Service) siteName() string {
	return s.loader.String("site.name", "Clubinho Nerd")
}

func (s *Service) notify(event notification.Event) {
	if s.notifier != nil {
		s.notifier.Notify(event)
	}
}

// Enroll signs the user up for the course. An existing enrollment is
// reused; a cancelled one goes back to pending. With the
// enrollment.auto_approve setting on, the enrollment is approved at once.
func (s *Service) Enroll(user *database.User, course *database.Course) (*database.Enrollment, error) {
	enrollment, created, err := s.db.GetOrCreateEnrollment(user.ID, course.ID)
	if err != nil {
		return nil, err
	}

	if created {
		log.Info().Str("user", user.Username).Str("course", course.Slug).Msg("User enrolled")
		s.notify(notification.Event{
			Type:    notification.EventEnrollmentCreated,
			Title:   fmt.Sprintf("Nova inscrição em %s", course.Name),
			Message: fmt.Sprintf("%s se inscreveu em %s", user.Username, course.Name),
			Fields: map[string]string{
				"user":   user.Username,
				"course": course.Slug,
			},
		})
	}

	if enrollment.Status == database.EnrollmentCancelled {
		if err := s.db.SetEnrollmentStatus(enrollment, database.EnrollmentPending); err != nil {
			return nil, err
		}
		log.Info().Str("user", user.Username).Str("course", course.Slug).Msg("Cancelled enrollment reopened")
	}

	if !enrollment.IsApproved() && s.loader.Bool("enrollment.auto_approve", true) {
		if err := s.activate(enrollment, user, course); err != nil {
			return nil, err
		}
	}

	return enrollment, nil
}

// Cancel marks the user's enrollment in the course cancelled. The row is kept.
func (s *Service) Cancel(user *database.User, course *database.Course) (*database.Enrollment, error) {
	enrollment, err := s.db.GetEnrollment(user.ID, course.ID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, ErrNotEnrolled
	}
	if err := s.db.CancelEnrollment(enrollment); err != nil {
		return nil, err
	}
	log.Info().Str("user", user.Username).Str("course", course.Slug).Msg("Enrollment cancelled")
	return enrollment, nil
}

// Activate approves an enrollment by ID, as staff do from the course admin
// page. Approving an already approved enrollment is a no-op.
func (s *Service) Activate(courseID, enrollmentID int64) (*database.Enrollment, error) {
	enrollment, err := s.db.GetEnrollmentByID(enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil || enrollment.CourseID != courseID {
		return nil, fmt.Errorf("enrollment %d not found in course %d", enrollmentID, courseID)
	}
	if enrollment.IsApproved() {
		return enrollment, nil
	}

	user, err := s.db.GetUserByID(enrollment.UserID)
	if err != nil {
		return nil, err
	}
	course, err := s.db.GetCourse(enrollment.CourseID)
	if err != nil {
		return nil, err
	}
	if user == nil || course == nil {
		return nil, fmt.Errorf("enrollment %d references missing rows", enrollmentID)
	}

	if err := s.activate(enrollment, user, course); err != nil {
		return nil, err
	}
	return enrollment, nil
}

func (s *Service) activate(enrollment *database.Enrollment, user *database.User, course *database.Course) error {
	if err := s.db.ActivateEnrollment(enrollment); err != nil {
		return err
	}
	log.Info().Str("user", user.Username).Str("course", course.Slug).Msg("Enrollment approved")

	if user.Email == "" {
		return nil
	}
	s.notify(notification.Event{
		Type:       notification.EventEnrollmentApproved,
		Title:      fmt.Sprintf("[%s] Inscrição aprovada: %s", s.siteName(), course.Name),
		Recipients: []notification.Recipient{{Email: user.Email, Name: user.DisplayName()}},
		Template:   "enrollment_approved.html",
		Data: map[string]any{
			"CourseName":       course.Name,
			"AnnouncementsURL": urls.Absolute(urls.BuildAnnouncements(course.Slug)),
			"SiteName":         s.siteName(),
		},
	})
	return nil
}

// CanViewAnnouncements reports whether user may read the course's
// announcements and comments: staff always can, others need an approved
// enrollment. The user's enrollment is returned when there is one.
func (s *Service) CanViewAnnouncements(user *database.User, course *database.Course) (bool, *database.Enrollment, error) {
	if user == nil {
		return false, nil, nil
	}
	enrollment, err := s.db.GetEnrollment(user.ID, course.ID)
	if err != nil {
		return false, nil, err
	}
	if user.IsStaff {
		return true, enrollment, nil
	}
	return enrollment != nil && enrollment.IsApproved(), enrollment, nil
}

// PostAnnouncement creates an announcement and emails it to every approved
// enrollee
func (s *Service) PostAnnouncement(course *database.Course, title, content string) (*database.Announcement, error) {
	announcement := &database.Announcement{
		CourseID: course.ID,
		Title:    strings.TrimSpace(title),
		Content:  content,
	}
	if err := s.db.CreateAnnouncement(announcement); err != nil {
		return nil, err
	}
	log.Info().Str("course", course.Slug).Int64("announcement", announcement.ID).Msg("Announcement posted")

	users, err := s.db.ListApprovedUsers(course.ID)
	if err != nil {
		log.Error().Err(err).Str("course", course.Slug).Msg("Failed to list enrollees for announcement email")
		return announcement, nil
	}

	recipients := make([]notification.Recipient, 0, len(users))
	for _, u := range users {
		if u.Email != "" {
			recipients = append(recipients, notification.Recipient{Email: u.Email, Name: u.DisplayName()})
		}
	}
	if len(recipients) == 0 {
		return announcement, nil
	}

	s.notify(notification.Event{
		Type:       notification.EventAnnouncementPosted,
		Title:      fmt.Sprintf("[%s] %s: %s", s.siteName(), course.Name, announcement.Title),
		Recipients: recipients,
		Template:   "announcement_posted.html",
		Data: map[string]any{
			"CourseName":      course.Name,
			"Title":           announcement.Title,
			"Content":         markup.Markdown(announcement.Content),
			"AnnouncementURL": urls.Absolute(urls.BuildAnnouncement(course.Slug, announcement.ID)),
			"SiteName":        s.siteName(),
		},
	})
	return announcement, nil
}

// PostComment adds the user's comment to an announcement and pushes it to
// anyone watching the announcement page
func (s *Service) PostComment(user *database.User, course *database.Course, announcement *database.Announcement, text string) (*database.Comment, error) {
	ok, _, err := s.CanViewAnnouncements(user, course)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotEnrolled
	}

	comment := &database.Comment{
		AnnouncementID: announcement.ID,
		UserID:         user.ID,
		Comment:        strings.TrimSpace(text),
		Username:       user.Username,
	}
	if err := s.db.CreateComment(comment); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		s.publisher.Publish(announcement.ID, comment)
	}
	return comment, nil
}

// ContactMessage is a visitor's question about a course
type ContactMessage struct {
	Name    string
	Email   string
	Message string
}

// SendContact forwards a contact message to the site's contact address
func (s *Service) SendContact(course *database.Course, msg ContactMessage) {
	log.Info().Str("course", course.Slug).Str("from", msg.Email).Msg("Contact message received")

	s.notify(notification.Event{
		Type:       notification.EventContactMessage,
		Title:      fmt.Sprintf("[%s] Contato: %s", s.siteName(), course.Name),
		Message:    msg.Message,
		Fields:     map[string]string{"course": course.Slug, "name": msg.Name, "email": msg.Email},
		Recipients: []notification.Recipient{{Email: s.contactEmail}},
		ReplyTo:    msg.Email,
		Template:   "contact.html",
		Data: map[string]any{
			"CourseName":  course.Name,
			"SenderName":  msg.Name,
			"SenderEmail": msg.Email,
			"Message":     msg.Message,
		},
	})
}
