package courses

import (
	"html/template"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/notification"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *recordingNotifier) Notify(event notification.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) ofType(t notification.EventType) []notification.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification.Event
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingPublisher struct {
	published []*database.Comment
}

func (p *recordingPublisher) Publish(announcementID int64, comment *database.Comment) {
	p.published = append(p.published, comment)
}

type fixture struct {
	db        *database.DB
	svc       *Service
	notifier  *recordingNotifier
	publisher *recordingPublisher
	student   *database.User
	staff     *database.User
	course    *database.Course
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	f := &fixture{db: db, notifier: &recordingNotifier{}, publisher: &recordingPublisher{}}
	f.svc = NewService(db, f.notifier, f.publisher, "contato@example.com")

	f.student, err = db.CreateUser("ana", "ana@example.com", "hash", false)
	require.NoError(t, err)
	f.staff, err = db.CreateUser("prof", "prof@example.com", "hash", true)
	require.NoError(t, err)
	f.course = &database.Course{Name: "Python"}
	require.NoError(t, db.CreateCourse(f.course))
	return f
}

func TestEnroll_AutoApprove(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.Enroll(f.student, f.course)
	require.NoError(t, err)
	assert.True(t, e.IsApproved())

	approved := f.notifier.ofType(notification.EventEnrollmentApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, "ana@example.com", approved[0].Recipients[0].Email)
	assert.Len(t, f.notifier.ofType(notification.EventEnrollmentCreated), 1)
}

func TestEnroll_Idempotent(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Enroll(f.student, f.course)
	require.NoError(t, err)
	second, err := f.svc.Enroll(f.student, f.course)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.notifier.ofType(notification.EventEnrollmentCreated), 1)
	assert.Len(t, f.notifier.ofType(notification.EventEnrollmentApproved), 1, "approval email is sent once")
}

func TestEnroll_ManualApproval(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.SetSetting("enrollment.auto_approve", "false"))

	e, err := f.svc.Enroll(f.student, f.course)
	require.NoError(t, err)
	assert.Equal(t, database.EnrollmentPending, e.Status)
	assert.Empty(t, f.notifier.ofType(notification.EventEnrollmentApproved))

	ok, _, err := f.svc.CanViewAnnouncements(f.student, f.course)
	require.NoError(t, err)
	assert.False(t, ok)

	activated, err := f.svc.Activate(f.course.ID, e.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsApproved())
	assert.Len(t, f.notifier.ofType(notification.EventEnrollmentApproved), 1)

	ok, _, err = f.svc.CanViewAnnouncements(f.student, f.course)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestActivate_WrongCourse(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.SetSetting("enrollment.auto_approve", "false"))
	e, err := f.svc.Enroll(f.student, f.course)
	require.NoError(t, err)

	_, err = f.svc.Activate(f.course.ID+1, e.ID)
	assert.Error(t, err)
}

func TestCancelAndReenroll(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.SetSetting("enrollment.auto_approve", "false"))

	_, err := f.svc.Cancel(f.student, f.course)
	assert.ErrorIs(t, err, ErrNotEnrolled)

	_, err = f.svc.Enroll(f.student, f.course)
	require.NoError(t, err)
	cancelled, err := f.svc.Cancel(f.student, f.course)
	require.NoError(t, err)
	assert.Equal(t, database.EnrollmentCancelled, cancelled.Status)

	reopened, err := f.svc.Enroll(f.student, f.course)
	require.NoError(t, err)
	assert.Equal(t, cancelled.ID, reopened.ID)
	assert.Equal(t, database.EnrollmentPending, reopened.Status)
}

func TestCanViewAnnouncements(t *testing.T) {
	f := newFixture(t)

	ok, _, err := f.svc.CanViewAnnouncements(nil, f.course)
	require.NoError(t, err)
	assert.False(t, ok, "anonymous")

	ok, _, err = f.svc.CanViewAnnouncements(f.student, f.course)
	require.NoError(t, err)
	assert.False(t, ok, "not enrolled")

	ok, enrollment, err := f.svc.CanViewAnnouncements(f.staff, f.course)
	require.NoError(t, err)
	assert.True(t, ok, "staff")
	assert.Nil(t, enrollment)
}

func TestPostAnnouncement_EmailsApprovedEnrollees(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Enroll(f.student, f.course)
	require.NoError(t, err)

	pending, err := f.db.CreateUser("bruno", "bruno@example.com", "hash", false)
	require.NoError(t, err)
	_, err = f.db.CreateEnrollment(pending.ID, f.course.ID)
	require.NoError(t, err)

	a, err := f.svc.PostAnnouncement(f.course, "  Aula extra ", "Sábado às **10h**")
	require.NoError(t, err)
	assert.Equal(t, "Aula extra", a.Title)

	posted := f.notifier.ofType(notification.EventAnnouncementPosted)
	require.Len(t, posted, 1)
	require.Len(t, posted[0].Recipients, 1)
	assert.Equal(t, "ana@example.com", posted[0].Recipients[0].Email)
	content, ok := posted[0].Data["Content"].(template.HTML)
	require.True(t, ok)
	assert.Contains(t, string(content), "<strong>10h</strong>")
}

func TestPostComment(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.PostAnnouncement(f.course, "Oi", "Bem-vindos")
	require.NoError(t, err)

	_, err = f.svc.PostComment(f.student, f.course, a, "posso entrar?")
	assert.ErrorIs(t, err, ErrNotEnrolled)
	assert.Empty(t, f.publisher.published)

	_, err = f.svc.Enroll(f.student, f.course)
	require.NoError(t, err)

	c, err := f.svc.PostComment(f.student, f.course, a, "  obrigada!  ")
	require.NoError(t, err)
	assert.Equal(t, "obrigada!", c.Comment)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, "ana", f.publisher.published[0].Username)
}

func TestSendContact(t *testing.T) {
	f := newFixture(t)

	f.svc.SendContact(f.course, ContactMessage{Name: "Carla", Email: "carla@example.com", Message: "Tem turma à noite?"})

	events := f.notifier.ofType(notification.EventContactMessage)
	require.Len(t, events, 1)
	assert.Equal(t, "contato@example.com", events[0].Recipients[0].Email)
	assert.Equal(t, "carla@example.com", events[0].ReplyTo)
	assert.Equal(t, "Carla", events[0].Data["SenderName"])
}
