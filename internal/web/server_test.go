package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/clubinhonerd/clubinhonerd/internal/config"
	"github.com/clubinhonerd/clubinhonerd/internal/courses"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/email"
	"github.com/clubinhonerd/clubinhonerd/internal/media"
	"github.com/clubinhonerd/clubinhonerd/internal/notification"
	"github.com/clubinhonerd/clubinhonerd/internal/web/live"
)

var csrfMeta = regexp.MustCompile(`<meta name="csrf-token" content="([0-9a-f]+)">`)

type testSite struct {
	t      *testing.T
	db     *database.DB
	server *Server
	http   *httptest.Server
	mail   *email.Recorder
	notify *notification.Manager
	hub    *live.Hub
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	require.NoError(t, db.InitializeDefaults())

	cfg := config.Default()
	cfg.Debug = true
	cfg.MediaRoot = t.TempDir()
	cfg.SecretKey = "test-secret-key-0123456789abcdef"

	store, err := media.NewLocalStore(cfg.MediaRoot, cfg.MediaURL)
	require.NoError(t, err)

	mail := &email.Recorder{}
	notify := notification.NewManager(db)
	notify.RegisterProvider(notification.NewEmailProvider(mail))

	hub := live.NewHub(time.Second)
	svc := courses.NewService(db, notify, hub, cfg.ContactEmail)

	server, err := NewServer(cfg, db, store, svc, hub)
	require.NoError(t, err)
	server.SetNotificationManager(notify)
	server.AuthService().SetBcryptCost(bcrypt.MinCost)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Stop()
		ts.Close()
	})

	return &testSite{t: t, db: db, server: server, http: ts, mail: mail, notify: notify, hub: hub}
}

// client returns a browser-like client that keeps cookies and does not follow redirects
func (s *testSite) client() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(s.t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *testSite) get(c *http.Client, path string) (*http.Response, string) {
	s.t.Helper()
	resp, err := c.Get(s.http.URL + path)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return resp, string(body)
}

// csrf loads a page to obtain the client's CSRF token
func (s *testSite) csrf(c *http.Client) string {
	s.t.Helper()
	_, body := s.get(c, "/accounts/login")
	m := csrfMeta.FindStringSubmatch(body)
	require.Len(s.t, m, 2, "csrf meta tag missing")
	return m[1]
}

func (s *testSite) post(c *http.Client, path string, form url.Values) (*http.Response, string) {
	s.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	if form.Get("csrf_token") == "" {
		form.Set("csrf_token", s.csrf(c))
	}
	resp, err := c.PostForm(s.http.URL+path, form)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return resp, string(body)
}

func (s *testSite) user(username string, staff bool) *database.User {
	s.t.Helper()
	u, err := s.server.AuthService().Register(username, username+"@example.com", "senha-secreta", staff)
	require.NoError(s.t, err)
	return u
}

func (s *testSite) login(username string) *http.Client {
	s.t.Helper()
	c := s.client()
	resp, _ := s.post(c, "/accounts/login", url.Values{
		"username": {username},
		"password": {"senha-secreta"},
	})
	require.Equal(s.t, http.StatusSeeOther, resp.StatusCode)
	return c
}

func (s *testSite) course(name, description string) *database.Course {
	s.t.Helper()
	c := &database.Course{Name: name, Description: description}
	require.NoError(s.t, s.db.CreateCourse(c))
	return c
}

func TestHomeAndSearch(t *testing.T) {
	site := newTestSite(t)
	site.course("Python para iniciantes", "Primeiros passos")
	site.course("Redes", "Fundamentos de TCP/IP com exemplos em Python")
	site.course("Go", "Concorrência na prática")
	c := site.client()

	resp, body := site.get(c, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Python para iniciantes")
	assert.Contains(t, body, "/courses/go/")

	resp, body = site.get(c, "/courses/?q=PYTHON")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Python para iniciantes")
	assert.Contains(t, body, "Redes")
	assert.NotContains(t, body, "Concorrência na prática")
}

func TestCourseDetails(t *testing.T) {
	site := newTestSite(t)
	site.course("Programação em Python", "Curso completo")
	c := site.client()

	resp, body := site.get(c, "/courses/programacao-em-python/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Programação em Python")
	assert.Contains(t, body, "Entre para se inscrever")

	resp, _ = site.get(c, "/courses/programacao-em-python")
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)

	resp, _ = site.get(c, "/courses/nao-existe/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostWithoutCSRFIsRejected(t *testing.T) {
	site := newTestSite(t)
	site.course("Go", "")
	c := site.client()

	resp, err := c.PostForm(site.http.URL+"/courses/go/contact", url.Values{
		"name":    {"Ana"},
		"email":   {"ana@example.com"},
		"message": {"Oi"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAnnouncementsRequireApprovedEnrollment(t *testing.T) {
	site := newTestSite(t)
	site.course("Go", "")
	site.user("ana", false)

	// Anonymous users are sent to the login page
	resp, _ := site.get(site.client(), "/courses/go/announcements")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/accounts/login", loc.Path)
	assert.Equal(t, "/courses/go/announcements", loc.Query().Get("next"))

	// Logged in but not enrolled goes back to the course page
	c := site.login("ana")
	resp, _ = site.get(c, "/courses/go/announcements")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/courses/go/", resp.Header.Get("Location"))
}

func TestEnrollAndComment(t *testing.T) {
	site := newTestSite(t)
	course := site.course("Go", "")
	user := site.user("ana", false)
	c := site.login("ana")

	resp, _ := site.post(c, "/courses/go/enroll", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/courses/go/announcements", resp.Header.Get("Location"))

	enrollment, err := site.db.GetEnrollment(user.ID, course.ID)
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	assert.True(t, enrollment.IsApproved())

	announcement := &database.Announcement{CourseID: course.ID, Title: "Bem-vindos", Content: "Aula **1** amanhã"}
	require.NoError(t, site.db.CreateAnnouncement(announcement))

	resp, body := site.get(c, "/courses/go/announcements")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Bem-vindos")

	path := "/courses/go/announcements/" + formatID(announcement.ID)
	resp, body = site.get(c, path)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<strong>1</strong>")

	resp, _ = site.post(c, path+"/comments", url.Values{"comment": {"Veja https://go.dev"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), path+"#comment-"))

	resp, body = site.get(c, path)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `<a href="https://go.dev"`)
	assert.Contains(t, body, `href="`+path+`#comment-`)

	resp, _ = site.post(c, path+"/comments", url.Values{"comment": {"   "}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelEnrollment(t *testing.T) {
	site := newTestSite(t)
	course := site.course("Go", "")
	user := site.user("ana", false)
	c := site.login("ana")

	resp, _ := site.post(c, "/courses/go/cancel", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/courses/go/", resp.Header.Get("Location"))

	site.post(c, "/courses/go/enroll", nil)
	resp, _ = site.post(c, "/courses/go/cancel", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/accounts/dashboard", resp.Header.Get("Location"))

	enrollment, err := site.db.GetEnrollment(user.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, database.EnrollmentCancelled, enrollment.Status)
}

func TestRegisterAndDashboard(t *testing.T) {
	site := newTestSite(t)
	c := site.client()

	resp, body := site.post(c, "/accounts/register", url.Values{
		"username":         {"bia"},
		"email":            {"bia@example.com"},
		"password":         {"senha-secreta"},
		"confirm_password": {"outra-senha"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Os valores não conferem.")

	resp, _ = site.post(c, "/accounts/register", url.Values{
		"username":         {"bia"},
		"email":            {"bia@example.com"},
		"password":         {"senha-secreta"},
		"confirm_password": {"senha-secreta"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp, body = site.get(c, "/accounts/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Olá, bia")

	resp, body = site.post(site.client(), "/accounts/register", url.Values{
		"username":         {"bia"},
		"email":            {"outra@example.com"},
		"password":         {"senha-secreta"},
		"confirm_password": {"senha-secreta"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "já está em uso")
}

func TestLoginRedirectsToNext(t *testing.T) {
	site := newTestSite(t)
	site.user("ana", false)
	c := site.client()

	resp, _ := site.post(c, "/accounts/login", url.Values{
		"username": {"ana"},
		"password": {"errada"},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = site.post(c, "/accounts/login", url.Values{
		"username": {"ana"},
		"password": {"senha-secreta"},
		"next":     {"/accounts/dashboard"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/accounts/dashboard", resp.Header.Get("Location"))

	resp, _ = site.post(site.client(), "/accounts/login", url.Values{
		"username": {"ana"},
		"password": {"senha-secreta"},
		"next":     {"https://evil.example/"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestContactSendsEmail(t *testing.T) {
	site := newTestSite(t)
	site.course("Go", "")
	c := site.client()

	resp, body := site.post(c, "/courses/go/contact", url.Values{
		"name":    {"Ana"},
		"email":   {"nao-e-email"},
		"message": {"Quando começa?"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Informe um endereço de e-mail válido.")

	resp, _ = site.post(c, "/courses/go/contact", url.Values{
		"name":    {"Ana"},
		"email":   {"ana@example.com"},
		"message": {"Quando começa?"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	site.notify.Start()
	site.notify.Stop()

	msgs := site.mail.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "contato@clubinhonerd.com.br", msgs[0].To)
	assert.Equal(t, "ana@example.com", msgs[0].ReplyTo)
	assert.Contains(t, msgs[0].HTML, "Quando começa?")
}

func TestAPICourses(t *testing.T) {
	site := newTestSite(t)
	site.course("Python", "Aprenda Python")
	site.course("Go", "Concorrência")

	req, err := http.NewRequest(http.MethodGet, site.http.URL+"/api/courses?q=python", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://parceiro.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var results []map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 1)
	assert.Equal(t, "Python", results[0]["name"])
	assert.Equal(t, "python", results[0]["slug"])
	assert.Equal(t, "/courses/python/", results[0]["url"])
}

func TestAdminRequiresStaff(t *testing.T) {
	site := newTestSite(t)
	site.user("ana", false)
	site.user("prof", true)

	resp, _ := site.get(site.client(), "/admin/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, _ = site.get(site.login("ana"), "/admin/")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	staff := site.login("prof")
	resp, body := site.get(staff, "/admin/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Administração")
	assert.Contains(t, body, "O envio de notificações está parado.")

	site.notify.Start()
	t.Cleanup(site.notify.Stop)
	_, body = site.get(staff, "/admin/")
	assert.NotContains(t, body, "O envio de notificações está parado.")
}

func TestAdminCreateCourseWithImage(t *testing.T) {
	site := newTestSite(t)
	site.user("prof", true)
	c := site.login("prof")
	token := site.csrf(c)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("csrf_token", token))
	require.NoError(t, mw.WriteField("name", "Programação em Python"))
	require.NoError(t, mw.WriteField("start_date", "2026-03-02"))
	fw, err := mw.CreateFormFile("image", "capa.png")
	require.NoError(t, err)
	_, err = fw.Write(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := c.Post(site.http.URL+"/admin/courses/new", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	course, err := site.db.GetCourseBySlug("programacao-em-python")
	require.NoError(t, err)
	require.NotNil(t, course)
	require.NotNil(t, course.StartDate)
	assert.Equal(t, "2026-03-02", course.StartDate.Format("2006-01-02"))
	require.True(t, strings.HasPrefix(course.Image, database.CourseImageDir+"/"))
	assert.True(t, strings.HasSuffix(course.Image, ".png"))

	resp, _ = site.get(c, "/media/"+course.Image)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminActivateAndDelete(t *testing.T) {
	site := newTestSite(t)
	course := site.course("Go", "")
	student := site.user("ana", false)
	site.user("prof", true)
	require.NoError(t, site.db.SetSettingJSON("enrollment.auto_approve", false))

	resp, _ := site.post(site.login("ana"), "/courses/go/enroll", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	enrollment, err := site.db.GetEnrollment(student.ID, course.ID)
	require.NoError(t, err)
	require.False(t, enrollment.IsApproved())

	staff := site.login("prof")
	resp, _ = site.post(staff, "/admin/courses/"+formatID(course.ID)+"/delete", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	stillThere, err := site.db.GetCourse(course.ID)
	require.NoError(t, err)
	assert.NotNil(t, stillThere, "a course with enrollments is protected")

	resp, _ = site.post(staff, "/admin/courses/"+formatID(course.ID)+"/enrollments/"+formatID(enrollment.ID)+"/activate", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	enrollment, err = site.db.GetEnrollment(student.ID, course.ID)
	require.NoError(t, err)
	assert.True(t, enrollment.IsApproved())
}

func TestTemplatesParse(t *testing.T) {
	site := newTestSite(t)
	for _, page := range pageTemplates {
		assert.Contains(t, site.server.templates, page)
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestAdminCourseNameWithoutSlug(t *testing.T) {
	site := newTestSite(t)
	course := site.course("Go", "")
	site.user("prof", true)
	c := site.login("prof")

	resp, body := site.post(c, "/admin/courses/new", url.Values{"name": {"日本語"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Informe um endereço.")

	resp, body = site.post(c, "/admin/courses/"+formatID(course.ID), url.Values{"name": {"日本語"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Informe um endereço.")

	got, err := site.db.GetCourse(course.ID)
	require.NoError(t, err)
	assert.Equal(t, "go", got.Slug)

	resp, _ = site.post(c, "/admin/courses/new", url.Values{"name": {"日本語"}, "slug": {"japones"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	created, err := site.db.GetCourseBySlug("japones")
	require.NoError(t, err)
	assert.NotNil(t, created)
}

func TestSearchKeepsSurroundingSpaces(t *testing.T) {
	site := newTestSite(t)
	site.course("Python para iniciantes", "Primeiros passos")
	c := site.client()

	resp, body := site.get(c, "/courses/?"+url.Values{"q": {" python "}}.Encode())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Nenhum curso encontrado.")
	assert.Contains(t, body, "/api/courses?q=+python+")

	resp, body = site.get(c, "/courses/?q=python")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Python para iniciantes")
}

func TestAdminSettingsClearWebhook(t *testing.T) {
	site := newTestSite(t)
	site.user("prof", true)
	c := site.login("prof")

	resp, _ := site.post(c, "/admin/settings", url.Values{
		"site_name":       {"Clubinho Nerd"},
		"webhook_url":     {"https://hooks.example.com/x"},
		"webhook_body":    {`{"text": "novo evento"}`},
		"webhook_headers": {"X-Token: abc"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	value, err := site.db.GetSetting("notifications.webhook_url")
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/x", value)

	resp, _ = site.post(c, "/admin/settings", url.Values{
		"site_name":    {"Clubinho Nerd"},
		"webhook_body": {`{"text": "sobrou"}`},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	for _, key := range []string{"notifications.webhook_url", "notifications.webhook_body", "notifications.webhook_headers"} {
		value, err := site.db.GetSetting(key)
		require.NoError(t, err)
		assert.Empty(t, value, key)
	}
}

func TestAnnouncementShowsLiveViewers(t *testing.T) {
	site := newTestSite(t)
	course := site.course("Go", "")
	site.user("ana", false)
	c := site.login("ana")
	site.post(c, "/courses/go/enroll", nil)

	announcement := &database.Announcement{CourseID: course.ID, Title: "Aula 1", Content: "Sala 3"}
	require.NoError(t, site.db.CreateAnnouncement(announcement))
	path := "/courses/go/announcements/" + formatID(announcement.ID)

	_, body := site.get(c, path)
	assert.NotContains(t, body, "ao vivo.")

	sockets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.hub.Serve(w, r, announcement.ID)
	}))
	t.Cleanup(sockets.Close)
	for range 2 {
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(sockets.URL, "http"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
	}
	require.Eventually(t, func() bool { return site.hub.ClientCount(announcement.ID) == 2 }, 2*time.Second, 10*time.Millisecond)

	_, body = site.get(c, path)
	assert.Contains(t, body, "2 pessoas acompanhando ao vivo.")
}
