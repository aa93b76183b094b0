// Package urls builds the site's paths. Every route the router mounts has a
// builder here, and the named routes can also be reversed by name.
package urls

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Route names used by configuration and templates
const (
	RouteHome      = "home"
	RouteLogin     = "login"
	RouteLogout    = "logout"
	RouteRegister  = "register"
	RouteDashboard = "dashboard"
	RouteDetails   = "details"
	RouteCourses   = "courses"
)

var (
	baseMu  sync.RWMutex
	baseURL string
)

// SetBaseURL sets the scheme and host used by Absolute, e.g. "https://clubinhonerd.com.br"
func SetBaseURL(u string) {
	baseMu.Lock()
	defer baseMu.Unlock()
	baseURL = strings.TrimRight(u, "/")
}

// Absolute prefixes a path built by this package with the configured base URL
func Absolute(path string) string {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return baseURL + path
}

// Q is a single query parameter
type Q struct {
	Name  string
	Value string
}

func withQuery(path string, query []Q) string {
	if len(query) == 0 {
		return path
	}
	values := url.Values{}
	for _, q := range query {
		values.Set(q.Name, q.Value)
	}
	return path + "?" + values.Encode()
}

func BuildHome() string {
	return "/"
}

func BuildCourses() string {
	return "/courses/"
}

// BuildCourseSearch links to the course index filtered by q
func BuildCourseSearch(q string) string {
	if q == "" {
		return BuildCourses()
	}
	return withQuery(BuildCourses(), []Q{{"q", q}})
}

func BuildCourseDetails(slug string) string {
	return "/courses/" + url.PathEscape(slug) + "/"
}

func BuildEnroll(slug string) string {
	return BuildCourseDetails(slug) + "enroll"
}

func BuildCancelEnrollment(slug string) string {
	return BuildCourseDetails(slug) + "cancel"
}

func BuildContact(slug string) string {
	return BuildCourseDetails(slug) + "contact"
}

func BuildAnnouncements(slug string) string {
	return BuildCourseDetails(slug) + "announcements"
}

func BuildAnnouncement(slug string, id int64) string {
	return BuildAnnouncements(slug) + "/" + strconv.FormatInt(id, 10)
}

func BuildComment(slug string, id int64) string {
	return BuildAnnouncement(slug, id) + "/comments"
}

// BuildCommentAnchor links to one comment on its announcement page
func BuildCommentAnchor(slug string, announcementID, commentID int64) string {
	return BuildAnnouncement(slug, announcementID) + "#comment-" + strconv.FormatInt(commentID, 10)
}

// BuildAnnouncementLive is the websocket endpoint streaming new comments
func BuildAnnouncementLive(slug string, id int64) string {
	return BuildAnnouncement(slug, id) + "/live"
}

// BuildLogin links to the login page. A non-empty next is where the user
// lands after logging in.
func BuildLogin(next string) string {
	if next == "" {
		return "/accounts/login"
	}
	return withQuery("/accounts/login", []Q{{"next", next}})
}

func BuildLogout() string {
	return "/accounts/logout"
}

func BuildRegister() string {
	return "/accounts/register"
}

func BuildDashboard() string {
	return "/accounts/dashboard"
}

func BuildEditProfile() string {
	return "/accounts/edit"
}

func BuildChangePassword() string {
	return "/accounts/password"
}

func BuildAdmin() string {
	return "/admin/"
}

func BuildAdminCourseNew() string {
	return "/admin/courses/new"
}

func BuildAdminCourse(id int64) string {
	return "/admin/courses/" + strconv.FormatInt(id, 10)
}

func BuildAdminCourseDelete(id int64) string {
	return BuildAdminCourse(id) + "/delete"
}

func BuildAdminAnnouncementNew(courseID int64) string {
	return BuildAdminCourse(courseID) + "/announcements/new"
}

func BuildAdminActivateEnrollment(courseID, enrollmentID int64) string {
	return BuildAdminCourse(courseID) + "/enrollments/" + strconv.FormatInt(enrollmentID, 10) + "/activate"
}

func BuildAdminSettings() string {
	return "/admin/settings"
}

func BuildAdminRunJob(name string) string {
	return "/admin/jobs/" + url.PathEscape(name) + "/run"
}

func BuildAPICourses(q string) string {
	if q == "" {
		return "/api/courses"
	}
	return withQuery("/api/courses", []Q{{"q", q}})
}

// Reverse resolves a named route. Routes taking a slug expect it as the
// first argument.
func Reverse(name string, args ...string) (string, error) {
	switch name {
	case RouteHome:
		return BuildHome(), nil
	case RouteCourses:
		return BuildCourses(), nil
	case RouteLogin:
		return BuildLogin(""), nil
	case RouteLogout:
		return BuildLogout(), nil
	case RouteRegister:
		return BuildRegister(), nil
	case RouteDashboard:
		return BuildDashboard(), nil
	case RouteDetails:
		if len(args) != 1 || args[0] == "" {
			return "", fmt.Errorf("route %q expects a slug", name)
		}
		return BuildCourseDetails(args[0]), nil
	}
	return "", fmt.Errorf("unknown route %q", name)
}

// MustReverse is Reverse for route names known at compile time
func MustReverse(name string, args ...string) string {
	u, err := Reverse(name, args...)
	if err != nil {
		panic(err)
	}
	return u
}

// IsLocal reports whether target is a same-site path that is safe to redirect to
func IsLocal(target string) bool {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, `/\`) {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}
