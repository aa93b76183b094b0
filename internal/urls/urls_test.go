package urls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCourseRoutes(t *testing.T) {
	assert.Equal(t, "/courses/go-basico/", BuildCourseDetails("go-basico"))
	assert.Equal(t, "/courses/go-basico/enroll", BuildEnroll("go-basico"))
	assert.Equal(t, "/courses/go-basico/announcements/7", BuildAnnouncement("go-basico", 7))
	assert.Equal(t, "/courses/go-basico/announcements/7/live", BuildAnnouncementLive("go-basico", 7))
	assert.Equal(t, "/courses/?q=python+web", BuildCourseSearch("python web"))
	assert.Equal(t, "/courses/", BuildCourseSearch(""))
	assert.Equal(t, "/courses/go-basico/announcements/7#comment-12", BuildCommentAnchor("go-basico", 7, 12))
	assert.Equal(t, "/api/courses", BuildAPICourses(""))
	assert.Equal(t, "/api/courses?q=python+web", BuildAPICourses("python web"))
}

func TestBuildLogin(t *testing.T) {
	assert.Equal(t, "/accounts/login", BuildLogin(""))
	assert.Equal(t, "/accounts/login?next=%2Faccounts%2Fdashboard", BuildLogin(BuildDashboard()))
}

func TestReverse(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: RouteHome, want: "/"},
		{name: RouteLogin, want: "/accounts/login"},
		{name: RouteLogout, want: "/accounts/logout"},
		{name: RouteDashboard, want: "/accounts/dashboard"},
		{name: RouteDetails, args: []string{"python"}, want: "/courses/python/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reverse(tt.name, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Reverse(RouteDetails)
	assert.Error(t, err)
	_, err = Reverse("nope")
	assert.Error(t, err)
	assert.Panics(t, func() { MustReverse("nope") })
}

func TestAbsolute(t *testing.T) {
	defer SetBaseURL("")
	SetBaseURL("https://example.com/")
	assert.Equal(t, "https://example.com/courses/go/", Absolute(BuildCourseDetails("go")))
}

func TestIsLocal(t *testing.T) {
	assert.True(t, IsLocal("/accounts/dashboard"))
	assert.True(t, IsLocal("/courses/?q=go"))
	assert.False(t, IsLocal(""))
	assert.False(t, IsLocal("https://evil.example"))
	assert.False(t, IsLocal("//evil.example"))
	assert.False(t, IsLocal(`/\evil.example`))
}

func TestAdminRoutes(t *testing.T) {
	assert.Equal(t, "/admin/courses/3", BuildAdminCourse(3))
	assert.Equal(t, "/admin/courses/3/delete", BuildAdminCourseDelete(3))
	assert.Equal(t, "/admin/courses/3/announcements/new", BuildAdminAnnouncementNew(3))
	assert.Equal(t, "/admin/courses/3/enrollments/9/activate", BuildAdminActivateEnrollment(3, 9))
	assert.Equal(t, "/admin/jobs/session_cleanup/run", BuildAdminRunJob("session_cleanup"))
}
