package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func courseNames(courses []*Course) []string {
	names := make([]string, 0, len(courses))
	for _, c := range courses {
		names = append(names, c.Name)
	}
	return names
}

func TestCreateCourse_DerivesSlug(t *testing.T) {
	db := newTestDB(t)

	c := mustCourse(t, db, "Programação em Python", "")
	assert.Equal(t, "programacao-em-python", c.Slug)
	assert.Equal(t, "/courses/programacao-em-python/", c.AbsoluteURL())

	got, err := db.GetCourseBySlug("programacao-em-python")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
	assert.Nil(t, got.StartDate)
}

func TestCreateCourse_DuplicateSlug(t *testing.T) {
	db := newTestDB(t)
	mustCourse(t, db, "Go", "")

	err := db.CreateCourse(&Course{Name: "Go!", Slug: "go"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateCourse_NameWithoutSlugCharacters(t *testing.T) {
	db := newTestDB(t)

	err := db.CreateCourse(&Course{Name: "日本語"})
	assert.ErrorIs(t, err, ErrEmptySlug)

	c := &Course{Name: "日本語", Slug: "japones"}
	require.NoError(t, db.CreateCourse(c))
	assert.Equal(t, "/courses/japones/", c.AbsoluteURL())
}

func TestUpdateCourse_RejectsEmptySlug(t *testing.T) {
	db := newTestDB(t)
	c := mustCourse(t, db, "Go", "")

	c.Name = "日本語"
	c.Slug = ""
	assert.ErrorIs(t, db.UpdateCourse(c), ErrEmptySlug)

	got, err := db.GetCourse(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "go", got.Slug)
	assert.Equal(t, "Go", got.Name)
}

func TestGetCourseBySlug_Missing(t *testing.T) {
	db := newTestDB(t)

	c, err := db.GetCourseBySlug("nope")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSearchCourses(t *testing.T) {
	db := newTestDB(t)
	mustCourse(t, db, "Python Basics", "Learn programming")
	mustCourse(t, db, "Django", "Web apps with python")
	mustCourse(t, db, "Rust", "Systems programming")
	mustCourse(t, db, "100% Go", "Concurrency")

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "matches name or description ignoring case", query: "PYTHON", want: []string{"Django", "Python Basics"}},
		{name: "description only", query: "systems", want: []string{"Rust"}},
		{name: "empty query matches all", query: "", want: []string{"100% Go", "Django", "Python Basics", "Rust"}},
		{name: "percent is literal", query: "%", want: []string{"100% Go"}},
		{name: "underscore is literal", query: "_", want: []string{}},
		{name: "no match", query: "haskell", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.SearchCourses(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, courseNames(got))
		})
	}
}

func TestDeleteCourse(t *testing.T) {
	db := newTestDB(t)
	u := mustUser(t, db, "ana")
	free := mustCourse(t, db, "Free", "")
	taken := mustCourse(t, db, "Taken", "")

	_, err := db.CreateEnrollment(u.ID, taken.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, db.DeleteCourse(taken.ID), ErrProtected)
	got, err := db.GetCourse(taken.ID)
	require.NoError(t, err)
	assert.NotNil(t, got, "protected course must survive")

	require.NoError(t, db.DeleteCourse(free.ID))
	got, err = db.GetCourse(free.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteCourse_ProtectedByAnnouncement(t *testing.T) {
	db := newTestDB(t)
	c := mustCourse(t, db, "Go", "")
	require.NoError(t, db.CreateAnnouncement(&Announcement{CourseID: c.ID, Title: "Hi", Content: "Welcome"}))

	assert.ErrorIs(t, db.DeleteCourse(c.ID), ErrProtected)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Programação em Python": "programacao-em-python",
		"  Go -- Avançado  ":    "go-avancado",
		"C++ & Rust!":           "c-rust",
		"!!!":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
		if want != "" {
			assert.True(t, IsValidSlug(want))
		}
	}
	assert.False(t, IsValidSlug("Bad Slug"))
}
