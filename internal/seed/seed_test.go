package seed

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubinhonerd/clubinhonerd/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestCourses(t *testing.T) {
	db := newTestDB(t)

	created, err := Courses(db, Options{Courses: 4, Announcements: 2})
	require.NoError(t, err)
	require.Len(t, created, 4)

	slugs := map[string]bool{}
	for _, c := range created {
		assert.NotEmpty(t, c.Name)
		assert.NotEmpty(t, c.Slug)
		assert.NotNil(t, c.StartDate)
		assert.False(t, slugs[c.Slug], "duplicate slug %s", c.Slug)
		slugs[c.Slug] = true

		announcements, err := db.ListAnnouncements(c.ID)
		require.NoError(t, err)
		assert.Len(t, announcements, 2)
	}

	all, err := db.ListCourses()
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestCourseName(t *testing.T) {
	for range 20 {
		name := courseName()
		require.NotEmpty(t, name)
		for _, word := range strings.Fields(name) {
			assert.Equal(t, strings.ToUpper(word[:1]), word[:1], "word %q of %q", word, name)
		}
	}
}
