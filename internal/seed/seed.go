// Package seed fills a development database with placeholder courses.
package seed

import (
	"errors"
	"fmt"
	"strings"
	"time"

	lorem "github.com/HandmadeNetwork/golorem"
	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/database"
)

// maxNameAttempts bounds the retries when a random name collides with an existing slug
const maxNameAttempts = 5

// Options controls how much data Courses generates
type Options struct {
	Courses       int
	Announcements int // per course
}

// Courses creates opts.Courses lorem courses, each with opts.Announcements announcements
func Courses(db *database.DB, opts Options) ([]*database.Course, error) {
	created := make([]*database.Course, 0, opts.Courses)
	for i := 0; i < opts.Courses; i++ {
		course, err := seedCourse(db, i)
		if err != nil {
			return created, err
		}
		created = append(created, course)

		for j := 0; j < opts.Announcements; j++ {
			a := &database.Announcement{
				CourseID: course.ID,
				Title:    strings.TrimSuffix(lorem.Sentence(3, 8), "."),
				Content:  lorem.Paragraph(1, 3),
			}
			if err := db.CreateAnnouncement(a); err != nil {
				return created, fmt.Errorf("failed to seed announcement: %w", err)
			}
		}
		log.Debug().Str("course", course.Slug).Int("announcements", opts.Announcements).Msg("Seeded course")
	}
	return created, nil
}

func seedCourse(db *database.DB, n int) (*database.Course, error) {
	start := time.Now().UTC().AddDate(0, 0, 7*(n+1)).Truncate(24 * time.Hour)

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := courseName()
		if attempt > 0 {
			name = fmt.Sprintf("%s %d", name, n+1)
		}
		c := &database.Course{
			Name:        name,
			Description: strings.TrimSuffix(lorem.Sentence(8, 16), "."),
			About:       lorem.Paragraph(2, 4) + "\n\n" + lorem.Paragraph(1, 3),
			StartDate:   &start,
		}
		err := db.CreateCourse(c)
		if errors.Is(err, database.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to seed course: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("failed to seed course: no free name after %d attempts", maxNameAttempts)
}

// courseName returns two or three capitalized lorem words
func courseName() string {
	words := strings.Fields(strings.TrimSuffix(lorem.Sentence(2, 3), "."))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
