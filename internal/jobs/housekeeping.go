package jobs

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/database"
)

// Job names
const (
	SessionCleanup = "session_cleanup"
	Optimize       = "optimize"
)

// Housekeeping returns the database maintenance jobs
func Housekeeping(db *database.DB) []Job {
	return []Job{
		{
			Name:            SessionCleanup,
			ScheduleKey:     "jobs.session_cleanup_schedule",
			DefaultSchedule: "@hourly",
			Run: func() error {
				n, err := db.DeleteExpiredSessions(time.Now())
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info().Int64("count", n).Msg("Purged expired sessions")
				}
				return nil
			},
		},
		{
			Name:            Optimize,
			ScheduleKey:     "jobs.optimize_schedule",
			DefaultSchedule: "@daily",
			Run:             db.Optimize,
		},
	}
}
