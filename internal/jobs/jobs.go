// Package jobs runs the site's housekeeping on cron schedules.
package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/config"
)

// Job is a named housekeeping task
type Job struct {
	Name string
	// ScheduleKey is the setting holding the cron spec
	ScheduleKey     string
	DefaultSchedule string
	Run             func() error
}

// Status describes a scheduled job
type Status struct {
	Name     string
	Schedule string
	Next     time.Time
	LastRun  time.Time
	LastErr  string
}

// Runner schedules jobs with robfig/cron
type Runner struct {
	loader  *config.Loader
	cron    *cron.Cron
	jobs    []Job
	mu      sync.RWMutex
	entries map[string]cron.EntryID
	status  map[string]*Status
	running bool
}

// NewRunner creates a runner reading schedules through loader
func NewRunner(loader *config.Loader) *Runner {
	return &Runner{
		loader:  loader,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		status:  make(map[string]*Status),
	}
}

// Add registers a job. Jobs must be added before Start.
func (r *Runner) Add(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

// Start schedules every job and starts the cron scheduler. A job with an
// invalid or empty schedule is skipped with a warning.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	for _, job := range r.jobs {
		schedule := r.loader.String(job.ScheduleKey, job.DefaultSchedule)
		if schedule == "" || schedule == "off" {
			log.Info().Str("job", job.Name).Msg("Job disabled")
			continue
		}

		id, err := r.cron.AddFunc(schedule, r.wrap(job))
		if err != nil {
			log.Warn().Err(err).Str("job", job.Name).Str("schedule", schedule).Msg("Invalid job schedule, job not scheduled")
			continue
		}
		r.entries[job.Name] = id
		r.status[job.Name] = &Status{Name: job.Name, Schedule: schedule}
		log.Debug().Str("job", job.Name).Str("schedule", schedule).Msg("Job scheduled")
	}

	r.cron.Start()
	r.running = true
	log.Info().Int("jobs", len(r.entries)).Msg("Job runner started")
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	ctx := r.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Job runner stopped")
}

// RunNow runs a job by name immediately, outside its schedule
func (r *Runner) RunNow(name string) error {
	r.mu.RLock()
	var job *Job
	for i := range r.jobs {
		if r.jobs[i].Name == name {
			job = &r.jobs[i]
			break
		}
	}
	r.mu.RUnlock()

	if job == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	r.wrap(*job)()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if s := r.status[name]; s != nil && s.LastErr != "" {
		return fmt.Errorf("job %s failed: %s", name, s.LastErr)
	}
	return nil
}

// Statuses returns a snapshot of every scheduled job
func (r *Runner) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.jobs))
	for _, job := range r.jobs {
		s, ok := r.status[job.Name]
		if !ok {
			continue
		}
		snapshot := *s
		if id, ok := r.entries[job.Name]; ok {
			snapshot.Next = r.cron.Entry(id).Next
		}
		out = append(out, snapshot)
	}
	return out
}

func (r *Runner) wrap(job Job) func() {
	return func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("job", job.Name).Msg("Job panicked")
				r.record(job.Name, fmt.Errorf("panic: %v", rec))
			}
		}()

		start := time.Now()
		err := job.Run()
		if err != nil {
			log.Error().Err(err).Str("job", job.Name).Msg("Job failed")
		} else {
			log.Debug().Str("job", job.Name).Dur("duration", time.Since(start)).Msg("Job finished")
		}
		r.record(job.Name, err)
	}
}

func (r *Runner) record(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.status[name]
	if !ok {
		s = &Status{Name: name}
		r.status[name] = s
	}
	s.LastRun = time.Now()
	s.LastErr = ""
	if err != nil {
		s.LastErr = err.Error()
	}
}
