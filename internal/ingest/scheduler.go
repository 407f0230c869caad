package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/lox/turfweather/internal/store"
)

const (
	DailyFetchJob      = "daily-fetch"
	PayloadCleanupJob  = "raw-payload-cleanup"
	DefaultDailySpec   = "0 1 * * *"
	payloadCleanupSpec = "30 3 * * *"
)

// Job is a registered recurring job.
type Job struct {
	ID   string
	Name string
	Spec string

	entry cron.EntryID
	run   func(context.Context) error
}

// JobStatus reports a job's next scheduled run.
type JobStatus struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run_time"`
}

// Scheduler runs named jobs on cron schedules in a fixed location. A job
// never overlaps itself: a tick that arrives while it is still running is
// skipped.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs []*Job
	ctx  context.Context
}

func NewScheduler(loc *time.Location, debug bool) *Scheduler {
	var logger cron.Logger = cron.PrintfLogger(log.New(os.Stderr, "cron: ", log.LstdFlags))
	if debug {
		logger = cron.VerbosePrintfLogger(log.New(os.Stderr, "cron: ", log.LstdFlags))
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx: context.Background(),
	}
}

// Register adds a job. fn receives the context passed to Start.
func (s *Scheduler) Register(name, spec string, fn func(context.Context) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.Name == name {
			return Job{}, fmt.Errorf("job %q already registered", name)
		}
	}

	job := &Job{ID: uuid.NewString(), Name: name, Spec: spec, run: fn}
	id, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		start := time.Now()
		log.Printf("scheduler: running %s", name)
		if err := fn(ctx); err != nil {
			log.Printf("scheduler: %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
			return
		}
		log.Printf("scheduler: %s completed in %s", name, time.Since(start).Round(time.Millisecond))
	})
	if err != nil {
		return Job{}, fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	job.entry = id
	s.jobs = append(s.jobs, job)
	return *job, nil
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var job *Job
	for _, j := range s.jobs {
		if j.Name == name {
			job = j
			break
		}
	}
	s.mu.Unlock()

	if job == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	return job.run(ctx)
}

// Jobs lists registered jobs with their next run time. NextRun is zero until
// the scheduler has started.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			ID:      j.ID,
			Name:    j.Name,
			NextRun: s.cron.Entry(j.entry).Next,
		})
	}
	return out
}

// Start begins running jobs. ctx is handed to every job invocation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	log.Printf("scheduler: started with %d jobs", len(s.Jobs()))
}

// Stop prevents new runs and waits for running jobs or ctx expiry.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		log.Println("scheduler: shutting down")
		return nil
	case <-ctx.Done():
		return errors.New("scheduler: timed out waiting for running jobs")
	}
}

// RegisterIngestJobs installs the daily fetch cycle and raw payload cleanup.
func RegisterIngestJobs(s *Scheduler, svc *Service, st *store.Store, dailySpec string, retentionDays int) error {
	if dailySpec == "" {
		dailySpec = DefaultDailySpec
	}
	if _, err := s.Register(DailyFetchJob, dailySpec, svc.RunDailyCycle); err != nil {
		return err
	}
	if retentionDays <= 0 {
		return nil
	}
	_, err := s.Register(PayloadCleanupJob, payloadCleanupSpec, func(context.Context) error {
		n, err := st.CleanupOldRawPayloads(retentionDays)
		if err != nil {
			return err
		}
		log.Printf("scheduler: removed %d raw payloads older than %d days", n, retentionDays)
		return nil
	})
	return err
}
