package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestScheduler_RegisterAndJobs(t *testing.T) {
	s := NewScheduler(time.UTC, false)

	job, err := s.Register("daily-fetch", "0 1 * * *", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := uuid.Parse(job.ID); err != nil {
		t.Errorf("job ID %q is not a uuid: %v", job.ID, err)
	}

	if _, err := s.Register("daily-fetch", "0 2 * * *", func(context.Context) error { return nil }); err == nil {
		t.Error("duplicate job name should fail")
	}
	if _, err := s.Register("bad", "not a schedule", func(context.Context) error { return nil }); err == nil {
		t.Error("invalid spec should fail")
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}
	next := jobs[0].NextRun
	if next.IsZero() {
		t.Fatal("NextRun should be set once started")
	}
	if next.In(time.UTC).Hour() != 1 || next.Minute() != 0 {
		t.Errorf("NextRun = %v, want 01:00", next)
	}
	if jobs[0].ID != job.ID || jobs[0].Name != "daily-fetch" {
		t.Errorf("job status = %+v", jobs[0])
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(time.UTC, false)
	wantErr := errors.New("boom")
	ran := 0
	s.Register("job", "@daily", func(context.Context) error {
		ran++
		return wantErr
	})

	if err := s.RunNow(context.Background(), "job"); !errors.Is(err, wantErr) {
		t.Errorf("RunNow = %v, want %v", err, wantErr)
	}
	if ran != 1 {
		t.Errorf("ran = %d, want 1", ran)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("RunNow on unknown job should fail")
	}
}

func TestRegisterIngestJobs(t *testing.T) {
	p := newFakeProvider()
	svc, st, _ := newTestService(t, p, time.Now())
	s := NewScheduler(time.UTC, false)

	if err := RegisterIngestJobs(s, svc, st, "", 90); err != nil {
		t.Fatalf("RegisterIngestJobs: %v", err)
	}
	names := map[string]bool{}
	for _, j := range s.Jobs() {
		names[j.Name] = true
	}
	if !names[DailyFetchJob] || !names[PayloadCleanupJob] {
		t.Errorf("jobs = %v, want %s and %s", names, DailyFetchJob, PayloadCleanupJob)
	}
	if err := s.RunNow(context.Background(), PayloadCleanupJob); err != nil {
		t.Errorf("cleanup job: %v", err)
	}
}
