package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Job is one scheduled background task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// cronParser validates schedule expressions before they reach gocron, so a
// bad env override fails at registration instead of silently never firing.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler runs registered jobs on cron schedules in UTC.
type Scheduler struct {
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]Job
	handles map[string]gocron.Job
	running bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler() (*Scheduler, error) {
	inner, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: inner,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]Job),
		handles:   make(map[string]gocron.Job),
	}, nil
}

// Register adds a job on the given cron expression (standard five fields).
func (s *Scheduler) Register(job Job, cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q for job %s: %w", cronExpr, job.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	handle, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			s.runJob(job)
		}),
		gocron.WithName(job.Name()),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.Name(), err)
	}

	s.jobs[job.Name()] = job
	s.handles[job.Name()] = handle
	log.Printf("✅ [SCHEDULER] Registered job %s (cron: %s)", job.Name(), cronExpr)
	return nil
}

// Start begins running all registered jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.jobs))
	s.scheduler.Start()
}

// Stop shuts the scheduler down and waits for in-flight jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.cancel()
	err := s.scheduler.Shutdown()
	s.wg.Wait()
	log.Println("✅ [SCHEDULER] Job scheduler stopped")
	return err
}

func (s *Scheduler) runJob(job Job) {
	s.wg.Add(1)
	defer s.wg.Done()

	log.Printf("▶️ [SCHEDULER] Running job: %s", job.Name())
	start := time.Now()

	if err := job.Run(s.ctx); err != nil {
		log.Printf("❌ [SCHEDULER] Job %s failed after %v: %v", job.Name(), time.Since(start), err)
		return
	}
	log.Printf("✅ [SCHEDULER] Job %s completed in %v", job.Name(), time.Since(start))
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}
	return job.Run(s.ctx)
}

// JobStatus describes one registered job.
type JobStatus struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
}

// Status reports the registered jobs and their next run times.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.handles))
	for name, handle := range s.handles {
		next, _ := handle.NextRun()
		out = append(out, JobStatus{Name: name, NextRun: next})
	}
	return out
}
