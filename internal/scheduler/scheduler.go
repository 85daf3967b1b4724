// Package scheduler runs recurring scans on cron schedules. Each run is an
// ordinary dispatcher submission, so the single-flight guard applies, and port
// results are exported automatically.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/scanconsole/internal/export"
	"github.com/anstrom/scanconsole/internal/logging"
	"github.com/anstrom/scanconsole/internal/scan"
)

// Submitter submits a scan form.
type Submitter interface {
	SubmitForm(ctx context.Context, f scan.Form) (scan.Result, error)
}

// Exporter writes port results to disk.
type Exporter interface {
	Write(dir, target string, results []scan.PortResult, formats ...export.Format) ([]export.Artifact, error)
}

// JobConfig describes a recurring scan.
type JobConfig struct {
	Name      string          `json:"name"`
	Cron      string          `json:"cron"`
	Form      scan.Form       `json:"form"`
	ExportDir string          `json:"export_dir"`
	Formats   []export.Format `json:"formats,omitempty"`
}

// RunSummary is the outcome of one run.
type RunSummary struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Kind       scan.Kind         `json:"kind,omitempty"`
	Error      string            `json:"error,omitempty"`
	Artifacts  []export.Artifact `json:"artifacts,omitempty"`
}

// ScheduledJob is a registered job.
type ScheduledJob struct {
	ID      uuid.UUID    `json:"id"`
	CronID  cron.EntryID `json:"-"`
	Config  JobConfig    `json:"config"`
	LastRun time.Time    `json:"last_run,omitempty"`
	NextRun time.Time    `json:"next_run"`
	Running bool         `json:"running"`
	Last    *RunSummary  `json:"last,omitempty"`
}

// Scheduler manages scheduled scan jobs.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher Submitter
	exporter   Exporter
	jobs       map[uuid.UUID]*ScheduledJob
	mu         sync.RWMutex
	running    bool
	inflight   sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *logging.Logger
	onRun      func(uuid.UUID, RunSummary)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithRunHook is called after every run.
func WithRunHook(fn func(uuid.UUID, RunSummary)) Option {
	return func(s *Scheduler) { s.onRun = fn }
}

// NewScheduler creates a new job scheduler.
func NewScheduler(dispatcher Submitter, exporter Exporter, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron:       cron.New(),
		dispatcher: dispatcher,
		exporter:   exporter,
		jobs:       make(map[uuid.UUID]*ScheduledJob),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("scheduler")
	return s
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts the schedule and waits for running jobs to finish. Their scans
// are not interrupted. A later Start begins with a fresh context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.inflight.Wait()

	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// AddJob validates and registers a recurring scan.
func (s *Scheduler) AddJob(cfg JobConfig) (uuid.UUID, error) {
	schedule, err := cron.ParseStandard(cfg.Cron)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if err := cfg.Form.Validate(); err != nil {
		return uuid.Nil, err
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("%s %s", cfg.Form.Type.Slug(), cfg.Form.Target)
	}

	id := uuid.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	cronID, err := s.cron.AddFunc(cfg.Cron, func() { s.executeJob(id) })
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobs[id] = &ScheduledJob{
		ID:      id,
		CronID:  cronID,
		Config:  cfg,
		NextRun: schedule.Next(time.Now()),
	}
	s.logger.Info("job added", "job", cfg.Name, "cron", cfg.Cron, "target", cfg.Form.Target)
	return id, nil
}

// RemoveJob unregisters a job.
func (s *Scheduler) RemoveJob(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, id)
	return nil
}

// GetJobs returns copies of the registered jobs ordered by name.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := *job
		if entry := s.cron.Entry(job.CronID); entry.Valid() && !entry.Next.IsZero() {
			j.NextRun = entry.Next
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Config.Name < jobs[k].Config.Name })
	return jobs
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(id uuid.UUID) (RunSummary, error) {
	s.mu.RLock()
	_, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return RunSummary{}, fmt.Errorf("job %s not found", id)
	}
	summary, ran := s.executeJob(id)
	if !ran {
		return RunSummary{}, fmt.Errorf("job %s is already running", id)
	}
	return summary, nil
}

// executeJob runs one job unless its previous run is still going.
func (s *Scheduler) executeJob(id uuid.UUID) (RunSummary, bool) {
	job, ctx, ok := s.prepareJobExecution(id)
	if !ok {
		return RunSummary{}, false
	}
	defer s.inflight.Done()

	cfg := job.Config
	summary := RunSummary{StartedAt: time.Now()}

	result, err := s.dispatcher.SubmitForm(ctx, cfg.Form)
	if err != nil {
		summary.Error = err.Error()
		s.logger.ErrorScan("scheduled scan failed", cfg.Form.Target, err, "job", cfg.Name)
	} else {
		summary.Kind = result.Kind
		if result.Kind == scan.KindPorts && len(result.Ports) > 0 && cfg.ExportDir != "" {
			artifacts, err := s.exporter.Write(cfg.ExportDir, result.Target, result.Ports, cfg.Formats...)
			summary.Artifacts = artifacts
			if err != nil {
				summary.Error = err.Error()
				s.logger.ErrorScan("scheduled export failed", result.Target, err, "job", cfg.Name)
			}
		}
	}
	summary.FinishedAt = time.Now()

	s.finishJobExecution(id, summary)
	if s.onRun != nil {
		s.onRun(id, summary)
	}
	return summary, true
}

func (s *Scheduler) prepareJobExecution(id uuid.UUID) (*ScheduledJob, context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, nil, false
	}
	if job.Running {
		s.logger.Warn("job still running, skipping this run", "job", job.Config.Name)
		return nil, nil, false
	}
	job.Running = true
	job.LastRun = time.Now()
	s.inflight.Add(1)
	copied := *job
	return &copied, s.ctx, true
}

func (s *Scheduler) finishJobExecution(id uuid.UUID, summary RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		job.Running = false
		job.Last = &summary
	}
}
