package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ServiceOptions configures the cron service.
type ServiceOptions struct {
	// StorePath is the JSON file the job registry persists to.
	StorePath string
	// Run executes a job's prompt, normally Gateway.HandleCron.
	Run RunFunc
	// JobTimeout bounds one job execution. Zero means 5 minutes.
	JobTimeout time.Duration
}

// Service schedules persisted jobs and fires their prompts through
// the gateway. Each job's session key is cron:<name>.
type Service struct {
	options ServiceOptions

	mu      sync.Mutex
	jobs    map[string]*Job
	timers  map[string]*time.Timer
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService loads the registry and schedules enabled jobs.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.StorePath == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.Run == nil {
		return nil, fmt.Errorf("run callback is required")
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		options: opts,
		jobs:    make(map[string]*Job),
		timers:  make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := s.load(); err != nil {
		log.Warn().Err(err).Msg("Failed to load cron registry, starting empty")
	}

	s.mu.Lock()
	for _, job := range s.jobs {
		if job.Enabled {
			s.scheduleLocked(job)
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	log.Info().Int("job_count", count).Msg("Cron service initialized")
	return s, nil
}

// Add creates and schedules a job.
func (s *Service) Add(params AddParams) (*Job, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if params.Message == "" {
		return nil, fmt.Errorf("job message is required")
	}

	next, err := NextRun(params.Schedule, time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("service is stopped")
	}
	for _, existing := range s.jobs {
		if existing.Name == params.Name {
			return nil, fmt.Errorf("job %q already exists", params.Name)
		}
	}

	now := time.Now()
	job := &Job{
		ID:             uuid.New().String(),
		Name:           params.Name,
		Schedule:       params.Schedule,
		Message:        params.Message,
		Enabled:        params.Enabled,
		DeleteAfterRun: params.DeleteAfterRun,
		CreatedAt:      now,
		UpdatedAt:      now,
		State:          JobState{NextRunAt: &next},
	}
	s.jobs[job.ID] = job

	if err := s.persistLocked(); err != nil {
		delete(s.jobs, job.ID)
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if job.Enabled {
		s.scheduleLocked(job)
	}

	log.Info().Str("job", job.Name).Time("next_run", next).Msg("Cron job added")
	return cloneJob(job), nil
}

// Remove deletes a job by name.
func (s *Service) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if job.Name == name {
			s.unscheduleLocked(id)
			delete(s.jobs, id)
			if err := s.persistLocked(); err != nil {
				return err
			}
			log.Info().Str("job", name).Msg("Cron job removed")
			return nil
		}
	}
	return fmt.Errorf("job %q not found", name)
}

// SetEnabled toggles a job on or off.
func (s *Service) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if job.Name != name {
			continue
		}
		job.Enabled = enabled
		job.UpdatedAt = time.Now()
		if enabled {
			if next, err := NextRun(job.Schedule, time.Now()); err == nil {
				job.State.NextRunAt = &next
				s.scheduleLocked(job)
			} else {
				return fmt.Errorf("cannot enable job %q: %w", name, err)
			}
		} else {
			s.unscheduleLocked(id)
			job.State.NextRunAt = nil
		}
		return s.persistLocked()
	}
	return fmt.Errorf("job %q not found", name)
}

// List returns jobs sorted by name.
func (s *Service) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Stop cancels all timers and waits for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id := range s.timers {
		s.unscheduleLocked(id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// scheduleLocked arms the timer for a job's next run.
func (s *Service) scheduleLocked(job *Job) {
	s.unscheduleLocked(job.ID)
	if job.State.NextRunAt == nil {
		return
	}

	delay := time.Until(*job.State.NextRunAt)
	if delay < 0 {
		delay = 0
	}
	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() {
		s.fire(id)
	})
}

func (s *Service) unscheduleLocked(id string) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

// fire executes one scheduled run and reschedules or deletes the job.
func (s *Service) fire(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || s.stopped || !job.Enabled {
		s.mu.Unlock()
		return
	}
	name := job.Name
	message := job.Message
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.options.JobTimeout)
	defer cancel()

	started := time.Now()
	_, err := s.options.Run(ctx, name, message)
	duration := time.Since(started)

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok = s.jobs[id]
	if !ok {
		return
	}

	now := time.Now()
	job.State.LastRunAt = &now
	job.State.LastDurationMs = duration.Milliseconds()
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		job.State.ConsecutiveErrors++
		log.Error().Err(err).Str("job", name).Msg("Cron job failed")
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
		job.State.ConsecutiveErrors = 0
		log.Info().Str("job", name).Dur("duration", duration).Msg("Cron job completed")
	}

	if job.DeleteAfterRun || job.Schedule.Kind == ScheduleKindAt {
		delete(s.jobs, id)
		s.unscheduleLocked(id)
	} else if next, nerr := NextRun(job.Schedule, now); nerr == nil {
		job.State.NextRunAt = &next
		if !s.stopped && job.Enabled {
			s.scheduleLocked(job)
		}
	} else {
		job.State.NextRunAt = nil
		log.Warn().Err(nerr).Str("job", name).Msg("Cron job has no next run")
	}

	if perr := s.persistLocked(); perr != nil {
		log.Warn().Err(perr).Msg("Failed to persist cron registry")
	}
}

type registryFile struct {
	Version int    `json:"version"`
	Jobs    []*Job `json:"jobs"`
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.options.StorePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var reg registryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return fmt.Errorf("malformed cron registry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range reg.Jobs {
		// Recompute stale next-run times on load.
		if job.Enabled {
			if next, err := NextRun(job.Schedule, time.Now()); err == nil {
				job.State.NextRunAt = &next
			} else {
				job.Enabled = false
				job.State.NextRunAt = nil
			}
		}
		s.jobs[job.ID] = job
	}
	return nil
}

func (s *Service) persistLocked() error {
	reg := registryFile{Version: 1}
	for _, job := range s.jobs {
		reg.Jobs = append(reg.Jobs, job)
	}
	sort.Slice(reg.Jobs, func(i, j int) bool { return reg.Jobs[i].Name < reg.Jobs[j].Name })

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.options.StorePath), 0o755); err != nil {
		return err
	}
	tmp := s.options.StorePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.options.StorePath)
}

func cloneJob(job *Job) *Job {
	c := *job
	return &c
}
