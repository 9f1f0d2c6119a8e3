package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/apimgr/devrestore/src/server/metrics"
)

// Task represents a scheduled task
type Task struct {
	Name string
	// Cron expression: "0 2 * * *", "@hourly", "@every 5m"
	Schedule string
	Fn       func(ctx context.Context) error
	entryID  cron.EntryID
	// Can be toggled on/off
	enabled bool
	lastRun *time.Time
	lastErr error
	running bool
	mu      sync.Mutex
}

// TaskStatus is a snapshot of a task for status output
type TaskStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Enabled   bool       `json:"enabled"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	NextRun   time.Time  `json:"next_run"`
}

// Scheduler manages scheduled tasks using robfig/cron
type Scheduler struct {
	cron   *cron.Cron
	tasks  map[string]*Task
	logger zerolog.Logger
	// Deadline for a single task run
	taskTimeout time.Duration
	mu          sync.RWMutex
}

// NewScheduler creates a new scheduler instance with robfig/cron
func NewScheduler(logger zerolog.Logger) *Scheduler {
	// Standard five-field cron plus descriptors
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	return &Scheduler{
		cron:        c,
		tasks:       make(map[string]*Task),
		logger:      logger.With().Str("component", "scheduler").Logger(),
		taskTimeout: 5 * time.Minute,
	}
}

// AddTask adds a new task to the scheduler with a cron schedule
func (s *Scheduler) AddTask(name string, schedule string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task '%s' already registered", name)
	}

	task := &Task{
		Name:     name,
		Schedule: schedule,
		Fn:       fn,
		enabled:  true,
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.executeTask(task)
	})
	if err != nil {
		return fmt.Errorf("failed to add task '%s' with schedule '%s': %w", name, schedule, err)
	}

	task.entryID = entryID
	s.tasks[name] = task
	return nil
}

// AddTaskInterval adds a task with a time.Duration interval
func (s *Scheduler) AddTaskInterval(name string, interval time.Duration, fn func(ctx context.Context) error) error {
	return s.AddTask(name, fmt.Sprintf("@every %s", interval.String()), fn)
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.cron.Start()
	s.logger.Info().Int("tasks", len(s.tasks)).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running tasks
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) executeTask(task *Task) {
	task.mu.Lock()
	if !task.enabled || task.running {
		task.mu.Unlock()
		return
	}
	task.running = true
	task.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	start := time.Now()
	err := task.Fn(ctx)
	end := time.Now()

	task.mu.Lock()
	task.running = false
	task.lastRun = &end
	task.lastErr = err
	task.mu.Unlock()

	elapsed := end.Sub(start)
	if err != nil {
		metrics.RecordSchedulerTask(task.Name, "failure")
		s.logger.Error().Err(err).Str("task", task.Name).Dur("duration", elapsed).Msg("task failed")
		return
	}
	metrics.RecordSchedulerTask(task.Name, "success")
	s.logger.Debug().Str("task", task.Name).Dur("duration", elapsed).Msg("task completed")
}

// EnableTask enables a task
func (s *Scheduler) EnableTask(taskName string) error {
	return s.setEnabled(taskName, true)
}

// DisableTask disables a task; it stays scheduled but does nothing
func (s *Scheduler) DisableTask(taskName string) error {
	return s.setEnabled(taskName, false)
}

func (s *Scheduler) setEnabled(taskName string, enabled bool) error {
	task := s.GetTask(taskName)
	if task == nil {
		return fmt.Errorf("task '%s' not found", taskName)
	}
	task.mu.Lock()
	task.enabled = enabled
	task.mu.Unlock()
	return nil
}

// TriggerTask runs a task immediately, outside its schedule
func (s *Scheduler) TriggerTask(taskName string) error {
	task := s.GetTask(taskName)
	if task == nil {
		return fmt.Errorf("task '%s' not found", taskName)
	}
	s.executeTask(task)

	task.mu.Lock()
	defer task.mu.Unlock()
	return task.lastErr
}

// GetTask returns a task by name
func (s *Scheduler) GetTask(taskName string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[taskName]
}

// GetTaskStatus returns a snapshot of every task, sorted by name
func (s *Scheduler) GetTaskStatus() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := make([]TaskStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		task.mu.Lock()
		st := TaskStatus{
			Name:     task.Name,
			Schedule: task.Schedule,
			Enabled:  task.enabled,
			LastRun:  task.lastRun,
			NextRun:  s.cron.Entry(task.entryID).Next,
		}
		if task.lastErr != nil {
			st.LastError = task.lastErr.Error()
		}
		task.mu.Unlock()
		status = append(status, st)
	}
	sort.Slice(status, func(i, j int) bool { return status[i].Name < status[j].Name })
	return status
}
