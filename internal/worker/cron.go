package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskfleet/notifier/pkg/logger"
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Cron is the engine's heartbeat: a set of named periodic jobs, each on its
// own ticker, sharing one process. RunJob lets tests fire a job directly
// instead of waiting on wall-clock timers.
type Cron struct {
	jobs   []Job
	logger *logger.Logger
}

func NewCron(log *logger.Logger) *Cron {
	return &Cron{logger: log}
}

func (c *Cron) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run function is required", job.Name)
	}
	for _, existing := range c.jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("job %s already registered", job.Name)
		}
	}
	c.jobs = append(c.jobs, job)
	return nil
}

// Start launches every job and blocks until the context is cancelled.
func (c *Cron) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range c.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			c.runLoop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (c *Cron) runLoop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	log := c.logger.WithFields(map[string]interface{}{"job": job.Name})
	log.Info("job started", "interval", job.Interval.String())

	for {
		select {
		case <-ctx.Done():
			log.Info("job stopped")
			return
		case <-ticker.C:
			if err := job.Run(ctx); err != nil {
				log.Error(err, "job run failed")
			}
		}
	}
}

// RunJob invokes the named job synchronously.
func (c *Cron) RunJob(ctx context.Context, name string) error {
	for _, job := range c.jobs {
		if job.Name == name {
			return job.Run(ctx)
		}
	}
	return fmt.Errorf("unknown job: %s", name)
}

// Jobs returns the registered job names in registration order.
func (c *Cron) Jobs() []string {
	names := make([]string, 0, len(c.jobs))
	for _, job := range c.jobs {
		names = append(names, job.Name)
	}
	return names
}
