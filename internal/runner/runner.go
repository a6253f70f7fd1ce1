// Package runner executes scheduled background tasks on cron schedules.
package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a named unit of scheduled work.
type Task interface {
	Name() string
	// Schedule is a cron expression with a seconds field.
	Schedule() string
	Timeout() time.Duration
	Run(ctx context.Context) error
}

// Runner manages and executes scheduled background tasks.
type Runner struct {
	cron   *cron.Cron
	tasks  []Task
	logger *log.Logger
	wg     sync.WaitGroup
}

// NewRunner creates an empty task runner.
func NewRunner() *Runner {
	return &Runner{
		cron:   cron.New(cron.WithSeconds()),
		logger: log.New(os.Stdout, "[RUNNER] ", log.LstdFlags),
	}
}

// Add registers a task. Call before Start.
func (r *Runner) Add(task Task) {
	r.tasks = append(r.tasks, task)
}

// Start schedules all tasks and begins executing them.
func (r *Runner) Start(ctx context.Context) error {
	for _, task := range r.tasks {
		task := task
		r.logger.Printf("Registering task: %s with schedule: %s", task.Name(), task.Schedule())
		if _, err := r.cron.AddFunc(task.Schedule(), func() {
			r.executeTask(ctx, task)
		}); err != nil {
			return fmt.Errorf("schedule task %s: %w", task.Name(), err)
		}
	}
	r.cron.Start()
	r.logger.Println("Task runner started")
	return nil
}

// executeTask runs a single task with timeout and error handling.
func (r *Runner) executeTask(ctx context.Context, task Task) {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	start := time.Now()
	if err := task.Run(taskCtx); err != nil {
		r.logger.Printf("Task %s failed after %v: %v", task.Name(), time.Since(start), err)
		return
	}
	r.logger.Printf("Task %s completed in %v", task.Name(), time.Since(start))
}

// Stop drains the scheduler and waits for in-flight tasks.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.wg.Wait()
	r.logger.Println("Task runner stopped")
}
