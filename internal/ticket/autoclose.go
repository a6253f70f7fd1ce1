package ticket

import (
	"context"
	"log"
	"time"
)

// AutoCloseTask archives tickets left in resolved longer than the retention
// window. Clients who never confirm closure would otherwise hold resolved
// tickets forever.
type AutoCloseTask struct {
	svc       *Service
	schedule  string
	retention time.Duration
}

// NewAutoCloseTask builds the background task. schedule is a cron
// expression with seconds; retention is how long a ticket may sit resolved.
func NewAutoCloseTask(svc *Service, schedule string, retention time.Duration) *AutoCloseTask {
	if schedule == "" {
		schedule = "0 */10 * * * *"
	}
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return &AutoCloseTask{svc: svc, schedule: schedule, retention: retention}
}

func (t *AutoCloseTask) Name() string           { return "ticket-autoclose" }
func (t *AutoCloseTask) Schedule() string       { return t.schedule }
func (t *AutoCloseTask) Timeout() time.Duration { return time.Minute }

func (t *AutoCloseTask) Run(ctx context.Context) error {
	closed, err := t.svc.CloseExpired(ctx, time.Now().Add(-t.retention))
	if err != nil {
		return err
	}
	if closed > 0 {
		log.Printf("ticket: auto-closed %d resolved tickets", closed)
	}
	return nil
}
