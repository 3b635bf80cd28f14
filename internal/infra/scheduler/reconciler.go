package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 30s"

// PendingReconciler settles requests whose ledger confirmation is still
// outstanding and reports how many changed state.
type PendingReconciler interface {
	ReconcilePending(ctx context.Context) (int, error)
}

// Reconciler runs PendingReconciler on a cron schedule. Overlapping runs are
// skipped.
type Reconciler struct {
	cron    *cron.Cron
	target  PendingReconciler
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewReconciler(target PendingReconciler, schedule string, timeout time.Duration) (*Reconciler, error) {
	if target == nil {
		return nil, errors.New("reconcile target is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		target:  target,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
	if _, err := r.cron.AddFunc(schedule, r.RunOnce); err != nil {
		cancel()
		return nil, err
	}
	return r, nil
}

func (r *Reconciler) Start() {
	r.cron.Start()
	log.Printf("reconciler started")
}

// Stop cancels an in-flight run and waits for it to return.
func (r *Reconciler) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
}

func (r *Reconciler) RunOnce() {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	settled, err := r.target.ReconcilePending(ctx)
	if err != nil {
		log.Printf("reconciler: %v", err)
	}
	if settled > 0 {
		log.Printf("reconciler: settled %d request(s)", settled)
	}
}
