// Package jobs holds the background work scheduled by cmd/api.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
)

const (
	DefaultSchedule = "@every 1m"
	defaultBatch    = 100
	defaultParallel = 4
)

type PendingLister interface {
	ListPaymentsNeedingSettlement(ctx context.Context, now time.Time, limit int) ([]models.PaymentRecord, error)
}

type Settler interface {
	RetrySettlement(ctx context.Context, holdID uuid.UUID) (models.PaymentRecord, error)
}

type Reconciler struct {
	list     PendingLister
	settler  Settler
	Batch    int
	Parallel int
	Timeout  time.Duration
	nowFn    func() time.Time
}

func NewReconciler(list PendingLister, settler Settler) *Reconciler {
	return &Reconciler{
		list:     list,
		settler:  settler,
		Batch:    defaultBatch,
		Parallel: defaultParallel,
		Timeout:  50 * time.Second,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

type Report struct {
	Due       int
	Settled   int
	StillOpen int
	Failed    int
}

// RunOnce retries every due settlement once. A failure on one record never stops the rest.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	due, err := r.list.ListPaymentsNeedingSettlement(ctx, r.nowFn(), r.Batch)
	if err != nil {
		return Report{}, err
	}

	var settled, open, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(max(r.Parallel, 1))
	for _, p := range due {
		holdID := p.Hold.ID
		g.Go(func() error {
			got, err := r.settler.RetrySettlement(ctx, holdID)
			switch {
			case err != nil:
				failed.Add(1)
				slog.Default().WarnContext(ctx, "reconciliation attempt failed",
					"module", "jobs",
					"operation", "reconcile",
					"outcome", "failure",
					"hold_id", holdID,
					"error", err,
				)
			case got.SettlementFlag == models.SettlementClear:
				settled.Add(1)
			default:
				open.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Due: len(due), Settled: int(settled.Load()), StillOpen: int(open.Load()), Failed: int(failed.Load())}
	if rep.Due > 0 {
		slog.Default().InfoContext(ctx, "reconciliation pass finished",
			"module", "jobs",
			"operation", "reconcile",
			"outcome", "success",
			"due", rep.Due,
			"settled", rep.Settled,
			"still_open", rep.StillOpen,
			"failed", rep.Failed,
		)
	}
	return rep, nil
}

// Schedule registers the reconciler on c. Overlapping runs are skipped.
func (r *Reconciler) Schedule(c *cron.Cron, schedule string) (cron.EntryID, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	job := cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			slog.Default().ErrorContext(ctx, "reconciliation pass failed",
				"module", "jobs",
				"operation", "reconcile",
				"outcome", "failure",
				"error", err,
			)
		}
	})
	return c.AddJob(schedule, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job))
}
