package workers

import (
	"context"
	"time"

	"github.com/tannerhall/worldvault/pkg/log"
	"github.com/tannerhall/worldvault/pkg/repositories"
)

type LeaseReaperWorker struct {
	repository repositories.Repository
	interval   time.Duration
}

type NewLeaseReaperWorkerOptions struct {
	Repository repositories.Repository
	Interval   time.Duration
}

// NewLeaseReaperWorker creates a new LeaseReaperWorker. The worker
// periodically deletes expired lease rows for hygiene; lease expiry is
// evaluated lazily on every access, so correctness does not depend on the
// reaper running.
func NewLeaseReaperWorker(opts NewLeaseReaperWorkerOptions) *LeaseReaperWorker {
	return &LeaseReaperWorker{
		repository: opts.Repository,
		interval:   opts.Interval,
	}
}

func (w *LeaseReaperWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := w.repository.DeleteExpiredLeases(ctx, time.Now())
			if err != nil {
				log.Error("Failed to delete expired leases: %v", err)
				continue
			}
			if deleted > 0 {
				log.Debug("Reaped %d expired leases", deleted)
			}
		}
	}
}
