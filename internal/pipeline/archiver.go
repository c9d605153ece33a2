// Package pipeline runs the protocol's background jobs. Currently that is
// the history archiver, which periodically exports settled positions and the
// audit log to cold storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// archiveLockTTL bounds how long a single archive run may hold the
// cross-instance lock.
const archiveLockTTL = 30 * time.Minute

// Archiver periodically moves settled protocol history to S3 cold storage.
// A distributed lock ensures only one instance archives at a time.
type Archiver struct {
	blobArchiver  domain.Archiver
	locks         domain.LockManager
	interval      time.Duration
	retentionDays int
	triggerCh     chan struct{}
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver. locks may be nil, in which case runs
// are not serialized across instances.
func NewArchiver(blobArchiver domain.Archiver, locks domain.LockManager, interval time.Duration, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		locks:         locks,
		interval:      interval,
		retentionDays: retentionDays,
		triggerCh:     make(chan struct{}, 1),
		logger:        logger,
	}
}

// TriggerChannel returns a channel on which a non-blocking send schedules an
// immediate archive run, ahead of the regular interval.
func (a *Archiver) TriggerChannel() chan<- struct{} {
	return a.triggerCh
}

// Run executes a single archive run. The cutoff is retentionDays before now;
// anything settled earlier is exported.
func (a *Archiver) Run(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, "pipeline:archive", archiveLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.Info("archive run skipped, another instance holds the lock")
				return nil
			}
			return fmt.Errorf("acquiring archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.Archive(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving history before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete", slog.Int("records_archived", archived))
	return nil
}

// RunPeriodic runs the archiver at the configured interval until the context
// is cancelled. Failed runs are logged and retried at the next tick.
func (a *Archiver) RunPeriodic(ctx context.Context) error {
	a.logger.Info("archiver started", slog.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		case <-a.triggerCh:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("triggered archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
