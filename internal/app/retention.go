package app

import (
	"context"
	"fmt"
	"time"

	"walking_bus_notifier/internal/domain/subscription"

	"github.com/sirupsen/logrus"
)

const (
	// logRetention is how long audit log entries are kept.
	logRetention = 7 * 24 * time.Hour
	// pausedRetention is how long a paused subscription survives before the
	// sweeper deletes it.
	pausedRetention = 30 * 24 * time.Hour
)

// RetentionService is the periodic cleanup pass: it purges expired audit log
// entries and deletes subscriptions that are owner-marked, long paused, or
// whose owner token is no longer active. Runs are idempotent and safe to
// repeat; deletion works on a snapshot of ids and re-verifies the count
// afterwards.
type RetentionService struct {
	subRepo subscription.Repository
	log     *logrus.Entry
	now     func() time.Time
}

func NewRetentionService(subRepo subscription.Repository, log *logrus.Entry) *RetentionService {
	return &RetentionService{
		subRepo: subRepo,
		log:     log,
		now:     time.Now,
	}
}

// Sweep applies both cleanup criteria in one combined run. Log retention is
// independent of subscription state; subscription expiry additionally stamps
// the orphaned log rows before the delete so history survives.
func (s *RetentionService) Sweep(ctx context.Context) error {
	now := s.now()

	purged, err := s.subRepo.PurgeLogsBefore(ctx, now.Add(-logRetention))
	if err != nil {
		return fmt.Errorf("failed to purge notification logs: %w", err)
	}
	if purged > 0 {
		s.log.Infof("Purged %d notification log entries older than %s", purged, logRetention)
	}

	ids, err := s.subRepo.ListExpirable(ctx, subscription.ExpiryCriteria{
		PausedBefore: now.Add(-pausedRetention),
	})
	if err != nil {
		return fmt.Errorf("failed to list expirable subscriptions: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	// Preserve history: mark the survivors' log rows as orphaned instead of
	// cascading a hard delete through the audit trail.
	if err := s.subRepo.MarkLogsOrphaned(ctx, ids, now); err != nil {
		return fmt.Errorf("failed to mark log entries of expired subscriptions: %w", err)
	}

	deleted, err := s.subRepo.DeleteByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to delete expired subscriptions: %w", err)
	}

	remaining, err := s.subRepo.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count remaining subscriptions: %w", err)
	}

	s.log.Infof("Subscription cleanup: marked %d, deleted %d, %d remaining", len(ids), deleted, remaining)
	if deleted != int64(len(ids)) {
		// A concurrent sweep or intake mutation got there first; the next run
		// converges, so this is observability only.
		s.log.Warnf("Subscription cleanup count mismatch: marked %d but deleted %d", len(ids), deleted)
	}
	return nil
}
