package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"walking_bus_notifier/internal/domain/subscription"
)

var sweepNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func pausedSub(id int64, pausedAgo time.Duration) *subscription.Subscription {
	return &subscription.Subscription{
		ID:       id,
		BusID:    1,
		IsActive: false,
		PausedAt: sql.NullTime{Time: sweepNow.Add(-pausedAgo), Valid: true},
	}
}

func newTestSweeper(subRepo *fakeSubRepo) *RetentionService {
	s := NewRetentionService(subRepo, testLog())
	s.now = func() time.Time { return sweepNow }
	return s
}

func TestSweepPausedBoundary(t *testing.T) {
	t.Parallel()
	subRepo := newFakeSubRepo()
	subRepo.subs = []*subscription.Subscription{
		pausedSub(1, 30*24*time.Hour), // exactly 30 days: deleted
		pausedSub(2, 29*24*time.Hour), // 29 days: retained
		pausedSub(3, 31*24*time.Hour), // well past: deleted
	}

	if err := newTestSweeper(subRepo).Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	deleted := make(map[int64]bool)
	for _, id := range subRepo.deleted {
		deleted[id] = true
	}
	if !deleted[1] || !deleted[3] {
		t.Fatalf("deleted = %v, want subscriptions 1 and 3", subRepo.deleted)
	}
	if deleted[2] {
		t.Fatal("subscription paused 29 days ago must be retained")
	}
}

func TestSweepOwnerMarkedSubscription(t *testing.T) {
	t.Parallel()
	subRepo := newFakeSubRepo()
	subRepo.subs = []*subscription.Subscription{
		{ID: 5, BusID: 1, IsActive: true, MarkedForDeletion: true},
	}

	if err := newTestSweeper(subRepo).Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if len(subRepo.deleted) != 1 || subRepo.deleted[0] != 5 {
		t.Fatalf("deleted = %v, want [5]", subRepo.deleted)
	}
}

func TestSweepMarksLogsBeforeDeleting(t *testing.T) {
	t.Parallel()
	subRepo := newFakeSubRepo()
	subRepo.subs = []*subscription.Subscription{pausedSub(1, 40*24*time.Hour)}

	if err := newTestSweeper(subRepo).Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if len(subRepo.markOrder) != 2 || subRepo.markOrder[0] != "mark" || subRepo.markOrder[1] != "delete" {
		t.Fatalf("operations = %v, want logs marked orphaned before the delete", subRepo.markOrder)
	}
	if got := subRepo.markedAt[1]; !got.Equal(sweepNow) {
		t.Fatalf("subscription_deleted_at = %s, want sweep time %s", got, sweepNow)
	}
}

func TestSweepLogRetentionIndependentOfSubscriptions(t *testing.T) {
	t.Parallel()
	subRepo := newFakeSubRepo()
	subRepo.logs = []*subscription.LogEntry{
		{ID: 1, Timestamp: sweepNow.Add(-8 * 24 * time.Hour)}, // purged
		{ID: 2, Timestamp: sweepNow.Add(-6 * 24 * time.Hour)}, // retained
	}

	if err := newTestSweeper(subRepo).Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	wantCutoff := sweepNow.Add(-7 * 24 * time.Hour)
	if !subRepo.purgedBefore.Equal(wantCutoff) {
		t.Fatalf("purge cutoff = %s, want %s", subRepo.purgedBefore, wantCutoff)
	}
	if len(subRepo.logs) != 1 || subRepo.logs[0].ID != 2 {
		t.Fatalf("remaining logs = %+v, want only the 6-day-old entry", subRepo.logs)
	}
}

func TestSweepNothingToDo(t *testing.T) {
	t.Parallel()
	subRepo := newFakeSubRepo()
	if err := newTestSweeper(subRepo).Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if len(subRepo.markOrder) != 0 {
		t.Fatalf("operations = %v, want none without candidates", subRepo.markOrder)
	}
}
