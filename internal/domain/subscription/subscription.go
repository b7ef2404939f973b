package subscription

import (
	"context"
	"database/sql"
	"time"
)

// PauseReason records why delivery to a subscription was suspended.
type PauseReason string

const (
	PauseReasonEndpointGone   PauseReason = "ENDPOINT_GONE"
	PauseReasonDeliveryFailed PauseReason = "DELIVERY_FAILED"
)

// Subscription is one browser push endpoint registered for a walking bus,
// together with the participants its owner wants reminders for.
//
// OwnerTokenRef is a weak reference to the auth token of the installing
// client. It carries no ownership: when that token is invalidated the
// subscription merely becomes a cleanup candidate for the retention sweeper.
type Subscription struct {
	ID                int64
	BusID             int64
	Endpoint          string
	P256dh            string
	Auth              string
	OwnerTokenRef     sql.NullString
	ParticipantIDs    []int64
	IsActive          bool
	PausedAt          sql.NullTime
	PauseReason       sql.NullString
	LastErrorCode     sql.NullInt32
	MarkedForDeletion bool
	CreatedAt         time.Time
}

// LogEntry is one append-only audit row per delivery attempt. SubscriptionID
// becomes logically orphaned when its subscription is removed;
// SubscriptionDeletedAt records when that happened so history survives the
// delete.
type LogEntry struct {
	ID                    int64
	BusID                 int64
	SubscriptionID        sql.NullInt64
	Timestamp             time.Time
	StatusCode            sql.NullInt32
	ErrorMessage          sql.NullString
	Type                  string
	Payload               string
	Success               bool
	SubscriptionDeletedAt sql.NullTime
}

// ExpiryCriteria selects subscriptions due for deletion by the sweeper.
type ExpiryCriteria struct {
	// PausedBefore: paused at or before this instant (the 30-day cutoff).
	PausedBefore time.Time
}

// Repository persists subscriptions and the delivery audit log. The worker
// never creates subscriptions (that is the intake surface's job); it only
// mutates lifecycle fields and appends log entries.
type Repository interface {
	ListActiveByBus(ctx context.Context, busID int64) ([]*Subscription, error)
	Pause(ctx context.Context, id int64, reason PauseReason, statusCode int, at time.Time) error

	AppendLog(ctx context.Context, entry *LogEntry) error

	// ListExpirable returns the ids of subscriptions matching any expiry
	// criterion: owner-requested deletion, paused at or before the cutoff, or
	// a no-longer-active owner token.
	ListExpirable(ctx context.Context, c ExpiryCriteria) ([]int64, error)
	// MarkLogsOrphaned stamps SubscriptionDeletedAt on surviving log rows of
	// the given subscriptions before they are deleted.
	MarkLogsOrphaned(ctx context.Context, subscriptionIDs []int64, at time.Time) error
	DeleteByIDs(ctx context.Context, subscriptionIDs []int64) (int64, error)
	Count(ctx context.Context) (int64, error)

	PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
