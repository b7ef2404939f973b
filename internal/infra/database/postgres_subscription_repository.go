package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"walking_bus_notifier/internal/domain/subscription"

	"github.com/lib/pq" // For pq.Array and driver registration
)

var ErrSubscriptionNotFound = fmt.Errorf("push subscription not found")

type PostgresSubscriptionRepository struct {
	db *sql.DB
}

func NewPostgresSubscriptionRepository(db *sql.DB) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{db: db}
}

func (r *PostgresSubscriptionRepository) ListActiveByBus(ctx context.Context, busID int64) ([]*subscription.Subscription, error) {
	query := `SELECT id, walking_bus_id, endpoint, p256dh, auth, owner_token_ref,
                     participant_ids, is_active, paused_at, pause_reason,
                     last_error_code, marked_for_deletion, created_at
              FROM push_subscriptions
              WHERE walking_bus_id = $1 AND is_active = TRUE AND marked_for_deletion = FALSE
              ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, busID)
	if err != nil {
		return nil, fmt.Errorf("error querying active subscriptions for bus %d: %w", busID, err)
	}
	defer rows.Close()

	subs := make([]*subscription.Subscription, 0)
	for rows.Next() {
		s := subscription.Subscription{}
		var participantIDs pq.Int64Array
		if err := rows.Scan(
			&s.ID, &s.BusID, &s.Endpoint, &s.P256dh, &s.Auth, &s.OwnerTokenRef,
			&participantIDs, &s.IsActive, &s.PausedAt, &s.PauseReason,
			&s.LastErrorCode, &s.MarkedForDeletion, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning subscription row: %w", err)
		}
		s.ParticipantIDs = []int64(participantIDs)
		subs = append(subs, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}
	return subs, nil
}

func (r *PostgresSubscriptionRepository) Pause(ctx context.Context, id int64, reason subscription.PauseReason, statusCode int, at time.Time) error {
	query := `UPDATE push_subscriptions
              SET is_active = FALSE, paused_at = $1, pause_reason = $2, last_error_code = $3
              WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, at, string(reason), statusCode, id)
	if err != nil {
		return fmt.Errorf("error pausing subscription %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking pause result for subscription %d: %w", id, err)
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *PostgresSubscriptionRepository) AppendLog(ctx context.Context, entry *subscription.LogEntry) error {
	query := `INSERT INTO notification_logs
               (walking_bus_id, subscription_id, created_at, status_code, error_message, type, payload, success)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
              RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		entry.BusID, entry.SubscriptionID, entry.Timestamp, entry.StatusCode,
		entry.ErrorMessage, entry.Type, entry.Payload, entry.Success,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("error appending notification log entry: %w", err)
	}
	return nil
}

// ListExpirable snapshots the ids of subscriptions due for deletion: marked
// by their owner, paused at or before the cutoff, or holding a reference to
// an auth token that is no longer active. The weak token reference is
// resolved via a left join so subscriptions whose token row vanished count as
// expirable too.
func (r *PostgresSubscriptionRepository) ListExpirable(ctx context.Context, c subscription.ExpiryCriteria) ([]int64, error) {
	query := `SELECT s.id
              FROM push_subscriptions s
              LEFT JOIN auth_tokens t ON t.token_ref = s.owner_token_ref
              WHERE s.marked_for_deletion = TRUE
                 OR (s.is_active = FALSE AND s.paused_at IS NOT NULL AND s.paused_at <= $1)
                 OR (s.owner_token_ref IS NOT NULL AND (t.token_ref IS NULL OR t.is_active = FALSE))`
	rows, err := r.db.QueryContext(ctx, query, c.PausedBefore)
	if err != nil {
		return nil, fmt.Errorf("error querying expirable subscriptions: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning expirable subscription id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expirable subscription ids: %w", err)
	}
	return ids, nil
}

func (r *PostgresSubscriptionRepository) MarkLogsOrphaned(ctx context.Context, subscriptionIDs []int64, at time.Time) error {
	if len(subscriptionIDs) == 0 {
		return nil
	}
	query := `UPDATE notification_logs
              SET subscription_deleted_at = $1
              WHERE subscription_id = ANY($2::bigint[]) AND subscription_deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, at, pq.Array(subscriptionIDs))
	if err != nil {
		return fmt.Errorf("error marking notification logs orphaned: %w", err)
	}
	return nil
}

func (r *PostgresSubscriptionRepository) DeleteByIDs(ctx context.Context, subscriptionIDs []int64) (int64, error) {
	if len(subscriptionIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE id = ANY($1::bigint[])`, pq.Array(subscriptionIDs))
	if err != nil {
		return 0, fmt.Errorf("error deleting subscriptions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error counting deleted subscriptions: %w", err)
	}
	return deleted, nil
}

func (r *PostgresSubscriptionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM push_subscriptions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting subscriptions: %w", err)
	}
	return count, nil
}

func (r *PostgresSubscriptionRepository) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notification_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error purging notification logs: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error counting purged notification logs: %w", err)
	}
	return purged, nil
}
