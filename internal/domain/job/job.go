package job

import (
	"context"
	"fmt"
	"time"

	"walking_bus_notifier/internal/domain/schedule"
)

// Type discriminates what a scheduled job does when it fires.
type Type string

const (
	TypeBusNotification  Type = "walking_bus_notification"
	TypeTestNotification Type = "test_notification"
)

// Key is the stable identifier binding a trigger to its semantic slot
// (bus + weekday). Re-deriving the key for an unchanged day yields the same
// value, which is what makes trigger replacement idempotent.
type Key string

// KeyFor builds the recurring-notification key for one weekday slot.
func KeyFor(busID int64, day schedule.Weekday) Key {
	return Key(fmt.Sprintf("notify_bus_%d_%s", busID, day))
}

// Record is the durable bookkeeping row for one currently installed trigger.
// Exactly one Record exists per enabled weekday per bus; none for disabled
// days.
type Record struct {
	Key         Key
	BusID       int64
	Type        Type
	NextRunTime time.Time
}

// Func is the body a trigger executes when it fires.
type Func func(ctx context.Context) error

// Mutation is one element of a reconciliation set for a bus week: either an
// upsert (Record set) or a removal (RemoveKey set).
type Mutation struct {
	Upsert    *Record
	RemoveKey Key
}

// Repository is the durable job store. ReplaceWeek applies a full week's
// mutations for one bus atomically: either every upsert and removal commits,
// or none do.
type Repository interface {
	Get(ctx context.Context, key Key) (*Record, error)
	ListByBus(ctx context.Context, busID int64) ([]*Record, error)
	ReplaceWeek(ctx context.Context, busID int64, mutations []Mutation) error
	Upsert(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, key Key) error
}
