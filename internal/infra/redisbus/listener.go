package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Pub/sub channels carrying out-of-band reconfiguration events.
const (
	ChannelScheduleUpdates = "schedule_updates"
	ChannelTestRequests    = "test_notification_requests"
)

// Handler consumes the two reconfiguration event kinds. Handlers must be
// idempotent: the transport is at-least-once and duplicates do arrive.
type Handler interface {
	HandleScheduleChanged(ctx context.Context, busID int64)
	HandleTestRequested(ctx context.Context, jobKey string)
}

// Listener is the single consumer of the reconfiguration channel. Malformed
// messages are logged and dropped; nothing short of a closed connection ends
// the loop.
type Listener struct {
	client  *redis.Client
	handler Handler
	log     *logrus.Entry
}

func NewListener(client *redis.Client, handler Handler, log *logrus.Entry) *Listener {
	return &Listener{client: client, handler: handler, log: log}
}

// Run blocks consuming messages until the context is cancelled or the
// subscription channel closes.
func (l *Listener) Run(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, ChannelScheduleUpdates, ChannelTestRequests)
	defer pubsub.Close()

	// Fail fast if the subscription could not be established at all.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to reconfiguration channels: %w", err)
	}
	l.log.Infof("Listening on %s and %s", ChannelScheduleUpdates, ChannelTestRequests)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				l.log.Warn("Reconfiguration channel closed")
				return nil
			}
			l.dispatch(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, channel, payload string) {
	switch channel {
	case ChannelScheduleUpdates:
		busID, err := parseScheduleUpdate(payload)
		if err != nil {
			l.log.WithError(err).Warnf("Dropping malformed schedule update: %q", payload)
			return
		}
		l.log.Infof("Received schedule update for bus %d", busID)
		l.handler.HandleScheduleChanged(ctx, busID)
	case ChannelTestRequests:
		jobKey, err := parseTestRequest(payload)
		if err != nil {
			l.log.WithError(err).Warnf("Dropping malformed test notification request: %q", payload)
			return
		}
		l.log.Infof("Received test notification request %s", jobKey)
		l.handler.HandleTestRequested(ctx, jobKey)
	default:
		l.log.Warnf("Dropping message on unexpected channel %s", channel)
	}
}

// parseScheduleUpdate extracts the bus id from a schedule_updates payload.
// A present-but-zero or absent bus id means "all buses" and is not an error.
func parseScheduleUpdate(payload string) (int64, error) {
	var msg struct {
		BusID *int64 `json:"bus_id"`
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return 0, fmt.Errorf("invalid schedule update payload: %w", err)
	}
	if msg.BusID == nil {
		return 0, nil
	}
	if *msg.BusID < 0 {
		return 0, fmt.Errorf("invalid bus id %d", *msg.BusID)
	}
	return *msg.BusID, nil
}

// parseTestRequest extracts the descriptor key from a
// test_notification_requests payload.
func parseTestRequest(payload string) (string, error) {
	var msg struct {
		JobKey string `json:"job_key"`
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return "", fmt.Errorf("invalid test request payload: %w", err)
	}
	if strings.TrimSpace(msg.JobKey) == "" {
		return "", fmt.Errorf("test request carries no job key")
	}
	return msg.JobKey, nil
}
