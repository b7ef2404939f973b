package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"walking_bus_notifier/internal/domain/attendance"
	"walking_bus_notifier/internal/domain/push"
	"walking_bus_notifier/internal/domain/schedule"
	"walking_bus_notifier/internal/domain/subscription"
	"walking_bus_notifier/internal/domain/weather"

	"github.com/sirupsen/logrus"
)

// Log entry types for the audit trail.
const (
	LogTypeScheduleReminder = "schedule_reminder"
	LogTypeTestNotification = "test_notification"
)

// NotificationService assembles per-participant reminder content and drives
// delivery across a bus's subscription population, applying the
// pause-on-failure state machine per attempt.
type NotificationService struct {
	subRepo  subscription.Repository
	attRepo  attendance.Repository
	weather  weather.Source
	pusher   push.Client
	sweeper  *RetentionService
	log      *logrus.Entry
	now      func() time.Time
	location *time.Location
}

func NewNotificationService(
	subRepo subscription.Repository,
	attRepo attendance.Repository,
	weatherSource weather.Source,
	pusher push.Client,
	sweeper *RetentionService,
	loc *time.Location,
	log *logrus.Entry,
) *NotificationService {
	return &NotificationService{
		subRepo:  subRepo,
		attRepo:  attRepo,
		weather:  weatherSource,
		pusher:   pusher,
		sweeper:  sweeper,
		log:      log,
		now:      time.Now,
		location: loc,
	}
}

// SendReminders runs one notification batch for a bus. only restricts the
// batch to the given participant ids (used by test notifications); nil means
// all participants of every active subscription. One endpoint's failure never
// aborts the batch, and the method only errors when the batch could not start
// at all.
func (s *NotificationService) SendReminders(ctx context.Context, busID int64, only []int64, logType string) error {
	now := s.now().In(s.location)
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)

	decision, err := s.attRepo.CheckBusDay(ctx, busID, date)
	if err != nil {
		return fmt.Errorf("failed to check bus day for bus %d: %w", busID, err)
	}
	if !decision.Active {
		s.log.Infof("Bus %d does not operate on %s (%s), no reminders sent", busID, date.Format("2006-01-02"), decision.Reason)
		return nil
	}

	// Best-effort cleanup so the audit log cannot grow unbounded across a
	// long delivery batch.
	if err := s.sweeper.Sweep(ctx); err != nil {
		s.log.WithError(err).Warn("Retention sweep before batch failed")
	}

	forecast := s.lookupForecast(ctx, now)

	subs, err := s.subRepo.ListActiveByBus(ctx, busID)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions for bus %d: %w", busID, err)
	}
	s.log.Infof("Starting notification batch for bus %d: %d active subscriptions", busID, len(subs))

	var sent, failed int
	for _, sub := range subs {
		ids := filterParticipants(sub.ParticipantIDs, only)
		if len(ids) == 0 {
			continue
		}
		participants, err := s.attRepo.ListParticipants(ctx, ids)
		if err != nil {
			s.log.WithError(err).Errorf("Failed to load participants for subscription %d", sub.ID)
			continue
		}
		for _, p := range participants {
			msg, ok := s.assembleMessage(ctx, p, date, now, forecast)
			if !ok {
				continue
			}
			delivered, paused := s.deliver(ctx, sub, msg, logType)
			if delivered {
				sent++
			} else {
				failed++
			}
			if paused {
				// Remaining participants of a paused endpoint would fail the
				// same way; move on to the next subscription.
				break
			}
		}
	}

	s.log.Infof("Notification batch for bus %d finished: %d sent, %d failed", busID, sent, failed)
	return nil
}

// assembleMessage computes the attendance fact and renders one reminder.
// Participants whose weekday default is false get no reminder at all.
func (s *NotificationService) assembleMessage(ctx context.Context, p *attendance.Participant, date, now time.Time, forecast *weather.Forecast) (*push.Message, bool) {
	if !p.NormallyAttends(schedule.FromTime(date.Weekday())) {
		return nil, false
	}

	override, err := s.attRepo.GetOverride(ctx, p.ID, date)
	if err != nil {
		s.log.WithError(err).Warnf("Failed to load attendance override for participant %d, using weekly default", p.ID)
		override = nil
	}
	fact := attendance.Resolve(p, date, override)

	status := "abgemeldet"
	if fact.Attending {
		status = "angemeldet"
	}
	body := fmt.Sprintf("%s ist für heute %s.", p.Name, status)
	if line := weatherLine(forecast); line != "" {
		body += "\n" + line
	}

	return &push.Message{
		Title: "Walking Bus Erinnerung",
		Body:  body,
		Tag:   fmt.Sprintf("participant-%d-%d", p.ID, now.Unix()),
		Data: push.MessageData{
			ParticipantID: p.ID,
			CurrentStatus: fact.Attending,
			Date:          date.Format("2006-01-02"),
		},
		Actions: []push.Action{
			{Action: "toggle-attendance", Title: "Status ändern"},
		},
	}, true
}

// deliver sends one message, applies the subscription state machine to the
// classified outcome and writes exactly one audit log entry. The returned
// paused flag tells the batch loop to stop using this endpoint.
func (s *NotificationService) deliver(ctx context.Context, sub *subscription.Subscription, msg *push.Message, logType string) (delivered, paused bool) {
	result := s.pusher.Send(ctx, sub, msg)

	entry := &subscription.LogEntry{
		BusID:          sub.BusID,
		SubscriptionID: sql.NullInt64{Int64: sub.ID, Valid: true},
		Timestamp:      s.now(),
		Type:           logType,
		Payload:        marshalPayload(msg),
		Success:        result.Outcome == push.Delivered,
	}
	if result.StatusCode != 0 {
		entry.StatusCode = sql.NullInt32{Int32: int32(result.StatusCode), Valid: true}
	}
	if result.Err != nil {
		entry.ErrorMessage = sql.NullString{String: result.Err.Error(), Valid: true}
	}
	if err := s.subRepo.AppendLog(ctx, entry); err != nil {
		s.log.WithError(err).Errorf("Failed to write audit log entry for subscription %d", sub.ID)
	}

	switch result.Outcome {
	case push.Delivered:
		return true, false
	case push.RateLimited:
		// The push service asked us to back off. Not an endpoint failure:
		// no pause, no engine-side resend; the next regular fire retries.
		s.log.Warnf("Push service rate-limited subscription %d (Retry-After: %s)", sub.ID, result.RetryAfter)
		return false, false
	case push.PayloadTooLarge:
		// Content-size bug on our side, not endpoint death.
		s.log.Errorf("Payload too large for subscription %d", sub.ID)
		return false, false
	default:
		reason := subscription.PauseReasonDeliveryFailed
		if result.StatusCode == 404 || result.StatusCode == 410 {
			reason = subscription.PauseReasonEndpointGone
		}
		if err := s.subRepo.Pause(ctx, sub.ID, reason, result.StatusCode, s.now()); err != nil {
			s.log.WithError(err).Errorf("Failed to pause subscription %d", sub.ID)
		} else {
			s.log.Infof("Paused subscription %d after delivery failure (status %d)", sub.ID, result.StatusCode)
		}
		return false, true
	}
}

func (s *NotificationService) lookupForecast(ctx context.Context, now time.Time) *weather.Forecast {
	forecast, err := s.weather.ForecastAt(ctx, now)
	if err != nil {
		// Weather is enrichment only; its failure never blocks delivery.
		s.log.WithError(err).Warn("Weather lookup failed, sending reminders without forecast")
		return nil
	}
	return forecast
}

func weatherLine(f *weather.Forecast) string {
	if f == nil {
		return ""
	}
	if f.PrecipitationMM > 0 {
		return fmt.Sprintf("%.0f°C, %.1f mm Regen erwartet", f.TemperatureC, f.PrecipitationMM)
	}
	return fmt.Sprintf("%.0f°C, trocken", f.TemperatureC)
}

func filterParticipants(ids, only []int64) []int64 {
	if only == nil {
		return ids
	}
	wanted := make(map[int64]bool, len(only))
	for _, id := range only {
		wanted[id] = true
	}
	filtered := make([]int64, 0, len(ids))
	for _, id := range ids {
		if wanted[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered
}

func marshalPayload(msg *push.Message) string {
	b, err := json.Marshal(msg)
	if err != nil {
		return ""
	}
	return string(b)
}
