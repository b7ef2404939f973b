package push

import (
	"context"
	"net/http"

	"walking_bus_notifier/internal/domain/subscription"
)

// Outcome is the closed classification of a delivery attempt. The engine
// never inspects error strings; transport results are mapped onto this set
// once, by Classify.
type Outcome int

const (
	// Delivered: the push service accepted the message.
	Delivered Outcome = iota
	// RateLimited: HTTP 429. Not an endpoint failure; the subscription stays
	// active and the next regular fire retries.
	RateLimited
	// PayloadTooLarge: HTTP 413. A content-size bug, not endpoint death; the
	// subscription stays active.
	PayloadTooLarge
	// Failed: any other status code or a transport-level error. The
	// subscription is paused.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case RateLimited:
		return "rate_limited"
	case PayloadTooLarge:
		return "payload_too_large"
	default:
		return "failed"
	}
}

// Result is the classified outcome of one delivery attempt.
type Result struct {
	Outcome    Outcome
	StatusCode int    // 0 when the attempt never reached the push service
	RetryAfter string // Retry-After header on 429, informational only
	Err        error
}

// Classify maps an HTTP status code onto the outcome set. Codes outside any
// 2xx are failures except for the two retry-without-pause cases.
func Classify(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Delivered
	case statusCode == http.StatusTooManyRequests:
		return RateLimited
	case statusCode == http.StatusRequestEntityTooLarge:
		return PayloadTooLarge
	default:
		return Failed
	}
}

// MessageData is the machine-readable part of a reminder, consumed by the
// service worker on the client.
type MessageData struct {
	ParticipantID int64  `json:"participant_id"`
	CurrentStatus bool   `json:"current_status"`
	Date          string `json:"date"`
}

// Action is one button offered on the rendered notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Message is one rendered reminder for a single participant. Tag combines the
// participant id with a timestamp so clients replace in-flight notifications
// instead of stacking duplicates.
type Message struct {
	Title   string      `json:"title"`
	Body    string      `json:"body"`
	Tag     string      `json:"tag"`
	Data    MessageData `json:"data"`
	Actions []Action    `json:"actions"`
}

// Client sends one message to one endpoint and reports the classified
// outcome. Implementations own the transport timeout; a stuck attempt must
// never propagate as a panic or block beyond that timeout.
type Client interface {
	Send(ctx context.Context, sub *subscription.Subscription, msg *Message) Result
}
