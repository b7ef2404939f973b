package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	domainpush "walking_bus_notifier/internal/domain/push"
	"walking_bus_notifier/internal/domain/subscription"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"
)

const (
	// requestTimeout bounds one delivery attempt so a stuck endpoint cannot
	// block a worker beyond it.
	requestTimeout = 20 * time.Second
	// messageTTL is how long the push service may hold an undelivered
	// reminder. Reminders are time-sensitive; an hour-old one is useless.
	messageTTL = 3600
)

// WebPushClient delivers messages over the Web Push protocol with VAPID
// authorization. The library signs a time-bounded assertion (12h expiry)
// against the endpoint origin; the payload is encrypted per subscription
// keys.
type WebPushClient struct {
	publicKey  string
	privateKey string
	subscriber string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewWebPushClient(publicKey, privateKey, subscriber string, log *logrus.Entry) *WebPushClient {
	return &WebPushClient{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log,
	}
}

// Send delivers one message to one endpoint and classifies the outcome. It
// never panics and never returns a raw transport error to the batch loop;
// everything is folded into the Result.
func (c *WebPushClient) Send(ctx context.Context, sub *subscription.Subscription, msg *domainpush.Message) domainpush.Result {
	payload, err := json.Marshal(msg)
	if err != nil {
		return domainpush.Result{
			Outcome: domainpush.Failed,
			Err:     fmt.Errorf("failed to marshal notification payload: %w", err),
		}
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      c.httpClient,
		Subscriber:      c.subscriber,
		TTL:             messageTTL,
		Urgency:         webpush.UrgencyNormal,
		VAPIDPublicKey:  c.publicKey,
		VAPIDPrivateKey: c.privateKey,
	})
	if err != nil {
		return domainpush.Result{
			Outcome: domainpush.Failed,
			Err:     fmt.Errorf("push request failed: %w", err),
		}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	result := domainpush.Result{
		Outcome:    domainpush.Classify(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
	if result.Outcome == domainpush.RateLimited {
		result.RetryAfter = resp.Header.Get("Retry-After")
	}
	if result.Outcome != domainpush.Delivered {
		result.Err = fmt.Errorf("push service responded with status %d", resp.StatusCode)
	}
	return result
}
