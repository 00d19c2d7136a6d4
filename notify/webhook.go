package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	retry "github.com/codeGROOVE-dev/retry-go"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"bazaraki-watcher/pkg/listing"
)

// WebhookSink POSTs events as JSON to the bot layer's endpoint. Delivery is
// retried a few times with jitter; a persistently failing endpoint surfaces
// as a returned error, which the dispatcher logs and drops.
type WebhookSink struct {
	client *resty.Client
	url    string
	logger *slog.Logger
}

// webhookPayload is the wire shape consumed by the bot layer.
type webhookPayload struct {
	EventID      string    `json:"event_id"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
	MatchedUsers []int64   `json:"matched_users,omitempty"`
	Ad           adPayload `json:"ad"`
	OldPrice     int       `json:"old_price,omitempty"`
	OldStatus    string    `json:"old_status,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}

type adPayload struct {
	ID           string     `json:"ad_id"`
	URL          string     `json:"ad_url"`
	PostDate     *time.Time `json:"post_date,omitempty"`
	CurrentPrice int        `json:"current_price"`
	Brand        string     `json:"car_brand,omitempty"`
	Model        string     `json:"car_model,omitempty"`
	Year         int        `json:"car_year,omitempty"`
	Color        string     `json:"car_color,omitempty"`
	Gearbox      string     `json:"gearbox,omitempty"`
	BodyType     string     `json:"body_type,omitempty"`
	FuelType     string     `json:"fuel_type,omitempty"`
	EngineSize   int        `json:"engine_size,omitempty"`
	DriveType    string     `json:"drive_type,omitempty"`
	Mileage      int        `json:"mileage,omitempty"`
	SellerName   string     `json:"user_name,omitempty"`
	SellerID     string     `json:"user_id,omitempty"`
	IsBusiness   *bool      `json:"is_business,omitempty"`
	Status       string     `json:"ad_status"`
}

// NewWebhookSink creates a webhook sink posting to url.
func NewWebhookSink(url string, timeout time.Duration, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		client: resty.New().SetTimeout(timeout),
		url:    url,
		logger: logger,
	}
}

// Notify implements Sink.
func (w *WebhookSink) Notify(ctx context.Context, d Delivery) error {
	payload := buildPayload(d)

	err := retry.Do(
		func() error {
			resp, err := w.client.R().
				SetContext(ctx).
				SetHeader("Content-Type", "application/json").
				SetBody(payload).
				Post(w.url)
			if err != nil {
				return fmt.Errorf("post webhook: %w", err)
			}
			code := resp.StatusCode()
			if code >= http.StatusOK && code < http.StatusMultipleChoices {
				return nil
			}
			if code >= http.StatusBadRequest && code < http.StatusInternalServerError {
				// The endpoint rejected the payload; retrying won't help.
				return retry.Unrecoverable(fmt.Errorf("webhook returned HTTP %d", code))
			}
			return fmt.Errorf("webhook returned HTTP %d", code)
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxJitter(500*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Info("Retrying webhook delivery", "attempt", n, "event_id", payload.EventID, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("deliver event %s: %w", payload.EventID, err)
	}

	w.logger.Debug("Webhook delivered", "event_id", payload.EventID, "kind", payload.Kind)
	return nil
}

func buildPayload(d Delivery) webhookPayload {
	ad := d.Event.Ad
	return webhookPayload{
		EventID:      uuid.NewString(),
		Kind:         string(d.Event.Kind),
		Message:      d.Message,
		MatchedUsers: d.MatchedUsers,
		OldPrice:     d.Event.OldPrice,
		OldStatus:    string(oldStatus(d.Event)),
		SentAt:       time.Now().UTC(),
		Ad: adPayload{
			ID:           ad.ID,
			URL:          ad.URL,
			PostDate:     ad.PostDate,
			CurrentPrice: ad.CurrentPrice,
			Brand:        ad.Brand,
			Model:        ad.Model,
			Year:         ad.Year,
			Color:        ad.Color,
			Gearbox:      ad.Gearbox,
			BodyType:     ad.BodyType,
			FuelType:     ad.FuelType,
			EngineSize:   ad.EngineSize,
			DriveType:    ad.DriveType,
			Mileage:      ad.Mileage,
			SellerName:   ad.SellerName,
			SellerID:     ad.SellerID,
			IsBusiness:   ad.IsBusiness,
			Status:       string(ad.Status),
		},
	}
}

func oldStatus(ev listing.Event) listing.Status {
	if ev.Kind == listing.EventStatus {
		return ev.OldStatus
	}
	return ""
}
