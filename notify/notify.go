// Package notify delivers change events to downstream sinks: the bot layer's
// webhook, the admin log feed, and whoever else registers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bazaraki-watcher/alert"
	"bazaraki-watcher/pkg/listing"
)

// dispatchTimeout bounds delivery of a single event so a slow or unreachable
// sink can never stall the scrape loop.
const dispatchTimeout = 10 * time.Second

// Sink receives change events. Implementations must tolerate being called
// from the scrape loop and return quickly.
type Sink interface {
	Notify(ctx context.Context, ev Delivery) error
}

// AlertSource supplies the active saved searches for the fan-out.
type AlertSource interface {
	ActiveAlerts(ctx context.Context) ([]listing.Alert, error)
}

// Delivery is one event enriched with the user ids whose alerts matched.
type Delivery struct {
	Event        listing.Event
	MatchedUsers []int64
	Message      string
}

// Dispatcher matches events against alerts and fans them out to every sink.
// Delivery is best-effort: failures are logged and never propagate to the
// caller.
type Dispatcher struct {
	sinks  []Sink
	alerts AlertSource
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(alerts AlertSource, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, alerts: alerts, logger: logger}
}

// Dispatch delivers one event. The calling loop does not learn about sink
// failures; operators do, through the log.
func (d *Dispatcher) Dispatch(ctx context.Context, ev listing.Event) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	delivery := Delivery{
		Event:        ev,
		MatchedUsers: d.matchedUsers(ctx, ev.Ad),
		Message:      Format(ev),
	}

	for _, sink := range d.sinks {
		if err := sink.Notify(ctx, delivery); err != nil {
			d.logger.Warn("Notification delivery failed",
				"kind", ev.Kind,
				"ad_id", ev.Ad.ID,
				"error", err)
		}
	}
}

func (d *Dispatcher) matchedUsers(ctx context.Context, ad listing.Ad) []int64 {
	if d.alerts == nil {
		return nil
	}
	alerts, err := d.alerts.ActiveAlerts(ctx)
	if err != nil {
		d.logger.Warn("Failed to load active alerts for fan-out", "error", err)
		return nil
	}

	var users []int64
	seen := make(map[int64]bool)
	for _, a := range alerts {
		filters, err := alert.ParseFilters(a.Filters)
		if err != nil {
			d.logger.Warn("Skipping alert with bad filter payload", "alert_id", a.ID, "error", err)
			continue
		}
		if alert.Matches(ad, filters) && !seen[a.UserID] {
			seen[a.UserID] = true
			users = append(users, a.UserID)
		}
	}
	return users
}

// Format renders the human-readable message for an event.
func Format(ev listing.Event) string {
	ad := ev.Ad

	title := strings.TrimSpace(fmt.Sprintf("%s %s %s", orUnknown(ad.Brand), ad.Model, yearString(ad.Year)))

	switch ev.Kind {
	case listing.EventNew:
		prefix := "Car"
		switch ad.Status {
		case listing.StatusVIP:
			prefix = "VIP"
		case listing.StatusTop:
			prefix = "TOP"
		}
		return fmt.Sprintf("%s: %s\n%d EUR, %s\n%s / %s / %s\nSeller: %s\n%s",
			prefix, title, ad.CurrentPrice, mileageString(ad.Mileage),
			orNA(ad.FuelType), orNA(ad.Gearbox), engineString(ad.EngineSize),
			orUnknown(ad.SellerName), ad.URL)
	case listing.EventPrice:
		return fmt.Sprintf("Price change: %s\n%d EUR -> %d EUR\n%s",
			title, ev.OldPrice, ad.CurrentPrice, ad.URL)
	case listing.EventStatus:
		return fmt.Sprintf("Status update (%s -> %s): %s\n%d EUR\n%s",
			ev.OldStatus, ad.Status, title, ad.CurrentPrice, ad.URL)
	case listing.EventRepost:
		return fmt.Sprintf("Ad reposted: %s\nThe ad was bumped to the top.\n%s", title, ad.URL)
	default:
		return fmt.Sprintf("%s: %s\n%s", ev.Kind, title, ad.URL)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func yearString(year int) string {
	if year == 0 {
		return ""
	}
	return fmt.Sprintf("%d", year)
}

func mileageString(km int) string {
	if km == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%d km", km)
}

func engineString(cc int) string {
	if cc == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%d cc", cc)
}

// LogSink writes every event to the structured log. Serves as the admin feed
// when no webhook is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Notify implements Sink.
func (l *LogSink) Notify(_ context.Context, d Delivery) error {
	l.Logger.Info("Notification",
		"kind", d.Event.Kind,
		"ad_id", d.Event.Ad.ID,
		"ad_url", d.Event.Ad.URL,
		"price", d.Event.Ad.CurrentPrice,
		"status", d.Event.Ad.Status,
		"matched_users", len(d.MatchedUsers))
	return nil
}
