// Package cycle drives the paginated scrape cycle: fetch, parse, classify,
// persist, notify, and stop early once the tail of the listing looks stale.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bazaraki-watcher/classify"
	"bazaraki-watcher/pkg/listing"
	"bazaraki-watcher/scrape"
)

// Fetcher fetches pages and sleeps the courtesy delay between requests.
type Fetcher interface {
	Get(ctx context.Context, url string) (string, error)
	Sleep(ctx context.Context) error
}

// Store is the persistence contract the cycle writes through.
type Store interface {
	GetAd(ctx context.Context, adID string) (*listing.Ad, error)
	InsertAd(ctx context.Context, ad *listing.Ad) error
	UpdatePrice(ctx context.Context, adID string, price int) error
	UpdateStatus(ctx context.Context, adID string, status listing.Status) error
	UpdatePostDate(ctx context.Context, adID string, postDate time.Time) error
	Touch(ctx context.Context, adID string) error
	UpdateColor(ctx context.Context, adID, color string) error
	AppendHistory(ctx context.Context, entry listing.HistoryEntry) error
}

// Notifier receives classified change events. Delivery must never block the
// loop for long or surface errors into it.
type Notifier interface {
	Dispatch(ctx context.Context, ev listing.Event)
}

// Config holds the cycle's tuning knobs.
type Config struct {
	BaseURL                 string
	SearchURL               string
	MaxConsecutiveUnchanged int
	MaxPages                int
	NotifyPriceChanges      bool
}

// Controller owns the single-active-cycle guard and the external stop flag.
// RequestStop and IsRunning are its only outside mutator/accessor.
type Controller struct {
	fetch  Fetcher
	store  Store
	notify Notifier
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	running       bool
	stopRequested bool
}

// New creates a cycle controller.
func New(fetch Fetcher, store Store, notify Notifier, cfg Config, logger *slog.Logger) *Controller {
	return &Controller{
		fetch:  fetch,
		store:  store,
		notify: notify,
		cfg:    cfg,
		logger: logger,
	}
}

// RequestStop raises the stop flag. The running cycle aborts at its next
// per-ad checkpoint; a no-op when nothing is running.
func (c *Controller) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRequested = true
}

// IsRunning reports whether a cycle (or rescan) is active.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// begin claims the running flag and clears any stale stop request. Returns
// false when another cycle is already active.
func (c *Controller) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	c.stopRequested = false
	return true
}

func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

func (c *Controller) stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

// Run executes one full scrape cycle and returns the count of newly
// discovered ads. A start request while a cycle is active is a logged no-op.
// A listing-page fetch failure ends the cycle gracefully, never fatally.
func (c *Controller) Run(ctx context.Context) (int, error) {
	if !c.begin() {
		c.logger.Info("Scrape cycle already running, ignoring trigger")
		return 0, nil
	}
	defer c.end()

	c.logger.Info("Starting scrape cycle",
		"search_url", c.cfg.SearchURL,
		"max_pages", c.cfg.MaxPages,
		"unchanged_threshold", c.cfg.MaxConsecutiveUnchanged)

	var (
		page        = 1
		consecutive = 0
		newAds      = 0
	)

	for {
		if c.stopped() || ctx.Err() != nil {
			c.logger.Info("Stop requested, aborting cycle", "page", page)
			break
		}

		pageURL := fmt.Sprintf("%s?page=%d", c.cfg.SearchURL, page)
		html, err := c.fetch.Get(ctx, pageURL)
		if err != nil {
			c.logger.Warn("Listing page unavailable, ending cycle", "page", page, "error", err)
			break
		}

		ads, err := scrape.ParseListing(html, c.cfg.BaseURL, time.Now())
		if err != nil {
			c.logger.Error("Listing page unparsable, ending cycle", "page", page, "error", err)
			break
		}
		if len(ads) == 0 {
			c.logger.Info("No ads on page, end of pagination", "page", page)
			break
		}

		c.logger.Info("Processing listing page", "page", page, "ads", len(ads))

		stopped := false
		for _, obs := range ads {
			// The stop flag is polled per ad, not per page, so a stop
			// request takes effect within one ad's processing.
			if c.stopped() || ctx.Err() != nil {
				stopped = true
				break
			}
			if err := c.processAd(ctx, obs, &consecutive, &newAds); err != nil {
				c.logger.Warn("Skipping ad after error", "ad_id", obs.ID, "error", err)
			}
		}
		if stopped {
			break
		}

		if consecutive >= c.cfg.MaxConsecutiveUnchanged {
			c.logger.Info("Stopping early: consecutive unchanged Basic ads",
				"count", consecutive, "page", page)
			break
		}

		if err := c.fetch.Sleep(ctx); err != nil {
			break
		}

		page++
		if page > c.cfg.MaxPages {
			c.logger.Info("Page safety ceiling reached", "max_pages", c.cfg.MaxPages)
			break
		}
	}

	c.logger.Info("Scrape cycle finished", "new_ads", newAds, "pages", page)
	return newAds, nil
}

// processAd classifies one observation and applies its side effects.
func (c *Controller) processAd(ctx context.Context, obs listing.Summary, consecutive, newAds *int) error {
	stored, err := c.store.GetAd(ctx, obs.ID)
	if err != nil {
		return fmt.Errorf("load ad: %w", err)
	}

	changes := classify.Classify(stored, obs)

	if changes[0].Kind == classify.New {
		*consecutive = 0
		added, err := c.handleNew(ctx, obs)
		if added {
			*newAds++
		}
		return err
	}

	if classify.IsUnchanged(changes) {
		if err := c.store.Touch(ctx, obs.ID); err != nil {
			return fmt.Errorf("touch ad: %w", err)
		}
		// Boosted ads sit at the top regardless of age; only an unchanged
		// Basic ad hints that the rest of the tail is stale.
		if obs.Status == listing.StatusBasic {
			*consecutive++
		}
		return nil
	}

	*consecutive = 0
	for _, ch := range changes {
		if err := c.applyChange(ctx, stored, ch); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) applyChange(ctx context.Context, stored *listing.Ad, ch classify.Change) error {
	updated := *stored

	switch ch.Kind {
	case classify.PriceChanged:
		if err := c.store.UpdatePrice(ctx, stored.ID, ch.NewPrice); err != nil {
			return fmt.Errorf("update price: %w", err)
		}
		c.appendHistory(ctx, stored.ID, "price", ch.Old, ch.New)
		if c.cfg.NotifyPriceChanges {
			updated.CurrentPrice = ch.NewPrice
			c.notify.Dispatch(ctx, listing.Event{
				Kind:     listing.EventPrice,
				Ad:       updated,
				OldPrice: stored.CurrentPrice,
			})
		}

	case classify.StatusChanged:
		if err := c.store.UpdateStatus(ctx, stored.ID, ch.NewStatus); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		c.appendHistory(ctx, stored.ID, "status", ch.Old, ch.New)
		updated.Status = ch.NewStatus
		c.notify.Dispatch(ctx, listing.Event{
			Kind:      listing.EventStatus,
			Ad:        updated,
			OldStatus: stored.Status,
		})

	case classify.Reposted:
		if err := c.store.UpdatePostDate(ctx, stored.ID, *ch.NewPostDate); err != nil {
			return fmt.Errorf("update post date: %w", err)
		}
		c.appendHistory(ctx, stored.ID, "repost", ch.Old, ch.New)
		updated.PostDate = ch.NewPostDate
		c.notify.Dispatch(ctx, listing.Event{Kind: listing.EventRepost, Ad: updated})
	}

	return nil
}

// handleNew fetches the detail page for a never-seen ad, builds the full
// record and persists it. The detail fetch is the only one the main cycle
// performs per ad, and it is always followed by the courtesy delay.
func (c *Controller) handleNew(ctx context.Context, obs listing.Summary) (bool, error) {
	html, err := c.fetch.Get(ctx, obs.URL)
	if err != nil {
		c.logger.Warn("Detail page unavailable for new ad, skipping", "ad_id", obs.ID, "error", err)
		_ = c.fetch.Sleep(ctx)
		return false, nil
	}

	detail, parseErr := scrape.ParseDetail(html, time.Now())
	sleepErr := c.fetch.Sleep(ctx)
	if parseErr != nil {
		return false, fmt.Errorf("parse detail: %w", parseErr)
	}
	if sleepErr != nil {
		return false, sleepErr
	}

	ad := BuildAd(obs, detail, time.Now())
	if err := c.store.InsertAd(ctx, ad); err != nil {
		return false, fmt.Errorf("insert ad: %w", err)
	}

	c.logger.Info("New ad discovered",
		"ad_id", ad.ID,
		"brand", ad.Brand,
		"model", ad.Model,
		"price", ad.CurrentPrice,
		"status", ad.Status)

	c.notify.Dispatch(ctx, listing.Event{Kind: listing.EventNew, Ad: *ad})
	return true, nil
}

func (c *Controller) appendHistory(ctx context.Context, adID, kind, oldVal, newVal string) {
	err := c.store.AppendHistory(ctx, listing.HistoryEntry{
		AdID: adID,
		Kind: kind,
		Old:  oldVal,
		New:  newVal,
		At:   time.Now(),
	})
	if err != nil {
		c.logger.Warn("Failed to append history entry", "ad_id", adID, "kind", kind, "error", err)
	}
}

// BuildAd combines a listing observation and a detail record into the full
// stored ad. The detail page's tier badge, when present, overrides the tier
// seen in list view.
func BuildAd(obs listing.Summary, detail *listing.Detail, now time.Time) *listing.Ad {
	status := obs.Status
	if detail.StatusOverride != "" {
		status = detail.StatusOverride
	}

	return &listing.Ad{
		ID:           obs.ID,
		URL:          obs.URL,
		FirstSeen:    now,
		PostDate:     detail.PostDate,
		InitialPrice: obs.Price,
		CurrentPrice: obs.Price,
		Brand:        detail.Brand,
		Model:        detail.Model,
		Year:         detail.Year,
		Color:        detail.Color,
		Gearbox:      detail.Gearbox,
		BodyType:     detail.BodyType,
		FuelType:     detail.FuelType,
		EngineSize:   detail.EngineSize,
		DriveType:    detail.DriveType,
		Mileage:      detail.Mileage,
		SellerName:   detail.SellerName,
		SellerID:     detail.SellerID,
		IsBusiness:   detail.IsBusiness,
		Status:       status,
		LastChecked:  now,
	}
}
