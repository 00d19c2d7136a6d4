// Package sweep health-checks the ads users follow: liveness, price,
// promotion tier and reposts, with structured history for every change.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bazaraki-watcher/pkg/listing"
	"bazaraki-watcher/scrape"
)

// Fetcher fetches detail pages and sleeps the courtesy delay.
type Fetcher interface {
	Get(ctx context.Context, url string) (string, error)
	Sleep(ctx context.Context) error
}

// Store is the persistence contract the sweeper writes through.
type Store interface {
	FollowedAdIDs(ctx context.Context) ([]string, error)
	GetAd(ctx context.Context, adID string) (*listing.Ad, error)
	FailedChecks(ctx context.Context, adID string) (int, error)
	IncrementFailedChecks(ctx context.Context, adID string) error
	ResetFailedChecks(ctx context.Context, adID string) error
	UpdatePrice(ctx context.Context, adID string, price int) error
	UpdateStatus(ctx context.Context, adID string, status listing.Status) error
	UpdatePostDate(ctx context.Context, adID string, postDate time.Time) error
	AppendHistory(ctx context.Context, entry listing.HistoryEntry) error
}

// Notifier receives sweep change events.
type Notifier interface {
	Dispatch(ctx context.Context, ev listing.Event)
}

// Sweeper runs the follow-health pass over the distinct set of followed ads.
type Sweeper struct {
	fetch            Fetcher
	store            Store
	notify           Notifier
	failureThreshold int
	logger           *slog.Logger
}

// New creates a sweeper. failureThreshold is how many consecutive fetch
// failures mark a followed ad as Disabled.
func New(fetch Fetcher, store Store, notify Notifier, failureThreshold int, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		fetch:            fetch,
		store:            store,
		notify:           notify,
		failureThreshold: failureThreshold,
		logger:           logger,
	}
}

// Run sweeps every followed ad once. Per-ad failures are logged and skipped;
// they never abort the sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	ids, err := s.store.FollowedAdIDs(ctx)
	if err != nil {
		return fmt.Errorf("list followed ads: %w", err)
	}

	s.logger.Info("Starting follow-health sweep", "followed_ads", len(ids))

	checked := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			s.logger.Info("Context cancelled, stopping sweep", "checked", checked)
			return ctx.Err()
		}
		if err := s.checkAd(ctx, id); err != nil {
			s.logger.Warn("Follow check failed, skipping ad", "ad_id", id, "error", err)
		}
		checked++
	}

	s.logger.Info("Follow-health sweep finished", "checked", checked)
	return nil
}

func (s *Sweeper) checkAd(ctx context.Context, adID string) error {
	ad, err := s.store.GetAd(ctx, adID)
	if err != nil {
		return fmt.Errorf("load ad: %w", err)
	}
	if ad == nil {
		s.logger.Warn("Followed ad missing from store", "ad_id", adID)
		return nil
	}

	html, fetchErr := s.fetch.Get(ctx, ad.URL)
	// A courtesy delay follows every per-ad fetch, success or failure.
	defer func() { _ = s.fetch.Sleep(ctx) }()

	if fetchErr != nil {
		return s.recordFailure(ctx, ad)
	}

	if err := s.store.ResetFailedChecks(ctx, adID); err != nil {
		return fmt.Errorf("reset failed checks: %w", err)
	}

	detail, err := scrape.ParseDetail(html, time.Now())
	if err != nil {
		return fmt.Errorf("parse detail: %w", err)
	}

	// The expired marker decides liveness independently of fetch success.
	if detail.Expired {
		if ad.Status != listing.StatusDisabled {
			return s.deactivate(ctx, ad)
		}
		return nil
	}

	if ad.Status == listing.StatusDisabled {
		return s.reactivate(ctx, ad, detail)
	}

	return s.compareActive(ctx, ad, detail)
}

// recordFailure bumps the failure counter and deactivates the ad once the
// threshold is crossed. The transition fires exactly once; an already
// Disabled ad only accumulates failures.
func (s *Sweeper) recordFailure(ctx context.Context, ad *listing.Ad) error {
	if err := s.store.IncrementFailedChecks(ctx, ad.ID); err != nil {
		return fmt.Errorf("increment failed checks: %w", err)
	}

	failures, err := s.store.FailedChecks(ctx, ad.ID)
	if err != nil {
		return fmt.Errorf("read failed checks: %w", err)
	}

	s.logger.Info("Followed ad fetch failed", "ad_id", ad.ID, "consecutive_failures", failures)

	if failures >= s.failureThreshold && ad.Status != listing.StatusDisabled {
		return s.deactivate(ctx, ad)
	}
	return nil
}

func (s *Sweeper) deactivate(ctx context.Context, ad *listing.Ad) error {
	if err := s.store.UpdateStatus(ctx, ad.ID, listing.StatusDisabled); err != nil {
		return fmt.Errorf("mark disabled: %w", err)
	}
	s.appendHistory(ctx, ad.ID, "active", "True", "False")

	s.logger.Info("Followed ad deactivated", "ad_id", ad.ID, "previous_status", ad.Status)

	updated := *ad
	updated.Status = listing.StatusDisabled
	s.notify.Dispatch(ctx, listing.Event{
		Kind:      listing.EventStatus,
		Ad:        updated,
		OldStatus: ad.Status,
	})
	return nil
}

// reactivate handles a previously Disabled ad that is live again. The tier
// defaults to Basic unless the detail page carries its own badge.
func (s *Sweeper) reactivate(ctx context.Context, ad *listing.Ad, detail *listing.Detail) error {
	status := listing.StatusBasic
	if detail.StatusOverride != "" {
		status = detail.StatusOverride
	}

	if err := s.store.UpdateStatus(ctx, ad.ID, status); err != nil {
		return fmt.Errorf("mark active: %w", err)
	}
	s.appendHistory(ctx, ad.ID, "active", "False", "True")

	s.logger.Info("Followed ad reactivated", "ad_id", ad.ID, "status", status)

	updated := *ad
	updated.Status = status
	s.notify.Dispatch(ctx, listing.Event{
		Kind:      listing.EventStatus,
		Ad:        updated,
		OldStatus: listing.StatusDisabled,
	})
	return nil
}

// compareActive re-checks price, tier and repost for a live followed ad.
// The price comes from the detail page's own price element; the sweeper
// never sees a listing page.
func (s *Sweeper) compareActive(ctx context.Context, ad *listing.Ad, detail *listing.Detail) error {
	if detail.Price > 0 && detail.Price != ad.CurrentPrice {
		if err := s.store.UpdatePrice(ctx, ad.ID, detail.Price); err != nil {
			return fmt.Errorf("update price: %w", err)
		}
		s.appendHistory(ctx, ad.ID, "price", strconv.Itoa(ad.CurrentPrice), strconv.Itoa(detail.Price))

		updated := *ad
		updated.CurrentPrice = detail.Price
		s.notify.Dispatch(ctx, listing.Event{
			Kind:     listing.EventPrice,
			Ad:       updated,
			OldPrice: ad.CurrentPrice,
		})
	}

	if detail.StatusOverride != "" && detail.StatusOverride != ad.Status {
		if err := s.store.UpdateStatus(ctx, ad.ID, detail.StatusOverride); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		s.appendHistory(ctx, ad.ID, "status", string(ad.Status), string(detail.StatusOverride))

		updated := *ad
		updated.Status = detail.StatusOverride
		s.notify.Dispatch(ctx, listing.Event{
			Kind:      listing.EventStatus,
			Ad:        updated,
			OldStatus: ad.Status,
		})
	}

	if detail.PostDate != nil && ad.PostDate != nil && detail.PostDate.After(*ad.PostDate) {
		if err := s.store.UpdatePostDate(ctx, ad.ID, *detail.PostDate); err != nil {
			return fmt.Errorf("update post date: %w", err)
		}
		s.appendHistory(ctx, ad.ID, "repost",
			ad.PostDate.Format(time.RFC3339), detail.PostDate.Format(time.RFC3339))

		updated := *ad
		updated.PostDate = detail.PostDate
		s.notify.Dispatch(ctx, listing.Event{Kind: listing.EventRepost, Ad: updated})
	}

	return nil
}

func (s *Sweeper) appendHistory(ctx context.Context, adID, kind, oldVal, newVal string) {
	err := s.store.AppendHistory(ctx, listing.HistoryEntry{
		AdID: adID,
		Kind: kind,
		Old:  oldVal,
		New:  newVal,
		At:   time.Now(),
	})
	if err != nil {
		s.logger.Warn("Failed to append history entry", "ad_id", adID, "kind", kind, "error", err)
	}
}
