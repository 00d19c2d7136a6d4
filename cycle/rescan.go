package cycle

import (
	"context"
	"fmt"
	"time"

	"bazaraki-watcher/pkg/listing"
	"bazaraki-watcher/scrape"
)

// RescanColors walks the listing to backfill the color field on ads stored
// before color extraction existed. Shares the running guard with the main
// cycle, so the two never overlap. New ads encountered along the way are
// added through the regular new-ad path. Returns the count of updated or
// added ads.
func (c *Controller) RescanColors(ctx context.Context, maxPages int) (int, error) {
	if !c.begin() {
		c.logger.Info("Color rescan skipped, a cycle is already running")
		return 0, nil
	}
	defer c.end()

	c.logger.Info("Starting color rescan", "max_pages", maxPages)

	updated := 0
	for page := 1; page <= maxPages; page++ {
		if c.stopped() || ctx.Err() != nil {
			break
		}

		pageURL := fmt.Sprintf("%s?page=%d", c.cfg.SearchURL, page)
		html, err := c.fetch.Get(ctx, pageURL)
		if err != nil {
			c.logger.Warn("Rescan page unavailable, ending rescan", "page", page, "error", err)
			break
		}

		ads, err := scrape.ParseListing(html, c.cfg.BaseURL, time.Now())
		if err != nil {
			c.logger.Error("Rescan page unparsable, ending rescan", "page", page, "error", err)
			break
		}
		if len(ads) == 0 {
			break
		}

		for _, obs := range ads {
			if c.stopped() || ctx.Err() != nil {
				break
			}
			n, err := c.rescanAd(ctx, obs)
			if err != nil {
				c.logger.Warn("Skipping ad during rescan", "ad_id", obs.ID, "error", err)
				continue
			}
			updated += n
		}

		if err := c.fetch.Sleep(ctx); err != nil {
			break
		}
	}

	c.logger.Info("Color rescan finished", "updated", updated)
	return updated, nil
}

func (c *Controller) rescanAd(ctx context.Context, obs listing.Summary) (int, error) {
	stored, err := c.store.GetAd(ctx, obs.ID)
	if err != nil {
		return 0, fmt.Errorf("load ad: %w", err)
	}

	if stored == nil {
		added, err := c.handleNew(ctx, obs)
		if err != nil {
			return 0, err
		}
		if added {
			return 1, nil
		}
		return 0, nil
	}

	if stored.Color != "" {
		return 0, nil
	}

	html, err := c.fetch.Get(ctx, obs.URL)
	if err != nil {
		c.logger.Warn("Detail page unavailable during rescan", "ad_id", obs.ID, "error", err)
		_ = c.fetch.Sleep(ctx)
		return 0, nil
	}

	detail, parseErr := scrape.ParseDetail(html, time.Now())
	sleepErr := c.fetch.Sleep(ctx)
	if parseErr != nil {
		return 0, fmt.Errorf("parse detail: %w", parseErr)
	}
	if sleepErr != nil {
		return 0, sleepErr
	}

	if detail.Color == "" {
		return 0, nil
	}

	if err := c.store.UpdateColor(ctx, stored.ID, detail.Color); err != nil {
		return 0, fmt.Errorf("update color: %w", err)
	}

	c.logger.Info("Backfilled ad color", "ad_id", stored.ID, "color", detail.Color)

	updated := *stored
	updated.Color = detail.Color
	c.notify.Dispatch(ctx, listing.Event{Kind: listing.EventDetailed, Ad: updated})
	return 1, nil
}
