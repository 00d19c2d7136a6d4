// Package classify decides which change events a fresh observation of an ad
// represents against its stored state. Pure; the cycle package applies the
// resulting side effects.
package classify

import (
	"strconv"
	"time"

	"bazaraki-watcher/pkg/listing"
)

// Kind is the classification of one observation against stored state.
type Kind string

const (
	New           Kind = "new"
	PriceChanged  Kind = "price_changed"
	StatusChanged Kind = "status_changed"
	Reposted      Kind = "reposted"
	Unchanged     Kind = "unchanged"
)

// Change is one classified transition plus the values needed to apply it.
type Change struct {
	Kind        Kind
	Old         string
	New         string
	NewPrice    int
	NewStatus   listing.Status
	NewPostDate *time.Time
}

// Classify compares a stored ad against a listing-page observation. A nil
// stored record short-circuits to a single New change; a never-seen ad is
// never evaluated for price/status/repost. Otherwise every applicable
// transition fires independently, and when none do the result is a single
// Unchanged change.
func Classify(stored *listing.Ad, obs listing.Summary) []Change {
	if stored == nil {
		return []Change{{Kind: New}}
	}

	var changes []Change

	if obs.Price != stored.CurrentPrice {
		changes = append(changes, Change{
			Kind:     PriceChanged,
			Old:      strconv.Itoa(stored.CurrentPrice),
			New:      strconv.Itoa(obs.Price),
			NewPrice: obs.Price,
		})
	}

	if obs.Status != stored.Status {
		changes = append(changes, Change{
			Kind:      StatusChanged,
			Old:       string(stored.Status),
			New:       string(obs.Status),
			NewStatus: obs.Status,
		})
	}

	// A repost is only detectable when both sides carry a real date. A
	// missing date is never treated as "now".
	if obs.PostDate != nil && stored.PostDate != nil && obs.PostDate.After(*stored.PostDate) {
		changes = append(changes, Change{
			Kind:        Reposted,
			Old:         stored.PostDate.Format(time.RFC3339),
			New:         obs.PostDate.Format(time.RFC3339),
			NewPostDate: obs.PostDate,
		})
	}

	if len(changes) == 0 {
		return []Change{{Kind: Unchanged}}
	}
	return changes
}

// IsUnchanged reports whether the classification is the single Unchanged
// result. Anything else resets the cycle's consecutive-unchanged counter.
func IsUnchanged(changes []Change) bool {
	return len(changes) == 1 && changes[0].Kind == Unchanged
}
