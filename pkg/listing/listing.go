// Package listing contains the core domain types for the Bazaraki car-listing watcher.
package listing

import (
	"encoding/json"
	"time"
)

// Status is the site-assigned promotion level of an ad. Disabled is not a
// promotion level; it marks an ad the site no longer serves.
type Status string

const (
	StatusBasic    Status = "Basic"
	StatusTop      Status = "TOP"
	StatusVIP      Status = "VIP"
	StatusDisabled Status = "Disabled"
)

// FilterStatusVIPTop is accepted only inside alert filters and matches ads
// whose stored status is either VIP or TOP. It is never stored on an ad.
const FilterStatusVIPTop = "VIP+TOP"

// Ad is the canonical stored record for one classified ad, keyed by the
// site-assigned numeric id string.
type Ad struct {
	ID           string
	URL          string
	FirstSeen    time.Time
	PostDate     *time.Time // nil when the site never showed a date; never fabricated
	InitialPrice int
	CurrentPrice int
	Brand        string
	Model        string
	Year         int
	Color        string
	Gearbox      string
	BodyType     string
	FuelType     string
	EngineSize   int // cubic centimeters
	DriveType    string
	Mileage      int // kilometers
	SellerName   string
	SellerID     string
	IsBusiness   *bool // nil = unknown
	Status       Status
	LastChecked  time.Time
}

// Summary is the lightweight per-ad observation extracted from one search
// results page. Consumed immediately by the classifier, never persisted.
type Summary struct {
	ID       string
	URL      string
	Price    int
	Status   Status
	PostDate *time.Time
}

// Detail holds everything extractable from a single ad's page. A sparse
// record is normal; absent fields keep their zero value.
type Detail struct {
	PostDate       *time.Time
	Brand          string
	Model          string
	Year           int
	Color          string
	Gearbox        string
	BodyType       string
	FuelType       string
	EngineSize     int
	DriveType      string
	Mileage        int
	SellerName     string
	SellerID       string
	IsBusiness     *bool
	StatusOverride Status // non-empty when the detail page carries its own VIP/TOP badge
	Price          int    // detail-page price, used by the follow sweep
	Expired        bool   // the page carries an explicit "no longer available" marker
}

// EventKind identifies what a notification event is about.
type EventKind string

const (
	EventNew      EventKind = "new"
	EventPrice    EventKind = "price"
	EventStatus   EventKind = "status"
	EventRepost   EventKind = "repost"
	EventDetailed EventKind = "detailed"
)

// Event is handed to the notification sink. OldPrice and OldStatus are only
// meaningful for the matching kinds.
type Event struct {
	Kind      EventKind
	Ad        Ad
	OldPrice  int
	OldStatus Status
}

// HistoryEntry is one append-only change-log row for an ad.
type HistoryEntry struct {
	AdID string
	Kind string // "price", "status", "repost", "active"
	Old  string
	New  string
	At   time.Time
}

// FollowedAd is one (user, ad) follow relation.
type FollowedAd struct {
	UserID       int64
	AdID         string
	CreatedAt    time.Time
	FailedChecks int
}

// Alert is a user's saved search. The filter payload stays opaque here; the
// alert package knows how to decode and evaluate it.
type Alert struct {
	ID        int64
	UserID    int64
	Name      string
	CreatedAt time.Time
	Active    bool
	Filters   json.RawMessage
}
