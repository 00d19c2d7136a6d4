package sweep

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaraki-watcher/pkg/listing"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	livePage = `<html><body>
		<h1 class="page-title">BMW 320d</h1>
		<meta itemprop="price" content="12000">
	</body></html>`

	expiredPage = `<html><body><p>This ad is no longer available.</p></body></html>`

	vipPage = `<html><body><div class="ribbon-vip"></div><meta itemprop="price" content="12000"></body></html>`
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Get(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	html, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("no page for %s", url)
	}
	return html, nil
}

func (f *fakeFetcher) Sleep(context.Context) error { return nil }

type fakeStore struct {
	mu       sync.Mutex
	followed []string
	ads      map[string]*listing.Ad
	failures map[string]int
	resets   []string
	history  []listing.HistoryEntry
	getErr   map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ads:      map[string]*listing.Ad{},
		failures: map[string]int{},
		getErr:   map[string]error{},
	}
}

func (s *fakeStore) FollowedAdIDs(context.Context) ([]string, error) { return s.followed, nil }

func (s *fakeStore) GetAd(_ context.Context, adID string) (*listing.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErr[adID]; err != nil {
		return nil, err
	}
	ad := s.ads[adID]
	if ad == nil {
		return nil, nil
	}
	cp := *ad
	return &cp, nil
}

func (s *fakeStore) FailedChecks(_ context.Context, adID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[adID], nil
}

func (s *fakeStore) IncrementFailedChecks(_ context.Context, adID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[adID]++
	return nil
}

func (s *fakeStore) ResetFailedChecks(_ context.Context, adID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[adID] = 0
	s.resets = append(s.resets, adID)
	return nil
}

func (s *fakeStore) UpdatePrice(_ context.Context, adID string, price int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ad := s.ads[adID]; ad != nil {
		ad.CurrentPrice = price
	}
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, adID string, status listing.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ad := s.ads[adID]; ad != nil {
		ad.Status = status
	}
	return nil
}

func (s *fakeStore) UpdatePostDate(_ context.Context, adID string, postDate time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ad := s.ads[adID]; ad != nil {
		ad.PostDate = &postDate
	}
	return nil
}

func (s *fakeStore) AppendHistory(_ context.Context, entry listing.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

func (s *fakeStore) historyOfKind(kind string) []listing.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []listing.HistoryEntry
	for _, h := range s.history {
		if h.Kind == kind {
			out = append(out, h)
		}
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []listing.Event
}

func (n *fakeNotifier) Dispatch(_ context.Context, ev listing.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func followedAd(id string, status listing.Status) *listing.Ad {
	return &listing.Ad{
		ID:           id,
		URL:          "https://www.bazaraki.com/adv/" + id + "/",
		CurrentPrice: 12000,
		Status:       status,
	}
}

func TestSweepFailureThresholdDeactivatesOnce(t *testing.T) {
	store := newFakeStore()
	store.followed = []string{"100"}
	store.ads["100"] = followedAd("100", listing.StatusBasic)
	store.failures["100"] = 4

	fetcher := &fakeFetcher{pages: map[string]string{}} // every fetch fails
	notifier := &fakeNotifier{}
	s := New(fetcher, store, notifier, 5, discard)

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 5, store.failures["100"])
	assert.Equal(t, listing.StatusDisabled, store.ads["100"].Status)

	actives := store.historyOfKind("active")
	require.Len(t, actives, 1)
	assert.Equal(t, "True", actives[0].Old)
	assert.Equal(t, "False", actives[0].New)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, listing.EventStatus, notifier.events[0].Kind)
	assert.Equal(t, listing.StatusBasic, notifier.events[0].OldStatus)
	assert.Equal(t, listing.StatusDisabled, notifier.events[0].Ad.Status)

	// A further failing sweep accumulates but never re-fires the transition.
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 6, store.failures["100"])
	assert.Len(t, store.historyOfKind("active"), 1)
	assert.Len(t, notifier.events, 1)
}

func TestSweepFailureBelowThresholdOnlyCounts(t *testing.T) {
	store := newFakeStore()
	store.followed = []string{"100"}
	store.ads["100"] = followedAd("100", listing.StatusBasic)

	notifier := &fakeNotifier{}
	s := New(&fakeFetcher{pages: map[string]string{}}, store, notifier, 5, discard)

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 1, store.failures["100"])
	assert.Equal(t, listing.StatusBasic, store.ads["100"].Status)
	assert.Empty(t, notifier.events)
}

func TestSweepSuccessResetsFailureCounter(t *testing.T) {
	store := newFakeStore()
	store.followed = []string{"100"}
	store.ads["100"] = followedAd("100", listing.StatusBasic)
	store.failures["100"] = 3

	fetcher := &fakeFetcher{pages: map[string]string{
		store.ads["100"].URL: livePage,
	}}
	s := New(fetcher, store, &fakeNotifier{}, 5, discard)

	require.NoError(t, s.Run(context.Background()))

	assert.Zero(t, store.failures["100"])
	assert.Equal(t, []string{"100"}, store.resets)
}

func TestSweepExpiredMarkerDeactivates(t *testing.T) {
	store := newFakeStore()
	store.followed = []string{"100"}
	store.ads["100"] = followedAd("100", listing.StatusVIP)

	fetcher := &fakeFetcher{pages: map[string]string{
		store.ads["100"].URL: expiredPage,
	}}
	notifier := &fakeNotifier{}
	s := New(fetcher, store, notifier, 5, discard)

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, listing.StatusDisabled, store.ads["100"].Status)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, listing.StatusVIP, notifier.events[0].OldStatus)

	// Still expired next sweep: no second transition.
	require.NoError(t, s.Run(context.Background()))
	assert.Len(t, notifier.events, 1)
}

func TestSweepReactivation(t *testing.T) {
	t.Run("defaults to Basic", func(t *testing.T) {
		store := newFakeStore()
		store.followed = []string{"100"}
		store.ads["100"] = followedAd("100", listing.StatusDisabled)

		fetcher := &fakeFetcher{pages: map[string]string{
			store.ads["100"].URL: livePage,
		}}
		notifier := &fakeNotifier{}
		s := New(fetcher, store, notifier, 5, discard)

		require.NoError(t, s.Run(context.Background()))

		assert.Equal(t, listing.StatusBasic, store.ads["100"].Status)
		actives := store.historyOfKind("active")
		require.Len(t, actives, 1)
		assert.Equal(t, "False", actives[0].Old)
		assert.Equal(t, "True", actives[0].New)
		require.Len(t, notifier.events, 1)
		assert.Equal(t, listing.StatusDisabled, notifier.events[0].OldStatus)
	})

	t.Run("detail badge wins", func(t *testing.T) {
		store := newFakeStore()
		store.followed = []string{"100"}
		store.ads["100"] = followedAd("100", listing.StatusDisabled)

		fetcher := &fakeFetcher{pages: map[string]string{
			store.ads["100"].URL: vipPage,
		}}
		s := New(fetcher, store, &fakeNotifier{}, 5, discard)

		require.NoError(t, s.Run(context.Background()))
		assert.Equal(t, listing.StatusVIP, store.ads["100"].Status)
	})
}

func TestSweepDetectsPriceChange(t *testing.T) {
	store := newFakeStore()
	store.followed = []string{"100"}
	ad := followedAd("100", listing.StatusBasic)
	ad.CurrentPrice = 15000
	store.ads["100"] = ad

	fetcher := &fakeFetcher{pages: map[string]string{ad.URL: livePage}}
	notifier := &fakeNotifier{}
	s := New(fetcher, store, notifier, 5, discard)

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 12000, store.ads["100"].CurrentPrice)
	prices := store.historyOfKind("price")
	require.Len(t, prices, 1)
	assert.Equal(t, "15000", prices[0].Old)
	assert.Equal(t, "12000", prices[0].New)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, listing.EventPrice, notifier.events[0].Kind)
	assert.Equal(t, 15000, notifier.events[0].OldPrice)
}

func TestSweepDetectsRepost(t *testing.T) {
	older := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.followed = []string{"100"}
	ad := followedAd("100", listing.StatusBasic)
	ad.PostDate = &older
	store.ads["100"] = ad

	page := `<html><body>
		<span class="date-meta">20.08.2026 09:00</span>
		<meta itemprop="price" content="12000">
	</body></html>`
	fetcher := &fakeFetcher{pages: map[string]string{ad.URL: page}}
	notifier := &fakeNotifier{}
	s := New(fetcher, store, notifier, 5, discard)

	require.NoError(t, s.Run(context.Background()))

	require.NotNil(t, store.ads["100"].PostDate)
	assert.Equal(t, time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC), *store.ads["100"].PostDate)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, listing.EventRepost, notifier.events[0].Kind)
}

func TestSweepPerAdFailureDoesNotAbort(t *testing.T) {
	store := newFakeStore()
	store.followed = []string{"100", "200"}
	store.ads["200"] = followedAd("200", listing.StatusBasic)
	store.getErr["100"] = fmt.Errorf("database locked")

	fetcher := &fakeFetcher{pages: map[string]string{
		store.ads["200"].URL: livePage,
	}}
	s := New(fetcher, store, &fakeNotifier{}, 5, discard)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"200"}, store.resets, "the sweep reaches the second ad")
}
