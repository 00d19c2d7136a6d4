package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaraki-watcher/pkg/listing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleAd(id string) *listing.Ad {
	postDate := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	isBusiness := true
	return &listing.Ad{
		ID:           id,
		URL:          "https://www.bazaraki.com/adv/" + id + "/",
		FirstSeen:    time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		PostDate:     &postDate,
		InitialPrice: 15500,
		CurrentPrice: 15500,
		Brand:        "BMW",
		Model:        "320d",
		Year:         2019,
		Color:        "Black",
		Gearbox:      "Automatic",
		BodyType:     "Sedan",
		FuelType:     "Diesel",
		EngineSize:   2000,
		DriveType:    "RWD",
		Mileage:      85000,
		SellerName:   "Cars Deals Ltd",
		SellerID:     "carsdeals",
		IsBusiness:   &isBusiness,
		Status:       listing.StatusBasic,
		LastChecked:  time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
}

func TestGetAdUnknownReturnsNilNil(t *testing.T) {
	store := testStore(t)
	ad, err := store.GetAd(context.Background(), "404404")
	require.NoError(t, err)
	assert.Nil(t, ad)
}

func TestInsertAndGetAdRoundtrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	want := sampleAd("100")
	require.NoError(t, store.InsertAd(ctx, want))

	got, err := store.GetAd(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.URL, got.URL)
	assert.Equal(t, want.CurrentPrice, got.CurrentPrice)
	assert.Equal(t, want.Brand, got.Brand)
	assert.Equal(t, want.Year, got.Year)
	assert.Equal(t, want.Status, got.Status)
	require.NotNil(t, got.PostDate)
	assert.True(t, got.PostDate.Equal(*want.PostDate))
	require.NotNil(t, got.IsBusiness)
	assert.True(t, *got.IsBusiness)
}

func TestInsertAdIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertAd(ctx, sampleAd("100")))

	dup := sampleAd("100")
	dup.CurrentPrice = 1
	require.NoError(t, store.InsertAd(ctx, dup), "re-inserting an existing id must not error")

	got, err := store.GetAd(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 15500, got.CurrentPrice, "the original row wins")
}

func TestNullableFieldsRoundtrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	ad := &listing.Ad{
		ID:        "200",
		URL:       "https://www.bazaraki.com/adv/200/",
		FirstSeen: time.Now().UTC(),
		Status:    listing.StatusBasic,
	}
	require.NoError(t, store.InsertAd(ctx, ad))

	got, err := store.GetAd(ctx, "200")
	require.NoError(t, err)
	assert.Nil(t, got.PostDate, "absent post date stays absent")
	assert.Nil(t, got.IsBusiness, "unknown seller type stays unknown")
	assert.Empty(t, got.Brand)
	assert.Zero(t, got.Year)
}

func TestUpdates(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertAd(ctx, sampleAd("100")))

	require.NoError(t, store.UpdatePrice(ctx, "100", 14000))
	require.NoError(t, store.UpdateStatus(ctx, "100", listing.StatusVIP))
	newDate := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdatePostDate(ctx, "100", newDate))
	require.NoError(t, store.UpdateColor(ctx, "100", "White"))

	got, err := store.GetAd(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 14000, got.CurrentPrice)
	assert.Equal(t, 15500, got.InitialPrice, "the initial price never moves")
	assert.Equal(t, listing.StatusVIP, got.Status)
	require.NotNil(t, got.PostDate)
	assert.True(t, got.PostDate.Equal(newDate))
	assert.Equal(t, "White", got.Color)
}

func TestStats(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	fresh := sampleAd("100")
	fresh.FirstSeen = time.Now().UTC()
	require.NoError(t, store.InsertAd(ctx, fresh))

	old := sampleAd("200")
	old.FirstSeen = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.InsertAd(ctx, old))

	total, newToday, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, newToday)
}

func TestFollowToggleAndDistinctIDs(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertAd(ctx, sampleAd("100")))
	require.NoError(t, store.InsertAd(ctx, sampleAd("200")))

	following, err := store.FollowAd(ctx, 1, "100")
	require.NoError(t, err)
	assert.True(t, following)

	_, err = store.FollowAd(ctx, 2, "100")
	require.NoError(t, err)
	_, err = store.FollowAd(ctx, 1, "200")
	require.NoError(t, err)

	ids, err := store.FollowedAdIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"100", "200"}, ids,
		"an ad followed by two users appears once")

	following, err = store.FollowAd(ctx, 1, "100")
	require.NoError(t, err)
	assert.False(t, following, "a second call unfollows")

	ids, err = store.FollowedAdIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"100", "200"}, ids, "user 2 still follows ad 100")
}

func TestFailedChecksCounters(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertAd(ctx, sampleAd("100")))
	_, err := store.FollowAd(ctx, 1, "100")
	require.NoError(t, err)

	count, err := store.FailedChecks(ctx, "100")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, store.IncrementFailedChecks(ctx, "100"))
	require.NoError(t, store.IncrementFailedChecks(ctx, "100"))

	count, err = store.FailedChecks(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.ResetFailedChecks(ctx, "100"))
	count, err = store.FailedChecks(ctx, "100")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHistoryAppendAndRead(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertAd(ctx, sampleAd("100")))

	entries := []listing.HistoryEntry{
		{AdID: "100", Kind: "price", Old: "15500", New: "14000", At: time.Now().UTC().Add(-2 * time.Hour)},
		{AdID: "100", Kind: "status", Old: "Basic", New: "VIP", At: time.Now().UTC().Add(-time.Hour)},
		{AdID: "100", Kind: "active", Old: "True", New: "False", At: time.Now().UTC()},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendHistory(ctx, e))
	}

	got, err := store.AdHistory(ctx, "100", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "active", got[0].Kind, "newest first")
	assert.Equal(t, "status", got[1].Kind)
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureUser(ctx, 7, "andreas"))
	require.NoError(t, store.EnsureUser(ctx, 7, "renamed"), "a second call is a no-op")
}

func TestAlerts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	filters := json.RawMessage(`{"brand":"BMW","price_max":20000}`)
	id, err := store.CreateAlert(ctx, 7, "cheap bimmers", filters)
	require.NoError(t, err)
	assert.Positive(t, id)

	alerts, err := store.ActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(7), alerts[0].UserID)
	assert.Equal(t, "cheap bimmers", alerts[0].Name)
	assert.True(t, alerts[0].Active)
	assert.JSONEq(t, string(filters), string(alerts[0].Filters))
}
