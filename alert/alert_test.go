package alert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaraki-watcher/pkg/listing"
)

func testAd() listing.Ad {
	isBusiness := false
	return listing.Ad{
		ID:           "123456",
		Brand:        "BMW",
		Model:        "320d",
		Year:         2019,
		CurrentPrice: 15500,
		Mileage:      85000,
		EngineSize:   2000,
		Gearbox:      "Automatic",
		FuelType:     "Diesel",
		DriveType:    "RWD",
		BodyType:     "Sedan",
		Color:        "Black",
		Status:       listing.StatusBasic,
		IsBusiness:   &isBusiness,
		SellerID:     "andreas77",
	}
}

func TestParseFilters(t *testing.T) {
	t.Run("model as string", func(t *testing.T) {
		f, err := ParseFilters(json.RawMessage(`{"brand":"BMW","model":"320d"}`))
		require.NoError(t, err)
		assert.Equal(t, "BMW", f.Brand)
		assert.Equal(t, ModelList{"320d"}, f.Model)
	})

	t.Run("model as list", func(t *testing.T) {
		f, err := ParseFilters(json.RawMessage(`{"model":["320d","330i"]}`))
		require.NoError(t, err)
		assert.Equal(t, ModelList{"320d", "330i"}, f.Model)
	})

	t.Run("empty payload means no filters", func(t *testing.T) {
		f, err := ParseFilters(nil)
		require.NoError(t, err)
		assert.True(t, Matches(testAd(), f))
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := ParseFilters(json.RawMessage(`{"model":42}`))
		assert.Error(t, err)
	})
}

func TestMatchesStringsAreCaseInsensitive(t *testing.T) {
	assert.True(t, Matches(testAd(), Filters{Brand: "bmw"}))
	assert.True(t, Matches(testAd(), Filters{Model: ModelList{"320D"}}))
	assert.True(t, Matches(testAd(), Filters{FuelType: "diesel", Color: "BLACK"}))
	assert.False(t, Matches(testAd(), Filters{Brand: "Audi"}))
}

func TestMatchesModelList(t *testing.T) {
	assert.True(t, Matches(testAd(), Filters{Model: ModelList{"330i", "320d"}}))
	assert.False(t, Matches(testAd(), Filters{Model: ModelList{"330i", "M3"}}))
}

func TestMatchesRanges(t *testing.T) {
	assert.True(t, Matches(testAd(), Filters{YearMin: 2018, YearMax: 2020}))
	assert.False(t, Matches(testAd(), Filters{YearMin: 2020}))
	assert.True(t, Matches(testAd(), Filters{PriceMin: 10000, PriceMax: 16000}))
	assert.False(t, Matches(testAd(), Filters{PriceMax: 15000}))
	assert.True(t, Matches(testAd(), Filters{MileageMax: 100000, EngineMin: 1600}))
}

func TestMatchesMissingAdFieldNeverMatchesSetRange(t *testing.T) {
	ad := testAd()
	ad.Year = 0
	ad.Mileage = 0
	assert.False(t, Matches(ad, Filters{YearMin: 2010}))
	assert.False(t, Matches(ad, Filters{MileageMax: 200000}))
	assert.True(t, Matches(ad, Filters{}), "no filters set still matches")
}

func TestMatchesStatus(t *testing.T) {
	ad := testAd()

	ad.Status = listing.StatusVIP
	assert.True(t, Matches(ad, Filters{Status: listing.FilterStatusVIPTop}))

	ad.Status = listing.StatusTop
	assert.True(t, Matches(ad, Filters{Status: listing.FilterStatusVIPTop}))
	assert.True(t, Matches(ad, Filters{Status: "top"}))

	ad.Status = listing.StatusBasic
	assert.False(t, Matches(ad, Filters{Status: listing.FilterStatusVIPTop}))
	assert.True(t, Matches(ad, Filters{Status: "Basic"}))
}

func TestMatchesBusinessTriState(t *testing.T) {
	wantBusiness := true
	wantPrivate := false

	ad := testAd()
	assert.True(t, Matches(ad, Filters{IsBusiness: &wantPrivate}))
	assert.False(t, Matches(ad, Filters{IsBusiness: &wantBusiness}))

	ad.IsBusiness = nil
	assert.False(t, Matches(ad, Filters{IsBusiness: &wantPrivate}),
		"unknown seller type never satisfies a set business filter")
	assert.True(t, Matches(ad, Filters{}))
}

func TestMatchesTargetUser(t *testing.T) {
	assert.True(t, Matches(testAd(), Filters{TargetUserID: " Andreas77 "}))
	assert.False(t, Matches(testAd(), Filters{TargetUserID: "someoneelse"}))
}
