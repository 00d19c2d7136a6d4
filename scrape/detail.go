package scrape

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"bazaraki-watcher/pkg/listing"
)

// Markers the site renders on ads it no longer serves.
var expiredMarkers = []string{
	"this ad is no longer available",
	"advert has expired",
	"announcement is no longer relevant",
}

// ParseDetail extracts a normalized record from a single ad's page. A
// parsed-but-sparse record is not an error; only unreadable HTML is.
func ParseDetail(html string, now time.Time) (*listing.Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse detail html: %w", err)
	}

	d := &listing.Detail{
		PostDate: ParsePostedAt(doc.Find("span.date-meta").First().Text(), now),
	}

	parseBreadcrumbs(doc, d)
	parseSpecList(doc, d)
	if d.Brand == "" {
		titleFallback(doc, d)
	}
	parseSeller(doc, d)
	d.IsBusiness = detectBusiness(doc, d.IsBusiness)
	d.StatusOverride = detailStatus(doc)
	d.Price = detailPrice(doc)
	d.Expired = detectExpired(doc)

	return d, nil
}

// parseBreadcrumbs reads brand/model from the breadcrumb trail, the most
// authoritative source. Format: "Motors - Cars - Brand - Model". Trusted
// only when the trail starts in the vehicles taxonomy.
func parseBreadcrumbs(doc *goquery.Document, d *listing.Detail) {
	trail, ok := doc.Find("[data-breadcrumbs]").First().Attr("data-breadcrumbs")
	if !ok {
		return
	}

	var parts []string
	for _, p := range strings.Split(trail, " - ") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 3 || !strings.Contains(parts[0], "Motors") {
		return
	}
	d.Brand = parts[2]
	if len(parts) > 3 {
		d.Model = parts[3]
	}
}

// parseSpecList walks the labeled key/value specification list. It is
// authoritative for everything except brand/model, which it only fills when
// the breadcrumbs didn't.
func parseSpecList(doc *goquery.Document, d *listing.Detail) {
	doc.Find("ul.chars-column li").Each(func(_ int, li *goquery.Selection) {
		key := strings.ToLower(strings.TrimSpace(li.Find("span.key-chars").First().Text()))
		key = strings.ReplaceAll(key, ":", "")
		val := strings.TrimSpace(li.Find(".value-chars").First().Text())
		if key == "" || val == "" {
			return
		}

		switch {
		case strings.Contains(key, "brand"):
			if d.Brand == "" {
				d.Brand = val
			}
		case strings.Contains(key, "model"):
			if d.Model == "" {
				d.Model = val
			}
		case strings.Contains(key, "year"):
			d.Year = intOrZero(val)
		case strings.Contains(key, "gearbox"):
			d.Gearbox = val
		case strings.Contains(key, "body type"):
			d.BodyType = val
		case strings.Contains(key, "fuel type"):
			d.FuelType = val
		case strings.Contains(key, "engine size"):
			d.EngineSize = ParseEngineSize(val)
		case strings.Contains(key, "drive"):
			d.DriveType = val
		case strings.Contains(key, "color"), strings.Contains(key, "colour"):
			d.Color = val
		case strings.Contains(key, "mileage"):
			d.Mileage = parseMileage(val)
		}
	})
}

// titleFallback grabs brand/model from the first one or two heading tokens.
// Aggressive and noisy, but better than storing Unknown; used only when both
// breadcrumbs and the characteristics list came up empty.
func titleFallback(doc *goquery.Document, d *listing.Detail) {
	text := strings.TrimSpace(doc.Find("h1.page-title").First().Text())
	if text == "" {
		text = strings.TrimSpace(doc.Find("title").First().Text())
	}
	words := strings.Fields(text)
	if len(words) == 0 || !isAlpha(words[0]) {
		return
	}
	d.Brand = words[0]
	if len(words) > 1 {
		d.Model = words[1]
	}
}

func parseSeller(doc *goquery.Document, d *listing.Detail) {
	author := doc.Find("div.author-name").First()
	if author.Length() == 0 {
		return
	}

	if alt, ok := author.Find("img").First().Attr("alt"); ok && alt != "" {
		d.SellerName = alt
	} else {
		d.SellerName = strings.TrimSpace(author.Text())
	}
	notBusiness := false
	d.IsBusiness = &notBusiness

	if userID, ok := author.Attr("data-user"); ok && userID != "" {
		d.SellerID = userID
		return
	}
	link := author.Find("a[href]").First()
	if link.Length() == 0 {
		link = author.Parent().Find("a[href]").First()
	}
	if href, ok := link.Attr("href"); ok {
		parts := strings.Split(strings.Trim(href, "/"), "/")
		d.SellerID = parts[len(parts)-1]
	}
}

// detectBusiness runs the ordered business detectors; the first positive
// signal wins. With no author block and no signal the flag stays unknown.
func detectBusiness(doc *goquery.Document, current *bool) *bool {
	isBusiness := true
	if doc.Find(".author-distinctions__item").Length() > 0 || doc.Find(".verification-badge").Length() > 0 {
		return &isBusiness
	}
	if doc.Find(`a[href*="/shop/"]`).Length() > 0 {
		return &isBusiness
	}
	if doc.Find(".js-show-popup-contact-business").Length() > 0 {
		return &isBusiness
	}
	return current
}

// detailStatus re-detects the promotion tier from the detail page. Badges
// sometimes render differently in list view, so a hit here overrides the
// tier carried over from the listing page.
func detailStatus(doc *goquery.Document) listing.Status {
	if doc.Find(".ribbon-vip").Length() > 0 || doc.Find(".label-vip").Length() > 0 {
		return listing.StatusVIP
	}
	if doc.Find(".label-top").Length() > 0 {
		return listing.StatusTop
	}
	return ""
}

// detailPrice extracts the price from the detail page. This is a separate
// path from the listing-page extraction; the follow sweep only has this page.
func detailPrice(doc *goquery.Document) int {
	if content, ok := doc.Find(`meta[itemprop="price"]`).First().Attr("content"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(content), 64); err == nil {
			return int(f)
		}
	}
	prices := numberRuns(doc.Find(".announcement-price__cost").First())
	if len(prices) == 0 {
		return 0
	}
	minPrice := prices[0]
	for _, p := range prices[1:] {
		if p < minPrice {
			minPrice = p
		}
	}
	return minPrice
}

func detectExpired(doc *goquery.Document) bool {
	if doc.Find(".announcement-closed").Length() > 0 {
		return true
	}
	text := strings.ToLower(doc.Text())
	for _, marker := range expiredMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// ParseEngineSize normalizes an engine-size string to cubic centimeters.
// "2.0L" -> 2000, "650cc" -> 650, "Electric" -> 0, garbage -> 0. Values
// below 10 are read as liters, everything else as already-cc.
func ParseEngineSize(val string) int {
	clean := strings.ToLower(strings.TrimSpace(val))
	if strings.Contains(clean, "electric") {
		return 0
	}
	clean = strings.ReplaceAll(clean, "cc", "")
	clean = strings.ReplaceAll(clean, "l", "")
	clean = strings.ReplaceAll(clean, ",", ".")
	clean = strings.TrimSpace(clean)

	size, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0
	}
	if size < 10 {
		return int(size * 1000)
	}
	return int(size)
}

func parseMileage(val string) int {
	clean := strings.ToLower(val)
	clean = strings.ReplaceAll(clean, "km", "")
	clean = strings.ReplaceAll(clean, ",", "")
	clean = strings.ReplaceAll(clean, " ", "")
	return intOrZero(clean)
}

func intOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return s != ""
}
