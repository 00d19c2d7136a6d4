// Package scrape turns the site's semi-structured HTML into normalized records.
package scrape

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"bazaraki-watcher/pkg/listing"
)

// ParseListing extracts ad summaries from one search-results page. An empty
// result means the page has no results container, which signals the end of
// pagination to the caller rather than an error. Sponsored and banner items
// are skipped; items without a resolvable ad id or link are dropped silently.
func ParseListing(html, baseURL string, now time.Time) ([]listing.Summary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	var ads []listing.Summary
	doc.Find(".list-simple__output").Each(func(_ int, container *goquery.Selection) {
		container.Children().Each(func(_ int, item *goquery.Selection) {
			if item.HasClass("banner") || item.HasClass("ads-google") {
				return
			}

			link := item.Find("a.advert__content-title").First()
			if link.Length() == 0 {
				link = item.Find("a[href]").First()
			}
			href, ok := link.Attr("href")
			if !ok {
				return
			}
			if !strings.HasPrefix(href, "/") || !strings.Contains(href, "/adv/") {
				return
			}

			id := adIDFromPath(href)
			if id == "" {
				return
			}

			ads = append(ads, listing.Summary{
				ID:       id,
				URL:      baseURL + href,
				Price:    listedPrice(item),
				Status:   listedStatus(item),
				PostDate: ParsePostedAt(item.Find(".list-simple__time").First().Text(), now),
			})
		})
	})

	return ads, nil
}

// adIDFromPath derives the numeric ad id from a detail link path:
// /adv/123456_some-slug/ -> "123456", /adv/123456/ -> "123456".
func adIDFromPath(href string) string {
	parts := strings.Split(strings.Trim(href, "/"), "/")
	if len(parts) < 2 || parts[0] != "adv" {
		return ""
	}
	id, _, _ := strings.Cut(parts[1], "_")
	return id
}

// listedPrice extracts the price from an item. The site renders an
// old-price/new-price pair on discounted ads; the current price is the
// minimum of all numbers found in the price element.
func listedPrice(item *goquery.Selection) int {
	priceTag := item.Find(".advert__content-price").First()
	if priceTag.Length() == 0 {
		priceTag = item.Find("p.price").First()
	}
	if priceTag.Length() == 0 {
		return 0
	}

	prices := numberRuns(priceTag)
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

// numberRuns collects one integer per child node of the price element, so
// "10 000" inside a single span stays one number while old and new prices
// in sibling spans stay separate.
func numberRuns(sel *goquery.Selection) []int {
	var nums []int
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		digits := digitsOnly(node.Text())
		if digits == "" {
			return
		}
		if n, err := strconv.Atoi(digits); err == nil {
			nums = append(nums, n)
		}
	})
	if len(nums) == 0 {
		if digits := digitsOnly(sel.Text()); digits != "" {
			if n, err := strconv.Atoi(digits); err == nil {
				nums = append(nums, n)
			}
		}
	}
	return nums
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// listedStatus detects the promotion tier of a list item. VIP markers win
// over TOP markers; everything else is Basic.
func listedStatus(item *goquery.Selection) listing.Status {
	if _, vip := item.Attr("data-t-vip"); vip {
		return listing.StatusVIP
	}
	if item.Find("[data-t-vip]").Length() > 0 || item.Find(".ribbon-vip").Length() > 0 {
		return listing.StatusVIP
	}
	if item.Find(".label-top").Length() > 0 || item.Find(".ribbon-top").Length() > 0 || item.Find("._top").Length() > 0 {
		return listing.StatusTop
	}
	return listing.StatusBasic
}
