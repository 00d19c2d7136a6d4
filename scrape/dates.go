package scrape

import (
	"strings"
	"time"
)

// Absolute layouts the site uses for posting dates.
var postedAtLayouts = []string{
	"02.01.2006 15:04",
	"02.01.2006",
	"2.1.2006 15:04",
	"2.1.2006",
}

// ParsePostedAt parses a posting-date string as shown on listing and detail
// pages ("Today 14:30", "Yesterday 09:12", "13.05.2024 10:01"). Returns nil
// when the text is empty or unparsable; a missing date must stay missing,
// substituting the current time would trigger false repost detection.
func ParsePostedAt(text string, now time.Time) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	lower := strings.ToLower(text)
	switch {
	case strings.HasPrefix(lower, "today"):
		return relativeDay(text, now, 0)
	case strings.HasPrefix(lower, "yesterday"):
		return relativeDay(text, now, -1)
	}

	for _, layout := range postedAtLayouts {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return &t
		}
	}
	return nil
}

// relativeDay resolves "Today 14:30" style strings against now, shifted by
// dayOffset days. Without a time-of-day part, midnight of that day is used.
func relativeDay(text string, now time.Time, dayOffset int) *time.Time {
	day := now.AddDate(0, 0, dayOffset)
	t := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location())

	fields := strings.Fields(text)
	if len(fields) > 1 {
		if clock, err := time.Parse("15:04", fields[len(fields)-1]); err == nil {
			t = t.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute)
		}
	}
	return &t
}
