package domain

import (
	"cmp"
	"slices"
	"strings"
)

// SortItems orders items by date, then time. Untimed items sort first within a day.
func SortItems(items []ItineraryItem) []ItineraryItem {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b ItineraryItem) int {
		return cmp.Or(strings.Compare(a.Date, b.Date), strings.Compare(a.Time, b.Time))
	})
	return out
}

type Day struct {
	Date  string
	Items []ItineraryItem
}

// GroupByDay sorts items and splits them into consecutive per-date groups.
func GroupByDay(items []ItineraryItem) []Day {
	var days []Day
	for _, it := range SortItems(items) {
		if n := len(days); n > 0 && days[n-1].Date == it.Date {
			days[n-1].Items = append(days[n-1].Items, it)
			continue
		}
		days = append(days, Day{Date: it.Date, Items: []ItineraryItem{it}})
	}
	return days
}

// SortHolidays orders newest first, falling back to name.
func SortHolidays(hs []Holiday) []Holiday {
	out := slices.Clone(hs)
	slices.SortStableFunc(out, func(a, b Holiday) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), strings.Compare(a.Name, b.Name))
	})
	return out
}
