// Package export renders a holiday's itinerary for download: a PDF table, a CSV
// sheet, and a QR code for the guest link.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/utils"
)

const mapsSearch = "https://www.google.com/maps/search/?api=1&query="

var Columns = []string{"Time", "Activity", "Location", "Notes"}

// Row is either a date heading or one itinerary item.
type Row struct {
	Heading  string
	Time     string
	Activity string
	Location string
	Notes    string
}

func (r Row) IsHeading() bool { return r.Heading != "" }

// Rows orders the itinerary by date then time and starts every date with a heading.
func Rows(items []domain.ItineraryItem) []Row {
	var rows []Row
	for _, day := range domain.GroupByDay(items) {
		rows = append(rows, Row{Heading: DateHeading(day.Date)})
		for _, it := range day.Items {
			rows = append(rows, Row{
				Time:     it.Time,
				Activity: it.Activity,
				Location: it.Location,
				Notes:    it.Notes,
			})
		}
	}
	return rows
}

// DateHeading formats a YYYY-MM-DD date as "Tuesday, April 1, 2025". Unparseable
// dates are returned as given.
func DateHeading(date string) string {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2, 2006")
}

// MapsLink builds a map search for location, escaped the way browsers escape a
// URI component.
func MapsLink(location string) string {
	return mapsSearch + strings.ReplaceAll(url.QueryEscape(location), "+", "%20")
}

// FileName is "<holiday name> Itinerary.<ext>" with runs of whitespace collapsed.
func FileName(name, ext string) string {
	return fmt.Sprintf("%s Itinerary.%s", utils.CollapseSpaces(name), ext)
}

func GuestLink(publicURL, code string) string {
	return strings.TrimRight(publicURL, "/") + "/guest?code=" + url.QueryEscape(code)
}

// QR encodes link as a square PNG of size pixels.
func QR(link string, size int) ([]byte, error) {
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// CSV writes the itinerary as a sheet. Heading rows carry the date in the first
// column only; item rows with a location get a map link in a trailing column.
func CSV(w io.Writer, h domain.Holiday) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, Columns...), "Map")); err != nil {
		return err
	}
	for _, r := range Rows(h.Itinerary) {
		rec := []string{r.Heading, "", "", "", ""}
		if !r.IsHeading() {
			rec = []string{r.Time, r.Activity, r.Location, r.Notes, ""}
			if r.Location != "" {
				rec[4] = MapsLink(r.Location)
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
