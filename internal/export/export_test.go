package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/diagnosis/wanderlust/internal/domain"
)

var japan = domain.Holiday{
	Name: "Japan   Trip",
	Itinerary: []domain.ItineraryItem{
		{ID: "3", Date: "2025-04-02", Time: "10:00", Activity: "Temple", Location: "Kyoto & Nara"},
		{ID: "1", Date: "2025-04-01", Time: "09:00", Activity: "Flight"},
		{ID: "2", Date: "2025-04-01", Activity: "Hotel check-in", Notes: "after 3pm"},
	},
}

func TestRows(t *testing.T) {
	rows := Rows(japan.Itinerary)
	want := []string{"Tuesday, April 1, 2025", "Hotel check-in", "Flight", "Wednesday, April 2, 2025", "Temple"}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i, r := range rows {
		got := r.Activity
		if r.IsHeading() {
			got = r.Heading
		}
		if got != want[i] {
			t.Errorf("row %d = %q, want %q", i, got, want[i])
		}
	}
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		name, got, want string
	}{
		{"file name", FileName("Japan   Trip\t2025", "pdf"), "Japan Trip 2025 Itinerary.pdf"},
		{"maps link", MapsLink("Kyoto & Nara"), "https://www.google.com/maps/search/?api=1&query=Kyoto%20%26%20Nara"},
		{"guest link", GuestLink("https://app.example.com/", "ABC234"), "https://app.example.com/guest?code=ABC234"},
		{"bad date", DateHeading("someday"), "someday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := CSV(&buf, japan); err != nil {
		t.Fatal(err)
	}
	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 6 {
		t.Fatalf("got %d records, want 6", len(recs))
	}
	if strings.Join(recs[0], ",") != "Time,Activity,Location,Notes,Map" {
		t.Fatalf("header = %v", recs[0])
	}
	if recs[1][0] != "Tuesday, April 1, 2025" || recs[1][1] != "" {
		t.Fatalf("heading row = %v", recs[1])
	}
	if recs[2][1] != "Hotel check-in" || recs[2][3] != "after 3pm" || recs[2][4] != "" {
		t.Fatalf("item row = %v", recs[2])
	}
	if recs[5][4] != MapsLink("Kyoto & Nara") {
		t.Fatalf("map link = %q", recs[5][4])
	}
}

func TestPDF(t *testing.T) {
	var buf bytes.Buffer
	if err := PDF(&buf, japan, GuestLink("http://localhost", "ABC234")); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatal("output is not a PDF")
	}
}

func TestPDF_PagesLongItinerary(t *testing.T) {
	h := domain.Holiday{Name: "Long"}
	for i := 0; i < 120; i++ {
		h.Itinerary = append(h.Itinerary, domain.ItineraryItem{
			ID: string(rune('a' + i%26)), Date: "2025-05-01", Activity: strings.Repeat("walk ", 12),
		})
	}
	var buf bytes.Buffer
	if err := PDF(&buf, h, ""); err != nil {
		t.Fatal(err)
	}
}

func TestQR(t *testing.T) {
	png, err := QR("http://localhost/guest?code=ABC234", 128)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("output is not a PNG")
	}
}
