package export

import (
	"bytes"
	"fmt"
	"io"

	"github.com/phpdave11/gofpdf"

	"github.com/diagnosis/wanderlust/internal/domain"
)

var (
	colWidths   = []float64{22, 60, 50, 50}
	headerFill  = [3]int{193, 125, 142}
	headingFill = [3]int{253, 226, 231}
	linkColor   = [3]int{56, 189, 248}
)

const (
	lineHeight = 6.0
	margin     = 14.0
)

// PDF writes the itinerary as a table. Location cells link to a map search. When
// guestLink is set a QR code for it is placed beside the title.
func PDF(w io.Writer, h domain.Holiday, guestLink string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 20)
	pdf.Text(margin, 20, tr(h.Name))

	if guestLink != "" {
		png, err := QR(guestLink, 256)
		if err != nil {
			return err
		}
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("guest-qr", opts, bytes.NewReader(png))
		pdf.ImageOptions("guest-qr", 176, 6, 20, 20, false, opts, 0, guestLink)
	}

	pdf.SetY(30)
	t := &table{pdf: pdf, tr: tr}
	t.header()
	for _, r := range Rows(h.Itinerary) {
		if r.IsHeading() {
			t.heading(r.Heading)
			continue
		}
		t.item(r)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

type table struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string
}

func (t *table) width() float64 {
	var sum float64
	for _, w := range colWidths {
		sum += w
	}
	return sum
}

func (t *table) ensure(h float64) {
	_, pageH := t.pdf.GetPageSize()
	if t.pdf.GetY()+h <= pageH-margin {
		return
	}
	t.pdf.AddPage()
	t.header()
}

func (t *table) header() {
	p := t.pdf
	p.SetFont("Arial", "B", 11)
	p.SetFillColor(headerFill[0], headerFill[1], headerFill[2])
	p.SetTextColor(0, 0, 0)
	for i, c := range Columns {
		p.CellFormat(colWidths[i], lineHeight+2, c, "1", 0, "L", true, 0, "")
	}
	p.Ln(-1)
}

func (t *table) heading(text string) {
	t.ensure(lineHeight + 2)
	p := t.pdf
	p.SetFont("Arial", "B", 10)
	p.SetFillColor(headingFill[0], headingFill[1], headingFill[2])
	p.SetTextColor(0, 0, 0)
	p.CellFormat(t.width(), lineHeight+2, t.tr(text), "1", 1, "L", true, 0, "")
}

func (t *table) item(r Row) {
	p := t.pdf
	p.SetFont("Arial", "", 10)
	cells := []string{t.tr(r.Time), t.tr(r.Activity), t.tr(r.Location), t.tr(r.Notes)}

	lines := 1
	for i, c := range cells {
		if n := len(p.SplitLines([]byte(c), colWidths[i]-2)); n > lines {
			lines = n
		}
	}
	rowH := float64(lines) * lineHeight
	t.ensure(rowH)

	x, y := p.GetXY()
	for i, c := range cells {
		p.Rect(x, y, colWidths[i], rowH, "D")
		p.SetXY(x, y)
		if i == 2 && r.Location != "" {
			p.SetTextColor(linkColor[0], linkColor[1], linkColor[2])
			p.MultiCell(colWidths[i], lineHeight, c, "", "L", false)
			p.LinkString(x, y, colWidths[i], rowH, MapsLink(r.Location))
			p.SetTextColor(0, 0, 0)
		} else {
			p.MultiCell(colWidths[i], lineHeight, c, "", "L", false)
		}
		x += colWidths[i]
	}
	p.SetXY(margin, y+rowH)
}
