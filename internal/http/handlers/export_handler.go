package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"

	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/export"
	"github.com/diagnosis/wanderlust/internal/http/response"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

const qrSize = 256

func (h *Handlers) accessCodeQR(w http.ResponseWriter, r *http.Request) {
	hol, _, ok := h.holidayFor(w, r, domain.Permission.CanManage)
	if !ok {
		return
	}
	if hol.AccessCode == "" {
		response.NotFound(w, "no access code generated yet")
		return
	}
	png, err := export.QR(export.GuestLink(h.PublicURL, hol.AccessCode), qrSize)
	if err != nil {
		logger.ErrorContext(r.Context(), "qr encode failed", "holiday_id", hol.ID, "error", err)
		response.InternalError(w, "could not render QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (h *Handlers) exportPDF(w http.ResponseWriter, r *http.Request) {
	hol, perm, ok := h.holidayFor(w, r, domain.Permission.CanView)
	if !ok {
		return
	}
	var link string
	if perm.CanManage() && hol.AccessCode != "" {
		link = export.GuestLink(h.PublicURL, hol.AccessCode)
	}

	// Render fully before writing so a failure can still become an error response.
	var buf bytes.Buffer
	if err := export.PDF(&buf, hol, link); err != nil {
		logger.ErrorContext(r.Context(), "pdf export failed", "holiday_id", hol.ID, "error", err)
		response.InternalError(w, "could not render PDF")
		return
	}
	attachment(w, "application/pdf", export.FileName(hol.Name, "pdf"))
	w.Write(buf.Bytes())
}

func (h *Handlers) exportCSV(w http.ResponseWriter, r *http.Request) {
	hol, _, ok := h.holidayFor(w, r, domain.Permission.CanView)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.CSV(&buf, hol); err != nil {
		logger.ErrorContext(r.Context(), "csv export failed", "holiday_id", hol.ID, "error", err)
		response.InternalError(w, "could not render CSV")
		return
	}
	attachment(w, "text/csv; charset=utf-8", export.FileName(hol.Name, "csv"))
	w.Write(buf.Bytes())
}

func attachment(w http.ResponseWriter, contentType, name string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, asciiName(name), url.PathEscape(name)))
}

// asciiName keeps the quoted filename parameter printable for old clients.
func asciiName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c < 0x20 || c > 0x7e || c == '"' || c == '\\' {
			b[i] = '_'
		}
	}
	return string(b)
}
