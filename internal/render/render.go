package render

import (
	"path"

	"example.com/backstage/services/salesdesk/internal/models"
)

// Document is everything a renderer needs to produce the printable
// invoice artifact. The invoice snapshot is authoritative for amounts;
// order and client supply delivery and billing details.
type Document struct {
	Invoice  models.Invoice
	Order    models.Order
	Client   models.Client
	Settings models.Settings
}

// DocumentRenderer is the capability interface for producing printable
// invoice artifacts. Rendering never changes order state; a failed
// render is reported to the caller and can simply be retried.
type DocumentRenderer interface {
	Name() string
	Extension() string
	Render(doc Document) ([]byte, error)
}

// Probe selects the best available renderer. The HTML renderer is the
// always-available fallback; richer renderers would be probed ahead of
// it here.
func Probe() DocumentRenderer {
	return NewHTMLRenderer()
}

// DocumentRef returns the store-relative path of an invoice's printable
// artifact for the given renderer
func DocumentRef(r DocumentRenderer, invoiceID string) string {
	return path.Join("documents", invoiceID+r.Extension())
}
