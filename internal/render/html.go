package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/pkg/errors"
)

// HTMLRenderer renders the invoice as a self-contained HTML page the
// user can print to PDF.
type HTMLRenderer struct {
	tpl *template.Template
}

// NewHTMLRenderer creates the fallback HTML renderer
func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{
		tpl: template.Must(template.New("invoice").Parse(invoiceTemplate)),
	}
}

// Name identifies the renderer in logs
func (r *HTMLRenderer) Name() string {
	return "html"
}

// Extension is the artifact file extension, dot included
func (r *HTMLRenderer) Extension() string {
	return ".html"
}

type invoiceLine struct {
	Flavor    string
	Cases     int
	PerCase   string
	LineTotal string
}

type invoiceView struct {
	InvoiceID   string
	OrderID     string
	Date        string
	CompanyName string
	Business    string
	Contact     string
	Phone       string
	Email       string
	RepName     string
	DeliveryAt  string
	Lines       []invoiceLine
	Subtotal    string
	GST         string
	QST         string
	Total       string
	GSTRate     string
	QSTRate     string
	Superseded  bool
}

// Render produces the printable HTML artifact for one invoice
func (r *HTMLRenderer) Render(doc Document) ([]byte, error) {
	perCase := doc.Settings.PricePerCaseCents

	view := invoiceView{
		InvoiceID:   doc.Invoice.ID,
		OrderID:     doc.Invoice.OrderID,
		Date:        doc.Invoice.CreatedAt.Format("2006-01-02"),
		CompanyName: doc.Settings.CompanyName,
		Business:    doc.Client.Business,
		Contact:     doc.Client.ContactName,
		Phone:       doc.Client.Phone,
		Email:       doc.Client.Email,
		RepName:     doc.Client.RepName,
		Subtotal:    money(doc.Invoice.SubtotalCents, doc.Invoice.Currency),
		GST:         money(doc.Invoice.GSTCents, doc.Invoice.Currency),
		QST:         money(doc.Invoice.QSTCents, doc.Invoice.Currency),
		Total:       money(doc.Invoice.TotalCents, doc.Invoice.Currency),
		GSTRate:     rate(doc.Settings.GSTRate),
		QSTRate:     rate(doc.Settings.QSTRate),
		Superseded:  doc.Invoice.SupersededBy != "",
	}
	if doc.Order.DeliveryAt != nil {
		view.DeliveryAt = doc.Order.DeliveryAt.Format("2006-01-02 15:04")
	}
	for _, li := range doc.Invoice.Lines {
		view.Lines = append(view.Lines, invoiceLine{
			Flavor:    li.Flavor,
			Cases:     li.Cases,
			PerCase:   money(perCase, doc.Invoice.Currency),
			LineTotal: money(perCase*int64(li.Cases), doc.Invoice.Currency),
		})
	}

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, view); err != nil {
		return nil, errors.Wrapf(err, "render invoice %s", doc.Invoice.ID)
	}
	return buf.Bytes(), nil
}

func money(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}

func rate(r float64) string {
	// %.6g keeps 0.09975*100 from printing as 9.975000000000001
	return fmt.Sprintf("%.6g%%", r*100)
}

const invoiceTemplate = `<!doctype html>
<html><head><meta charset="utf-8"><title>Invoice {{.InvoiceID}}</title>
<style>body{font-family:Arial,sans-serif;margin:40px} .box{border:1px solid #ddd;padding:16px;border-radius:10px} .muted{color:#666} table{border-collapse:collapse} td,th{padding:4px 12px 4px 0;text-align:left}</style>
</head><body>
<h1>{{.CompanyName}} — Invoice</h1>
{{if .Superseded}}<p><b>SUPERSEDED</b> — a correcting invoice has been issued.</p>{{end}}
<div class="box">
<p><b>Invoice ID:</b> {{.InvoiceID}}<br>
<b>Order ID:</b> {{.OrderID}}<br>
<b>Date:</b> {{.Date}}{{if .DeliveryAt}}<br>
<b>Delivery:</b> {{.DeliveryAt}}{{end}}</p>
<h3>Bill To</h3>
<p>{{.Business}}{{if .Contact}}<br>{{.Contact}}{{end}}{{if .Phone}}<br>{{.Phone}}{{end}}{{if .Email}}<br>{{.Email}}{{end}}{{if .RepName}}<br><span class="muted">Rep: {{.RepName}}</span>{{end}}</p>
<h3>Items</h3>
<table>
<tr><th>Flavor</th><th>Cases</th><th>Per case</th><th>Line total</th></tr>
{{range .Lines}}<tr><td><b>{{.Flavor}}</b></td><td>{{.Cases}}</td><td class="muted">{{.PerCase}}</td><td><b>{{.LineTotal}}</b></td></tr>
{{end}}</table>
<p><b>Subtotal:</b> {{.Subtotal}}<br>
<b>GST ({{.GSTRate}}):</b> {{.GST}}<br>
<b>QST ({{.QSTRate}}):</b> {{.QST}}<br>
<b>Total:</b> {{.Total}}</p>
<p class="muted">Print this page to PDF if needed.</p>
</div>
</body></html>
`
