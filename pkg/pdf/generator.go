package pdf

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Field is one labelled line on a certificate
type Field struct {
	Label string
	Value string
}

// Certificate is the content of a one-page certificate
type Certificate struct {
	Title     string
	Subtitle  string
	Reference string
	Fields    []Field
	Footer    string
	IssuedAt  time.Time
}

// Generator renders certificates to PDF
type Generator struct {
	pageSize   string
	fontFamily string
}

// NewGenerator creates an A4 generator using the core Helvetica font
func NewGenerator() *Generator {
	return &Generator{pageSize: "A4", fontFamily: "Helvetica"}
}

// Generate renders cert and returns the PDF bytes
func (g *Generator) Generate(cert Certificate) (io.ReadSeeker, error) {
	pdf := gofpdf.New("P", "mm", g.pageSize, "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	pdf.SetFont(g.fontFamily, "B", 18)
	pdf.SetTextColor(46, 125, 50)
	pdf.CellFormat(0, 12, tr(cert.Title), "", 1, "C", false, 0, "")

	if cert.Subtitle != "" {
		pdf.SetFont(g.fontFamily, "", 12)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 8, tr(cert.Subtitle), "", 1, "C", false, 0, "")
	}

	pdf.SetFont(g.fontFamily, "", 9)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(0, 6, fmt.Sprintf("Reference: %s", cert.Reference), "", 1, "R", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued: %s", cert.IssuedAt.UTC().Format("2006-01-02 15:04 MST")), "", 1, "R", false, 0, "")
	pdf.Ln(6)

	pdf.SetTextColor(0, 0, 0)
	for i, field := range cert.Fields {
		fill := i%2 == 0
		pdf.SetFillColor(241, 248, 233)
		pdf.SetFont(g.fontFamily, "B", 10)
		pdf.CellFormat(60, 8, tr(field.Label), "1", 0, "L", fill, 0, "")
		pdf.SetFont(g.fontFamily, "", 10)
		pdf.CellFormat(0, 8, tr(field.Value), "1", 1, "L", fill, 0, "")
	}

	if cert.Footer != "" {
		pdf.Ln(10)
		pdf.SetFont(g.fontFamily, "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.MultiCell(0, 5, tr(cert.Footer), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return bytes.NewReader(buf.Bytes()), nil
}
