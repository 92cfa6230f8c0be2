package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	labelWidth = 22.0
	pageWidth  = 277.0
	cellHeight = 14.0
)

// PDFExporter renders timetables into printable PDF documents.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a portrait PDF with an optional title and one table row per dataset row.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()
	writeTitle(pdf, title)

	pdf.SetFont("Arial", "B", 10)
	colWidth := 190.0 / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, row[header], "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// RenderGrid draws the weekly grid on a landscape page. Cell text may span lines separated by
// "\n".
func (e *PDFExporter) RenderGrid(grid Grid) ([]byte, error) {
	if err := grid.validate(); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()
	writeTitle(pdf, grid.Title)

	colWidth := (pageWidth - labelWidth) / float64(len(grid.Columns))
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(labelWidth, 8, "", "1", 0, "C", false, 0, "")
	for _, col := range grid.Columns {
		pdf.CellFormat(colWidth, 8, col, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	for i, label := range grid.Rows {
		x, y := pdf.GetXY()
		pdf.SetFont("Arial", "B", 8)
		pdf.CellFormat(labelWidth, cellHeight, label, "1", 0, "C", false, 0, "")
		pdf.SetFont("Arial", "", 7)
		for j, text := range grid.Cells[i] {
			cx := x + labelWidth + float64(j)*colWidth
			pdf.Rect(cx, y, colWidth, cellHeight, "D")
			pdf.SetXY(cx, y+1)
			pdf.MultiCell(colWidth, 3.5, text, "", "C", false)
		}
		pdf.SetXY(x, y+cellHeight)
	}

	return output(pdf)
}

func writeTitle(pdf *gofpdf.Fpdf, title string) {
	if title == "" {
		return
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	pdf.Ln(3)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
