// Package export writes the extracted text as a downloadable artifact.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/hyperifyio/gomoderate/internal/format"
)

// Text joins item texts with blank lines between them.
func Text(b format.Batch) string {
	return strings.Join(b.Texts(), "\n\n")
}

// Filename returns "<prefix>-<ISO-8601 with colons as hyphens>.<ext>",
// e.g. scraped-content-2024-01-02T03-04-05.000Z.txt.
func Filename(prefix string, now time.Time, ext string) string {
	stamp := now.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.ReplaceAll(stamp, ":", "-")
	if prefix == "" {
		prefix = "scraped-content"
	}
	return prefix + "-" + stamp + "." + strings.TrimPrefix(ext, ".")
}

// WriteText writes the plain-text artifact into dir and returns its path.
func WriteText(dir string, b format.Batch, now time.Time) (string, error) {
	path := filepath.Join(dir, Filename("", now, "txt"))
	if err := os.WriteFile(path, []byte(Text(b)), 0o644); err != nil {
		return "", fmt.Errorf("write text export: %w", err)
	}
	return path, nil
}

// WritePDF renders the same content as a simple PDF into dir.
func WritePDF(dir string, b format.Batch, title string, now time.Time) (string, error) {
	path := filepath.Join(dir, Filename("", now, "pdf"))
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()
	if title != "" {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.MultiCell(0, 8, tr(title), "", "L", false)
		pdf.Ln(2)
	}
	for _, it := range b {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, 5, string(it.Metadata.Type), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 5, tr(it.Text), "", "L", false)
		pdf.Ln(4)
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("write pdf export: %w", err)
	}
	return path, nil
}
