package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperifyio/gomoderate/internal/format"
)

var when = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func batch() format.Batch {
	return format.Batch{
		{Text: "first paragraph", Metadata: format.Metadata{Type: format.MainContent}},
		{Text: "second paragraph", Metadata: format.Metadata{Type: format.Comment}},
	}
}

func TestFilename_ReplacesColons(t *testing.T) {
	got := Filename("", when, "txt")
	if got != "scraped-content-2024-01-02T03-04-05.000Z.txt" {
		t.Fatalf("got %q", got)
	}
	if strings.Contains(got, ":") {
		t.Fatalf("colons left in %q", got)
	}
}

func TestWriteText_DoubleNewlineJoined(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteText(dir, batch(), when)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "first paragraph\n\nsecond paragraph" {
		t.Fatalf("got %q", b)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("written outside dir: %s", path)
	}
}

func TestWritePDF_ProducesPDF(t *testing.T) {
	path, err := WritePDF(t.TempDir(), batch(), "Example page", when)
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "%PDF-") {
		t.Fatalf("not a pdf header: %q", b[:8])
	}
}
