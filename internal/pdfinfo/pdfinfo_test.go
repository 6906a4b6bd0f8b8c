package pdfinfo

import (
	"errors"
	"testing"

	"docpipe-backend/internal/pdfinfo/pdftest"
)

func TestPageCount(t *testing.T) {
	for _, pages := range []int{1, 3} {
		got, err := PageCount(pdftest.Blank(pages))
		if err != nil {
			t.Fatalf("PageCount(%d pages): %v", pages, err)
		}
		if got != pages {
			t.Fatalf("PageCount = %d, want %d", got, pages)
		}
	}
}

func TestPageCountRejectsNonPDF(t *testing.T) {
	if _, err := PageCount([]byte("\x89PNG\r\n")); !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
}

func TestPageCountCorruptPDF(t *testing.T) {
	if _, err := PageCount([]byte("%PDF-1.4\ngarbage without objects")); err == nil {
		t.Fatalf("expected error for corrupt pdf")
	}
}
