// Package pdfinfo reads structural facts (page count) from PDF bytes.
package pdfinfo

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNotPDF is returned for content without a PDF header.
var ErrNotPDF = errors.New("content is not a pdf")

// PageCount returns the number of pages. pdfcpu parses first with relaxed
// validation; ledongthuc/pdf is tried when pdfcpu rejects the file.
func PageCount(content []byte) (int, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(content, "\x00\t\r\n "), []byte("%PDF-")) {
		return 0, ErrNotPDF
	}
	n, err := pdfcpuPageCount(content)
	if err == nil && n > 0 {
		return n, nil
	}
	fallback, ferr := readerPageCount(content)
	if ferr == nil && fallback > 0 {
		return fallback, nil
	}
	if err == nil {
		err = fmt.Errorf("pdf has no pages")
	}
	return 0, fmt.Errorf("page count: %w", err)
}

func pdfcpuPageCount(content []byte) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdfcpu panic: %v", rec)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(bytes.NewReader(content), conf)
}

func readerPageCount(content []byte) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf reader panic: %v", rec)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}
