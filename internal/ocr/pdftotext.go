package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText reads the text layer of label PDFs with the pdftotext CLI tool.
// It cannot read images.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText reader. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ReadPages runs pdftotext -layout on the PDF and splits its output on the
// form feeds that separate pages.
func (p *PdfToText) ReadPages(ctx context.Context, path string) ([]string, error) {
	if strings.ToLower(filepath.Ext(path)) != ".pdf" {
		return nil, eris.Errorf("ocr: pdftotext cannot read %s (PDF only)", path)
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", path, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", path, stderr.String())
	}

	return Flatten(strings.Split(stdout.String(), "\f")), nil
}
