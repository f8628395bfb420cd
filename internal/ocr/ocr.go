// Package ocr turns scanned label documents into raw label text, one label
// per page. The text is returned as recognized; cleaning it up is the
// normalizer's job.
package ocr

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Providers.
const (
	ProviderPdfToText = "pdftotext"
	ProviderMistral   = "mistral"
	ProviderNone      = "none"
)

// Reader reads the text of every page in a label document.
type Reader interface {
	ReadPages(ctx context.Context, path string) ([]string, error)
}

// Config selects and configures a Reader.
type Config struct {
	Provider      string
	PdfToTextPath string
	MistralKey    string
	MistralModel  string
	Timeout       time.Duration
}

// New creates the configured Reader. It returns nil for ProviderNone.
func New(cfg Config) (Reader, error) {
	switch cfg.Provider {
	case ProviderPdfToText, "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case ProviderMistral:
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires ocr.mistral_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel, WithTimeout(cfg.Timeout)), nil
	case ProviderNone:
		return nil, nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// IsDocument reports whether path looks like a scanned label document
// rather than a text or tabular file.
func IsDocument(path string) bool {
	_, ok := mediaTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

var mediaTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// Flatten joins a page's layout lines into one line and drops blank pages.
func Flatten(pages []string) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		if line := strings.Join(strings.Fields(p), " "); line != "" {
			out = append(out, line)
		}
	}
	return out
}
