package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/labelmatch/internal/resilience"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"
	defaultTimeout      = 60 * time.Second
)

// MistralOCR recognizes label PDFs and photos with the Mistral OCR API.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// MistralOption configures MistralOCR.
type MistralOption func(*MistralOCR)

// WithEndpoint overrides the API endpoint.
func WithEndpoint(url string) MistralOption {
	return func(m *MistralOCR) { m.endpoint = url }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) MistralOption {
	return func(m *MistralOCR) {
		if d > 0 {
			m.client.Timeout = d
		}
	}
}

// NewMistralOCR creates a MistralOCR reader. If model is empty, the default is used.
func NewMistralOCR(apiKey, model string, opts ...MistralOption) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	m := &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

// mistralOCRDocument carries either a document_url (PDF) or an image_url.
type mistralOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// ReadPages uploads the document inline and returns one flattened line per
// recognized page.
func (m *MistralOCR) ReadPages(ctx context.Context, path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mediaType, ok := mediaTypes[ext]
	if !ok {
		return nil, eris.Errorf("ocr: unsupported document type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read document %s", path)
	}
	dataURL := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)

	doc := mistralOCRDocument{Type: "document_url", DocumentURL: dataURL}
	if ext != ".pdf" {
		doc = mistralOCRDocument{Type: "image_url", ImageURL: dataURL}
	}

	bodyBytes, err := json.Marshal(mistralOCRRequest{Model: m.model, Document: doc})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: mistral API call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read mistral response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ocr: mistral API returned %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal mistral response")
	}

	pages := make([]string, len(ocrResp.Pages))
	for i, page := range ocrResp.Pages {
		pages[i] = markdownMarks.Replace(page.Markdown)
	}
	return Flatten(pages), nil
}

// markdownMarks strips the formatting the OCR API wraps around text.
var markdownMarks = strings.NewReplacer("#", " ", "*", " ", "|", " ", "`", " ", "_", " ")
