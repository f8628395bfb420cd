// Package ner defines the boundary to an external named-entity recognizer.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// LabelPerson is the label recognizers use for people.
const LabelPerson = "PERSON"

const defaultTimeout = 10 * time.Second

// Span is a labeled piece of text returned by a recognizer.
type Span struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
}

// Recognizer finds labeled entity spans in text.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Span, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, text string) ([]Span, error)

// Recognize implements Recognizer.
func (f RecognizerFunc) Recognize(ctx context.Context, text string) ([]Span, error) {
	return f(ctx, text)
}

// FirstPerson returns the text of the first span labeled as a person.
func FirstPerson(spans []Span) (string, bool) {
	for _, s := range spans {
		if strings.EqualFold(s.Label, LabelPerson) || strings.EqualFold(s.Label, "PER") {
			if t := strings.TrimSpace(s.Text); t != "" {
				return t, true
			}
		}
	}
	return "", false
}

// Option configures an HTTPRecognizer.
type Option func(*HTTPRecognizer)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *HTTPRecognizer) {
		r.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *HTTPRecognizer) {
		if d > 0 {
			r.http.Timeout = d
		}
	}
}

// HTTPRecognizer calls a recognizer service that accepts {"text": "..."}
// and answers {"entities": [{"text": "...", "label": "..."}]}.
type HTTPRecognizer struct {
	url  string
	http *http.Client
}

// NewHTTPRecognizer creates a recognizer client for the given endpoint URL.
func NewHTTPRecognizer(url string, opts ...Option) *HTTPRecognizer {
	r := &HTTPRecognizer{
		url:  url,
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type recognizeRequest struct {
	Text string `json:"text"`
}

type recognizeResponse struct {
	Entities []Span `json:"entities"`
}

// Recognize sends text to the recognizer service and returns its spans.
func (r *HTTPRecognizer) Recognize(ctx context.Context, text string) ([]Span, error) {
	body, err := json.Marshal(recognizeRequest{Text: text})
	if err != nil {
		return nil, eris.Wrap(err, "ner: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ner: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ner: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ner: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("ner: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out recognizeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, eris.Wrap(err, "ner: unmarshal response")
	}
	return out.Entities, nil
}
