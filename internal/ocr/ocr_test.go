package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/labelmatch/internal/resilience"
)

func writeDoc(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test content"), 0644))
	return path
}

func TestNew_PdfToText(t *testing.T) {
	r, err := New(Config{Provider: ProviderPdfToText, PdfToTextPath: "/usr/bin/pdftotext"})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, r)
}

func TestNew_Default(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, r)
}

func TestNew_None(t *testing.T) {
	r, err := New(Config{Provider: ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestNew_MistralMissingKey(t *testing.T) {
	_, err := New(Config{Provider: ProviderMistral})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral provider requires ocr.mistral_key")
}

func TestNew_MistralWithKey(t *testing.T) {
	r, err := New(Config{Provider: ProviderMistral, MistralKey: "test-key", Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.IsType(t, &MistralOCR{}, r)
	assert.Equal(t, 5*time.Second, r.(*MistralOCR).client.Timeout)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "tesseract"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "tesseract"`)
}

func TestIsDocument(t *testing.T) {
	for _, p := range []string{"a.pdf", "b.PNG", "c.jpg", "d.jpeg"} {
		assert.True(t, IsDocument(p), p)
	}
	for _, p := range []string{"a.txt", "b.csv", "c.xlsx", "noext"} {
		assert.False(t, IsDocument(p), p)
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten([]string{
		"SHIP TO:\n   ZOEY DONG\n  2821 CARRADALE DR\n",
		"   \n\n",
		"UPS GROUND\tKY DONG",
	})
	assert.Equal(t, []string{"SHIP TO: ZOEY DONG 2821 CARRADALE DR", "UPS GROUND KY DONG"}, got)
}

func TestPdfToText_BinPath(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.binPath)

	p = NewPdfToText("/custom/pdftotext")
	assert.Equal(t, "/custom/pdftotext", p.binPath)
}

func TestPdfToText_ReadPages_Success(t *testing.T) {
	// A fake pdftotext that prints two pages separated by a form feed.
	fakeBin := filepath.Join(t.TempDir(), "pdftotext")
	script := "#!/bin/sh\nprintf 'SHIP TO\\n  ZOEY DONG\\fUPS GROUND\\n  KY DONG\\f'\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0755))

	p := NewPdfToText(fakeBin)
	pages, err := p.ReadPages(context.Background(), "/tmp/labels.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"SHIP TO ZOEY DONG", "UPS GROUND KY DONG"}, pages)
}

func TestPdfToText_ReadPages_BinaryNotFound(t *testing.T) {
	p := NewPdfToText("/nonexistent/pdftotext")
	_, err := p.ReadPages(context.Background(), "/tmp/test.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestPdfToText_ReadPages_RejectsImages(t *testing.T) {
	_, err := NewPdfToText("").ReadPages(context.Background(), "/tmp/label.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PDF only")
}

func TestMistralOCR_DefaultModel(t *testing.T) {
	m := NewMistralOCR("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
	assert.Equal(t, defaultTimeout, m.client.Timeout)
}

func TestMistralOCR_CustomModel(t *testing.T) {
	m := NewMistralOCR("key", "custom-model", WithEndpoint("http://ocr.local"))
	assert.Equal(t, "custom-model", m.model)
	assert.Equal(t, "http://ocr.local", m.endpoint)
}

func TestMistralOCR_ReadPages_PDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")
		assert.Empty(t, req.Document.ImageURL)

		resp := mistralOCRResponse{
			Pages: []mistralOCRPage{
				{Index: 0, Markdown: "# SHIP TO\n**Zoey Dong**\n2821 Carradale Dr"},
				{Index: 1, Markdown: ""},
				{Index: 2, Markdown: "| UPS | Ky Dong |"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	m := NewMistralOCR("test-key", "test-model", WithEndpoint(srv.URL))
	pages, err := m.ReadPages(context.Background(), writeDoc(t, "labels.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []string{"SHIP TO Zoey Dong 2821 Carradale Dr", "UPS Ky Dong"}, pages)
}

func TestMistralOCR_ReadPages_Image(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image_url", req.Document.Type)
		assert.Contains(t, req.Document.ImageURL, "data:image/jpeg;base64,")
		assert.Empty(t, req.Document.DocumentURL)

		json.NewEncoder(w).Encode(mistralOCRResponse{ //nolint:errcheck
			Pages: []mistralOCRPage{{Markdown: "zoey dong"}},
		})
	}))
	defer srv.Close()

	m := NewMistralOCR("k", "", WithEndpoint(srv.URL))
	pages, err := m.ReadPages(context.Background(), writeDoc(t, "label.JPG"))
	require.NoError(t, err)
	assert.Equal(t, []string{"zoey dong"}, pages)
}

func TestMistralOCR_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	m := NewMistralOCR("bad-key", "test-model", WithEndpoint(srv.URL))
	_, err := m.ReadPages(context.Background(), writeDoc(t, "test.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral API returned 401")
	assert.False(t, resilience.IsTransient(err))
}

func TestMistralOCR_TransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := NewMistralOCR("key", "", WithEndpoint(srv.URL))
	_, err := m.ReadPages(context.Background(), writeDoc(t, "test.pdf"))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestMistralOCR_FileNotFound(t *testing.T) {
	m := NewMistralOCR("key", "model")
	_, err := m.ReadPages(context.Background(), "/nonexistent/file.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read document")
}

func TestMistralOCR_UnsupportedType(t *testing.T) {
	_, err := NewMistralOCR("key", "").ReadPages(context.Background(), "/tmp/labels.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported document type")
}

func TestMistralOCR_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{invalid json`)) //nolint:errcheck
	}))
	defer srv.Close()

	m := NewMistralOCR("test-key", "test-model", WithEndpoint(srv.URL))
	_, err := m.ReadPages(context.Background(), writeDoc(t, "test.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal mistral response")
}

func TestMistralOCR_EmptyPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{}}) //nolint:errcheck
	}))
	defer srv.Close()

	m := NewMistralOCR("test-key", "test-model", WithEndpoint(srv.URL))
	pages, err := m.ReadPages(context.Background(), writeDoc(t, "test.pdf"))
	require.NoError(t, err)
	assert.Empty(t, pages)
}
