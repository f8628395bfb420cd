//go:build !integration

package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/labelmatch/internal/config"
	"github.com/sells-group/labelmatch/internal/labels"
	"github.com/sells-group/labelmatch/internal/ocr"
	"github.com/sells-group/labelmatch/internal/resolver"
)

func sampleReport(t *testing.T, explain int) batchReport {
	t.Helper()
	r := resolver.New(testRecords)
	b := r.ResolveAll(t.Context(), []string{sampleLabels[0], "fedex ground 2821 carradale dr roseville ca 95661"})
	b.Elapsed = 42 * time.Millisecond
	return newBatchReport(b, r.Matcher(), r.Records(), explain)
}

func TestNewBatchReport(t *testing.T) {
	rep := sampleReport(t, 0)
	assert.Equal(t, 2, rep.Labels)
	assert.Equal(t, 1, rep.Matched)
	assert.Equal(t, int64(42), rep.ElapsedMS)
	assert.Empty(t, rep.Results[0].Ranking)

	rep = sampleReport(t, 3)
	assert.Len(t, rep.Results[0].Ranking, 3)
	// No name, nothing to rank.
	assert.Empty(t, rep.Results[1].Ranking)
}

func TestWriteReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, formatJSON, sampleReport(t, 1)))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.EqualValues(t, 1, got["matched"])
	results := got["results"].([]any)
	first := results[0].(map[string]any)
	// Outcome fields are flattened next to the ranking.
	assert.Equal(t, sampleLabels[0], first["raw"])
	assert.Contains(t, first, "ranking")
}

func TestWriteReport_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, formatYAML, sampleReport(t, 0)))

	var got struct {
		Matched int `yaml:"matched"`
		Results []struct {
			Raw      string `yaml:"raw"`
			Identity struct {
				Name string `yaml:"name"`
			} `yaml:"identity"`
		} `yaml:"results"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 1, got.Matched)
	require.Len(t, got.Results, 2)
	assert.Equal(t, sampleLabels[0], got.Results[0].Raw)
	assert.Equal(t, "Zoey Dong", got.Results[0].Identity.Name)
}

func TestWriteReport_Console(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, formatConsole, sampleReport(t, 2)))

	out := buf.String()
	assert.Contains(t, out, "#1 MATCH")
	assert.Contains(t, out, "Zoey Dong (r-1)")
	assert.Contains(t, out, "2821 carradale dr roseville ca 95661")
	assert.Contains(t, out, "1. Zoey Dong")
	assert.Contains(t, out, "2. Ky Dong")
	assert.Contains(t, out, "#2 NO NAME")
	assert.Contains(t, out, "name:    -")
	assert.Contains(t, out, "1/2 labels matched in 42ms")
}

func TestWriteReport_UnknownFormat(t *testing.T) {
	err := writeReport(&bytes.Buffer{}, "xml", batchReport{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestCollectLabels(t *testing.T) {
	texts, source, err := collectLabels(t.Context(), []string{"a", "b"}, "", labels.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, texts)
	assert.Equal(t, "args", source)

	_, _, err = collectLabels(t.Context(), nil, "", labels.Options{})
	assert.Error(t, err)

	_, _, err = collectLabels(t.Context(), []string{"a"}, "labels.txt", labels.Options{})
	assert.Error(t, err)

	_, _, err = collectLabels(t.Context(), nil, "/does/not/exist.txt", labels.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read labels")
}

func TestDocumentReader(t *testing.T) {
	old := cfg
	t.Cleanup(func() { cfg = old })
	cfg = testConfig(t)

	r, err := documentReader("labels.csv")
	require.NoError(t, err)
	assert.Nil(t, r)

	cfg.OCR = config.OCRConfig{Provider: ocr.ProviderPdfToText}
	r, err = documentReader("labels.pdf")
	require.NoError(t, err)
	assert.IsType(t, &ocr.PdfToText{}, r)

	cfg.OCR = config.OCRConfig{Provider: ocr.ProviderNone}
	r, err = documentReader("label.png")
	require.NoError(t, err)
	assert.Nil(t, r)

	_, _, err = collectLabels(t.Context(), nil, "label.png", labels.Options{OCR: r})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs an OCR provider")

	cfg.OCR = config.OCRConfig{Provider: ocr.ProviderMistral}
	_, err = documentReader("label.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral_key")
}
