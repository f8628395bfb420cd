package recipient

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "recipients": [
    {
      "recipient_id": "r-001",
      "first_name": "John",
      "last_name": "Doe",
      "preferred_full_name": "Johnny Doe",
      "address": "123 Main Street, San Francisco, CA 94105"
    },
    {
      "recipient_id": "r-002",
      "first_name": "Zoey",
      "last_name": "Dong",
      "preferred_full_name": "Zoey Dong",
      "address": "2821 Carradale Dr, Roseville, CA 95661"
    }
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_JSON(t *testing.T) {
	recs, err := Load(writeFile(t, "recipients.json", sampleJSON))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r-001", recs[0].RecipientID)
	assert.Equal(t, "John Doe", recs[0].FullName())
	assert.Equal(t, "Johnny Doe", recs[0].PreferredFullName)
	assert.Equal(t, "2821 Carradale Dr, Roseville, CA 95661", recs[1].Address)
}

func TestLoad_YAML(t *testing.T) {
	doc := `recipients:
  - recipient_id: r-010
    first_name: Ky
    last_name: Dong
    address: 2821 Carradale Dr, Roseville, CA 95661
`
	recs, err := Load(writeFile(t, "recipients.yml", doc))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Ky Dong", recs[0].FullName())
}

func TestLoad_EmptyList(t *testing.T) {
	recs, err := Load(writeFile(t, "recipients.json", `{"recipients": []}`))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedDatabase))
	assert.Contains(t, err.Error(), "nope.json")
}

func TestLoad_MissingRecipientsField(t *testing.T) {
	_, err := Load(writeFile(t, "recipients.json", `{"people": []}`))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedDatabase))
	assert.Contains(t, err.Error(), "recipients")
}

func TestLoad_InvalidJSON(t *testing.T) {
	_, err := Load(writeFile(t, "recipients.json", `{"recipients": [`))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedDatabase))
	assert.Contains(t, err.Error(), "decode json")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeFile(t, "recipients.yaml", "recipients: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode yaml")
}

func TestFullName_TrimsMissingParts(t *testing.T) {
	assert.Equal(t, "Cher", Record{FirstName: "Cher"}.FullName())
	assert.Equal(t, "", Record{}.FullName())
}
