// Package recipient holds the reference recipient records and loads them from disk.
package recipient

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ErrMalformedDatabase is returned when the recipient database cannot be
// read or does not have the expected shape. It is fatal at startup.
var ErrMalformedDatabase = eris.New("recipient: malformed database")

// Record is a known recipient. Records are read-only once loaded.
type Record struct {
	RecipientID       string `json:"recipient_id" yaml:"recipient_id"`
	FirstName         string `json:"first_name" yaml:"first_name"`
	LastName          string `json:"last_name" yaml:"last_name"`
	PreferredFullName string `json:"preferred_full_name" yaml:"preferred_full_name"`
	Address           string `json:"address" yaml:"address"`
}

// FullName returns "first last" with surrounding whitespace removed.
func (r Record) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// database is the on-disk document. Recipients is a pointer so a missing
// top-level field can be told apart from an empty list.
type database struct {
	Recipients *[]Record `json:"recipients" yaml:"recipients"`
}

// Load reads a recipient database from path. Files ending in .yaml or .yml
// are decoded as YAML; everything else as JSON.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformedDatabase, "read %s: %v", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	default:
		return DecodeJSON(data)
	}
}

// DecodeJSON parses a JSON recipient document.
func DecodeJSON(data []byte) ([]Record, error) {
	var db database
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&db); err != nil {
		return nil, eris.Wrapf(ErrMalformedDatabase, "decode json: %v", err)
	}
	return db.records()
}

// DecodeYAML parses a YAML recipient document.
func DecodeYAML(data []byte) ([]Record, error) {
	var db database
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, eris.Wrapf(ErrMalformedDatabase, "decode yaml: %v", err)
	}
	return db.records()
}

func (db database) records() ([]Record, error) {
	if db.Recipients == nil {
		return nil, eris.Wrap(ErrMalformedDatabase, `missing top-level "recipients" field`)
	}
	return *db.Recipients, nil
}
