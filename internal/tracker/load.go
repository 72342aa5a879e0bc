package tracker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/assets"
)

// file is the on-disk layout shared by the embedded database and
// TRACKERS_FILE extensions
type file struct {
	Trackers []Info    `yaml:"trackers"`
	Patterns []Pattern `yaml:"patterns"`
}

// Load parses a YAML tracker list
func Load(r io.Reader) (*Database, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse trackers: %w", err)
	}
	db, err := NewDatabase(f.Trackers, f.Patterns)
	if err != nil {
		return nil, fmt.Errorf("build trackers: %w", err)
	}
	return db, nil
}

// LoadFile parses the YAML tracker list at path
func LoadFile(path string) (*Database, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trackers file: %w", err)
	}
	defer fh.Close()
	return Load(fh)
}

var (
	defaultOnce sync.Once
	defaultDB   *Database
)

// Default returns the built-in database compiled from the embedded
// trackers.yaml. It is built once and shared read-only.
func Default() *Database {
	defaultOnce.Do(func() {
		db, err := Load(bytes.NewReader(assets.TrackersYAML))
		if err != nil {
			panic("tracker: embedded database: " + err.Error())
		}
		defaultDB = db
	})
	return defaultDB
}
