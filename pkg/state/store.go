package state

import (
	"bytes"
	"fmt"
	"os"

	"github.com/cuemby/protect-init/pkg/log"
	"github.com/google/renameio/v2"
)

const (
	// DefaultPath is where the install record lives on the persistent volume
	DefaultPath = "/config/config.cfg"
)

// Load reads the install record at path. A missing file is the first boot of
// the volume and yields an empty record.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewRecord(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	rec, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return rec, nil
}

// Write replaces the record at path atomically, so readers see either the
// old record or the new one. Nothing is written if rec cannot be encoded.
func Write(path string, rec *Record) error {
	var buf bytes.Buffer
	if err := rec.Encode(&buf); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Store reads and writes the install record at a fixed path
type Store struct {
	Path string
}

// NewStore creates a store for the record at path
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{Path: path}
}

// Load reads the current record
func (s *Store) Load() (*Record, error) {
	return Load(s.Path)
}

// Save replaces the record on disk
func (s *Store) Save(rec *Record) error {
	if err := Write(s.Path, rec); err != nil {
		return err
	}
	logger := log.WithComponent("state")
	logger.Debug().Str("path", s.Path).Int("keys", rec.Len()).Msg("Install record written")
	return nil
}

// SetProductInstanceID re-reads the record from disk, sets ProductInstanceID
// and writes it back. Other fields are left as the installer wrote them.
func (s *Store) SetProductInstanceID(guid string) error {
	rec, err := s.Load()
	if err != nil {
		return err
	}
	rec.Set(FieldProductInstanceID, guid)
	return s.Save(rec)
}
