package diskstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// manifestVersion is bumped when the on-disk layout changes.
const manifestVersion = 1

const manifestFilename = "manifest.json"

// Manifest records the on-disk layout so independently configured
// instances sharing the directory agree on segments and compression.
type Manifest struct {
	Version     int       `json:"version"`
	Segments    int       `json:"segments"`
	Compression string    `json:"compression"`
	CreatedAt   time.Time `json:"created_at"`
}

// ensureManifest writes the manifest on first use and validates it on
// subsequent opens.
func (s *Store) ensureManifest() error {
	path := filepath.Join(s.root, manifestFilename)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m := Manifest{
			Version:     manifestVersion,
			Segments:    s.segments,
			Compression: s.codec.Name(),
			CreatedAt:   time.Now().UTC(),
		}
		out, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling manifest: %w", err)
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if m.Segments != s.segments {
		return fmt.Errorf("manifest segments %d does not match configured %d", m.Segments, s.segments)
	}
	if m.Compression != s.codec.Name() {
		return fmt.Errorf("manifest compression %q does not match codec %q", m.Compression, s.codec.Name())
	}
	return nil
}
