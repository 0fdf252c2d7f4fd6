package diskstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const lockInfoFilename = "lock.json"

// lockInfo records who holds the advisory lock and since when, so
// other instances can detect an abandoned lock.
type lockInfo struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func (s *Store) lockInfoPath() string {
	return filepath.Join(s.root, lockInfoFilename)
}

// writeLockInfo records lock ownership. Best effort: a failure here
// only degrades staleness detection, not correctness.
func (s *Store) writeLockInfo() {
	info := lockInfo{
		Owner:      s.owner,
		AcquiredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	os.WriteFile(s.lockInfoPath(), data, 0o644)
}

// lockIsStale reports whether the recorded lock metadata is older than
// the staleness window. Missing or unreadable metadata counts as stale;
// a live holder rewrites it on every acquisition.
func (s *Store) lockIsStale() bool {
	data, err := os.ReadFile(s.lockInfoPath())
	if err != nil {
		return true
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return true
	}
	return time.Since(info.AcquiredAt) > s.staleness
}
