package stash

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/agentstash/stash/internal/temporal"
)

// Tier is a temporal bucket governing compression aggressiveness.
type Tier = temporal.Tier

// Tier values, hottest first.
const (
	TierHot  = temporal.TierHot
	TierWarm = temporal.TierWarm
	TierCold = temporal.TierCold
)

// CompressionState describes how an entry's content is currently stored.
type CompressionState = temporal.CompressionState

// Compression states.
const (
	StateRaw        = temporal.StateRaw
	StateSummarized = temporal.StateSummarized
	StateQuantized  = temporal.StateQuantized
)

// EntryType classifies what produced a cache entry.
type EntryType string

// Known entry types. TypeCustom accepts host-defined payloads.
const (
	TypeToolResult       EntryType = "tool-result"
	TypeFileRead         EntryType = "file-read"
	TypeConversationTurn EntryType = "conversation-turn"
	TypeError            EntryType = "error"
	TypeCustom           EntryType = "custom"
)

// Valid reports whether the entry type is one of the known values.
func (t EntryType) Valid() bool {
	switch t {
	case TypeToolResult, TypeFileRead, TypeConversationTurn, TypeError, TypeCustom:
		return true
	}
	return false
}

// Metadata carries optional attributes for Add.
type Metadata struct {
	// ID is the stable entry id. Empty means a generated UUID.
	ID string

	// Tags are free-form labels matched against query tags when
	// scoring relevance.
	Tags []string
}

// Entry is a read snapshot of a cache entry. External callers never
// see the mutable entry itself.
type Entry struct {
	ID          string
	Content     string
	Tokens      int
	Type        EntryType
	Tags        []string
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount int64
	Relevance   float64
	Tier        Tier
	State       CompressionState
}

// cacheEntry is the mutable entry owned by the optimizer's store.
// All fields except inUse are guarded by the optimizer mutex.
type cacheEntry struct {
	id          string
	content     string
	tokens      int
	typ         EntryType
	tags        []string
	createdAt   time.Time
	lastAccess  time.Time
	accessCount int64
	relevance   float64
	tier        temporal.Tier
	state       temporal.CompressionState

	// inUse marks the entry as belonging to an in-flight event.
	// Pruning skips flagged entries instead of blocking on them.
	inUse atomic.Bool

	// compressionFailed marks a cold entry whose compression attempt
	// failed; it stays raw and becomes a preferred pruning victim.
	compressionFailed bool

	// compressing marks an in-flight background compression so the
	// evaluation cycle does not dispatch the same entry twice.
	compressing bool
}

// snapshot returns the read-only view of the entry.
func (e *cacheEntry) snapshot() Entry {
	tags := make([]string, len(e.tags))
	copy(tags, e.tags)
	return Entry{
		ID:          e.id,
		Content:     e.content,
		Tokens:      e.tokens,
		Type:        e.typ,
		Tags:        tags,
		CreatedAt:   e.createdAt,
		LastAccess:  e.lastAccess,
		AccessCount: e.accessCount,
		Relevance:   e.relevance,
		Tier:        e.tier,
		State:       e.state,
	}
}

// entryDoc is the persisted wire form of a cache entry.
type entryDoc struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Tokens      int       `json:"tokens"`
	Type        string    `json:"type"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount int64     `json:"access_count"`
	Relevance   float64   `json:"relevance"`
	Tier        string    `json:"tier"`
	State       string    `json:"state"`
}

// marshalEntry encodes the persistable fields of an entry.
func marshalEntry(e *cacheEntry) ([]byte, error) {
	return json.Marshal(entryDoc{
		ID:          e.id,
		Content:     e.content,
		Tokens:      e.tokens,
		Type:        string(e.typ),
		Tags:        e.tags,
		CreatedAt:   e.createdAt,
		LastAccess:  e.lastAccess,
		AccessCount: e.accessCount,
		Relevance:   e.relevance,
		Tier:        string(e.tier),
		State:       string(e.state),
	})
}

// unmarshalEntry decodes a persisted document back into a cache entry.
func unmarshalEntry(data []byte) (*cacheEntry, error) {
	var doc entryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &cacheEntry{
		id:          doc.ID,
		content:     doc.Content,
		tokens:      doc.Tokens,
		typ:         EntryType(doc.Type),
		tags:        doc.Tags,
		createdAt:   doc.CreatedAt,
		lastAccess:  doc.LastAccess,
		accessCount: doc.AccessCount,
		relevance:   doc.Relevance,
		tier:        temporal.Tier(doc.Tier),
		state:       temporal.CompressionState(doc.State),
	}, nil
}
