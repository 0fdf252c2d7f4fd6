// Package shard assigns entry ids to segment directories in the disk
// store layout. FNV-1a gives a uniform spread so no single segment
// accumulates a disproportionate number of entry files.
package shard

// Assign computes the segment for an entry id.
// The returned value is in the range [0, totalSegments).
func Assign(id string, totalSegments int) int {
	if totalSegments <= 1 {
		return 0
	}
	return int(fnv1a32(id) % uint32(totalSegments))
}

// fnv1a32 computes the FNV-1a 32-bit hash of a string.
func fnv1a32(s string) uint32 {
	var h uint32 = 2166136261 // FNV offset basis
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619 // FNV prime
	}
	return h
}
