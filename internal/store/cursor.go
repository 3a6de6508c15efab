package store

import (
	"fmt"
	"sync"
)

// CursorStore tracks, per group, the last originator sequence id the sync
// loop has fully consumed. Advancement is monotonic non-decreasing: once a
// cursor reaches N it can never be moved back below N.
type CursorStore struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

// NewCursorStore constructs an empty CursorStore.
func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: map[string]uint64{}}
}

// Get returns groupId's last-consumed cursor, or 0 if the group has never
// advanced.
func (c *CursorStore) Get(groupId string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[groupId]
}

// Advance moves groupId's cursor forward to sequenceId. Moving it backward
// is rejected so a stale or replayed read can never regress progress
// already recorded.
func (c *CursorStore) Advance(groupId string, sequenceId uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sequenceId < c.cursors[groupId] {
		return fmt.Errorf("cursor for group %q would move backward from %d to %d", groupId, c.cursors[groupId], sequenceId)
	}
	c.cursors[groupId] = sequenceId
	return nil
}
