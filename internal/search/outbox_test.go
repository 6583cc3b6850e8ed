package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitEntries(t *testing.T) {
	entries := []outboxEntry{
		{ID: 1, MemoryID: "m1", Operation: "upsert"},
		{ID: 2, MemoryID: "m2", Operation: "delete"},
		{ID: 3, MemoryID: "m3", Operation: "upsert"},
		{ID: 4, MemoryID: "m4", Operation: "vacuum"}, // unknown, dropped
	}

	upserts, deletes := splitEntries(entries)

	assert.Equal(t, []outboxEntry{entries[0], entries[2]}, upserts)
	assert.Equal(t, []outboxEntry{entries[1]}, deletes)
}

func TestSplitEntriesEmpty(t *testing.T) {
	upserts, deletes := splitEntries(nil)
	assert.Empty(t, upserts)
	assert.Empty(t, deletes)
}
