package board

import (
	"sync"
	"time"
)

const HistoryLimit = 50

// HistoryManager is a snapshot stack with an undo/redo cursor,
// decoupled from the mutation source: the owner decides which
// document mutations reach PushState. Remote-origin and
// undo/redo-origin mutations bypass it.
// Snapshots are immutable deep copies, so later live mutation
// cannot corrupt stored history.
type HistoryManager struct {
	stateLock sync.Mutex

	entries []*HistoryEntry
	cursor  int
	// one-shot: consumed by the next PushState
	suppressNextPush bool
}

func NewHistoryManager() *HistoryManager {
	return &HistoryManager{
		entries: []*HistoryEntry{},
		cursor:  -1,
	}
}

// PushState records a deep snapshot after a mutation.
// If the one-shot suppress flag is set (by Undo/Redo), it is consumed
// and nothing is recorded. Any redo tail past the cursor is discarded.
// The stack is capped at HistoryLimit entries; the oldest entry is
// evicted on overflow and the cursor re-clamped to the last index.
func (self *HistoryManager) PushState(shapes map[Id]*Shape, connectors map[Id]*Connector) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.suppressNextPush {
		self.suppressNextPush = false
		return
	}

	entries := self.entries[0 : self.cursor+1]
	entries = append(entries, &HistoryEntry{
		Shapes:     copyShapes(shapes),
		Connectors: copyConnectors(connectors),
		EventTime:  time.Now(),
	})
	if HistoryLimit < len(entries) {
		entries = entries[len(entries)-HistoryLimit:]
	}
	self.entries = entries
	self.cursor = len(entries) - 1
}

// Undo steps the cursor back and returns a deep copy of the entry now
// at the cursor for the caller to apply to the document store.
// The caller must also clear the selection.
// A no-op past the start: returns nil.
func (self *HistoryManager) Undo() *HistoryEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.cursor <= 0 {
		return nil
	}
	self.suppressNextPush = true
	self.cursor -= 1
	return self.entries[self.cursor].Copy()
}

// Redo is symmetric to Undo. A no-op past the end: returns nil.
func (self *HistoryManager) Redo() *HistoryEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.entries)-1 <= self.cursor {
		return nil
	}
	self.suppressNextPush = true
	self.cursor += 1
	return self.entries[self.cursor].Copy()
}

func (self *HistoryManager) CanUndo() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return 0 < self.cursor
}

func (self *HistoryManager) CanRedo() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.cursor < len(self.entries)-1
}

func (self *HistoryManager) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.entries)
}

func (self *HistoryManager) Cursor() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.cursor
}

// Reset discards the history entirely. Called on room teardown.
func (self *HistoryManager) Reset() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.entries = []*HistoryEntry{}
	self.cursor = -1
	self.suppressNextPush = false
}
