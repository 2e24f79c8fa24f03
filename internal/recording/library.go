package recording

import "sync"

// Library is the insertion-ordered, in-memory collection of recordings for
// the current application session. No two entries share an ID.
type Library struct {
	mu      sync.RWMutex
	entries []Recording
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{}
}

// Append adds rec to the end of the library. It reports false and leaves the
// library unchanged if an entry with the same ID is already present.
func (l *Library) Append(rec Recording) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.indexOf(rec.ID()) >= 0 {
		return false
	}
	l.entries = append(l.entries, rec)
	return true
}

// Remove deletes the entry with the given ID. Removing an unknown ID is a
// no-op; the return value reports whether anything was removed.
func (l *Library) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
	return true
}

// List returns the recordings in insertion order. The slice is a copy.
func (l *Library) List() []Recording {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Recording, len(l.entries))
	copy(out, l.entries)
	return out
}

// Get looks up a recording by ID.
func (l *Library) Get(id string) (Recording, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i := l.indexOf(id); i >= 0 {
		return l.entries[i], true
	}
	return Recording{}, false
}

// Len returns the number of recordings.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Library) indexOf(id string) int {
	for i, rec := range l.entries {
		if rec.ID() == id {
			return i
		}
	}
	return -1
}
