package cache

// memoryTier is the in-memory map of live entries and their total size.
// It has no locking of its own; Cache serializes access.
type memoryTier struct {
	items map[string]*Entry
	size  int64
}

func newMemoryTier() *memoryTier {
	return &memoryTier{items: make(map[string]*Entry)}
}

func (m *memoryTier) get(hash string) (*Entry, bool) {
	e, ok := m.items[hash]
	return e, ok
}

// put stores e under hash, replacing any previous entry.
func (m *memoryTier) put(hash string, e *Entry) {
	if old, ok := m.items[hash]; ok {
		m.size -= old.SizeBytes
	}
	m.items[hash] = e
	m.size += e.SizeBytes
}

func (m *memoryTier) remove(hash string) (*Entry, bool) {
	e, ok := m.items[hash]
	if !ok {
		return nil, false
	}
	delete(m.items, hash)
	m.size -= e.SizeBytes
	return e, true
}

// removeTypes drops every entry whose type is in types and returns how many
// were removed.
func (m *memoryTier) removeTypes(types map[Type]bool) int {
	removed := 0
	for hash, e := range m.items {
		if types[e.Type] {
			m.remove(hash)
			removed++
		}
	}
	return removed
}

func (m *memoryTier) len() int {
	return len(m.items)
}

func (m *memoryTier) clear() {
	m.items = make(map[string]*Entry)
	m.size = 0
}
