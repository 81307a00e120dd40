package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryTier(t *testing.T) {
	now := time.Now()
	m := newMemoryTier()

	a := newEntry("a", TypeBuild, json.RawMessage(`"aaaa"`), now, time.Hour)
	b := newEntry("b", TypeDeps, json.RawMessage(`"bb"`), now, time.Hour)
	m.put(a.Hash(), a)
	m.put(b.Hash(), b)

	if m.len() != 2 || m.size != 10 {
		t.Fatalf("len/size = %d/%d, want 2/10", m.len(), m.size)
	}

	// replacing adjusts the size instead of adding to it
	a2 := newEntry("a", TypeBuild, json.RawMessage(`1`), now, time.Hour)
	m.put(a2.Hash(), a2)
	if m.len() != 2 || m.size != 5 {
		t.Errorf("after replace len/size = %d/%d, want 2/5", m.len(), m.size)
	}

	if got, ok := m.get(a.Hash()); !ok || got != a2 {
		t.Error("get should return the replacement")
	}

	if _, ok := m.remove("missing"); ok {
		t.Error("removing a missing hash should report false")
	}
	if e, ok := m.remove(b.Hash()); !ok || e != b {
		t.Error("remove should return the removed entry")
	}
	if m.size != 1 {
		t.Errorf("size after remove = %d, want 1", m.size)
	}

	m.clear()
	if m.len() != 0 || m.size != 0 {
		t.Errorf("after clear len/size = %d/%d", m.len(), m.size)
	}
}

func TestMemoryTier_RemoveTypes(t *testing.T) {
	now := time.Now()
	m := newMemoryTier()
	for _, e := range []*Entry{
		newEntry("a", TypeBuild, json.RawMessage(`1`), now, time.Hour),
		newEntry("b", TypeBuild, json.RawMessage(`2`), now, time.Hour),
		newEntry("c", TypeDeps, json.RawMessage(`3`), now, time.Hour),
		newEntry("d", TypeTemp, json.RawMessage(`4`), now, time.Hour),
	} {
		m.put(e.Hash(), e)
	}

	n := m.removeTypes(map[Type]bool{TypeBuild: true, TypeTemp: true})
	if n != 3 {
		t.Errorf("removeTypes removed %d, want 3", n)
	}
	if m.len() != 1 || m.size != 1 {
		t.Errorf("len/size = %d/%d, want 1/1", m.len(), m.size)
	}
}
