package cas

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/zeebo/blake3"
)

// MemoryStore is an in-memory CAS keyed by blake3 digest of {refs,data}.
// It never evicts and does not persist across process restarts; it
// exists for tests and for the enginedemo command, standing in for
// whatever primitive CAS a real deployment plugs in.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[DataID]Object
}

// NewMemoryStore returns an empty in-memory CAS.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[DataID]Object)}
}

func (s *MemoryStore) Put(_ context.Context, obj Object) (DataID, error) {
	id := digest(obj)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = obj
	return id, nil
}

func (s *MemoryStore) Get(_ context.Context, id DataID) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return Object{}, ErrNotFound
	}
	return obj, nil
}

// Len reports the number of distinct objects currently stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func digest(obj Object) DataID {
	h := blake3.New()
	for _, ref := range obj.Refs {
		h.Write([]byte(ref))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	h.Write(obj.Data)
	return DataID(hex.EncodeToString(h.Sum(nil)))
}
