// Package inmemory is the default, non-durable Store backend: a
// mutex-guarded map standing in for a real database.
package inmemory

import (
	"sync"

	"github.com/bpmnworks/engine/pkg/storage"
)

type Store struct {
	mu   sync.RWMutex
	docs map[string]storage.Document
}

func New() *Store {
	return &Store{docs: map[string]storage.Document{}}
}

func key(processName, processId string) string {
	return processName + "::" + processId
}

func (s *Store) Load(processName, processId string) (*storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key(processName, processId)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &doc, nil
}

func (s *Store) LoadAll(processName string) ([]storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Document
	for _, doc := range s.docs {
		if doc.ProcessName == processName {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *Store) Persist(doc storage.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key(doc.ProcessName, doc.ProcessId)] = doc
	return nil
}

func (s *Store) Close() error { return nil }
