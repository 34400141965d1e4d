package controller

import (
	"sync"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// Schemas holds the $jsonSchema validator of each collection.
type Schemas struct {
	mu      sync.RWMutex
	schemas map[domain.Namespace]any
}

// NewSchemas returns an empty [Schemas].
func NewSchemas() *Schemas {
	return &Schemas{schemas: make(map[domain.Namespace]any)}
}

// Get returns the schema of ns.
func (s *Schemas) Get(ns domain.Namespace) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[ns]
	return schema, ok
}

// Set replaces the schema of ns. A nil schema removes it.
func (s *Schemas) Set(ns domain.Namespace, schema any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schema == nil {
		delete(s.schemas, ns)
		return
	}
	s.schemas[ns] = schema
}

// Delete removes the schema of ns, or of every collection in the database if
// ns has no collection.
func (s *Schemas) Delete(ns domain.Namespace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ns.IsDatabase() {
		delete(s.schemas, ns)
		return
	}
	for k := range s.schemas {
		if k.DB == ns.DB {
			delete(s.schemas, k)
		}
	}
}
