package metadata

import (
	"context"
	"sync"

	"github.com/docforge/docforge/internal/faults"
)

// MemoryStore is an in-memory Store. It backs tests and single-process
// deployments that do not need durability; the sqlite store is the default
// wiring.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*TemplateMetadata
	documents map[string]*DocumentMetadata

	// Serializes read-modify-write per document.
	docLocks sync.Map // docID -> *sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]*TemplateMetadata),
		documents: make(map[string]*DocumentMetadata),
	}
}

func (s *MemoryStore) GetTemplate(_ context.Context, slug string) (*TemplateMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[slug]
	if !ok {
		return nil, faults.Newf(faults.ErrNotFound, "template %s not found", slug)
	}
	return cloneTemplate(t), nil
}

func (s *MemoryStore) PutTemplate(_ context.Context, t *TemplateMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.Slug] = cloneTemplate(t)
	return nil
}

func (s *MemoryStore) ListTemplates(_ context.Context) ([]*TemplateMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*TemplateMetadata, 0, len(s.templates))
	for _, t := range s.templates {
		ret = append(ret, cloneTemplate(t))
	}
	return ret, nil
}

func (s *MemoryStore) DeleteTemplate(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.templates, slug)
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*DocumentMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return nil, faults.Newf(faults.ErrNotFound, "document %s not found", id)
	}
	return cloneDocument(d), nil
}

func (s *MemoryStore) PutDocument(_ context.Context, d *DocumentMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[d.ID] = cloneDocument(d)
	return nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, customerID string) ([]*DocumentMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*DocumentMetadata, 0, len(s.documents))
	for _, d := range s.documents {
		if customerID != "" && d.CustomerID != customerID {
			continue
		}
		ret = append(ret, cloneDocument(d))
	}
	return ret, nil
}

func (s *MemoryStore) UpdateRelevance(_ context.Context, docID string, fn func(existing []RelevanceEntry) []RelevanceEntry) error {
	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	d, ok := s.documents[docID]
	var existing []RelevanceEntry
	if ok {
		existing = append([]RelevanceEntry(nil), d.TemplateRelevance...)
	}
	s.mu.RUnlock()
	if !ok {
		return faults.Newf(faults.ErrNotFound, "document %s not found", docID)
	}

	merged := fn(existing)

	s.mu.Lock()
	if d, ok := s.documents[docID]; ok {
		d.TemplateRelevance = merged
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) docLock(docID string) *sync.Mutex {
	actual, _ := s.docLocks.LoadOrStore(docID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func cloneTemplate(t *TemplateMetadata) *TemplateMetadata {
	if t == nil {
		return nil
	}
	tmp := *t
	tmp.RequiredData = append([]string(nil), t.RequiredData...)
	tmp.ExpectedEntities = append([]string(nil), t.ExpectedEntities...)
	return &tmp
}

func cloneDocument(d *DocumentMetadata) *DocumentMetadata {
	if d == nil {
		return nil
	}
	tmp := *d
	tmp.Topics = append([]string(nil), d.Topics...)
	tmp.DataCategories = append([]string(nil), d.DataCategories...)
	tmp.TemplateRelevance = append([]RelevanceEntry(nil), d.TemplateRelevance...)
	return &tmp
}
