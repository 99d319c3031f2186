package services

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDocumentService is the in-process DocumentService used when no remote
// store URL is configured (dev mode) and by the test suites. Writes notify
// subscribers synchronously.
type MemoryDocumentService struct {
	mu     sync.RWMutex
	data   map[string]map[string]Document // collection → id → fields
	subs   map[string]map[int]func(Document)
	nextID int
}

func NewMemoryDocumentService() *MemoryDocumentService {
	return &MemoryDocumentService{
		data: make(map[string]map[string]Document),
		subs: make(map[string]map[int]func(Document)),
	}
}

func subKey(collection, id string) string { return collection + "/" + id }

func (m *MemoryDocumentService) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.data[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrDocNotFound)
	}
	return doc.Clone(), nil
}

func (m *MemoryDocumentService) List(_ context.Context, collection string) ([]DocumentSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DocumentSnapshot
	for id, doc := range m.data[collection] {
		out = append(out, DocumentSnapshot{ID: id, Data: doc.Clone()})
	}
	return out, nil
}

func (m *MemoryDocumentService) Query(_ context.Context, collection, field string, op QueryOp, value interface{}) ([]DocumentSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DocumentSnapshot
	for id, doc := range m.data[collection] {
		if matchField(doc, field, op, value) {
			out = append(out, DocumentSnapshot{ID: id, Data: doc.Clone()})
		}
	}
	return out, nil
}

func matchField(doc Document, field string, op QueryOp, value interface{}) bool {
	switch op {
	case OpEqual:
		return doc[field] == value
	case OpArrayContains:
		want, _ := value.(string)
		for _, s := range doc.StringSlice(field) {
			if s == want {
				return true
			}
		}
	}
	return false
}

func (m *MemoryDocumentService) Set(_ context.Context, collection, id string, fields Document, merge bool) error {
	m.mu.Lock()
	col, ok := m.data[collection]
	if !ok {
		col = make(map[string]Document)
		m.data[collection] = col
	}
	doc, exists := col[id]
	if !merge || !exists {
		doc = make(Document, len(fields))
	}
	for k, v := range fields {
		doc[k] = v
	}
	col[id] = doc
	snapshot := doc.Clone()
	subs := m.subscribersLocked(collection, id)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return nil
}

func (m *MemoryDocumentService) Update(ctx context.Context, collection, id string, fields Document) error {
	m.mu.RLock()
	_, exists := m.data[collection][id]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocNotFound)
	}
	return m.Set(ctx, collection, id, fields, true)
}

func (m *MemoryDocumentService) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	delete(m.data[collection], id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryDocumentService) Subscribe(collection, id string, onChange func(Document)) (func(), error) {
	m.mu.Lock()
	key := subKey(collection, id)
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]func(Document))
	}
	m.nextID++
	token := m.nextID
	m.subs[key][token] = onChange
	doc, exists := m.data[collection][id]
	var snapshot Document
	if exists {
		snapshot = doc.Clone()
	}
	m.mu.Unlock()

	// Initial delivery mirrors the remote store's snapshot-on-subscribe.
	if exists {
		onChange(snapshot)
	}

	return func() {
		m.mu.Lock()
		delete(m.subs[key], token)
		m.mu.Unlock()
	}, nil
}

func (m *MemoryDocumentService) subscribersLocked(collection, id string) []func(Document) {
	var out []func(Document)
	for _, fn := range m.subs[subKey(collection, id)] {
		out = append(out, fn)
	}
	return out
}
