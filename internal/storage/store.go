package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when no document is stored under an id
var ErrNotFound = errors.New("document not found")

// Stats describes a collection
type Stats struct {
	Documents int `json:"documents"`
	Bytes     int `json:"bytes"`
}

// Collection is an in-memory set of JSON documents of type T keyed by id.
// Documents are stored encoded, so callers never share memory with the
// collection. Safe for concurrent use.
type Collection[T any] struct {
	docs map[string][]byte
	name string
	mu   sync.RWMutex
}

// NewCollection creates an empty collection
func NewCollection[T any](name string) *Collection[T] {
	return &Collection[T]{
		name: name,
		docs: make(map[string][]byte),
	}
}

// Get decodes the document stored under id
func (c *Collection[T]) Get(id string) (T, error) {
	var doc T

	c.mu.RLock()
	raw, ok := c.docs[id]
	c.mu.RUnlock()

	if !ok {
		return doc, fmt.Errorf("%s/%s: %w", c.name, id, ErrNotFound)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("decode %s/%s: %w", c.name, id, err)
	}
	return doc, nil
}

// Put stores doc under id, replacing any previous document
func (c *Collection[T]) Put(id string, doc T) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c.name, id, err)
	}

	c.mu.Lock()
	c.docs[id] = raw
	c.mu.Unlock()
	return nil
}

// Delete removes the document under id. Deleting a missing id is a no-op.
func (c *Collection[T]) Delete(id string) {
	c.mu.Lock()
	delete(c.docs, id)
	c.mu.Unlock()
}

// IDs returns every document id in sorted order
func (c *Collection[T]) IDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// List decodes every document, ordered by id
func (c *Collection[T]) List() ([]T, error) {
	ids := c.IDs()
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		doc, err := c.Get(id)
		if errors.Is(err, ErrNotFound) {
			// deleted between IDs and Get
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// Stats returns the document count and encoded size
func (c *Collection[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, raw := range c.docs {
		total += len(raw)
	}
	return Stats{Documents: len(c.docs), Bytes: total}
}
