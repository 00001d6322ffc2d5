package types

import (
	"encoding/json"
	"time"
)

// Item is scraped output: a user-facing Data map and a crawler-owned
// Metadata map (depth, timestamp, source URL, spider name). Both are mutable
// in place — downstream item pipelines (out of scope here, see spec.md §1)
// are expected to transform them.
type Item struct {
	Data     map[string]any
	Metadata map[string]any
}

// NewItem creates an Item sourced from sourceURL, stamping Metadata with the
// source URL, spider name, depth, and creation timestamp.
func NewItem(sourceURL, spiderName string, depth int) *Item {
	return &Item{
		Data: make(map[string]any),
		Metadata: map[string]any{
			"url":       sourceURL,
			"spider":    spiderName,
			"depth":     depth,
			"timestamp": time.Now(),
		},
	}
}

// Set sets a data field.
func (i *Item) Set(key string, value any) { i.Data[key] = value }

// Get retrieves a data field.
func (i *Item) Get(key string) (any, bool) {
	v, ok := i.Data[key]
	return v, ok
}

// GetString retrieves a data field as a string, returning "" if absent or
// not a string.
func (i *Item) GetString(key string) string {
	s, _ := i.Data[key].(string)
	return s
}

// Has reports whether a data field is set.
func (i *Item) Has(key string) bool {
	_, ok := i.Data[key]
	return ok
}

// Delete removes a data field.
func (i *Item) Delete(key string) { delete(i.Data, key) }

// Keys returns all data field names.
func (i *Item) Keys() []string {
	keys := make([]string, 0, len(i.Data))
	for k := range i.Data {
		keys = append(keys, k)
	}
	return keys
}

// URL returns the item's source URL from Metadata, if present.
func (i *Item) URL() string {
	s, _ := i.Metadata["url"].(string)
	return s
}

// ToJSON serializes data and metadata together.
func (i *Item) ToJSON() ([]byte, error) {
	return json.Marshal(struct {
		Data     map[string]any `json:"data"`
		Metadata map[string]any `json:"metadata"`
	}{Data: i.Data, Metadata: i.Metadata})
}

// Clone creates a shallow copy of both maps.
func (i *Item) Clone() *Item {
	clone := &Item{
		Data:     make(map[string]any, len(i.Data)),
		Metadata: make(map[string]any, len(i.Metadata)),
	}
	for k, v := range i.Data {
		clone.Data[k] = v
	}
	for k, v := range i.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}
