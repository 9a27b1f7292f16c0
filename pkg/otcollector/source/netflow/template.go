package netflow

import "sync"

// TemplateField is one (type, length) pair of a v9 template.
type TemplateField struct {
	Type   uint16
	Length uint16
}

// Template is a parsed v9 template flowset entry.
type Template struct {
	ID     uint16
	Fields []TemplateField
}

// RecordSize is the fixed byte width of one data record under this template.
func (t Template) RecordSize() int {
	n := 0
	for _, f := range t.Fields {
		n += int(f.Length)
	}
	return n
}

type templateKey struct {
	exporter string
	id       uint16
}

// TemplateCache stores v9 templates keyed by (exporter address, template id)
// so that two exporters reusing the same id never collide. Templates are
// written by template flowsets and read by data flowsets; a later template
// with the same key replaces the earlier one.
type TemplateCache struct {
	mu        sync.RWMutex
	templates map[templateKey]Template
}

// NewTemplateCache creates an empty cache.
func NewTemplateCache() *TemplateCache {
	return &TemplateCache{templates: make(map[templateKey]Template)}
}

// Put stores or replaces a template for one exporter.
func (c *TemplateCache) Put(exporter string, t Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[templateKey{exporter: exporter, id: t.ID}] = t
}

// Get looks up a template for one exporter.
func (c *TemplateCache) Get(exporter string, id uint16) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[templateKey{exporter: exporter, id: id}]
	return t, ok
}

// Len reports the number of cached templates.
func (c *TemplateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}
