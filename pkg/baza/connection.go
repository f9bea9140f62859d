package baza

import (
	"github.com/cuemby/arhiv/pkg/arherr"
	"github.com/cuemby/arhiv/pkg/types"
)

// Connection is a read-only view over a Baza's current state. Unlike
// Transaction, opening one never touches the advisory file lock: any number
// of connections can coexist with each other and with a single in-flight
// transaction (spec.md §4.9, "exposes read-only connections").
type Connection struct {
	b *Baza
}

// Connect returns a new read-only Connection.
func (b *Baza) Connect() *Connection {
	return &Connection{b: b}
}

// GetDocument returns the representative snapshot for id: the committed
// document, the staged edit if one is pending, or the first member of a
// conflict set. Callers that need to see every concurrent branch of a
// conflict should use Head instead.
func (c *Connection) GetDocument(id string) (*types.Document, error) {
	head := c.b.State.Head(id)
	if head == nil {
		return nil, arherr.New(arherr.KindNotFound, "document %s not found", id)
	}
	doc := head.Representative()
	if doc == nil {
		return nil, arherr.New(arherr.KindNotFound, "document %s not found", id)
	}
	return doc, nil
}

// Head returns the raw DocumentHead for id, exposing conflict sets and
// staged edits that GetDocument collapses away.
func (c *Connection) Head(id string) *types.DocumentHead {
	return c.b.State.Head(id)
}

// ListDocuments returns every known document id.
func (c *Connection) ListDocuments() []string {
	return c.b.State.AllIDs()
}

// Search ranks document ids against query using the in-memory search index.
func (c *Connection) Search(query string) []string {
	return c.b.State.Search(query)
}

// Backrefs returns every document id that references target.
func (c *Connection) Backrefs(target string) []string {
	return c.b.State.FindBackrefs(target)
}

// Collections returns every document id that lists target as a collection member.
func (c *Connection) Collections(target string) []string {
	return c.b.State.FindCollections(target)
}

// RenderTitle renders doc's display title per its schema's title template.
func (c *Connection) RenderTitle(doc *types.Document) string {
	return c.b.Schema.RenderTitle(doc)
}
