package types

import (
	"sort"
	"time"

	"github.com/cuemby/arhiv/pkg/revision"
)

// ErasedType is the reserved document_type that marks a tombstone. Erasure
// is forward-only: once an id has a committed snapshot of this type, it
// replaces the id's head in state and container merges drop every
// pre-erasure snapshot of that id. Container files written before the
// erasure still hold those snapshots on disk.
const ErasedType = "_erased"

// Document is an immutable, versioned snapshot. Mutation never modifies a
// Document in place; it produces a new snapshot sharing Id.
type Document struct {
	ID           string                 `json:"id"`
	Rev          revision.Revision      `json:"rev"`
	DocumentType string                 `json:"document_type"`
	Subtype      string                 `json:"subtype,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Data         map[string]interface{} `json:"data"`
}

// IsErased reports whether this snapshot is the reserved tombstone type.
func (d *Document) IsErased() bool {
	return d != nil && d.DocumentType == ErasedType
}

// Clone returns a deep-enough copy safe to mutate without aliasing the
// original's Data map.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	data := make(map[string]interface{}, len(d.Data))
	for k, v := range d.Data {
		data[k] = v
	}
	return &Document{
		ID:           d.ID,
		Rev:          d.Rev.Clone(),
		DocumentType: d.DocumentType,
		Subtype:      d.Subtype,
		UpdatedAt:    d.UpdatedAt,
		Data:         data,
	}
}

// DocumentKey identifies one line in a storage container: an id paired with
// the revision of the snapshot stored under it. Its stable string form sorts
// lexically by id then revision so that snapshots of the same document are
// co-located, improving gzip ratios.
type DocumentKey struct {
	ID  string            `json:"id"`
	Rev revision.Revision `json:"rev"`
}

// String renders a DocumentKey in a form stable across runs (sorted
// instance components), suitable as a sort key and as the on-disk line key.
func (k DocumentKey) String() string {
	return k.ID + "@" + k.Rev.String()
}

// HeadKind discriminates the variants of DocumentHead.
type HeadKind int

const (
	HeadCommitted HeadKind = iota
	HeadConflict
	HeadNewDocument
	HeadUpdated
	HeadResolvedConflict
)

// DocumentHead is the sum type described in spec.md §3: everything one
// replica currently knows and has staged about a single document id.
// Exactly one of the fields below is meaningful, selected by Kind; callers
// must switch on Kind rather than checking fields for nil/zero.
type DocumentHead struct {
	Kind HeadKind

	// HeadCommitted
	Committed *Document

	// HeadConflict: two or more committed snapshots with pairwise
	// concurrent revisions.
	ConflictSet []*Document

	// HeadNewDocument: staged, never committed.
	New *Document

	// HeadUpdated: staged edit over a committed snapshot.
	Original *Document
	Updated  *Document

	// HeadResolvedConflict: staged resolution of a prior Conflict.
	ResolvedOriginal []*Document
	ResolvedUpdated  *Document
}

// NewCommittedHead builds a Committed head.
func NewCommittedHead(doc *Document) *DocumentHead {
	return &DocumentHead{Kind: HeadCommitted, Committed: doc}
}

// NewConflictHead builds a Conflict head from at least two snapshots.
func NewConflictHead(docs []*Document) *DocumentHead {
	return &DocumentHead{Kind: HeadConflict, ConflictSet: docs}
}

// NewStagedDocument builds a NewDocument head for a document never
// committed.
func NewStagedDocument(doc *Document) *DocumentHead {
	return &DocumentHead{Kind: HeadNewDocument, New: doc}
}

// NewStagedUpdate builds an Updated head layering a staged edit over a
// committed snapshot.
func NewStagedUpdate(original, updated *Document) *DocumentHead {
	return &DocumentHead{Kind: HeadUpdated, Original: original, Updated: updated}
}

// NewStagedResolution builds a ResolvedConflict head layering a staged
// resolution over a prior Conflict set.
func NewStagedResolution(original []*Document, updated *Document) *DocumentHead {
	return &DocumentHead{Kind: HeadResolvedConflict, ResolvedOriginal: original, ResolvedUpdated: updated}
}

// Representative returns "a" committed snapshot for this head, per the
// invariant that every head yields one unless it is NewDocument. For
// Conflict it returns the first member (callers that care about all members
// must inspect ConflictSet directly); for staged variants it returns the
// snapshot being staged over.
func (h *DocumentHead) Representative() *Document {
	switch h.Kind {
	case HeadCommitted:
		return h.Committed
	case HeadConflict:
		if len(h.ConflictSet) == 0 {
			return nil
		}
		return h.ConflictSet[0]
	case HeadNewDocument:
		return nil
	case HeadUpdated:
		return h.Original
	case HeadResolvedConflict:
		if len(h.ResolvedOriginal) == 0 {
			return nil
		}
		return h.ResolvedOriginal[0]
	}
	return nil
}

// Staged returns the uncommitted snapshot this head carries, or nil if
// nothing is staged.
func (h *DocumentHead) Staged() *Document {
	switch h.Kind {
	case HeadNewDocument:
		return h.New
	case HeadUpdated:
		return h.Updated
	case HeadResolvedConflict:
		return h.ResolvedUpdated
	}
	return nil
}

// IsStaged reports whether this head carries an uncommitted edit.
func (h *DocumentHead) IsStaged() bool {
	return h.Staged() != nil
}

// CommittedSnapshots returns every committed snapshot this head currently
// carries (0, 1, or many for Conflict).
func (h *DocumentHead) CommittedSnapshots() []*Document {
	switch h.Kind {
	case HeadCommitted:
		return []*Document{h.Committed}
	case HeadConflict:
		return h.ConflictSet
	case HeadUpdated:
		return []*Document{h.Original}
	case HeadResolvedConflict:
		return h.ResolvedOriginal
	}
	return nil
}

// Refs is the set of ids and blob hashes derived from a single committed
// snapshot's data, per spec.md §3. It is always re-derived on insertion and
// never treated as canonical-on-disk by itself.
type Refs struct {
	Documents  map[string]struct{} `json:"documents"`
	Collection map[string]struct{} `json:"collection"`
	Blobs      map[string]struct{} `json:"blobs"`
}

// NewRefs returns an empty Refs with initialized maps.
func NewRefs() Refs {
	return Refs{
		Documents:  map[string]struct{}{},
		Collection: map[string]struct{}{},
		Blobs:      map[string]struct{}{},
	}
}

// SortedDocuments returns the Documents set as a sorted slice, for
// deterministic serialization and test assertions.
func (r Refs) SortedDocuments() []string { return sortedKeys(r.Documents) }

// SortedCollection returns the Collection set as a sorted slice.
func (r Refs) SortedCollection() []string { return sortedKeys(r.Collection) }

// SortedBlobs returns the Blobs set as a sorted slice.
func (r Refs) SortedBlobs() []string { return sortedKeys(r.Blobs) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DocumentLock is proof of write intent held by a UI session on one
// document id, per spec.md §4.5. Locks are local to a replica and never
// cross peers.
type DocumentLock struct {
	Key      string    `json:"key"`
	Reason   string    `json:"reason"`
	IssuedAt time.Time `json:"issued_at"`
}

// KVEntry is one value in the KV settings store, namespaced by
// (Namespace, Key). The reserved namespace "_system" holds instance_id,
// data_version, last_sync_time, and server_port.
type KVEntry struct {
	Namespace string      `json:"namespace"`
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
}

// SystemNamespace is the reserved KV namespace for store-internal settings.
const SystemNamespace = "_system"

const (
	KVInstanceID    = "instance_id"
	KVDataVersion   = "data_version"
	KVLastSyncTime  = "last_sync_time"
	KVServerPort    = "server_port"
	KVHashAlgorithm = "hash_algorithm"
)
