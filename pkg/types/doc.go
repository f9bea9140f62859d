/*
Package types defines the core data structures shared across Arhiv's storage
engine: documents, their revision history, and the derived reference graph.
The schema that governs them lives in package schema.

# Architecture

Every user-visible object in Arhiv is a Document: an immutable, versioned
snapshot sharing an id with every other snapshot of the same logical
document. A DocumentHead is what one replica currently knows about one id:

	┌─────────────────────── DOCUMENT HEAD ──────────────────────────┐
	│                                                                  │
	│  Committed(doc)                — one snapshot, nothing pending  │
	│  Conflict({doc, doc, ...})      — concurrent commits, unresolved│
	│  NewDocument(doc)               — staged, never committed       │
	│  Updated{original, updated}     — staged edit over a commit     │
	│  ResolvedConflict{orig..., upd} — staged resolution of Conflict │
	│                                                                  │
	└──────────────────────────────────────────────────────────────────┘

Revisions (package revision) are vector clocks, not timestamps: two
snapshots of the same id are only ever known to be "before", "after", or
"concurrent" one another, never assumed totally ordered.

# Core Types

  - Document: an immutable snapshot (id, rev, document_type, subtype,
    updated_at, data).
  - DocumentHead: the sum type above.
  - Refs: the documents/collection/blobs sets derived from one snapshot.
  - KVEntry: a namespaced settings value.
  - DocumentLock: proof of write intent held by a UI session.

# Integration Points

  - pkg/schema validates Documents and extracts Refs against a DataSchema.
  - pkg/state holds the authoritative map of id to DocumentHead.
  - pkg/revision implements the vector-clock algebra over Revision.
  - pkg/container serializes committed Documents to the on-disk format.
  - pkg/blob is keyed by the BlobID values referenced from Refs.Blobs.
*/
package types
