package baza

import (
	"fmt"
	"time"

	"github.com/cuemby/arhiv/pkg/arherr"
	"github.com/cuemby/arhiv/pkg/events"
	"github.com/cuemby/arhiv/pkg/schema"
	"github.com/cuemby/arhiv/pkg/types"
)

// Transaction is a read-write view over a Baza's state. It holds the
// advisory file lock for its entire lifetime; Commit and Rollback release
// it. A write that changes observable state flushes the encrypted
// mirror before the lock is released (spec.md §4.9).
type Transaction struct {
	b      *Baza
	closed bool
}

// Begin acquires the file lock and returns a Transaction. The caller must
// call Commit or Rollback exactly once.
func (b *Baza) Begin() (*Transaction, error) {
	if err := b.lock(); err != nil {
		return nil, err
	}
	return &Transaction{b: b}, nil
}

func (t *Transaction) validationContext() schema.ValidationContext {
	return schema.ValidationContext{
		DocumentExists: func(id string) (string, bool) {
			head := t.b.State.Head(id)
			if head == nil {
				return "", false
			}
			doc := head.Representative()
			if doc == nil {
				return "", false
			}
			return doc.DocumentType, true
		},
		BlobKnown: func(id string) bool {
			return t.b.Blobs.Exists(id)
		},
	}
}

// StageNew validates and stages a brand-new document. It does not commit:
// the id has no revision until Commit runs.
func (t *Transaction) StageNew(doc *types.Document) error {
	if t.closed {
		return arherr.New(arherr.KindValidation, "transaction already closed")
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := t.b.Schema.Validate(doc, nil, t.validationContext()); err != nil {
		return err
	}
	return t.b.State.StageNew(doc.ID, doc)
}

// StageUpdate validates and stages an edit over id's current head.
func (t *Transaction) StageUpdate(id string, updated *types.Document) error {
	if t.closed {
		return arherr.New(arherr.KindValidation, "transaction already closed")
	}
	head := t.b.State.Head(id)
	if head == nil {
		return arherr.New(arherr.KindNotFound, "document %s not found", id)
	}
	previous := head.Representative()
	updated.ID = id
	updated.DocumentType = previous.DocumentType
	updated.UpdatedAt = previous.UpdatedAt
	if err := t.b.Schema.Validate(updated, previous, t.validationContext()); err != nil {
		return err
	}
	return t.b.State.StageUpdate(id, updated)
}

// Erase stages the reserved tombstone type over id, bypassing ordinary
// field validation (spec.md §4.4: erasure goes through this path, not
// Validate). Per the chosen Open Question answer, an erased id can never
// be reused by StageNew again.
func (t *Transaction) Erase(id string) error {
	if t.closed {
		return arherr.New(arherr.KindValidation, "transaction already closed")
	}
	head := t.b.State.Head(id)
	if head == nil {
		return arherr.New(arherr.KindNotFound, "document %s not found", id)
	}
	tombstone := &types.Document{
		ID:           id,
		DocumentType: types.ErasedType,
		UpdatedAt:    time.Now().UTC(),
	}
	return t.b.State.StageUpdate(id, tombstone)
}

// Discard drops id's staged edit without committing.
func (t *Transaction) Discard(id string) {
	t.b.State.Discard(id)
}

// Commit finalizes the staged edits of ids: assigns revisions, promotes
// newly-referenced BLOBs from staged to committed, deletes staged BLOBs that
// no remaining staged edit references, appends a new storage
// container, rewrites the encrypted state mirror, then releases the lock
// and publishes DocumentsChanged. An I/O failure mid-commit releases the
// lock without advancing the state file, so the next open reverts to disk
// (spec.md §4.9 failure semantics).
func (t *Transaction) Commit(ids []string) ([]*types.Document, error) {
	if t.closed {
		return nil, arherr.New(arherr.KindValidation, "transaction already closed")
	}
	defer t.close()

	committed := make([]*types.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := t.b.State.Commit(id, t.b.InstanceID)
		if err != nil {
			return nil, err
		}
		committed = append(committed, doc)
	}
	if len(committed) == 0 {
		return nil, nil
	}

	referenced := map[string]struct{}{}
	for _, doc := range committed {
		for hash := range t.b.Schema.ExtractRefs(doc).Blobs {
			referenced[hash] = struct{}{}
		}
	}
	staged := make([]string, 0, len(referenced))
	for hash := range referenced {
		staged = append(staged, hash)
	}
	if err := t.b.Blobs.PromoteToStorage(staged); err != nil {
		return nil, fmt.Errorf("promote committed blobs: %w", err)
	}
	if err := t.b.Blobs.SweepStagedOrphans(t.b.referencedStagedBlobs()); err != nil {
		return nil, fmt.Errorf("sweep unreferenced staged blobs: %w", err)
	}

	if err := t.b.appendContainer(committed); err != nil {
		return nil, fmt.Errorf("append storage container: %w", err)
	}
	if err := t.b.State.WriteMirror(t.b.Layout.StateFile(), t.b.Key, t.b.Schema.Name); err != nil {
		return nil, fmt.Errorf("write state mirror: %w", err)
	}

	t.b.Events.Publish(&events.Event{Type: events.EventDocumentsChanged})
	return committed, nil
}

// Rollback discards every staged edit in state without committing anything,
// then releases the lock. It does nothing more after Commit or an earlier
// Rollback.
func (t *Transaction) Rollback() {
	if !t.closed {
		for _, id := range t.b.State.AllIDs() {
			if head := t.b.State.Head(id); head != nil && head.Staged() != nil {
				t.b.State.Discard(id)
			}
		}
	}
	t.close()
}

func (t *Transaction) close() {
	if t.closed {
		return
	}
	t.closed = true
	t.b.unlock()
}
