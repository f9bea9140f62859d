/*
Package state implements Arhiv's in-memory working set (spec.md §4.5): the
current head for every document id, the derived reference graph, the
full-text index, per-device document locks, and the KV settings store. It
is the single place that keeps `documents`, `refs`, and the search index
mutually consistent as snapshots are staged, committed, erased, or merged
in from a peer.

State itself does not touch disk; pkg/baza owns the file lock and drives
Mirror (in mirror.go) to persist it, and pkg/state/cache.go's bbolt
accelerator is an optional, always-rebuildable speedup layered on top.
*/
package state

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/arhiv/pkg/arherr"
	"github.com/cuemby/arhiv/pkg/metrics"
	"github.com/cuemby/arhiv/pkg/revision"
	"github.com/cuemby/arhiv/pkg/schema"
	"github.com/cuemby/arhiv/pkg/types"
)

type refsEntry struct {
	Key  types.DocumentKey
	Refs types.Refs
}

type lockEntry struct {
	Key      string
	Reason   string
	IssuedAt time.Time
}

type kvKey struct {
	Namespace string
	Key       string
}

// State is the authoritative working set of one replica. All exported
// methods are safe for concurrent use: many readers may run at once, but
// mutations are serialized by the embedded lock, matching the
// many-readers/one-writer policy of spec.md §5.
type State struct {
	mu sync.RWMutex

	schema schema.DataSchema

	documents map[string]*types.DocumentHead
	refs      map[string]refsEntry // keyed by DocumentKey.String()
	search    *searchIndex
	locks     map[string]lockEntry
	kvs       map[kvKey]interface{}

	modified bool
}

// New returns an empty State bound to schema s.
func New(s schema.DataSchema) *State {
	return &State{
		schema:    s,
		documents: make(map[string]*types.DocumentHead),
		refs:      make(map[string]refsEntry),
		search:    newSearchIndex(),
		locks:     make(map[string]lockEntry),
		kvs:       make(map[kvKey]interface{}),
	}
}

// Modified reports whether this State differs from its last mirrored write.
func (s *State) Modified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modified
}

// ClearModified is called by the mirroring layer once a write has landed.
func (s *State) ClearModified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified = false
}

// Head returns the current DocumentHead for id, or nil if unknown.
func (s *State) Head(id string) *types.DocumentHead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documents[id]
}

// AllIDs returns every known document id, unordered.
func (s *State) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.documents))
	for id := range s.documents {
		out = append(out, id)
	}
	return out
}

// StageNew stages a brand new, never-committed document under id.
func (s *State) StageNew(id string, doc *types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[id]; exists {
		return arherr.New(arherr.KindValidation, "document %s already exists", id)
	}
	s.documents[id] = types.NewStagedDocument(doc)
	s.modified = true
	return nil
}

// StageUpdate stages an edit over id's current committed (or conflicted)
// head.
func (s *State) StageUpdate(id string, updated *types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.documents[id]
	if !ok {
		return arherr.New(arherr.KindNotFound, "document %s not found", id)
	}
	switch head.Kind {
	case types.HeadCommitted:
		s.documents[id] = types.NewStagedUpdate(head.Committed, updated)
	case types.HeadConflict:
		s.documents[id] = types.NewStagedResolution(head.ConflictSet, updated)
	case types.HeadUpdated:
		s.documents[id] = types.NewStagedUpdate(head.Original, updated)
	case types.HeadResolvedConflict:
		s.documents[id] = types.NewStagedResolution(head.ResolvedOriginal, updated)
	default:
		return arherr.New(arherr.KindValidation, "document %s has no committed snapshot to update", id)
	}
	s.modified = true
	return nil
}

// Discard drops any staged edit for id, reverting to its last committed
// head (or removing it entirely if it was never committed).
func (s *State) Discard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.documents[id]
	if !ok {
		return
	}
	switch head.Kind {
	case types.HeadNewDocument:
		delete(s.documents, id)
	case types.HeadUpdated:
		s.documents[id] = types.NewCommittedHead(head.Original)
	case types.HeadResolvedConflict:
		s.documents[id] = types.NewConflictHead(head.ResolvedOriginal)
	}
	s.modified = true
}

// Commit assigns the next revision to id's staged edit and makes it the new
// committed head, returning the committed Document. The new revision is
// computed from every committed snapshot the staged edit was based on (one
// for Updated, all members for ResolvedConflict, none for NewDocument).
func (s *State) Commit(id, instanceID string) (*types.Document, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CommitDuration)

	s.mu.Lock()
	defer s.mu.Unlock()

	head, ok := s.documents[id]
	if !ok || !head.IsStaged() {
		metrics.CommitsTotal.WithLabelValues("validation_error").Inc()
		return nil, arherr.New(arherr.KindValidation, "document %s has no staged edit to commit", id)
	}

	var known []revision.Revision
	for _, d := range head.CommittedSnapshots() {
		if d != nil {
			known = append(known, d.Rev)
		}
	}

	staged := head.Staged()
	committed := staged.Clone()
	committed.Rev = revision.NextRev(known, instanceID)
	committed.UpdatedAt = time.Now().UTC()

	s.documents[id] = types.NewCommittedHead(committed)
	s.syncRefsForHead(id)
	s.modified = true
	metrics.CommitsTotal.WithLabelValues("ok").Inc()
	return committed, nil
}

// syncRefsForHead recomputes refs and the search index for every snapshot
// currently held under id's head, per the invariant that refs exist for
// every snapshot documents holds. Called with mu already held.
func (s *State) syncRefsForHead(id string) {
	for key := range s.refs {
		if s.refs[key].Key.ID == id {
			delete(s.refs, key)
		}
	}
	s.search.remove(id)

	head := s.documents[id]
	if head == nil {
		return
	}
	for _, doc := range head.CommittedSnapshots() {
		if doc == nil {
			continue
		}
		key := types.DocumentKey{ID: doc.ID, Rev: doc.Rev}
		refs := s.schema.ExtractRefs(doc)
		s.refs[key.String()] = refsEntry{Key: key, Refs: refs}
	}
	if rep := head.Representative(); rep != nil && !rep.IsErased() {
		s.search.index(rep, s.schema)
	}
}

// GetDocumentRefs returns the Refs derived from id's current representative
// committed snapshot.
func (s *State) GetDocumentRefs(id string) (types.Refs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	head := s.documents[id]
	if head == nil {
		return types.Refs{}, false
	}
	rep := head.Representative()
	if rep == nil {
		return types.Refs{}, false
	}
	entry, ok := s.refs[(types.DocumentKey{ID: rep.ID, Rev: rep.Rev}).String()]
	if !ok {
		return types.Refs{}, false
	}
	return entry.Refs, true
}

// FindBackrefs returns every id whose refs.Documents set contains target.
func (s *State) FindBackrefs(target string) []string {
	return s.scanRefs(target, func(r types.Refs) map[string]struct{} { return r.Documents })
}

// FindCollections returns every id whose refs.Collection set contains
// target.
func (s *State) FindCollections(target string) []string {
	return s.scanRefs(target, func(r types.Refs) map[string]struct{} { return r.Collection })
}

func (s *State) scanRefs(target string, set func(types.Refs) map[string]struct{}) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, entry := range s.refs {
		if _, ok := set(entry.Refs)[target]; ok {
			seen[entry.Key.ID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Search runs a full-text query over the current representative documents,
// returning ids ranked by descending relevance. An empty/whitespace query
// returns every id in modification-time order, newest first.
func (s *State) Search(query string) []string {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SearchDuration)
	metrics.SearchQueriesTotal.Inc()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.search.search(query)
}

// AcquireLock grants a write-intent lock on id, returning an opaque key that
// ReleaseLock and CheckLock take for this id. StageUpdate and Commit do not
// check locks or take a key. Locks are
// local to this replica and never cross peers (spec.md §4.5).
func (s *State) AcquireLock(id, reason string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[id]; held {
		return "", arherr.New(arherr.KindLocked, "document %s is already locked", id)
	}
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("generate lock key: %w", err)
	}
	key := hex.EncodeToString(keyBytes)
	s.locks[id] = lockEntry{Key: key, Reason: reason, IssuedAt: time.Now().UTC()}
	return key, nil
}

// ReleaseLock releases id's lock if key matches the one issued by
// AcquireLock.
func (s *State) ReleaseLock(id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, held := s.locks[id]
	if !held {
		return nil
	}
	if entry.Key != key {
		return arherr.New(arherr.KindLocked, "lock key does not match for document %s", id)
	}
	delete(s.locks, id)
	return nil
}

// CheckLock verifies key matches the lock held on id, if any is held.
func (s *State) CheckLock(id, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, held := s.locks[id]
	if !held {
		return nil
	}
	if entry.Key != key {
		return arherr.New(arherr.KindLocked, "document %s is locked by another session", id)
	}
	return nil
}

// KVGet reads a value from the KV settings store.
func (s *State) KVGet(namespace, key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kvs[kvKey{namespace, key}]
	return v, ok
}

// KVSet writes a value to the KV settings store.
func (s *State) KVSet(namespace, key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kvs[kvKey{namespace, key}] = value
	s.modified = true
}

// DBRevision returns the pointwise maximum of every committed snapshot's
// revision this replica knows, per spec.md §3.
func (s *State) DBRevision() revision.Revision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	revs := make([]revision.Revision, 0, len(s.documents))
	for _, head := range s.documents {
		for _, doc := range head.CommittedSnapshots() {
			if doc != nil {
				revs = append(revs, doc.Rev)
			}
		}
	}
	return revision.Merge(revs...)
}

// ApplyIncomingSnapshot merges one committed snapshot received from a peer
// into the current head, per spec.md §4.8 step 4. It reports whether
// anything changed.
func (s *State) ApplyIncomingSnapshot(doc *types.Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.ID
	existing := s.documents[id]
	if existing == nil {
		s.documents[id] = types.NewCommittedHead(doc)
		s.syncRefsForHead(id)
		s.modified = true
		return true
	}

	current := existing.CommittedSnapshots()
	for _, d := range current {
		if d != nil && d.Rev.Equal(doc.Rev) {
			return false // already have this exact snapshot
		}
	}

	if doc.IsErased() {
		// Erasure's revision is always produced by next_rev over every
		// revision it observed, so it dominates every pre-erasure snapshot
		// it was staged against; it wins outright and drops history.
		s.documents[id] = types.NewCommittedHead(doc)
		s.syncRefsForHead(id)
		s.modified = true
		return true
	}

	var survivors []*types.Document
	dominated := false
	for _, d := range current {
		if d == nil {
			continue
		}
		switch d.Rev.Compare(doc.Rev) {
		case revision.OrderAfter, revision.OrderEqual:
			// existing dominates incoming: incoming carries nothing new
			dominated = true
			survivors = append(survivors, d)
		case revision.OrderBefore:
			// incoming dominates this existing snapshot: drop it
		default: // concurrent
			survivors = append(survivors, d)
		}
	}
	if dominated && len(survivors) == len(current) {
		return false
	}
	survivors = append(survivors, doc)

	if len(survivors) == 1 {
		s.documents[id] = types.NewCommittedHead(survivors[0])
	} else {
		s.documents[id] = types.NewConflictHead(survivors)
		metrics.ConflictsTotal.Inc()
	}
	s.syncRefsForHead(id)
	s.modified = true
	return true
}
