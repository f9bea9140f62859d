package state

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/arhiv/pkg/arherr"
	arhcrypto "github.com/cuemby/arhiv/pkg/crypto"
	"github.com/cuemby/arhiv/pkg/schema"
	"github.com/cuemby/arhiv/pkg/types"
)

// mirrorInfo is the state file's header, analogous to a container's info
// line.
type mirrorInfo struct {
	SchemaName string    `json:"schema_name"`
	WrittenAt  time.Time `json:"written_at"`
}

// mirrorDocument is the on-disk shape of one DocumentHead, flattened into a
// JSON-friendly form (DocumentHead's Go representation is a tagged union
// with unexported invariants we don't want to re-derive from JSON).
type mirrorDocument struct {
	Kind             types.HeadKind    `json:"kind"`
	Committed        *types.Document   `json:"committed,omitempty"`
	ConflictSet      []*types.Document `json:"conflict_set,omitempty"`
	New              *types.Document   `json:"new,omitempty"`
	Original         *types.Document   `json:"original,omitempty"`
	Updated          *types.Document   `json:"updated,omitempty"`
	ResolvedOriginal []*types.Document `json:"resolved_original,omitempty"`
	ResolvedUpdated  *types.Document   `json:"resolved_updated,omitempty"`
}

func toMirrorDocument(h *types.DocumentHead) mirrorDocument {
	return mirrorDocument{
		Kind: h.Kind, Committed: h.Committed, ConflictSet: h.ConflictSet, New: h.New,
		Original: h.Original, Updated: h.Updated,
		ResolvedOriginal: h.ResolvedOriginal, ResolvedUpdated: h.ResolvedUpdated,
	}
}

func (m mirrorDocument) toHead() *types.DocumentHead {
	return &types.DocumentHead{
		Kind: m.Kind, Committed: m.Committed, ConflictSet: m.ConflictSet, New: m.New,
		Original: m.Original, Updated: m.Updated,
		ResolvedOriginal: m.ResolvedOriginal, ResolvedUpdated: m.ResolvedUpdated,
	}
}

type mirrorLock struct {
	ID       string    `json:"id"`
	Key      string    `json:"key"`
	Reason   string    `json:"reason"`
	IssuedAt time.Time `json:"issued_at"`
}

type mirrorKV struct {
	Namespace string      `json:"namespace"`
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
}

// mirrorFile is the full JSON document inside state.gz.age, per
// SPEC_FULL.md/spec.md §6: `{info, documents, refs, kvs, locks}`. refs and
// the search index are not round-tripped through the state file itself —
// they are re-derived by syncRefsForHead from documents on load, keeping a
// single source of truth for what the invariant "refs exist for every held
// snapshot" must hold against.
type mirrorFile struct {
	Info      mirrorInfo                `json:"info"`
	Documents map[string]mirrorDocument `json:"documents"`
	KVs       []mirrorKV                `json:"kvs"`
	Locks     []mirrorLock              `json:"locks"`
}

// Snapshot serializes the current state into the mirror format.
func (s *State) snapshot(schemaName string) mirrorFile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := mirrorFile{
		Info:      mirrorInfo{SchemaName: schemaName, WrittenAt: time.Now().UTC()},
		Documents: make(map[string]mirrorDocument, len(s.documents)),
	}
	for id, head := range s.documents {
		out.Documents[id] = toMirrorDocument(head)
	}
	for id, entry := range s.locks {
		out.Locks = append(out.Locks, mirrorLock{ID: id, Key: entry.Key, Reason: entry.Reason, IssuedAt: entry.IssuedAt})
	}
	for k, v := range s.kvs {
		out.KVs = append(out.KVs, mirrorKV{Namespace: k.Namespace, Key: k.Key, Value: v})
	}
	return out
}

// WriteMirror encrypts and writes the current state to path atomically
// (write to a temp file in the same directory, then rename), per spec.md
// §4.5/§4.9. Callers must hold the file lock for the duration of this call.
func (s *State) WriteMirror(path string, key []byte, schemaName string) error {
	snap := s.snapshot(schemaName)
	plain, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal state mirror: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	sw, err := arhcrypto.NewWriter(tmp, key)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("init state encryption: %w", err)
	}
	gz := gzip.NewWriter(sw)
	if _, err := gz.Write(plain); err != nil {
		tmp.Close()
		return fmt.Errorf("write gzip state: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalize gzip state: %w", err)
	}
	if err := sw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalize encrypted state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp state file into place: %w", err)
	}
	s.ClearModified()
	return nil
}

// ReadMirror decrypts and loads a state file written by WriteMirror,
// replacing the receiver's documents, locks, and KV store, then
// re-deriving refs and the search index from the loaded documents.
func ReadMirror(path string, key []byte, s schema.DataSchema) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	sr, err := arhcrypto.NewReader(f, key)
	if err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "open encrypted state file")
	}
	gz, err := gzip.NewReader(sr)
	if err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "open gzip state stream")
	}
	defer gz.Close()

	plain, err := io.ReadAll(gz)
	if err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "read state stream")
	}

	var mirror mirrorFile
	if err := json.Unmarshal(plain, &mirror); err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "decode state JSON")
	}

	out := New(s)
	for id, md := range mirror.Documents {
		out.documents[id] = md.toHead()
	}
	for _, l := range mirror.Locks {
		out.locks[l.ID] = lockEntry{Key: l.Key, Reason: l.Reason, IssuedAt: l.IssuedAt}
	}
	for _, kv := range mirror.KVs {
		out.kvs[kvKey{kv.Namespace, kv.Key}] = kv.Value
	}
	for id := range out.documents {
		out.syncRefsForHead(id)
	}
	return out, nil
}

// StaleAgainst reports whether the state file at path has been modified
// (by mtime) since lastKnown, meaning a read transaction must reload before
// serving, per spec.md §4.5.
func StaleAgainst(path string, lastKnown time.Time) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat state file: %w", err)
	}
	return info.ModTime().After(lastKnown), nil
}
