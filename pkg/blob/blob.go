/*
Package blob implements Arhiv's content-addressed BLOB store (spec.md §4.7):
binary assets identified by the SHA-256 hash of their plaintext, encrypted
at rest with pkg/crypto, staged under the state dir until a commit promotes
them into the shared storage dir.
*/
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/cuemby/arhiv/pkg/arherr"
	arhcrypto "github.com/cuemby/arhiv/pkg/crypto"
	"github.com/cuemby/arhiv/pkg/metrics"
	"github.com/cuemby/arhiv/pkg/paths"
)

// Store is a content-addressed, encrypted BLOB store spanning a replica's
// state dir (staged, local-only blobs) and storage dir (committed, shared
// blobs).
type Store struct {
	layout paths.Layout
	key    []byte

	hashLocks sync.Map // hash -> *hashLock, one entry per hash currently being written
}

type hashLock struct {
	mu   sync.Mutex
	refs int32
}

// New returns a Store over layout, encrypting/decrypting BLOB contents with
// key (the replica's long-term key).
func New(layout paths.Layout, key []byte) *Store {
	return &Store{layout: layout, key: key}
}

func (s *Store) lockHash(hash string) func() {
	v, _ := s.hashLocks.LoadOrStore(hash, &hashLock{})
	e := v.(*hashLock)
	atomic.AddInt32(&e.refs, 1)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		if atomic.AddInt32(&e.refs, -1) == 0 {
			s.hashLocks.CompareAndDelete(hash, e)
		}
	}
}

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidHash reports whether id is a syntactically valid SHA-256 hex digest.
func ValidHash(id string) bool { return hashPattern.MatchString(id) }

// Add streams r through a SHA-256 hasher while simultaneously
// stream-encrypting into state/data/<hash>.age, and returns the hash. If a
// blob with the same hash already exists (staged or committed), the new
// temp file is discarded and the existing hash is returned (dedup hit).
func (s *Store) Add(r io.Reader) (string, error) {
	tmpDir := filepath.Join(s.layout.StateBlobDir(), ".tmp")
	if err := os.MkdirAll(tmpDir, 0o750); err != nil {
		return "", fmt.Errorf("create blob tmp dir: %w", err)
	}

	tmp, err := os.CreateTemp(tmpDir, ".blob-*")
	if err != nil {
		return "", fmt.Errorf("create blob temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanupTmp := func() { os.Remove(tmpPath) }

	hasher := sha256.New()
	cw, err := arhcrypto.NewWriter(tmp, s.key)
	if err != nil {
		tmp.Close()
		cleanupTmp()
		return "", fmt.Errorf("init blob encryption: %w", err)
	}
	if _, err := io.Copy(cw, io.TeeReader(r, hasher)); err != nil {
		tmp.Close()
		cleanupTmp()
		return "", fmt.Errorf("stream blob: %w", err)
	}
	if err := cw.Close(); err != nil {
		tmp.Close()
		cleanupTmp()
		return "", fmt.Errorf("finalize blob encryption: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanupTmp()
		return "", fmt.Errorf("close blob temp file: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	unlock := s.lockHash(hash)
	defer unlock()

	if s.existsLocked(hash) {
		cleanupTmp()
		return hash, nil
	}
	dest := s.layout.StagedBlobPath(hash)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		cleanupTmp()
		return "", fmt.Errorf("create staged blob dir: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		cleanupTmp()
		return "", fmt.Errorf("rename blob into place: %w", err)
	}
	return hash, nil
}

func (s *Store) existsLocked(hash string) bool {
	if _, err := os.Stat(s.layout.StagedBlobPath(hash)); err == nil {
		return true
	}
	if _, err := os.Stat(s.layout.CommittedBlobPath(hash)); err == nil {
		return true
	}
	return false
}

// Exists reports whether hash is known, staged or committed.
func (s *Store) Exists(hash string) bool {
	if !ValidHash(hash) {
		return false
	}
	return s.existsLocked(hash)
}

// resolvePath returns the on-disk path for hash, preferring the staged copy
// if both exist (a blob just added this transaction, not yet promoted).
func (s *Store) resolvePath(hash string) (string, error) {
	if !ValidHash(hash) {
		return "", arherr.New(arherr.KindValidation, "not a syntactically valid blob hash: %q", hash)
	}
	staged := s.layout.StagedBlobPath(hash)
	if _, err := os.Stat(staged); err == nil {
		return staged, nil
	}
	committed := s.layout.CommittedBlobPath(hash)
	if _, err := os.Stat(committed); err == nil {
		return committed, nil
	}
	return "", arherr.New(arherr.KindNotFound, "blob %s not found", hash)
}

// Open returns a Read+Seek over hash's decrypted plaintext. Callers
// requiring a byte range should Seek before reading; pkg/crypto snaps the
// seek to the enclosing chunk and decrypts only what is needed.
func (s *Store) Open(hash string) (*arhcrypto.Reader, func() error, error) {
	path, err := s.resolvePath(hash)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob file: %w", err)
	}
	r, err := arhcrypto.NewReader(f, s.key)
	if err != nil {
		f.Close()
		return nil, nil, arherr.Wrap(arherr.KindCorruption, err, "open encrypted blob %s", hash)
	}
	return r, f.Close, nil
}

// GetSize returns the plaintext size of hash, needed to build Content-Length
// and Content-Range headers without decrypting the whole blob.
func (s *Store) GetSize(hash string) (int64, error) {
	r, closeFn, err := s.Open(hash)
	if err != nil {
		return 0, err
	}
	defer closeFn()
	return r.Size(), nil
}

// RangeReader returns a reader over hash's plaintext restricted to
// [start, end] inclusive, for HTTP Range request support (spec.md §6).
func (s *Store) RangeReader(hash string, start, end int64) (io.Reader, func() error, error) {
	r, closeFn, err := s.Open(hash)
	if err != nil {
		return nil, nil, err
	}
	if start > 0 {
		if _, err := r.Seek(start, io.SeekStart); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("seek blob to range start: %w", err)
		}
	}
	length := end - start + 1
	return io.LimitReader(r, length), closeFn, nil
}

// PromoteToStorage moves every staged blob in hashes into the shared
// storage dir, used on commit for every newly-referenced blob (spec.md
// §4.7). Storage dir may be a different filesystem than state dir (e.g. a
// synced cloud folder), so this copies rather than renames across dirs.
// A hash with no staged copy and no existing committed copy is reported as
// a missing reference rather than silently skipped.
func (s *Store) PromoteToStorage(hashes []string) error {
	for _, hash := range hashes {
		if err := s.promoteOne(hash); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) promoteOne(hash string) error {
	unlock := s.lockHash(hash)
	defer unlock()

	committed := s.layout.CommittedBlobPath(hash)
	if _, err := os.Stat(committed); err == nil {
		return nil // already promoted by an earlier commit or a peer's merge
	}
	staged := s.layout.StagedBlobPath(hash)
	src, err := os.Open(staged)
	if err != nil {
		if os.IsNotExist(err) {
			return arherr.New(arherr.KindNotFound, "blob %s referenced but missing from staged data", hash)
		}
		return fmt.Errorf("open staged blob %s: %w", hash, err)
	}
	defer src.Close()

	destDir := filepath.Dir(committed)
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create committed blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(destDir, ".blob-*")
	if err != nil {
		return fmt.Errorf("create committed blob temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("copy blob to storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close committed blob temp file: %w", err)
	}
	if err := os.Rename(tmpPath, committed); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename blob into storage: %w", err)
	}
	if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove promoted staged blob: %w", err)
	}
	return nil
}

// SweepStagedOrphans deletes every staged blob not in referenced. Commit and
// the background loop call it for state blobs that were added but are not
// referenced by any staged edit.
func (s *Store) SweepStagedOrphans(referenced map[string]struct{}) error {
	swept, err := sweepDir(s.layout.StateBlobDir(), referenced)
	metrics.BlobOrphansSweptTotal.Add(float64(swept))
	return err
}

// SweepStorageOrphans deletes every committed blob not in referenced. Open
// and the sync merge path do not call it, so committed blobs that are no
// longer referenced stay on disk unless a caller runs it.
func (s *Store) SweepStorageOrphans(referenced map[string]struct{}) error {
	_, err := sweepDir(s.layout.StorageBlobDir(), referenced)
	return err
}

func sweepDir(dir string, referenced map[string]struct{}) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read blob dir %s: %w", dir, err)
	}
	var removed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue // skips .tmp
		}
		name := entry.Name()
		hash := name[:len(name)-len(filepath.Ext(name))]
		if _, ok := referenced[hash]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("remove orphan blob %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}
