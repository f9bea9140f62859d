/*
Package paths resolves Arhiv's on-disk layout (spec.md §4.2): a storage
root that is expected to be synchronized across devices by something
outside this program (a cloud-synced folder, a USB stick, whatever the
user already trusts), and a state root that is strictly per-device and
never shared.
*/
package paths

import (
	"fmt"
	"path/filepath"
	"regexp"
)

const (
	// storageDirName is the production storage root directory name, nested
	// under a user-chosen parent (the "vault" directory).
	storageDirName = "storage"
	// storageDebugDirName replaces storageDirName in dev mode (spec.md §6
	// Environment): a disposable sibling so dev runs never touch real data.
	storageDebugDirName = "storage-debug"

	keyFileName        = "key.age"
	canonicalContainer = "baza.gz.age"

	stateFileName       = "state.gz.age"
	searchIndexFileName = "search_index.gz.age"
	documentLocksFile   = "document_locks.age"
	lockFileName        = "baza.lock"
	acceleratorCacheFile = "index.db"

	blobDataDir = "data"
)

// Layout resolves every path Arhiv's core touches, rooted at a single vault
// directory chosen by the user (e.g. a folder synced by their cloud
// provider). Dev set via `storage-debug` mode keeps test runs from ever
// writing into a real vault.
type Layout struct {
	Root string
	Dev  bool
}

// New returns a Layout rooted at root.
func New(root string, dev bool) Layout {
	return Layout{Root: root, Dev: dev}
}

// StorageDir is the synchronized root: key file, storage containers, and
// committed BLOBs.
func (l Layout) StorageDir() string {
	name := storageDirName
	if l.Dev {
		name = storageDebugDirName
	}
	return filepath.Join(l.Root, name)
}

// StateDir is the private, per-device root: mirrored state, staged BLOBs,
// and the advisory lock file. It never lives under StorageDir, so a naive
// "sync everything in the vault" tool cannot accidentally replicate another
// device's lock file or in-flight staged edits.
func (l Layout) StateDir() string {
	name := "state"
	if l.Dev {
		name = "state-debug"
	}
	return filepath.Join(l.Root, name)
}

// KeyFile is the wrapped long-term key, stored in the synchronized dir so
// every device that knows the password can unlock it.
func (l Layout) KeyFile() string { return filepath.Join(l.StorageDir(), keyFileName) }

// CanonicalContainer is the well-known storage container name every replica
// creates on first init; additional container files may appear alongside it
// after peers append on distinct branches before a merge.
func (l Layout) CanonicalContainer() string {
	return filepath.Join(l.StorageDir(), canonicalContainer)
}

var containerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+\.gz\.age$`)

// IsContainerFile reports whether name (a base name, not a path) follows the
// storage container naming convention, used when scanning StorageDir for
// all containers to merge.
func IsContainerFile(name string) bool { return containerNamePattern.MatchString(name) }

// NewContainerName returns a fresh, collision-resistant container file name
// for an append this instance produces, named after the owning instance so
// concurrent writers never collide.
func NewContainerName(instanceID string, counter uint64) string {
	return fmt.Sprintf("%s-%06d.gz.age", instanceID, counter)
}

// CommittedBlobPath is the path of a committed BLOB, content-addressed by
// hash, in the synchronized storage dir.
func (l Layout) CommittedBlobPath(hash string) string {
	return filepath.Join(l.StorageDir(), blobDataDir, hash+".age")
}

// StagedBlobPath is the path of a BLOB staged but not yet committed, kept in
// the private state dir until the commit that references it lands.
func (l Layout) StagedBlobPath(hash string) string {
	return filepath.Join(l.StateDir(), blobDataDir, hash+".age")
}

// StorageBlobDir is the directory holding all committed BLOBs.
func (l Layout) StorageBlobDir() string { return filepath.Join(l.StorageDir(), blobDataDir) }

// StateBlobDir is the directory holding all staged (not yet committed) BLOBs.
func (l Layout) StateBlobDir() string { return filepath.Join(l.StateDir(), blobDataDir) }

// StateFile is the encrypted mirror of in-memory state, rebuilt from
// StorageDir on any mismatch or absence; never authoritative by itself.
func (l Layout) StateFile() string { return filepath.Join(l.StateDir(), stateFileName) }

// SearchIndexFile is the encrypted full-text index mirror, equally
// rebuildable and non-authoritative.
func (l Layout) SearchIndexFile() string {
	return filepath.Join(l.StateDir(), searchIndexFileName)
}

// DocumentLocksFile holds this device's active write-intent locks.
func (l Layout) DocumentLocksFile() string {
	return filepath.Join(l.StateDir(), documentLocksFile)
}

// LockFile is the advisory file lock path guarding concurrent Baza
// connections from the same device (spec.md §4.9).
func (l Layout) LockFile() string { return filepath.Join(l.StateDir(), lockFileName) }

// AcceleratorCache is the unencrypted, purely-derived bbolt database used to
// speed up cold-start ref and search lookups (SPEC_FULL.md §4.5). A missing
// or corrupt cache is never an error: the caller falls back to a full
// rebuild from committed snapshots.
func (l Layout) AcceleratorCache() string {
	return filepath.Join(l.StateDir(), acceleratorCacheFile)
}
