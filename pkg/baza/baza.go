package baza

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/cuemby/arhiv/pkg/arherr"
	"github.com/cuemby/arhiv/pkg/blob"
	arhcrypto "github.com/cuemby/arhiv/pkg/crypto"
	"github.com/cuemby/arhiv/pkg/events"
	"github.com/cuemby/arhiv/pkg/log"
	"github.com/cuemby/arhiv/pkg/paths"
	"github.com/cuemby/arhiv/pkg/schema"
	"github.com/cuemby/arhiv/pkg/state"
)

// systemNamespace is the reserved KV namespace holding last_sync_time and
// data_version, kept collision-free from user-defined namespaces
// (SPEC_FULL.md §9, from original_source).
const systemNamespace = "_system"

// Baza is one replica's open connection to a vault: its schema, paths, long
// term key, in-memory state, BLOB store, event broker, and peer-discovery
// holder. It is safe for concurrent read access; writes serialize through
// the advisory file lock.
type Baza struct {
	Layout     paths.Layout
	Schema     schema.DataSchema
	InstanceID string
	Key        []byte

	State *state.State
	Blobs *blob.Store
	Events *events.Broker

	dataVersion int
	lockFile    *os.File

	discoveryOnce sync.Once
	discovery     *discoveryState
}

type discoveryState struct {
	mu    sync.RWMutex
	peers []string
}

// Create initializes a brand new vault at layout: mints an instance id,
// wraps a fresh long-term key under password, and writes an empty initial
// state. Create fails if a key file already exists at layout.KeyFile().
func Create(layout paths.Layout, password string, s schema.DataSchema, dataVersion int) (*Baza, error) {
	params := arhcrypto.DefaultScryptParams
	if layout.Dev {
		params = arhcrypto.DevScryptParams
	}
	return CreateWithParams(layout, password, s, dataVersion, params)
}

// CreateWithParams is Create with the scrypt cost parameters overridden,
// for callers wiring pkg/config's KDF tuning (spec.md §6 Environment).
func CreateWithParams(layout paths.Layout, password string, s schema.DataSchema, dataVersion int, params arhcrypto.ScryptParams) (*Baza, error) {
	if _, err := os.Stat(layout.KeyFile()); err == nil {
		return nil, arherr.New(arherr.KindValidation, "vault already initialized at %s", layout.Root)
	}

	for _, dir := range []string{layout.StorageDir(), layout.StateDir(), layout.StorageBlobDir(), layout.StateBlobDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create vault directory %s: %w", dir, err)
		}
	}

	kf, err := os.OpenFile(layout.KeyFile(), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	key, err := arhcrypto.GenerateKeyFileWithParams(kf, password, params)
	if closeErr := kf.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(layout.KeyFile())
		return nil, fmt.Errorf("wrap long-term key: %w", err)
	}

	b := &Baza{
		Layout:      layout,
		Schema:      s,
		InstanceID:  uuid.NewString(),
		Key:         key,
		State:       state.New(s),
		Blobs:       blob.New(layout, key),
		Events:      events.NewBroker(),
		dataVersion: dataVersion,
	}
	b.Events.Start()

	if err := b.lock(); err != nil {
		return nil, err
	}
	b.State.KVSet(systemNamespace, "instance_id", b.InstanceID)
	if err := b.State.WriteMirror(layout.StateFile(), key, s.Name); err != nil {
		b.unlock()
		return nil, fmt.Errorf("write initial state: %w", err)
	}
	b.unlock()

	log.WithInstanceID(b.InstanceID).Info().Str("root", layout.Root).Msg("vault created")
	return b, nil
}

// Open unlocks an existing vault at layout with password, rebuilding state
// from the storage containers if the mirror is missing or unreadable.
// Key-file decryption failure is fatal: a truncated salt or params block is
// KindCorruption, while a wrong password and a damaged wrapped key both
// surface as KindLocked.
func Open(layout paths.Layout, password string, s schema.DataSchema, dataVersion int) (*Baza, error) {
	kf, err := os.Open(layout.KeyFile())
	if err != nil {
		return nil, arherr.Wrap(arherr.KindIO, err, "open key file")
	}
	key, err := arhcrypto.OpenKeyFile(kf, password)
	closeErr := kf.Close()
	if err != nil {
		return nil, err // already a KindLocked or KindCorruption arherr.Error from OpenKeyFile
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close key file: %w", closeErr)
	}

	b := &Baza{
		Layout:      layout,
		Schema:      s,
		Key:         key,
		Blobs:       blob.New(layout, key),
		Events:      events.NewBroker(),
		dataVersion: dataVersion,
	}
	b.Events.Start()

	if err := b.lock(); err != nil {
		return nil, err
	}
	defer b.unlock()

	st, instanceID, err := loadOrRebuildState(layout, key, s)
	if err != nil {
		return nil, err
	}
	b.State = st
	b.InstanceID = instanceID

	log.WithInstanceID(b.InstanceID).Info().Str("root", layout.Root).Msg("vault opened")
	return b, nil
}

// loadOrRebuildState prefers the encrypted mirror; if it's absent or fails
// to decrypt as structural corruption (not a wrong key — that already
// failed at OpenKeyFile), it rebuilds from the merged storage containers,
// which remain authoritative even when the mirror is lost.
func loadOrRebuildState(layout paths.Layout, key []byte, s schema.DataSchema) (*state.State, string, error) {
	if _, err := os.Stat(layout.StateFile()); err == nil {
		st, err := state.ReadMirror(layout.StateFile(), key, s)
		if err == nil {
			instanceID, _ := st.KVGet(systemNamespace, "instance_id")
			id, _ := instanceID.(string)
			if id == "" {
				id = uuid.NewString()
				st.KVSet(systemNamespace, "instance_id", id)
			}
			return st, id, nil
		}
		log.WithComponent("baza").Warn().Err(err).Msg("state mirror unreadable, rebuilding from storage containers")
	}

	st, err := rebuildFromStorage(layout, key, s)
	if err != nil {
		return nil, "", err
	}
	instanceID := uuid.NewString()
	st.KVSet(systemNamespace, "instance_id", instanceID)
	return st, instanceID, nil
}

// lock acquires the advisory, non-blocking file lock guarding concurrent
// Baza opens from the same device (spec.md §4.9). A held lock reports
// KindLocked rather than blocking forever.
func (b *Baza) lock() error {
	if err := os.MkdirAll(b.Layout.StateDir(), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	f, err := os.OpenFile(b.Layout.LockFile(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return arherr.Wrap(arherr.KindLocked, err, "vault is open by another process")
	}
	b.lockFile = f
	return nil
}

func (b *Baza) unlock() {
	if b.lockFile == nil {
		return
	}
	_ = syscall.Flock(int(b.lockFile.Fd()), syscall.LOCK_UN)
	_ = b.lockFile.Close()
	b.lockFile = nil
	if b.Events != nil {
		b.Events.Publish(&events.Event{Type: events.EventBazaUnlocked})
	}
}

// Close releases the facade's resources. The file lock is held only for
// the duration of a transaction, not across the facade's lifetime, so
// Close's only job is to stop the event broker.
func (b *Baza) Close() {
	if b.Events != nil {
		b.Events.Stop()
	}
}

// referencedStagedBlobs collects every BLOB hash any currently staged (not
// yet committed) document refers to, so a background sweep never deletes a
// blob an in-flight edit still needs.
func (b *Baza) referencedStagedBlobs() map[string]struct{} {
	referenced := map[string]struct{}{}
	for _, id := range b.State.AllIDs() {
		head := b.State.Head(id)
		if head == nil {
			continue
		}
		staged := head.Staged()
		if staged == nil {
			continue
		}
		for hash := range b.Schema.ExtractRefs(staged).Blobs {
			referenced[hash] = struct{}{}
		}
	}
	return referenced
}
