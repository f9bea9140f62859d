package baza

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	arhsync "github.com/cuemby/arhiv/pkg/sync"
	"github.com/cuemby/arhiv/pkg/worker"
)

// discoveryState holds the most recently known peer addresses. It is filled
// in lazily by discoverPeers, guarded by Baza.discoveryOnce so the first
// caller to need peers pays the discovery cost and everyone after reuses it
// (SPEC_FULL.md §4.9, replacing the teacher's OnceLock with sync.Once).
func (b *Baza) discoverPeers(seed []string) *discoveryState {
	b.discoveryOnce.Do(func() {
		b.discovery = &discoveryState{peers: append([]string(nil), seed...)}
	})
	return b.discovery
}

// KnownPeers returns the peer addresses discovered so far, or seed itself if
// discovery has not run yet in this process.
func (b *Baza) KnownPeers(seed []string) []string {
	d := b.discoverPeers(seed)
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.peers...)
}

// AddPeer records a newly learned peer address for future sync rounds.
func (b *Baza) AddPeer(addr string) {
	d := b.discoverPeers(nil)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.peers {
		if p == addr {
			return
		}
	}
	d.peers = append(d.peers, addr)
}

// Sync runs a full sync round against every address in peers, holding the
// file lock for the duration since applying incoming snapshots and
// persisting them is a write (spec.md §4.8/§4.9). It updates the _system
// namespace's last_sync_time after a round that touches at least one peer
// successfully, even if that round applied nothing.
func (b *Baza) Sync(ctx context.Context, cert *tls.Certificate, peers []string) ([]arhsync.Result, error) {
	if err := b.lock(); err != nil {
		return nil, err
	}
	defer b.unlock()

	engine := &arhsync.Engine{
		InstanceID:  b.InstanceID,
		DataVersion: b.dataVersion,
		SharedKey:   b.Key,
		Cert:        cert,
		Layout:      b.Layout,
		Schema:      b.Schema,
		State:       b.State,
		Blobs:       b.Blobs,
		Pool:        worker.New(worker.DefaultConcurrency),
		Events:      b.Events,
	}

	results, err := engine.SyncAll(ctx, peers)
	if err != nil {
		return results, fmt.Errorf("sync round: %w", err)
	}

	var touched bool
	for _, r := range results {
		if !r.NoChange {
			touched = true
		}
	}
	if len(results) > 0 {
		b.State.KVSet(systemNamespace, "last_sync_time", time.Now().UTC().Format(time.RFC3339))
		b.State.KVSet(systemNamespace, "data_version", b.dataVersion)
		if touched {
			if err := b.State.WriteMirror(b.Layout.StateFile(), b.Key, b.Schema.Name); err != nil {
				return results, fmt.Errorf("write state mirror after sync: %w", err)
			}
		}
	}
	return results, nil
}
