package sync

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/arhiv/pkg/blob"
	"github.com/cuemby/arhiv/pkg/container"
	"github.com/cuemby/arhiv/pkg/events"
	"github.com/cuemby/arhiv/pkg/log"
	"github.com/cuemby/arhiv/pkg/metrics"
	"github.com/cuemby/arhiv/pkg/paths"
	"github.com/cuemby/arhiv/pkg/revision"
	"github.com/cuemby/arhiv/pkg/schema"
	"github.com/cuemby/arhiv/pkg/state"
	"github.com/cuemby/arhiv/pkg/types"
	"github.com/cuemby/arhiv/pkg/worker"
)

// Engine runs sync rounds against a list of peers on behalf of one
// replica, applying what it pulls to local state and persisting it as a
// new storage container (spec.md §4.8).
type Engine struct {
	InstanceID  string
	DataVersion int
	SharedKey   []byte
	Cert        *tls.Certificate

	Layout paths.Layout
	Schema schema.DataSchema
	State  *state.State
	Blobs  *blob.Store
	Pool   *worker.Pool
	Events *events.Broker

	// DiscoveryTimeout and RequestTimeout override the package defaults when
	// non-zero (pkg/config surfaces these from YAML per spec.md §5).
	DiscoveryTimeout time.Duration
	RequestTimeout   time.Duration
}

func (e *Engine) newClient(ctx context.Context, addr string) (*Client, error) {
	discovery, request := e.DiscoveryTimeout, e.RequestTimeout
	if discovery == 0 {
		discovery = DefaultDiscoveryTimeout
	}
	if request == 0 {
		request = DefaultRequestTimeout
	}
	return NewClientWithTimeouts(ctx, addr, e.SharedKey, e.Cert, discovery, request)
}

// Result summarizes one sync round against a single peer.
type Result struct {
	Peer         string
	AppliedCount int
	FetchedBlobs int
	NoChange     bool
}

// SyncAll runs a round against every peer in addrs, ordered per spec.md
// §4.8 step 2 ("the initiator orders peers by rev"). Vector clocks have no
// total order, so peers are ranked by total commit count (sum of revision
// components) as a heuristic for "most likely to have new data first";
// ties keep the caller's original order. A peer that cannot be reached or
// fails its ping is skipped rather than aborting the whole round.
func (e *Engine) SyncAll(ctx context.Context, addrs []string) ([]Result, error) {
	type ranked struct {
		addr string
		rev  revision.Revision
	}
	pings := make([]ranked, 0, len(addrs))
	for _, addr := range addrs {
		client, err := e.newClient(ctx, addr)
		if err != nil {
			log.WithPeer(addr).Warn().Err(err).Msg("could not reach peer for ping")
			continue
		}
		info, err := client.Ping(ctx)
		client.Close()
		if err != nil {
			log.WithPeer(addr).Warn().Err(err).Msg("ping failed")
			continue
		}
		pings = append(pings, ranked{addr: addr, rev: info.DBRev})
	}
	sort.SliceStable(pings, func(i, j int) bool {
		return revisionWeight(pings[i].rev) > revisionWeight(pings[j].rev)
	})

	results := make([]Result, 0, len(pings))
	for _, p := range pings {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}
		res, err := e.SyncWithPeer(ctx, p.addr)
		if err != nil {
			log.WithPeer(p.addr).Warn().Err(err).Msg("sync round failed")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func revisionWeight(r revision.Revision) uint64 {
	var sum uint64
	for _, v := range r {
		sum += v
	}
	return sum
}

// SyncWithPeer runs one full round against a single peer: ping, pull, apply,
// persist, fetch. A cancelled round reports NoChange rather than a partial
// result (spec.md §4.9 Cancellation).
func (e *Engine) SyncWithPeer(ctx context.Context, addr string) (Result, error) {
	result := Result{Peer: addr}
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SyncRoundDuration, addr)

	client, err := e.newClient(ctx, addr)
	if err != nil {
		metrics.SyncRoundsTotal.WithLabelValues("unreachable").Inc()
		return result, err
	}
	defer client.Close()

	ping, err := client.Ping(ctx)
	if err != nil {
		metrics.SyncRoundsTotal.WithLabelValues("unreachable").Inc()
		return result, err
	}

	local := e.State.DBRevision()
	switch ping.DBRev.Compare(local) {
	case revision.OrderBefore, revision.OrderEqual:
		result.NoChange = true
		e.publishSyncCompleted(addr, result)
		return result, nil // peer has nothing we don't already have
	}

	resp, err := client.PullChangeset(ctx, ChangesetRequest{
		InstanceID:  e.InstanceID,
		Rev:         local,
		DataVersion: e.DataVersion,
	})
	if err != nil {
		metrics.SyncRoundsTotal.WithLabelValues("error").Inc()
		return result, err
	}
	if ctx.Err() != nil {
		result.NoChange = true
		metrics.SyncRoundsTotal.WithLabelValues("ok").Inc()
		return result, ctx.Err()
	}

	var applied []*types.Document
	for _, doc := range resp.Snapshots {
		if e.State.ApplyIncomingSnapshot(doc) {
			applied = append(applied, doc)
		}
	}
	result.AppliedCount = len(applied)
	metrics.SyncAppliedDocuments.Add(float64(len(applied)))

	if len(applied) == 0 {
		result.NoChange = true
		e.publishSyncCompleted(addr, result)
		metrics.SyncRoundsTotal.WithLabelValues("ok").Inc()
		return result, nil
	}

	if err := e.persistApplied(applied); err != nil {
		metrics.SyncRoundsTotal.WithLabelValues("error").Inc()
		return result, fmt.Errorf("persist pulled snapshots: %w", err)
	}

	hashes := e.referencedBlobs(applied)
	if len(hashes) > 0 {
		if err := FetchMissingBlobs(ctx, client, e.Blobs, e.Layout, e.Pool, hashes); err != nil {
			metrics.SyncRoundsTotal.WithLabelValues("error").Inc()
			return result, fmt.Errorf("fetch blobs from %s: %w", addr, err)
		}
		result.FetchedBlobs = len(hashes)
		for _, h := range hashes {
			if size, err := e.Blobs.GetSize(h); err == nil {
				metrics.BlobBytesTransferred.WithLabelValues("received").Add(float64(size))
			}
		}
	}

	e.publishSyncCompleted(addr, result)
	metrics.SyncRoundsTotal.WithLabelValues("ok").Inc()
	return result, nil
}

func (e *Engine) publishSyncCompleted(peer string, result Result) {
	if e.Events == nil {
		return
	}
	e.Events.Publish(&events.Event{
		Type:    events.EventSyncCompleted,
		Message: fmt.Sprintf("sync with %s applied %d snapshot(s)", peer, result.AppliedCount),
		Metadata: map[string]string{
			"peer":    peer,
			"applied": fmt.Sprintf("%d", result.AppliedCount),
		},
	})
	if result.AppliedCount > 0 {
		e.Events.Publish(&events.Event{Type: events.EventDocumentsChanged})
	}
}

// persistApplied writes every newly-applied snapshot as a fresh storage
// container, append-and-rename per spec.md §5 (no in-place mutation of
// existing container files). The file stays alongside the others; they are
// merged in memory only when state is rebuilt from storage.
func (e *Engine) persistApplied(applied []*types.Document) error {
	entries := make([]container.Entry, 0, len(applied))
	for _, doc := range applied {
		entries = append(entries, container.Entry{
			Key:      types.DocumentKey{ID: doc.ID, Rev: doc.Rev},
			Document: doc,
		})
	}

	name := paths.NewContainerName(e.InstanceID, uint64(time.Now().UnixNano()))
	dest := filepath.Join(e.Layout.StorageDir(), name)

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".container-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp container file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	info := container.Info{
		SchemaName:    e.Schema.Name,
		DataVersion:   e.DataVersion,
		HashAlgorithm: "sha256",
		CreatedAt:     time.Now().UTC(),
	}
	if err := container.Write(tmp, e.SharedKey, info, entries); err != nil {
		tmp.Close()
		return fmt.Errorf("write pulled container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp container file: %w", err)
	}
	return os.Rename(tmpPath, dest)
}

func (e *Engine) referencedBlobs(applied []*types.Document) []string {
	seen := map[string]struct{}{}
	for _, doc := range applied {
		for hash := range e.Schema.ExtractRefs(doc).Blobs {
			seen[hash] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	return out
}
