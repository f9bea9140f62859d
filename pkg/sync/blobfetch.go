package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/arhiv/pkg/blob"
	"github.com/cuemby/arhiv/pkg/paths"
	"github.com/cuemby/arhiv/pkg/worker"
)

// FetchMissingBlobs downloads every hash in hashes not already present
// locally from peer, dispatched across pool (default N=4, spec.md §5).
// Each download resumes from a partial file left by a previous interrupted
// attempt, and leaves nothing observable as a complete blob if ctx is
// cancelled mid-transfer (spec.md §4.8 step 5).
func FetchMissingBlobs(ctx context.Context, client *Client, store *blob.Store, layout paths.Layout, pool *worker.Pool, hashes []string) error {
	var missing []string
	for _, h := range hashes {
		if !store.Exists(h) {
			missing = append(missing, h)
		}
	}
	return worker.RunEach(ctx, pool, missing, func(ctx context.Context, hash string) error {
		return fetchOneBlob(ctx, client, store, layout, hash)
	})
}

// fetchOneBlob downloads hash into a resumable partial file, then hands the
// completed file to Store.Add, which re-derives the hash independently and
// rejects a mismatch rather than trusting the transfer.
func fetchOneBlob(ctx context.Context, client *Client, store *blob.Store, layout paths.Layout, hash string) error {
	fetchDir := filepath.Join(layout.StateBlobDir(), ".fetch")
	if err := os.MkdirAll(fetchDir, 0o750); err != nil {
		return fmt.Errorf("create blob fetch dir: %w", err)
	}
	partialPath := filepath.Join(fetchDir, hash+".partial")

	var offset int64
	if info, err := os.Stat(partialPath); err == nil {
		offset = info.Size()
	}

	body, total, err := client.FetchBlob(ctx, hash, offset)
	if err != nil {
		return err
	}
	defer body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partialPath, flags, 0o600)
	if err != nil {
		return fmt.Errorf("open partial blob file: %w", err)
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		if ctx.Err() != nil {
			os.Remove(partialPath) // cancelled mid-transfer: no partial left behind
		}
		return fmt.Errorf("download blob %s: %w", hash, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close partial blob file: %w", err)
	}

	if offset == 0 && total > 0 {
		info, err := os.Stat(partialPath)
		if err != nil {
			return fmt.Errorf("stat downloaded blob %s: %w", hash, err)
		}
		if info.Size() != total {
			return fmt.Errorf("blob %s: downloaded %d bytes, expected %d", hash, info.Size(), total)
		}
	}

	final, err := os.Open(partialPath)
	if err != nil {
		return fmt.Errorf("reopen downloaded blob %s: %w", hash, err)
	}
	defer final.Close()

	gotHash, err := store.Add(final)
	if err != nil {
		return fmt.Errorf("commit downloaded blob %s: %w", hash, err)
	}
	if gotHash != hash {
		return fmt.Errorf("blob %s: content hash mismatch, peer sent %s", hash, gotHash)
	}
	return os.Remove(partialPath)
}
