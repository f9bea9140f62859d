package baza

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cuemby/arhiv/pkg/container"
	"github.com/cuemby/arhiv/pkg/paths"
	"github.com/cuemby/arhiv/pkg/types"
)

var containerCounter uint64

// appendContainer writes committed as a brand-new storage container file,
// never mutating an existing one in place (spec.md §5). Container files
// accumulate: Open does not merge or remove them on disk, and they are
// merged in memory only when state is rebuilt from storage.
func (b *Baza) appendContainer(committed []*types.Document) error {
	entries := make([]container.Entry, 0, len(committed))
	for _, doc := range committed {
		entries = append(entries, container.Entry{Key: types.DocumentKey{ID: doc.ID, Rev: doc.Rev}, Document: doc})
	}

	counter := atomic.AddUint64(&containerCounter, 1)
	name := paths.NewContainerName(b.InstanceID, counter)
	dest := filepath.Join(b.Layout.StorageDir(), name)

	tmp, err := os.CreateTemp(b.Layout.StorageDir(), ".container-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp container file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	info := container.Info{
		SchemaName:    b.Schema.Name,
		DataVersion:   b.dataVersion,
		HashAlgorithm: "sha256",
		CreatedAt:     time.Now().UTC(),
	}
	if err := container.Write(tmp, b.Key, info, entries); err != nil {
		tmp.Close()
		return fmt.Errorf("write container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp container file: %w", err)
	}
	return os.Rename(tmpPath, dest)
}
