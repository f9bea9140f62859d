package baza

import (
	"os"
	"path/filepath"

	"github.com/cuemby/arhiv/pkg/arherr"
	"github.com/cuemby/arhiv/pkg/container"
	arhcrypto "github.com/cuemby/arhiv/pkg/crypto"
	"github.com/cuemby/arhiv/pkg/paths"
	"github.com/cuemby/arhiv/pkg/schema"
	"github.com/cuemby/arhiv/pkg/state"
	"github.com/cuemby/arhiv/pkg/types"
)

// rebuildFromStorage reads and merges every container file in
// layout.StorageDir(), reconstructing a State from the surviving entries.
// Storage containers, not the state mirror, are Arhiv's source of truth:
// the mirror is a rebuildable accelerator (spec.md §4.5).
func rebuildFromStorage(layout paths.Layout, key []byte, s schema.DataSchema) (*state.State, error) {
	entries, err := os.ReadDir(layout.StorageDir())
	if err != nil {
		if os.IsNotExist(err) {
			return state.New(s), nil
		}
		return nil, arherr.Wrap(arherr.KindIO, err, "list storage directory")
	}

	var containers []*container.Container
	for _, e := range entries {
		if e.IsDir() || !paths.IsContainerFile(e.Name()) {
			continue
		}
		c, err := readContainerFile(filepath.Join(layout.StorageDir(), e.Name()), key)
		if err != nil {
			return nil, arherr.Wrap(arherr.KindCorruption, err, "read storage container %s", e.Name())
		}
		containers = append(containers, c)
	}

	merged := container.Merge(containers)
	st := state.New(s)
	byID := make(map[string][]*types.Document)
	for _, entry := range merged.Entries {
		byID[entry.Key.ID] = append(byID[entry.Key.ID], entry.Document)
	}
	for id, docs := range byID {
		st.RestoreHead(id, docs)
	}
	return st, nil
}

func readContainerFile(path string, key []byte) (*container.Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := arhcrypto.NewReader(f, key)
	if err != nil {
		return nil, err
	}
	return container.ReadAll(r)
}
