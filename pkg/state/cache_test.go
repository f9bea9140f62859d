package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/arhiv/pkg/types"
)

func TestSaveAndLoadCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "index.db")

	st := New(testSchema())
	require.NoError(t, st.StageNew("doc1", &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "hello world"}}))
	_, err := st.Commit("doc1", "instance-a")
	require.NoError(t, err)

	db, err := OpenCache(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.SaveCache(db))
	require.NoError(t, db.Close())

	reopened, err := OpenCache(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	fresh := New(testSchema())
	require.NoError(t, fresh.LoadCache(reopened))

	require.Contains(t, fresh.refs, (types.DocumentKey{ID: "doc1", Rev: st.Head("doc1").Committed.Rev}).String())
	require.NotEmpty(t, fresh.search.postings)
}

func TestLoadCacheFailsCleanlyOnEmptyFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "index.db")

	db, err := OpenCache(dbPath)
	require.NoError(t, err)
	defer db.Close()

	fresh := New(testSchema())
	require.NoError(t, fresh.LoadCache(db)) // empty buckets are a valid, if empty, cache
	require.Empty(t, fresh.refs)
}
