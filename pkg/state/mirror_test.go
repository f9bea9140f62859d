package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/arhiv/pkg/types"
)

func TestWriteMirrorThenReadMirrorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.gz.age")
	key := make([]byte, 32)

	st := New(testSchema())
	require.NoError(t, st.StageNew("doc1", &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "hello"}}))
	_, err := st.Commit("doc1", "instance-a")
	require.NoError(t, err)
	st.KVSet(types.SystemNamespace, types.KVInstanceID, "instance-a")

	require.NoError(t, st.WriteMirror(path, key, "test"))
	require.False(t, st.Modified())

	loaded, err := ReadMirror(path, key, testSchema())
	require.NoError(t, err)

	head := loaded.Head("doc1")
	require.NotNil(t, head)
	require.Equal(t, types.HeadCommitted, head.Kind)
	require.Equal(t, "doc1", head.Committed.ID)

	v, ok := loaded.KVGet(types.SystemNamespace, types.KVInstanceID)
	require.True(t, ok)
	require.Equal(t, "instance-a", v)
}

func TestReadMirrorRebuildsSearchIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.gz.age")
	key := make([]byte, 32)

	st := New(testSchema())
	require.NoError(t, st.StageNew("doc1", &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "unique-term-xyz"}}))
	_, err := st.Commit("doc1", "instance-a")
	require.NoError(t, err)
	require.NoError(t, st.WriteMirror(path, key, "test"))

	loaded, err := ReadMirror(path, key, testSchema())
	require.NoError(t, err)
	require.Equal(t, []string{"doc1"}, loaded.Search("unique-term-xyz"))
}

func TestStaleAgainstDetectsNewerFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.gz.age")
	key := make([]byte, 32)
	st := New(testSchema())
	require.NoError(t, st.WriteMirror(path, key, "test"))

	stale, err := StaleAgainst(path, time.Unix(0, 0))
	require.NoError(t, err)
	require.True(t, stale)

	stale, err = StaleAgainst(path, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.False(t, stale)
}
