package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/arhiv/pkg/schema"
	"github.com/cuemby/arhiv/pkg/types"
)

func testSchema() schema.DataSchema {
	return schema.New("test", []schema.DataDescription{
		{
			DocumentType:  "note",
			TitleTemplate: "{title}",
			Fields: []schema.Field{
				{Name: "title", Type: schema.FieldString, Mandatory: true},
				{Name: "body", Type: schema.FieldMarkupString},
				{Name: "related", Type: schema.FieldRefList},
			},
		},
	})
}

func TestStageCommitRoundTrip(t *testing.T) {
	st := New(testSchema())
	doc := &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "Hello"}}
	require.NoError(t, st.StageNew("doc1", doc))

	committed, err := st.Commit("doc1", "instance-a")
	require.NoError(t, err)
	require.Equal(t, uint64(1), committed.Rev["instance-a"])

	head := st.Head("doc1")
	require.Equal(t, types.HeadCommitted, head.Kind)
}

func TestCommitWithoutStagedEditFails(t *testing.T) {
	st := New(testSchema())
	_, err := st.Commit("missing", "instance-a")
	require.Error(t, err)
}

func TestBackrefsAndCollections(t *testing.T) {
	st := New(testSchema())
	require.NoError(t, st.StageNew("target", &types.Document{ID: "target", DocumentType: "note", Data: map[string]interface{}{"title": "T"}}))
	_, err := st.Commit("target", "a")
	require.NoError(t, err)

	require.NoError(t, st.StageNew("source", &types.Document{
		ID: "source", DocumentType: "note",
		Data: map[string]interface{}{"title": "S", "related": []interface{}{"target"}},
	}))
	_, err = st.Commit("source", "a")
	require.NoError(t, err)

	require.Contains(t, st.FindBackrefs("target"), "source")
}

func TestSearchRanksByRelevance(t *testing.T) {
	st := New(testSchema())
	require.NoError(t, st.StageNew("a", &types.Document{ID: "a", DocumentType: "note", Data: map[string]interface{}{"title": "apple pie recipe"}}))
	_, err := st.Commit("a", "x")
	require.NoError(t, err)
	require.NoError(t, st.StageNew("b", &types.Document{ID: "b", DocumentType: "note", Data: map[string]interface{}{"title": "banana bread"}}))
	_, err = st.Commit("b", "x")
	require.NoError(t, err)

	results := st.Search("apple")
	require.Equal(t, []string{"a"}, results)
}

func TestSearchEmptyQueryReturnsNewestFirst(t *testing.T) {
	st := New(testSchema())
	require.NoError(t, st.StageNew("a", &types.Document{ID: "a", DocumentType: "note", Data: map[string]interface{}{"title": "first"}}))
	_, err := st.Commit("a", "x")
	require.NoError(t, err)
	require.NoError(t, st.StageNew("b", &types.Document{ID: "b", DocumentType: "note", Data: map[string]interface{}{"title": "second"}}))
	_, err = st.Commit("b", "x")
	require.NoError(t, err)

	results := st.Search("   ")
	require.Equal(t, []string{"b", "a"}, results)
}

func TestLockPreventsConcurrentLock(t *testing.T) {
	st := New(testSchema())
	key, err := st.AcquireLock("doc1", "editing")
	require.NoError(t, err)
	require.NotEmpty(t, key)

	_, err = st.AcquireLock("doc1", "editing again")
	require.Error(t, err)

	require.NoError(t, st.ReleaseLock("doc1", key))
	_, err = st.AcquireLock("doc1", "editing again")
	require.NoError(t, err)
}

func TestCheckLockRejectsWrongKey(t *testing.T) {
	st := New(testSchema())
	_, err := st.AcquireLock("doc1", "editing")
	require.NoError(t, err)
	require.Error(t, st.CheckLock("doc1", "wrong-key"))
}

func TestApplyIncomingSnapshotCreatesConflict(t *testing.T) {
	st := New(testSchema())
	base := &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "base"}, Rev: map[string]uint64{"a": 1}}
	require.True(t, st.ApplyIncomingSnapshot(base))

	concurrent := &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "other"}, Rev: map[string]uint64{"b": 1}}
	require.True(t, st.ApplyIncomingSnapshot(concurrent))

	head := st.Head("doc1")
	require.Equal(t, types.HeadConflict, head.Kind)
	require.Len(t, head.ConflictSet, 2)
}

func TestApplyIncomingSnapshotErasureDropsHistory(t *testing.T) {
	st := New(testSchema())
	base := &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "base"}, Rev: map[string]uint64{"a": 1}}
	require.True(t, st.ApplyIncomingSnapshot(base))

	erasure := &types.Document{ID: "doc1", DocumentType: types.ErasedType, Rev: map[string]uint64{"a": 2}}
	require.True(t, st.ApplyIncomingSnapshot(erasure))

	head := st.Head("doc1")
	require.Equal(t, types.HeadCommitted, head.Kind)
	require.True(t, head.Committed.IsErased())
}

func TestKVStore(t *testing.T) {
	st := New(testSchema())
	_, ok := st.KVGet(types.SystemNamespace, types.KVInstanceID)
	require.False(t, ok)

	st.KVSet(types.SystemNamespace, types.KVInstanceID, "inst-1")
	v, ok := st.KVGet(types.SystemNamespace, types.KVInstanceID)
	require.True(t, ok)
	require.Equal(t, "inst-1", v)
}
