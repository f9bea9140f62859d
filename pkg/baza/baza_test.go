package baza

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/arhiv/pkg/arherr"
	"github.com/cuemby/arhiv/pkg/paths"
	"github.com/cuemby/arhiv/pkg/schema"
	"github.com/cuemby/arhiv/pkg/types"
)

func testSchema() schema.DataSchema {
	return schema.New("notes", []schema.DataDescription{
		{
			DocumentType:  "note",
			TitleTemplate: "{title}",
			Fields: []schema.Field{
				{Name: "title", Type: schema.FieldString, Mandatory: true},
			},
		},
	})
}

func testLayout(t *testing.T) paths.Layout {
	return paths.New(t.TempDir(), true)
}

func TestCreateThenOpenRoundTrip(t *testing.T) {
	layout := testLayout(t)

	created, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	defer created.Close()
	require.NotEmpty(t, created.InstanceID)

	opened, err := Open(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	defer opened.Close()
	require.Equal(t, created.InstanceID, opened.InstanceID)
}

func TestCreateFailsIfAlreadyInitialized(t *testing.T) {
	layout := testLayout(t)

	b, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	b.Close()

	_, err = Create(layout, "hunter2", testSchema(), 1)
	require.Error(t, err)
	require.True(t, arherr.Is(err, arherr.KindValidation))
}

func TestOpenWithWrongPasswordFails(t *testing.T) {
	layout := testLayout(t)
	b, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	b.Close()

	_, err = Open(layout, "wrong-password", testSchema(), 1)
	require.Error(t, err)
	require.False(t, arherr.Is(err, arherr.KindCorruption))
}

func TestOpenWithCorruptedKeyFileReportsCorruption(t *testing.T) {
	layout := testLayout(t)
	b, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	b.Close()

	require.NoError(t, corruptFile(layout.KeyFile()))

	_, err = Open(layout, "hunter2", testSchema(), 1)
	require.Error(t, err)
	require.True(t, arherr.Is(err, arherr.KindCorruption))
}

func TestSecondOpenWhileLockedReportsKindLocked(t *testing.T) {
	layout := testLayout(t)
	b, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	defer b.Close()

	tx, err := b.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = Open(layout, "hunter2", testSchema(), 1)
	require.Error(t, err)
	require.True(t, arherr.Is(err, arherr.KindLocked))
}

func TestStageNewValidateAndCommit(t *testing.T) {
	layout := testLayout(t)
	b, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	defer b.Close()

	tx, err := b.Begin()
	require.NoError(t, err)

	doc := &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "hi"}}
	require.NoError(t, tx.StageNew(doc))

	committed, err := tx.Commit([]string{"doc1"})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	require.Equal(t, "doc1", committed[0].ID)

	entries, err := filepathGlob(layout.StorageDir())
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	conn := b.Connect()
	got, err := conn.GetDocument("doc1")
	require.NoError(t, err)
	require.Equal(t, "hi", got.Data["title"])
}

func TestStageNewRejectsMissingMandatoryField(t *testing.T) {
	layout := testLayout(t)
	b, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	defer b.Close()

	tx, err := b.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	doc := &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{}}
	err = tx.StageNew(doc)
	require.Error(t, err)
	require.True(t, arherr.Is(err, arherr.KindValidation))
}

func TestEraseBypassesValidationAndFinalizes(t *testing.T) {
	layout := testLayout(t)
	b, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	defer b.Close()

	tx, err := b.Begin()
	require.NoError(t, err)
	doc := &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "hi"}}
	require.NoError(t, tx.StageNew(doc))
	_, err = tx.Commit([]string{"doc1"})
	require.NoError(t, err)

	tx2, err := b.Begin()
	require.NoError(t, err)
	require.NoError(t, tx2.Erase("doc1"))
	_, err = tx2.Commit([]string{"doc1"})
	require.NoError(t, err)

	conn := b.Connect()
	got, err := conn.GetDocument("doc1")
	require.NoError(t, err)
	require.True(t, got.IsErased())
}

func TestRollbackDiscardsStagedWithoutCommit(t *testing.T) {
	layout := testLayout(t)
	b, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	defer b.Close()

	tx, err := b.Begin()
	require.NoError(t, err)
	doc := &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "hi"}}
	require.NoError(t, tx.StageNew(doc))
	tx.Rollback()

	tx2, err := b.Begin()
	require.NoError(t, err)
	defer tx2.Rollback()
	require.Nil(t, tx2.b.State.Head("doc1"))
}

func TestRebuildFromStorageWhenMirrorMissing(t *testing.T) {
	layout := testLayout(t)
	b, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)

	tx, err := b.Begin()
	require.NoError(t, err)
	doc := &types.Document{ID: "doc1", DocumentType: "note", Data: map[string]interface{}{"title": "hi"}}
	require.NoError(t, tx.StageNew(doc))
	_, err = tx.Commit([]string{"doc1"})
	require.NoError(t, err)
	b.Close()

	require.NoError(t, removeFile(layout.StateFile()))

	reopened, err := Open(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)
	defer reopened.Close()

	conn := reopened.Connect()
	got, err := conn.GetDocument("doc1")
	require.NoError(t, err)
	require.Equal(t, "hi", got.Data["title"])
}

func TestRollbackUnlockPublishesBazaUnlockedEvent(t *testing.T) {
	layout := testLayout(t)
	b, err := Create(layout, "hunter2", testSchema(), 1)
	require.NoError(t, err)

	sub := b.Events.Subscribe()
	defer b.Events.Unsubscribe(sub)

	tx, err := b.Begin()
	require.NoError(t, err)
	tx.Rollback()

	select {
	case ev := <-sub:
		require.Equal(t, "baza.unlocked", string(ev.Type))
	case <-time.After(time.Second):
		t.Fatal("expected baza.unlocked event")
	}

	b.Close()
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.gz.age"))
}
