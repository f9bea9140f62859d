package paths

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProdVsDevDirsDiffer(t *testing.T) {
	prod := New("/vault", false)
	dev := New("/vault", true)

	require.NotEqual(t, prod.StorageDir(), dev.StorageDir())
	require.NotEqual(t, prod.StateDir(), dev.StateDir())
	require.Contains(t, dev.StorageDir(), "storage-debug")
}

func TestStateNeverUnderStorage(t *testing.T) {
	l := New("/vault", false)
	require.NotContains(t, l.StateDir(), l.StorageDir())
	require.NotContains(t, l.LockFile(), l.StorageDir())
}

func TestIsContainerFile(t *testing.T) {
	require.True(t, IsContainerFile("baza.gz.age"))
	require.True(t, IsContainerFile(NewContainerName("instance-a", 3)))
	require.False(t, IsContainerFile("key.age"))
	require.False(t, IsContainerFile("notes.txt"))
}

func TestBlobPathsAreContentAddressed(t *testing.T) {
	l := New("/vault", false)
	a := l.CommittedBlobPath("deadbeef")
	b := l.CommittedBlobPath("deadbeef")
	require.Equal(t, a, b)
	require.NotEqual(t, a, l.CommittedBlobPath("other"))
	require.NotEqual(t, l.CommittedBlobPath("deadbeef"), l.StagedBlobPath("deadbeef"))
}
