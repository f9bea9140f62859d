package blob

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/arhiv/pkg/paths"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	layout := paths.New(root, false)
	require.NoError(t, os.MkdirAll(layout.StateBlobDir(), 0o750))
	require.NoError(t, os.MkdirAll(layout.StorageBlobDir(), 0o750))
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return New(layout, key)
}

func TestAddThenOpenRoundTrip(t *testing.T) {
	s := newStore(t)
	data := make([]byte, 200000)
	_, err := rand.Read(data)
	require.NoError(t, err)

	hash, err := s.Add(bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, ValidHash(hash))
	require.True(t, s.Exists(hash))

	r, closeFn, err := s.Open(hash)
	require.NoError(t, err)
	defer closeFn()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestAddEmptyBlob(t *testing.T) {
	s := newStore(t)
	hash, err := s.Add(bytes.NewReader(nil))
	require.NoError(t, err)

	size, err := s.GetSize(hash)
	require.NoError(t, err)
	require.Equal(t, int64(0), size)
}

func TestAddDedupsIdenticalContent(t *testing.T) {
	s := newStore(t)
	data := []byte("same content every time")

	h1, err := s.Add(bytes.NewReader(data))
	require.NoError(t, err)
	h2, err := s.Add(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	entries, err := os.ReadDir(s.layout.StateBlobDir())
	require.NoError(t, err)
	// exactly one blob file plus the .tmp dir
	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestOpenUnknownHashFails(t *testing.T) {
	s := newStore(t)
	_, _, err := s.Open("0000000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)

	_, _, err = s.Open("not-a-hash")
	require.Error(t, err)
}

func TestRangeReader(t *testing.T) {
	s := newStore(t)
	data := []byte("abcdefghijklmnopqrstuvwxyz")
	hash, err := s.Add(bytes.NewReader(data))
	require.NoError(t, err)

	r, closeFn, err := s.RangeReader(hash, 5, 9)
	require.NoError(t, err)
	defer closeFn()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []byte("fghij"), got)
}

func TestPromoteToStorageMovesBlobAndClearsStaged(t *testing.T) {
	s := newStore(t)
	data := []byte("promote me")
	hash, err := s.Add(bytes.NewReader(data))
	require.NoError(t, err)

	require.NoError(t, s.PromoteToStorage([]string{hash}))

	_, err = os.Stat(s.layout.StagedBlobPath(hash))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.layout.CommittedBlobPath(hash))
	require.NoError(t, err)

	r, closeFn, err := s.Open(hash)
	require.NoError(t, err)
	defer closeFn()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPromoteToStorageReportsMissingBlob(t *testing.T) {
	s := newStore(t)
	err := s.PromoteToStorage([]string{"ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"})
	require.Error(t, err)
}

func TestSweepStagedOrphansRemovesUnreferenced(t *testing.T) {
	s := newStore(t)
	kept, err := s.Add(bytes.NewReader([]byte("kept")))
	require.NoError(t, err)
	orphan, err := s.Add(bytes.NewReader([]byte("orphan")))
	require.NoError(t, err)

	require.NoError(t, s.SweepStagedOrphans(map[string]struct{}{kept: {}}))

	require.True(t, s.Exists(kept))
	require.False(t, s.Exists(orphan))
}

func TestSweepStorageOrphansRemovesUnreferenced(t *testing.T) {
	s := newStore(t)
	kept, err := s.Add(bytes.NewReader([]byte("kept")))
	require.NoError(t, err)
	orphan, err := s.Add(bytes.NewReader([]byte("orphan")))
	require.NoError(t, err)
	require.NoError(t, s.PromoteToStorage([]string{kept, orphan}))

	require.NoError(t, s.SweepStorageOrphans(map[string]struct{}{kept: {}}))

	require.True(t, s.Exists(kept))
	require.False(t, s.Exists(orphan))
}

func TestTamperedBlobFailsAuthentication(t *testing.T) {
	s := newStore(t)
	hash, err := s.Add(bytes.NewReader([]byte("authentic content")))
	require.NoError(t, err)

	path := s.layout.StagedBlobPath(hash)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	r, closeFn, err := s.Open(hash)
	require.NoError(t, err)
	defer closeFn()
	_, err = io.ReadAll(r)
	require.Error(t, err)
}

func TestAddConcurrentSameContentIsSafe(t *testing.T) {
	s := newStore(t)
	data := bytes.Repeat([]byte("x"), 5000)

	const n = 8
	hashes := make([]string, n)
	errs := make([]error, n)
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			hashes[i], errs[i] = s.Add(bytes.NewReader(data))
			done <- i
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, hashes[0], hashes[i])
	}
}

