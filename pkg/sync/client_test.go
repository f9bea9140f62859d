package sync

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/arhiv/pkg/arherr"
	"github.com/cuemby/arhiv/pkg/types"
)

func TestClientPingAndPullChangeset(t *testing.T) {
	sharedKey := newSharedKey(t)
	server := newReplica(t, "peer-a", sharedKey)
	require.NoError(t, server.State.StageNew("doc-1", &types.Document{ID: "doc-1", DocumentType: "note", Data: map[string]interface{}{"title": "first"}}))
	_, err := server.State.Commit("doc-1", "peer-a")
	require.NoError(t, err)

	addr, stop := startServer(t, server.handler(1))
	defer stop()

	clientSide := newReplica(t, "peer-b", sharedKey)
	client, err := NewClient(ctxT(t), addr, sharedKey, clientSide.Cert)
	require.NoError(t, err)
	defer client.Close()

	info, err := client.Ping(ctxT(t))
	require.NoError(t, err)
	require.Equal(t, "peer-a", info.InstanceID)
	require.NotEmpty(t, info.DBRev)

	resp, err := client.PullChangeset(ctxT(t), ChangesetRequest{InstanceID: "peer-b", DataVersion: 1})
	require.NoError(t, err)
	require.Len(t, resp.Snapshots, 1)
	require.Equal(t, "doc-1", resp.Snapshots[0].ID)

	_, err = client.PullChangeset(ctxT(t), ChangesetRequest{InstanceID: "peer-b", DataVersion: 2})
	require.Error(t, err)
	require.True(t, arherr.Is(err, arherr.KindConflict))
}

func TestClientFetchBlobNotFound(t *testing.T) {
	sharedKey := newSharedKey(t)
	server := newReplica(t, "peer-a", sharedKey)
	addr, stop := startServer(t, server.handler(1))
	defer stop()

	clientSide := newReplica(t, "peer-b", sharedKey)
	client, err := NewClient(ctxT(t), addr, sharedKey, clientSide.Cert)
	require.NoError(t, err)
	defer client.Close()

	_, _, err = client.FetchBlob(ctxT(t), strings.Repeat("0", 64), 0)
	require.Error(t, err)
	require.True(t, arherr.Is(err, arherr.KindNotFound))
}

func TestClientFetchBlobFull(t *testing.T) {
	sharedKey := newSharedKey(t)
	server := newReplica(t, "peer-a", sharedKey)
	payload := bytes.Repeat([]byte("y"), 4096)
	hash, err := server.Blobs.Add(bytes.NewReader(payload))
	require.NoError(t, err)

	addr, stop := startServer(t, server.handler(1))
	defer stop()

	clientSide := newReplica(t, "peer-b", sharedKey)
	client, err := NewClient(ctxT(t), addr, sharedKey, clientSide.Cert)
	require.NoError(t, err)
	defer client.Close()

	body, total, err := client.FetchBlob(ctxT(t), hash, 0)
	require.NoError(t, err)
	defer body.Close()
	require.Equal(t, int64(len(payload)), total)
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
