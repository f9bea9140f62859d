package sync

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/arhiv/pkg/security"
	"github.com/cuemby/arhiv/pkg/types"
)

// rawClient dials addr presenting clientCert, without any of Client's
// HMAC bookkeeping, so tests can exercise the handler's authentication
// path directly (correct tag, missing tag, wrong tag).
func rawClient(clientCert *tls.Certificate) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates:       []tls.Certificate{*clientCert},
				InsecureSkipVerify: true,
			},
		},
	}
}

func TestHandlerRejectsMissingOrWrongHMACTag(t *testing.T) {
	sharedKey := newSharedKey(t)
	server := newReplica(t, "peer-a", sharedKey)
	addr, stop := startServer(t, server.handler(1))
	defer stop()

	clientSide := newReplica(t, "peer-b", sharedKey)
	httpClient := rawClient(clientSide.Cert)

	req, err := http.NewRequest(http.MethodGet, "https://"+addr+"/ping", nil)
	require.NoError(t, err)
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req2, err := http.NewRequest(http.MethodGet, "https://"+addr+"/ping", nil)
	require.NoError(t, err)
	req2.Header.Set(CertHMACHeader, "not-a-valid-tag")
	resp2, err := httpClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestHandlerAcceptsValidHMACTagAndAnswersPing(t *testing.T) {
	sharedKey := newSharedKey(t)
	server := newReplica(t, "peer-a", sharedKey)
	addr, stop := startServer(t, server.handler(1))
	defer stop()

	clientSide := newReplica(t, "peer-b", sharedKey)
	httpClient := rawClient(clientSide.Cert)

	tag := security.ComputeCertHMAC(sharedKey, server.Cert.Leaf.Raw)
	req, err := http.NewRequest(http.MethodGet, "https://"+addr+"/ping", nil)
	require.NoError(t, err)
	req.Header.Set(CertHMACHeader, tag)

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the server's response tag must be a valid HMAC over the client's
	// own certificate (the other side of the mutual binding)
	respTag := resp.Header.Get(CertHMACHeader)
	require.NoError(t, security.VerifyPeerCert(sharedKey, clientSide.Cert.Leaf, respTag))

	var info PingInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, "peer-a", info.InstanceID)
}

func TestHandleChangesetRejectsDataVersionMismatchAndFiltersByRev(t *testing.T) {
	sharedKey := newSharedKey(t)
	server := newReplica(t, "peer-a", sharedKey)

	require.NoError(t, server.State.StageNew("doc-1", &types.Document{ID: "doc-1", DocumentType: "note", Data: map[string]interface{}{"title": "first"}}))
	_, err := server.State.Commit("doc-1", "peer-a")
	require.NoError(t, err)

	addr, stop := startServer(t, server.handler(1))
	defer stop()

	clientSide := newReplica(t, "peer-b", sharedKey)
	httpClient := rawClient(clientSide.Cert)
	tag := security.ComputeCertHMAC(sharedKey, server.Cert.Leaf.Raw)

	doPost := func(body ChangesetRequest) *http.Response {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, "https://"+addr+"/changeset", bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set(CertHMACHeader, tag)
		resp, err := httpClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := doPost(ChangesetRequest{InstanceID: "peer-b", DataVersion: 99})
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp2 := doPost(ChangesetRequest{InstanceID: "peer-b", DataVersion: 1})
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var out ChangesetResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&out))
	require.Len(t, out.Snapshots, 1)
	require.Equal(t, "doc-1", out.Snapshots[0].ID)
}

func TestHandleBlobServesRangesAnd404(t *testing.T) {
	sharedKey := newSharedKey(t)
	server := newReplica(t, "peer-a", sharedKey)
	payload := bytes.Repeat([]byte("x"), 100)
	hash, err := server.Blobs.Add(bytes.NewReader(payload))
	require.NoError(t, err)

	addr, stop := startServer(t, server.handler(1))
	defer stop()

	clientSide := newReplica(t, "peer-b", sharedKey)
	httpClient := rawClient(clientSide.Cert)
	tag := security.ComputeCertHMAC(sharedKey, server.Cert.Leaf.Raw)

	get := func(path, rangeHeader string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, "https://"+addr+path, nil)
		require.NoError(t, err)
		req.Header.Set(CertHMACHeader, tag)
		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}
		resp, err := httpClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	full := get("/blobs/"+hash, "")
	defer full.Body.Close()
	require.Equal(t, http.StatusOK, full.StatusCode)
	body, err := io.ReadAll(full.Body)
	require.NoError(t, err)
	require.Equal(t, payload, body)

	partial := get("/blobs/"+hash, "bytes=50-")
	defer partial.Body.Close()
	require.Equal(t, http.StatusPartialContent, partial.StatusCode)
	body2, err := io.ReadAll(partial.Body)
	require.NoError(t, err)
	require.Equal(t, payload[50:], body2)

	missing := get("/blobs/deadbeef", "")
	defer missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}
