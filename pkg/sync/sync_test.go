package sync

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/arhiv/pkg/blob"
	"github.com/cuemby/arhiv/pkg/events"
	"github.com/cuemby/arhiv/pkg/paths"
	"github.com/cuemby/arhiv/pkg/schema"
	"github.com/cuemby/arhiv/pkg/security"
	"github.com/cuemby/arhiv/pkg/state"
	"github.com/cuemby/arhiv/pkg/worker"
)

func testSchema() schema.DataSchema {
	return schema.New("notes", []schema.DataDescription{
		{
			DocumentType:  "note",
			TitleTemplate: "{title}",
			Fields: []schema.Field{
				{Name: "title", Type: schema.FieldString, Mandatory: true},
				{Name: "attachment", Type: schema.FieldBLOBId},
			},
		},
	})
}

// replica bundles one side of a sync pair: its own layout, state, blob
// store, and self-signed credentials, mirroring what pkg/baza would hold
// for one device.
type replica struct {
	InstanceID string
	Layout     paths.Layout
	State      *state.State
	Blobs      *blob.Store
	Cert       *tls.Certificate
	SharedKey  []byte
}

func newReplica(t *testing.T, instanceID string, sharedKey []byte) *replica {
	t.Helper()
	root := t.TempDir()
	layout := paths.New(root, false)
	require.NoError(t, os.MkdirAll(layout.StateBlobDir(), 0o750))
	require.NoError(t, os.MkdirAll(layout.StorageBlobDir(), 0o750))
	require.NoError(t, os.MkdirAll(layout.StorageDir(), 0o750))

	cert, err := security.IssueSelfSigned(instanceID)
	require.NoError(t, err)

	return &replica{
		InstanceID: instanceID,
		Layout:     layout,
		State:      state.New(testSchema()),
		Blobs:      blob.New(layout, sharedKey),
		Cert:       cert,
		SharedKey:  sharedKey,
	}
}

func newSharedKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func (r *replica) handler(dataVersion int) *Handler {
	return &Handler{
		InstanceID:  r.InstanceID,
		DataVersion: dataVersion,
		SharedKey:   r.SharedKey,
		Cert:        r.Cert,
		State:       r.State,
		Blobs:       r.Blobs,
	}
}

func (r *replica) engine(dataVersion int, pool *worker.Pool, broker *events.Broker) *Engine {
	return &Engine{
		InstanceID:  r.InstanceID,
		DataVersion: dataVersion,
		SharedKey:   r.SharedKey,
		Cert:        r.Cert,
		Layout:      r.Layout,
		Schema:      testSchema(),
		State:       r.State,
		Blobs:       r.Blobs,
		Pool:        pool,
		Events:      broker,
	}
}

// startServer serves h over a real TLS listener and returns its address
// (host:port, no scheme) and a func to shut it down.
func startServer(t *testing.T, h *Handler) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tlsLn := tls.NewListener(ln, h.TLSConfig())
	srv := &http.Server{Handler: h}
	go srv.Serve(tlsLn)
	return ln.Addr().String(), func() { _ = srv.Close() }
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}
