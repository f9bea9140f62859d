package sync

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuemby/arhiv/pkg/arherr"
	"github.com/cuemby/arhiv/pkg/blob"
	"github.com/cuemby/arhiv/pkg/log"
	"github.com/cuemby/arhiv/pkg/metrics"
	"github.com/cuemby/arhiv/pkg/revision"
	"github.com/cuemby/arhiv/pkg/security"
	"github.com/cuemby/arhiv/pkg/state"
	"github.com/cuemby/arhiv/pkg/types"
)

// Handler serves one replica's sync endpoints to an authenticated peer.
// It never assigns revisions and never writes outside the BLOB store;
// applying a pulled changeset to local state is the client's job.
type Handler struct {
	InstanceID  string
	DataVersion int
	SharedKey   []byte
	Cert        *tls.Certificate
	State       *state.State
	Blobs       *blob.Store
}

// TLSConfig returns the server-side TLS configuration for this handler's
// certificate: self-signed, no CA, client certificates requested but
// verified only by the HMAC tag carried on the request, never by chain
// validation (spec.md §4.8 step 1 — there is no certificate authority).
func (h *Handler) TLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*h.Cert},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
			return nil
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	if len(r.TLS.PeerCertificates) > 0 {
		tag := security.ComputeCertHMAC(h.SharedKey, r.TLS.PeerCertificates[0].Raw)
		w.Header().Set(CertHMACHeader, tag)
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/ping":
		h.handlePing(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/changeset":
		h.handleChangeset(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/blobs/"):
		h.handleBlob(w, r, strings.TrimPrefix(r.URL.Path, "/blobs/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(PingInfo{
		InstanceID: h.InstanceID,
		DBRev:      h.State.DBRevision(),
	})
}

// authenticate verifies the request's X-Certificate-HMAC-Tag is a valid
// HMAC of this server's own certificate under the shared key — only a
// peer holding that key could have computed it after seeing the
// certificate during the TLS handshake (spec.md §4.8 step 1).
func (h *Handler) authenticate(r *http.Request) error {
	tag := r.Header.Get(CertHMACHeader)
	if tag == "" {
		return fmt.Errorf("missing %s header", CertHMACHeader)
	}
	if !security.VerifyCertHMAC(h.SharedKey, h.Cert.Leaf.Raw, tag) {
		return fmt.Errorf("certificate HMAC tag mismatch")
	}
	return nil
}

func (h *Handler) handleChangeset(w http.ResponseWriter, r *http.Request) {
	var req ChangesetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode changeset request: %w", err))
		return
	}
	if req.DataVersion != h.DataVersion {
		writeError(w, http.StatusConflict, fmt.Errorf("data_version mismatch: have %d, requester has %d", h.DataVersion, req.DataVersion))
		return
	}

	var snapshots []*types.Document
	for _, id := range h.State.AllIDs() {
		head := h.State.Head(id)
		if head == nil {
			continue
		}
		for _, doc := range head.CommittedSnapshots() {
			if doc == nil {
				continue
			}
			// include unless doc.Rev <= req.Rev (spec.md §4.8 step 3)
			switch doc.Rev.Compare(req.Rev) {
			case revision.OrderBefore, revision.OrderEqual:
			default:
				snapshots = append(snapshots, doc)
			}
		}
	}

	resp := ChangesetResponse{
		Snapshots: snapshots,
		LatestRev: h.State.DBRevision(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)

	log.WithInstanceID(h.InstanceID).Info().
		Int("snapshot_count", len(snapshots)).
		Str("requester", req.InstanceID).
		Msg("served changeset pull")
}

func (h *Handler) handleBlob(w http.ResponseWriter, r *http.Request, hash string) {
	if !blob.ValidHash(hash) {
		writeError(w, http.StatusNotFound, fmt.Errorf("invalid blob id"))
		return
	}
	size, err := h.Blobs.GetSize(hash)
	if err != nil {
		if arherr.Is(err, arherr.KindNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	start, end, status, err := parseRange(r.Header.Get("Range"), size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, err)
		return
	}

	reader, closeFn, err := h.Blobs.RangeReader(hash, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer closeFn()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	}
	w.WriteHeader(status)
	n, _ := io.Copy(w, reader)
	metrics.BlobBytesTransferred.WithLabelValues("sent").Add(float64(n))
}

// parseRange parses a "bytes=a-b" Range header against size, returning the
// inclusive byte bounds and the response status (200 when there is no Range
// header, 206 for a satisfiable one). A malformed or unsatisfiable range
// returns an error.
func parseRange(header string, size int64) (start, end int64, status int, err error) {
	if header == "" {
		return 0, size - 1, http.StatusOK, nil
	}
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("malformed Range header")
	}
	if parts[0] == "" {
		// suffix range: last N bytes
		n, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, 0, fmt.Errorf("malformed suffix range")
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, http.StatusPartialContent, nil
	}
	start, perr := strconv.ParseInt(parts[0], 10, 64)
	if perr != nil {
		return 0, 0, 0, fmt.Errorf("malformed range start")
	}
	if parts[1] == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("malformed range end")
		}
	}
	if start < 0 || end < start || start >= size || end >= size {
		return 0, 0, 0, fmt.Errorf("range out of bounds for size %d", size)
	}
	return start, end, http.StatusPartialContent, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error()})
}
