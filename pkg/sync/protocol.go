package sync

import (
	"github.com/cuemby/arhiv/pkg/revision"
	"github.com/cuemby/arhiv/pkg/types"
)

// CertHMACHeader carries the sender's HMAC-SHA256 tag (hex-encoded, keyed
// by the shared password-derived key) over the other side's certificate
// DER bytes, on every request and response (spec.md §6).
const CertHMACHeader = "X-Certificate-HMAC-Tag"

// PingInfo is what each side reports when a sync round opens.
type PingInfo struct {
	InstanceID string            `json:"instance_id"`
	DBRev      revision.Revision `json:"db_rev"`
}

// ChangesetRequest is the body of POST /changeset.
type ChangesetRequest struct {
	InstanceID  string            `json:"instance_id"`
	Rev         revision.Revision `json:"rev"`
	DataVersion int               `json:"data_version"`
}

// ChangesetResponse is the body of a successful POST /changeset.
type ChangesetResponse struct {
	Snapshots []*types.Document `json:"snapshots"`
	LatestRev revision.Revision `json:"latest_rev"`
}

// errorBody is the JSON body of a non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}
