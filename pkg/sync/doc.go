/*
Package sync implements Arhiv's peer-to-peer sync protocol (spec.md §4.8,
wire format in §6): mutual HMAC-over-certificate authentication over
self-signed mTLS, followed by a ping/changeset/blob-fetch exchange that
pulls committed snapshots the caller doesn't yet have.

# Wire shape

	POST /changeset  {instance_id, rev, data_version} -> {snapshots, latest_rev} | 409
	GET  /blobs/<id>  [Range: bytes=a-b]              -> 200/206 body | 404 | 416

Every request and response carries X-Certificate-HMAC-Tag: the sender's
HMAC-SHA256 (keyed by the shared password-derived key) over the other
side's TLS certificate DER. Both sides present a self-signed leaf
certificate (package security); there is no certificate authority, so
chain validation is disabled and the HMAC tag is what actually proves the
peer holds the shared key (spec.md §4.8 step 1).

# Round shape

A sync round against one peer is: dial and authenticate, exchange pings
({instance_id, db_rev}), and if the peer's revision is concurrent with or
newer than local, pull its changeset, apply every incoming snapshot to
local state (pkg/state.ApplyIncomingSnapshot), persist the applied
snapshots as a new storage container, then fetch any BLOB referenced by a
newly-applied snapshot that isn't already present locally. The protocol
never assigns revisions itself — only a local commit does that — so a
sync round transfers committed snapshots exactly as received.

Cancellation closes the in-flight network reader and discards any
partially-written BLOB; a cancelled round reports no change rather than a
partial one.
*/
package sync
