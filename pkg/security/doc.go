/*
Package security provides Arhiv's peer-authentication primitives: one
self-signed TLS certificate per instance, and an HMAC-SHA256 tag over that
certificate's DER bytes keyed by the shared password-derived key.

There is no certificate authority. Trust comes from both peers already
holding the same long-term key (derived from the user's password); TLS
just gives the sync connection confidentiality and integrity, while the
HMAC tag on every request and response proves the peer on the other end
actually holds that key (spec.md §6's "mutual authentication" step).

	issue cert  →  TLS handshake  →  exchange X-Certificate-HMAC-Tag
	(self-signed)   (confidentiality)   (proof of shared password)

A certificate nearing expiry (CertNeedsRotation) should be reissued and
saved before the next sync attempt; a stale certificate is otherwise
harmless since the HMAC tag, not the certificate's signature chain, is
what authenticates the peer.
*/
package security
