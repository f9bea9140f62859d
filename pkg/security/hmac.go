package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
)

// ComputeCertHMAC computes the hex-encoded HMAC-SHA256 tag over certDER
// under key (the replica's long-term password-derived key), sent as the
// X-Certificate-HMAC-Tag header of every sync request and response
// (spec.md §6). This is what binds the TLS session to proof of the shared
// password without ever transmitting it.
func ComputeCertHMAC(key, certDER []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(certDER)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCertHMAC reports whether tag (hex-encoded) is a valid HMAC-SHA256
// of certDER under key, using a constant-time comparison.
func VerifyCertHMAC(key, certDER []byte, tag string) bool {
	want, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(certDER)
	return hmac.Equal(mac.Sum(nil), want)
}

// VerifyPeerCert checks the HMAC tag presented for a peer's leaf
// certificate, returning a descriptive error on mismatch so callers can
// classify it as a Network-kind failure.
func VerifyPeerCert(key []byte, peerCert *x509.Certificate, tag string) error {
	if peerCert == nil {
		return fmt.Errorf("no peer certificate presented")
	}
	if !VerifyCertHMAC(key, peerCert.Raw, tag) {
		return fmt.Errorf("certificate HMAC tag mismatch")
	}
	return nil
}
