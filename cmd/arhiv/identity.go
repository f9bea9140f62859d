package main

import (
	"crypto/tls"
	"fmt"
	"path/filepath"

	"github.com/cuemby/arhiv/pkg/baza"
	"github.com/cuemby/arhiv/pkg/security"
)

// syncIdentity loads or mints this replica's sync certificate, stored
// alongside the rest of its private state, rotating it when close to
// expiry (spec.md §6's 90-day validity / 30-day rotation window).
func syncIdentity(b *baza.Baza) (*tls.Certificate, error) {
	certDir := filepath.Join(b.Layout.StateDir(), "cert")
	if security.CertExists(certDir) {
		cert, err := security.LoadCertFromFile(certDir)
		if err == nil && !security.CertNeedsRotation(cert.Leaf) {
			return cert, nil
		}
	}
	cert, err := security.IssueSelfSigned(b.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("issue sync certificate: %w", err)
	}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return nil, fmt.Errorf("save sync certificate: %w", err)
	}
	return cert, nil
}
