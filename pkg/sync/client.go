package sync

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/arhiv/pkg/arherr"
	"github.com/cuemby/arhiv/pkg/security"
)

// DefaultDiscoveryTimeout and DefaultRequestTimeout are spec.md §5's
// default sync timeouts, both overridable by the caller.
const (
	DefaultDiscoveryTimeout = 8 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
)

// Client talks to one peer's sync endpoint over mutual self-signed TLS,
// authenticated by the HMAC-over-certificate scheme (spec.md §4.8 step 1).
type Client struct {
	Addr      string
	SharedKey []byte
	Cert      *tls.Certificate

	httpClient *http.Client
	peerCert   *x509.Certificate
}

// NewClient opens a probe TLS connection to addr to capture the peer's
// certificate, then returns a Client ready to issue authenticated
// requests. The probe connection is closed immediately; subsequent
// requests use a pooled http.Client presenting the same client
// certificate for mTLS.
func NewClient(ctx context.Context, addr string, sharedKey []byte, cert *tls.Certificate) (*Client, error) {
	return NewClientWithTimeouts(ctx, addr, sharedKey, cert, DefaultDiscoveryTimeout, DefaultRequestTimeout)
}

// NewClientWithTimeouts is NewClient with the discovery dial timeout and
// per-request timeout overridden, per spec.md §5's "both overridable by the
// caller" (pkg/config surfaces these as YAML fields).
func NewClientWithTimeouts(ctx context.Context, addr string, sharedKey []byte, cert *tls.Certificate, discoveryTimeout, requestTimeout time.Duration) (*Client, error) {
	dialer := &net.Dialer{Timeout: discoveryTimeout}
	tlsConf := &tls.Config{
		Certificates:       []tls.Certificate{*cert},
		InsecureSkipVerify: true, // no CA; HMAC tag is the real trust check
		MinVersion:         tls.VersionTLS13,
	}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConf)
	if err != nil {
		return nil, arherr.Wrap(arherr.KindNetwork, err, "dial peer %s", addr)
	}
	peerCerts := conn.ConnectionState().PeerCertificates
	_ = conn.Close()
	if len(peerCerts) == 0 {
		return nil, arherr.New(arherr.KindNetwork, "peer %s presented no certificate", addr)
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConf,
	}
	return &Client{
		Addr:      addr,
		SharedKey: sharedKey,
		Cert:      cert,
		peerCert:  peerCerts[0],
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
	}, nil
}

// verifyResponseTag checks the response-side HMAC tag the peer reports,
// which the peer computes over our own certificate, binding the TLS session
// to proof of the shared key.
func (c *Client) verifyResponseTag(tag string) error {
	return security.VerifyPeerCert(c.SharedKey, c.Cert.Leaf, tag)
}

func (c *Client) requestTag() string {
	return security.ComputeCertHMAC(c.SharedKey, c.peerCert.Raw)
}

// Ping fetches the peer's {instance_id, db_rev} (spec.md §4.8 step 2).
func (c *Client) Ping(ctx context.Context) (PingInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+c.Addr+"/ping", nil)
	if err != nil {
		return PingInfo{}, fmt.Errorf("build ping request: %w", err)
	}
	httpReq.Header.Set(CertHMACHeader, c.requestTag())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PingInfo{}, arherr.Wrap(arherr.KindNetwork, err, "ping peer %s", c.Addr)
	}
	defer resp.Body.Close()

	if err := c.verifyResponseTag(resp.Header.Get(CertHMACHeader)); err != nil {
		return PingInfo{}, arherr.Wrap(arherr.KindNetwork, err, "peer %s failed certificate authentication", c.Addr)
	}
	if resp.StatusCode != http.StatusOK {
		return PingInfo{}, fmt.Errorf("unexpected status %d pinging peer %s", resp.StatusCode, c.Addr)
	}
	var info PingInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return PingInfo{}, fmt.Errorf("decode ping response: %w", err)
	}
	return info, nil
}

// PullChangeset issues POST /changeset against the peer.
func (c *Client) PullChangeset(ctx context.Context, req ChangesetRequest) (*ChangesetResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal changeset request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+c.Addr+"/changeset", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build changeset request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(CertHMACHeader, c.requestTag())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, arherr.Wrap(arherr.KindNetwork, err, "changeset request to %s", c.Addr)
	}
	defer resp.Body.Close()

	if err := c.verifyResponseTag(resp.Header.Get(CertHMACHeader)); err != nil {
		return nil, arherr.Wrap(arherr.KindNetwork, err, "peer %s failed certificate authentication", c.Addr)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var out ChangesetResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode changeset response: %w", err)
		}
		return &out, nil
	case http.StatusConflict:
		return nil, arherr.New(arherr.KindConflict, "peer %s has a different data_version", c.Addr)
	case http.StatusUnauthorized:
		return nil, arherr.New(arherr.KindNetwork, "peer %s rejected our certificate tag", c.Addr)
	default:
		return nil, fmt.Errorf("unexpected status %d from peer %s", resp.StatusCode, c.Addr)
	}
}

// FetchBlob GETs /blobs/<hash> from the peer, optionally resuming from
// offset bytes already written locally. The caller is responsible for
// writing the returned body to a temp path and renaming into place only
// once fully received (spec.md §4.8 step 5).
func (c *Client) FetchBlob(ctx context.Context, hash string, offset int64) (io.ReadCloser, int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+c.Addr+"/blobs/"+hash, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build blob request: %w", err)
	}
	httpReq.Header.Set(CertHMACHeader, c.requestTag())
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, arherr.Wrap(arherr.KindNetwork, err, "blob request to %s", c.Addr)
	}

	if err := c.verifyResponseTag(resp.Header.Get(CertHMACHeader)); err != nil {
		resp.Body.Close()
		return nil, 0, arherr.Wrap(arherr.KindNetwork, err, "peer %s failed certificate authentication", c.Addr)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return resp.Body, resp.ContentLength, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, 0, arherr.New(arherr.KindNotFound, "blob %s not found on peer %s", hash, c.Addr)
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("range not satisfiable fetching blob %s from %s", hash, c.Addr)
	default:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected status %d fetching blob %s from %s", resp.StatusCode, hash, c.Addr)
	}
}

// Close releases the client's pooled connections.
func (c *Client) Close() {
	if t, ok := c.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
