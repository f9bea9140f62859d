package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/cuemby/arhiv/pkg/arherr"
)

// keyFileMagic prefixes the wrapped payload as a second, independent check
// after AEAD authentication before the recovered key is trusted. OpenKeyFile
// reports a truncated salt or params block as KindCorruption; an AEAD or
// magic failure of the wrapped key is KindLocked whether the cause is a
// wrong password or a damaged envelope, and the two are not told apart.
var keyFileMagic = []byte("ARHIVKEY1")

const (
	scryptSaltSize  = 16
	scryptParamsSize = 12 // three big-endian uint32: N, r, p
	longTermKeySize = 32
)

// ScryptParams controls the cost of the password KDF. DefaultScryptParams is
// tuned for interactive unlocks on commodity hardware; DevScryptParams
// trades security for near-instant unlocks in `storage-debug` dev mode
// (spec.md §6 Environment), matching the same relaxation the teacher's
// config applies to other expensive startup checks.
type ScryptParams struct {
	N, R, P int
}

var DefaultScryptParams = ScryptParams{N: 1 << 15, R: 8, P: 1}
var DevScryptParams = ScryptParams{N: 1 << 10, R: 8, P: 1}

// KeyFile is the on-disk envelope wrapping a replica's long-term 32-byte
// encryption key under a password, per spec.md §4.1 and §4.9. Losing the
// password with no recovery mechanism configured means permanent data loss,
// by design: there is no backdoor key.
type KeyFile struct{}

// GenerateKeyFile creates a fresh random 32-byte long-term key and writes it,
// wrapped under password at DefaultScryptParams cost, to w.
func GenerateKeyFile(w io.Writer, password string) (longTermKey []byte, err error) {
	return GenerateKeyFileWithParams(w, password, DefaultScryptParams)
}

// GenerateKeyFileWithParams is GenerateKeyFile with an explicit KDF cost,
// e.g. DevScryptParams under `storage-debug`.
func GenerateKeyFileWithParams(w io.Writer, password string, params ScryptParams) (longTermKey []byte, err error) {
	longTermKey = make([]byte, longTermKeySize)
	if _, err := rand.Read(longTermKey); err != nil {
		return nil, fmt.Errorf("generate long-term key: %w", err)
	}
	if err := writeKeyFile(w, password, longTermKey, params); err != nil {
		return nil, err
	}
	return longTermKey, nil
}

// Rewrap re-encrypts an existing long-term key under a new password, e.g.
// for spec.md's password-change operation. The long-term key itself, and
// therefore every document and blob encrypted under it, is untouched.
func Rewrap(w io.Writer, newPassword string, longTermKey []byte) error {
	return writeKeyFile(w, newPassword, longTermKey, DefaultScryptParams)
}

func writeKeyFile(w io.Writer, password string, longTermKey []byte, params ScryptParams) error {
	salt := make([]byte, scryptSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate scrypt salt: %w", err)
	}
	if _, err := w.Write(salt); err != nil {
		return fmt.Errorf("write scrypt salt: %w", err)
	}
	paramBytes := make([]byte, scryptParamsSize)
	binary.BigEndian.PutUint32(paramBytes[0:4], uint32(params.N))
	binary.BigEndian.PutUint32(paramBytes[4:8], uint32(params.R))
	binary.BigEndian.PutUint32(paramBytes[8:12], uint32(params.P))
	if _, err := w.Write(paramBytes); err != nil {
		return fmt.Errorf("write scrypt params: %w", err)
	}
	wrapKey, err := deriveWrapKey(password, salt, params)
	if err != nil {
		return err
	}
	sw, err := NewWriter(w, wrapKey)
	if err != nil {
		return fmt.Errorf("init key-file envelope: %w", err)
	}
	payload := append(append([]byte{}, keyFileMagic...), longTermKey...)
	if _, err := sw.Write(payload); err != nil {
		return fmt.Errorf("write wrapped key: %w", err)
	}
	return sw.Close()
}

// OpenKeyFile reads a key file from r (which must support seeking, since the
// envelope is read via the shared streaming Reader) and recovers the
// long-term key using password. A wrong password and a corrupted file are
// both reported as arherr.KindLocked, matching spec.md §7's grouping of
// "wrong password" under the lock-class of errors: both mean the store
// cannot be opened right now, and neither is actionable by retrying the same
// operation.
func OpenKeyFile(r sizer, password string) ([]byte, error) {
	salt := make([]byte, scryptSaltSize)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "read scrypt salt")
	}
	paramBytes := make([]byte, scryptParamsSize)
	if _, err := io.ReadFull(r, paramBytes); err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "read scrypt params")
	}
	params := ScryptParams{
		N: int(binary.BigEndian.Uint32(paramBytes[0:4])),
		R: int(binary.BigEndian.Uint32(paramBytes[4:8])),
		P: int(binary.BigEndian.Uint32(paramBytes[8:12])),
	}
	wrapKey, err := deriveWrapKey(password, salt, params)
	if err != nil {
		return nil, err
	}
	sr, err := NewReader(&offsetReader{r: r, base: scryptSaltSize + scryptParamsSize}, wrapKey)
	if err != nil {
		return nil, arherr.Wrap(arherr.KindLocked, err, "wrong password or corrupted key file")
	}
	payload := make([]byte, sr.Size())
	if _, err := io.ReadFull(sr, payload); err != nil {
		return nil, arherr.Wrap(arherr.KindLocked, err, "wrong password or corrupted key file")
	}
	if len(payload) < len(keyFileMagic) || !bytes.Equal(payload[:len(keyFileMagic)], keyFileMagic) {
		return nil, arherr.New(arherr.KindLocked, "wrong password")
	}
	return payload[len(keyFileMagic):], nil
}

func deriveWrapKey(password string, salt []byte, params ScryptParams) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, longTermKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key-file wrap key: %w", err)
	}
	return key, nil
}

// offsetReader presents r's bytes starting at base as if they began at
// offset 0, so NewReader's internal length/seek arithmetic over the
// streaming envelope does not need to know about the salt and param prefix.
type offsetReader struct {
	r    sizer
	base int64
}

func (o *offsetReader) Read(p []byte) (int, error) {
	return o.r.Read(p)
}

func (o *offsetReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		n, err := o.r.Seek(o.base+offset, io.SeekStart)
		return n - o.base, err
	case io.SeekCurrent:
		n, err := o.r.Seek(offset, io.SeekCurrent)
		return n - o.base, err
	case io.SeekEnd:
		n, err := o.r.Seek(offset, io.SeekEnd)
		return n - o.base, err
	}
	return 0, fmt.Errorf("invalid whence %d", whence)
}
