/*
Package crypto implements Arhiv's two C1 primitives from spec.md §4.1: a
password-protected key-file envelope, and streamable authenticated
encryption used for BLOBs, storage containers, and state files.

# Streaming format

A stream begins with a random 16-byte file nonce, followed by a sequence of
64 KiB plaintext chunks, each independently authenticated and encrypted with
ChaCha20-Poly1305 under a key derived (via HKDF-SHA256, keyed on the file
nonce) from the caller's 32-byte key. Every chunk's 12-byte nonce is an
8-byte big-endian chunk counter, three zero bytes, and a 1-byte flag that
is 0 for every chunk but the last, 1 for the last — so a reader that knows the total
ciphertext length can always tell, purely from position, which nonce a
chunk was sealed under, without trial decryption. This mirrors the framing
used by age's STREAM construction, generalized here into a package-local
io.Writer/io.ReadSeeker pair rather than a single-shot CLI-style encrypt
call, because spec.md requires random-access reads (seek to a byte offset
and keep decrypting) that age's own packaging does not expose directly.

Any authentication failure anywhere in a stream is fatal: Reader returns the
error immediately and never yields the unauthenticated bytes it had
buffered.
*/
package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"

	"github.com/cuemby/arhiv/pkg/arherr"
)

const (
	// ChunkSize is the plaintext size of every chunk but the last.
	ChunkSize = 64 * 1024
	// fileNonceSize is the size of the random per-stream nonce stored at
	// the start of every encrypted file.
	fileNonceSize = 16
	// tagSize is the Poly1305 authentication tag appended to every chunk.
	tagSize = chacha20poly1305.Overhead
	// cipherChunkSize is the on-disk size of every chunk but the last.
	cipherChunkSize = ChunkSize + tagSize
)

var hkdfInfo = []byte("arhiv-stream-v1")

func deriveStreamKey(key, fileNonce []byte) ([]byte, error) {
	streamKey := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, key, fileNonce, hkdfInfo)
	if _, err := io.ReadFull(kdf, streamKey); err != nil {
		return nil, fmt.Errorf("derive stream key: %w", err)
	}
	return streamKey, nil
}

func chunkNonce(counter uint64, last bool) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize) // 12 bytes
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)
	copy(nonce[0:8], counterBytes[:])
	// nonce[8:11] stay zero: the counter is a 64-bit value.
	if last {
		nonce[11] = 1
	}
	return nonce
}

// Writer wraps dst with chunked authenticated encryption. Close must be
// called exactly once to emit the final (possibly empty) chunk; failing to
// do so leaves a stream with no valid final tag, which Reader will reject
// as truncated rather than silently accept.
type Writer struct {
	dst     io.Writer
	aead    interface{ Seal([]byte, []byte, []byte, []byte) []byte }
	counter uint64
	buf     []byte
	closed  bool
}

// NewWriter creates a Writer over dst using key (any length; only its
// entropy matters, derivation normalizes it to one 32-byte stream key for
// this file).
func NewWriter(dst io.Writer, key []byte) (*Writer, error) {
	fileNonce := make([]byte, fileNonceSize)
	if _, err := rand.Read(fileNonce); err != nil {
		return nil, fmt.Errorf("generate file nonce: %w", err)
	}
	if _, err := dst.Write(fileNonce); err != nil {
		return nil, fmt.Errorf("write file nonce: %w", err)
	}
	streamKey, err := deriveStreamKey(key, fileNonce)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(streamKey)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Writer{dst: dst, aead: aead, buf: make([]byte, 0, ChunkSize)}, nil
}

// Write buffers p and flushes any full chunks it completes. It never seals
// a chunk as final; only Close does.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed crypto.Writer")
	}
	n := len(p)
	for len(p) > 0 {
		room := ChunkSize - len(w.buf)
		take := room
		if take > len(p) {
			take = len(p)
		}
		w.buf = append(w.buf, p[:take]...)
		p = p[take:]
		if len(w.buf) == ChunkSize {
			if err := w.flush(false); err != nil {
				return n - len(p), err
			}
		}
	}
	return n, nil
}

func (w *Writer) flush(last bool) error {
	nonce := chunkNonce(w.counter, last)
	ciphertext := w.aead.Seal(nil, nonce, w.buf, nil)
	w.counter++
	w.buf = w.buf[:0]
	_, err := w.dst.Write(ciphertext)
	return err
}

// Close seals and writes the final chunk. It is safe to call exactly once;
// the underlying writer is not closed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flush(true)
}

// sizer is the subset of io.Seeker plus Read needed to measure total length.
type sizer interface {
	io.ReadSeeker
}

// Reader wraps a seekable, chunk-encrypted source with random-access
// decryption. The wrapped stream's total plaintext size is computed once at
// construction from the ciphertext length, which is how Reader tells the
// final chunk apart from an ordinary one without trial decryption.
type Reader struct {
	src       sizer
	aead      interface{ Open([]byte, []byte, []byte, []byte) ([]byte, error) }
	fullCipherLen int64 // total ciphertext bytes after the file nonce
	fullChunks    int64 // number of non-final chunks
	finalPlainLen int64 // plaintext length of the final chunk
	plainSize     int64

	pos        int64 // current plaintext read offset
	bufIndex   int64 // chunk index currently decrypted into buf, -1 if none
	buf        []byte
	bufOff     int
}

// NewReader opens a Reader over src, validating the stream's structural
// length up front. It does not decrypt any chunk until Read or Seek demands
// one.
func NewReader(src sizer, key []byte) (*Reader, error) {
	total, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("measure stream length: %w", err)
	}
	if total < fileNonceSize+tagSize {
		return nil, arherr.New(arherr.KindCorruption, "stream too short to contain a file nonce and final chunk")
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to start: %w", err)
	}
	fileNonce := make([]byte, fileNonceSize)
	if _, err := io.ReadFull(src, fileNonce); err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "read file nonce")
	}
	streamKey, err := deriveStreamKey(key, fileNonce)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(streamKey)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	cipherLen := total - fileNonceSize
	fullChunks := cipherLen / cipherChunkSize
	remainder := cipherLen % cipherChunkSize
	if remainder < tagSize {
		return nil, arherr.New(arherr.KindCorruption, "stream missing a valid final chunk")
	}
	finalPlainLen := remainder - tagSize

	r := &Reader{
		src:           src,
		aead:          aead,
		fullCipherLen: cipherLen,
		fullChunks:    fullChunks,
		finalPlainLen: finalPlainLen,
		plainSize:     fullChunks*ChunkSize + finalPlainLen,
		bufIndex:      -1,
	}
	return r, nil
}

// Size returns the total decrypted plaintext size.
func (r *Reader) Size() int64 { return r.plainSize }

func (r *Reader) loadChunk(index int64) error {
	if r.bufIndex == index {
		return nil
	}
	var plainLen int64
	var last bool
	if index < r.fullChunks {
		plainLen = ChunkSize
		last = false
	} else if index == r.fullChunks {
		plainLen = r.finalPlainLen
		last = true
	} else {
		return io.EOF
	}
	cipherOff := fileNonceSize + index*cipherChunkSize
	cipherLen := plainLen + tagSize
	if _, err := r.src.Seek(cipherOff, io.SeekStart); err != nil {
		return fmt.Errorf("seek to chunk %d: %w", index, err)
	}
	ciphertext := make([]byte, cipherLen)
	if _, err := io.ReadFull(r.src, ciphertext); err != nil {
		return arherr.Wrap(arherr.KindCorruption, err, "short read of chunk %d", index)
	}
	nonce := chunkNonce(uint64(index), last)
	plaintext, err := r.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return arherr.Wrap(arherr.KindCorruption, err, "authentication failed on chunk %d", index)
	}
	r.buf = plaintext
	r.bufIndex = index
	r.bufOff = 0
	return nil
}

// Read implements io.Reader, decrypting one chunk at a time as needed.
func (r *Reader) Read(p []byte) (int, error) {
	if r.pos >= r.plainSize {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) && r.pos < r.plainSize {
		chunkIndex := r.pos / ChunkSize
		if err := r.loadChunk(chunkIndex); err != nil {
			return total, err
		}
		offsetInChunk := int(r.pos % ChunkSize)
		n := copy(p[total:], r.buf[offsetInChunk:])
		total += n
		r.pos += int64(n)
	}
	return total, nil
}

// Seek implements io.Seeker. Arbitrary offsets are accepted; the next Read
// snaps internally to the enclosing chunk and discards the leading bytes
// before the requested offset, per spec.md §4.1/§4.7.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		target = r.plainSize + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if target < 0 || target > r.plainSize {
		return 0, fmt.Errorf("seek out of range")
	}
	r.pos = target
	return r.pos, nil
}
