/*
Package container implements Arhiv's storage container format (spec.md
§4.3): an encrypted, gzip-compressed, line-oriented append log. Once
decrypted (via pkg/crypto) and gunzipped, a container is:

	<index JSON array of line keys>\n
	info\n<info line JSON>\n
	<doc-key-1>\n<doc-snapshot-1 JSON>\n
	<doc-key-2>\n<doc-snapshot-2 JSON>\n
	...

The index line lets a reader confirm it consumed exactly the number of
lines it was promised; anything else (too few, too many, a key mismatch) is
corruption, not a recoverable short read.
*/
package container

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cuemby/arhiv/pkg/arherr"
	arhcrypto "github.com/cuemby/arhiv/pkg/crypto"
	"github.com/cuemby/arhiv/pkg/types"
)

// Info is the container's metadata line.
type Info struct {
	SchemaName    string    `json:"schema_name"`
	DataVersion   int       `json:"data_version"`
	HashAlgorithm string    `json:"hash_algorithm"`
	CreatedAt     time.Time `json:"created_at"`
}

// Entry is one (DocumentKey, snapshot) pair from a container.
type Entry struct {
	Key      types.DocumentKey
	Document *types.Document
}

// Container is a fully decoded in-memory container, ready to be merged,
// queried, or re-serialized as an append.
type Container struct {
	Info    Info
	Entries []Entry
}

const infoLineKey = "info"

// ReadAll reads and decodes every entry out of r, the already-opened
// plaintext side of a pkg/crypto.Reader (decryption happens lazily as
// ReadAll consumes it), validating the index against what was actually
// read.
func ReadAll(r io.Reader) (*Container, error) {
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "read decrypted container")
	}
	return readAllFrom(plain)
}

// readAllFrom decodes a container already fully decrypted into memory; split
// out so tests can exercise the line-format logic without the crypto layer.
func readAllFrom(plain []byte) (*Container, error) {
	gz, err := gzip.NewReader(bytes.NewReader(plain))
	if err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "open gzip stream")
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	if !scanner.Scan() {
		return nil, arherr.New(arherr.KindCorruption, "container missing index line")
	}
	var index []string
	if err := json.Unmarshal(scanner.Bytes(), &index); err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "decode index line")
	}

	lines := make([]string, 0, len(index)*2)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, arherr.Wrap(arherr.KindCorruption, err, "scan container body")
	}

	if len(lines) != len(index)*2 {
		return nil, arherr.New(arherr.KindCorruption,
			"index promised %d entries but body has %d lines", len(index), len(lines))
	}

	c := &Container{}
	pos := 0
	for i, key := range index {
		gotKey := lines[pos]
		valueLine := lines[pos+1]
		pos += 2
		if gotKey != key {
			return nil, arherr.New(arherr.KindCorruption,
				"index entry %d key %q does not match body key %q", i, key, gotKey)
		}
		if key == infoLineKey {
			if err := json.Unmarshal([]byte(valueLine), &c.Info); err != nil {
				return nil, arherr.Wrap(arherr.KindCorruption, err, "decode info line")
			}
			continue
		}
		docKey, err := parseDocumentKey(key)
		if err != nil {
			return nil, err
		}
		var doc types.Document
		if err := json.Unmarshal([]byte(valueLine), &doc); err != nil {
			return nil, arherr.Wrap(arherr.KindCorruption, err, "decode snapshot for %s", key)
		}
		c.Entries = append(c.Entries, Entry{Key: docKey, Document: &doc})
	}
	return c, nil
}

func parseDocumentKey(s string) (types.DocumentKey, error) {
	// Line keys for documents are produced exclusively by String() below, so
	// parsing only needs to reverse that exact format: "<id>@<rev>".
	for i := 0; i < len(s); i++ {
		if s[i] == '@' {
			id := s[:i]
			rev, err := parseRevision(s[i+1:])
			if err != nil {
				return types.DocumentKey{}, err
			}
			return types.DocumentKey{ID: id, Rev: rev}, nil
		}
	}
	return types.DocumentKey{}, arherr.New(arherr.KindCorruption, "malformed document key %q", s)
}

// Write streams a full container (info line plus all entries, sorted by
// key) to w under AEAD encryption, gzip-compressed. This is always used to
// produce a brand new file; appends at a higher level write only the new
// entries as a fresh container file, per spec.md's never-mutate-in-place
// rule.
func Write(w io.Writer, key []byte, info Info, entries []Entry) error {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key.String() < sorted[j].Key.String()
	})

	index := make([]string, 0, len(sorted)+1)
	index = append(index, infoLineKey)
	for _, e := range sorted {
		index = append(index, e.Key.String())
	}

	sw, err := arhcrypto.NewWriter(w, key)
	if err != nil {
		return fmt.Errorf("init container encryption: %w", err)
	}
	gz := gzip.NewWriter(sw)

	writeLine := func(v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := gz.Write(b); err != nil {
			return err
		}
		_, err = gz.Write([]byte("\n"))
		return err
	}

	indexBytes, err := json.Marshal(index)
	if err != nil {
		return err
	}
	if _, err := gz.Write(indexBytes); err != nil {
		return err
	}
	if _, err := gz.Write([]byte("\n")); err != nil {
		return err
	}

	if err := writeLine(infoLineKey); err != nil {
		return err
	}
	if err := writeLine(info); err != nil {
		return err
	}
	for _, e := range sorted {
		if err := writeLine(e.Key.String()); err != nil {
			return err
		}
		if err := writeLine(e.Document); err != nil {
			return err
		}
	}

	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalize gzip stream: %w", err)
	}
	return sw.Close()
}

// Merge combines entries from multiple containers into the set that
// survives: per id, only revisions not dominated by another revision of the
// same id are kept (spec.md §4.3). Because a commit's revision is always
// produced by next_rev over every revision it observed, an erasure's
// revision dominates everything it supersedes, so pruning dominated
// revisions also implements "erasure drops pre-erasure history" without a
// special case — the erased snapshot is simply the one surviving entry.
// Concurrent (conflicting) committed snapshots are, by the same logic,
// mutually non-dominating and so all survive as the Conflict set.
//
// Info is taken from whichever input container has the highest DataVersion,
// ties broken by the most recent CreatedAt.
func Merge(containers []*Container) *Container {
	byID := make(map[string][]Entry)
	seen := make(map[string]map[string]struct{}) // id -> rev string -> present
	var info Info
	haveInfo := false

	for _, c := range containers {
		if !haveInfo || c.Info.DataVersion > info.DataVersion ||
			(c.Info.DataVersion == info.DataVersion && c.Info.CreatedAt.After(info.CreatedAt)) {
			info = c.Info
			haveInfo = true
		}
		for _, e := range c.Entries {
			revStr := e.Key.Rev.String()
			if seen[e.Key.ID] == nil {
				seen[e.Key.ID] = map[string]struct{}{}
			}
			if _, dup := seen[e.Key.ID][revStr]; dup {
				continue
			}
			seen[e.Key.ID][revStr] = struct{}{}
			byID[e.Key.ID] = append(byID[e.Key.ID], e)
		}
	}

	merged := &Container{Info: info}
	for _, entries := range byID {
		merged.Entries = append(merged.Entries, survivors(entries)...)
	}
	return merged
}

// survivors returns the entries in group whose revision is not strictly
// dominated by any other entry's revision in the same group.
func survivors(group []Entry) []Entry {
	out := make([]Entry, 0, len(group))
	for i, candidate := range group {
		dominated := false
		for j, other := range group {
			if i == j {
				continue
			}
			if candidate.Key.Rev.Less(other.Key.Rev) {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, candidate)
		}
	}
	return out
}

func parseRevision(s string) (rev map[string]uint64, err error) {
	out := make(map[string]uint64)
	if s == "" {
		return out, nil
	}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			part := s[start:i]
			start = i + 1
			colon := -1
			for j := 0; j < len(part); j++ {
				if part[j] == ':' {
					colon = j
					break
				}
			}
			if colon < 0 {
				return nil, arherr.New(arherr.KindCorruption, "malformed revision component %q", part)
			}
			var n uint64
			if _, err := fmt.Sscanf(part[colon+1:], "%d", &n); err != nil {
				return nil, arherr.Wrap(arherr.KindCorruption, err, "malformed revision counter in %q", part)
			}
			out[part[:colon]] = n
		}
	}
	return out, nil
}
