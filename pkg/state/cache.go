package state

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/arhiv/pkg/types"
)

// Cache buckets. Everything here is derived from committed documents and
// is safe to lose. OpenCache creates a missing file and returns an error
// for one bbolt cannot open; it never rebuilds a corrupt file itself.
var (
	bucketRefs      = []byte("refs")
	bucketPostings  = []byte("postings")
	bucketDocLength = []byte("doc_length")
	bucketMeta      = []byte("meta")
)

// OpenCache opens (creating if necessary) the bbolt accelerator database at
// path. Any open failure is logged by the caller and treated as a cache
// miss, never as a reason to refuse starting the replica.
func OpenCache(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open accelerator cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRefs, bucketPostings, bucketDocLength, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init accelerator cache buckets: %w", err)
	}
	return db, nil
}

type cachedPosting struct {
	Offsets []int `json:"offsets"`
}

// SaveCache writes the current refs and search postings into db, replacing
// its previous contents. pkg/baza does not call it, so nothing keeps the
// cache in step with the mirrored state file.
func (s *State) SaveCache(db *bolt.DB) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRefs, bucketPostings, bucketDocLength} {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}

		refsBucket := tx.Bucket(bucketRefs)
		for key, entry := range s.refs {
			payload := struct {
				ID  string      `json:"id"`
				Rev interface{} `json:"rev"`
				Refs types.Refs `json:"refs"`
			}{ID: entry.Key.ID, Rev: entry.Key.Rev, Refs: entry.Refs}
			b, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			if err := refsBucket.Put([]byte(key), b); err != nil {
				return err
			}
		}

		postingsBucket := tx.Bucket(bucketPostings)
		for term, byID := range s.search.postings {
			encoded := make(map[string]cachedPosting, len(byID))
			for id, p := range byID {
				encoded[id] = cachedPosting{Offsets: p.offsets}
			}
			b, err := json.Marshal(encoded)
			if err != nil {
				return err
			}
			if err := postingsBucket.Put([]byte(term), b); err != nil {
				return err
			}
		}

		lengthBucket := tx.Bucket(bucketDocLength)
		for id, length := range s.docLength {
			b, err := json.Marshal(length)
			if err != nil {
				return err
			}
			if err := lengthBucket.Put([]byte(id), b); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadCache repopulates refs and the search index from db. Any decode
// failure aborts the load and returns an error; the caller's response must
// be to fall back to a full rebuild from committed documents, not to treat
// this as fatal.
func (s *State) LoadCache(db *bolt.DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs := make(map[string]refsEntry)
	postings := make(map[string]map[string]*posting)
	docLength := make(map[string]int)
	totalLength := 0

	err := db.View(func(tx *bolt.Tx) error {
		refsBucket := tx.Bucket(bucketRefs)
		if refsBucket == nil {
			return fmt.Errorf("cache missing refs bucket")
		}
		cursor := refsBucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var payload struct {
				ID   string      `json:"id"`
				Rev  map[string]uint64 `json:"rev"`
				Refs types.Refs  `json:"refs"`
			}
			if err := json.Unmarshal(v, &payload); err != nil {
				return err
			}
			refs[string(k)] = refsEntry{
				Key:  types.DocumentKey{ID: payload.ID, Rev: payload.Rev},
				Refs: payload.Refs,
			}
		}

		postingsBucket := tx.Bucket(bucketPostings)
		if postingsBucket == nil {
			return fmt.Errorf("cache missing postings bucket")
		}
		pc := postingsBucket.Cursor()
		for k, v := pc.First(); k != nil; k, v = pc.Next() {
			var encoded map[string]cachedPosting
			if err := json.Unmarshal(v, &encoded); err != nil {
				return err
			}
			byID := make(map[string]*posting, len(encoded))
			for id, cp := range encoded {
				byID[id] = &posting{offsets: cp.Offsets}
			}
			postings[string(k)] = byID
		}

		lengthBucket := tx.Bucket(bucketDocLength)
		if lengthBucket == nil {
			return fmt.Errorf("cache missing doc_length bucket")
		}
		lc := lengthBucket.Cursor()
		for k, v := lc.First(); k != nil; k, v = lc.Next() {
			var length int
			if err := json.Unmarshal(v, &length); err != nil {
				return err
			}
			docLength[string(k)] = length
			totalLength += length
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.refs = refs
	s.search.postings = postings
	s.search.docLength = docLength
	s.search.totalLength = totalLength
	return nil
}
