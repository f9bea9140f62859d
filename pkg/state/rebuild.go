package state

import "github.com/cuemby/arhiv/pkg/types"

// RestoreHead installs docs as the head for id, used when reconstructing
// state from storage containers rather than the encrypted mirror (spec.md
// §4.9's rebuild-on-stale-or-missing-mirror path). docs must already be a
// Merge-pruned survivor set: a single snapshot becomes a Committed head,
// more than one becomes a Conflict head exactly as non-dominance implies.
func (s *State) RestoreHead(id string, docs []*types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(docs) == 0 {
		return
	}
	if len(docs) == 1 {
		s.documents[id] = types.NewCommittedHead(docs[0])
	} else {
		s.documents[id] = types.NewConflictHead(docs)
	}
	s.syncRefsForHead(id)
	s.modified = true
}
