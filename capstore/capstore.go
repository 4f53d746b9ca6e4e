// Package capstore caches the capabilities last negotiated with each peer,
// giving protocol handlers a cheap per-peer lookup when deciding whether to
// offer a protocol on an outbound attempt.
package capstore

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"

	"github.com/celestiaorg/go-rlpx/capability"
	"github.com/celestiaorg/go-rlpx/subproto"
)

var log = logging.Logger("rlpx/capstore")

// DefaultStoreSize bounds the number of peers tracked.
const DefaultStoreSize = 512

// Store is a bounded, most-recent-wins record of the shared capabilities
// from each peer's last completed handshake. Safe for concurrent use.
type Store struct {
	cache *lru.Cache[subproto.PeerID, []capability.Capability]
}

// NewStore creates a store tracking up to size peers.
func NewStore(size int) (*Store, error) {
	cache, err := lru.New[subproto.PeerID, []capability.Capability](size)
	if err != nil {
		return nil, fmt.Errorf("capstore: creating cache: %w", err)
	}
	return &Store{cache: cache}, nil
}

// Record remembers the capability table negotiated with the peer, replacing
// any previous record.
func (s *Store) Record(peer subproto.PeerID, shared *capability.SharedCapabilities) {
	caps := make([]capability.Capability, 0, shared.Len())
	for _, sc := range shared.All() {
		caps = append(caps, sc.Capability())
	}
	if evicted := s.cache.Add(peer, caps); evicted {
		log.Debugw("evicted peer capability record", "peer", peer.ShortString())
	}
}

// Capabilities returns the capabilities last negotiated with the peer.
func (s *Store) Capabilities(peer subproto.PeerID) ([]capability.Capability, bool) {
	return s.cache.Get(peer)
}

// Supports reports whether the peer's last handshake included the
// capability. Unknown peers report false; callers should treat that as "no
// information", not refusal.
func (s *Store) Supports(peer subproto.PeerID, c capability.Capability) bool {
	caps, ok := s.cache.Get(peer)
	if !ok {
		return false
	}
	for _, known := range caps {
		if known == c {
			return true
		}
	}
	return false
}

// Len returns the number of peers currently tracked.
func (s *Store) Len() int {
	return s.cache.Len()
}
