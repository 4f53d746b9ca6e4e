package capability

import (
	"errors"
	"fmt"
	"sort"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("rlpx/capability")

// NumReservedMessageIDs is the size of the message-ID space reserved for the
// base protocol. Sub-protocol ranges are assigned after it.
const NumReservedMessageIDs = 16

var (
	// ErrNoSharedCapabilities is returned by Negotiate when the local and
	// remote capability sets have no protocol in common.
	ErrNoSharedCapabilities = errors.New("capability: no shared capabilities")

	// ErrDuplicateCapability is returned by Negotiate when the local set
	// announces the same (name, version) pair twice.
	ErrDuplicateCapability = errors.New("capability: duplicate capability")
)

// SharedCapability is one entry of the negotiated capability table: a
// capability both peers support together with its assigned contiguous
// message-ID range. Entries are immutable once negotiated.
type SharedCapability struct {
	cap      Capability
	offset   uint64
	messages uint64
}

// Capability returns the capability descriptor this entry was negotiated for.
func (sc *SharedCapability) Capability() Capability {
	return sc.cap
}

// MessageIDOffset returns the absolute message ID the capability's range
// starts at. The first negotiated capability starts right after the reserved
// base-protocol IDs.
func (sc *SharedCapability) MessageIDOffset() uint64 {
	return sc.offset
}

// NumMessages returns the length of the capability's message-ID range.
func (sc *SharedCapability) NumMessages() uint64 {
	return sc.messages
}

// MaskID rewrites a message ID relative to the capability's own zero-based
// numbering into the shared absolute ID space.
func (sc *SharedCapability) MaskID(relative uint64) uint64 {
	return relative + sc.offset
}

// UnmaskID rewrites an absolute message ID into the capability's own
// zero-based numbering. It reports false when the ID falls outside the
// capability's assigned range.
func (sc *SharedCapability) UnmaskID(absolute uint64) (uint64, bool) {
	if !sc.Includes(absolute) {
		return 0, false
	}
	return absolute - sc.offset, true
}

// Includes reports whether the absolute message ID belongs to the
// capability's assigned range.
func (sc *SharedCapability) Includes(absolute uint64) bool {
	return absolute >= sc.offset && absolute < sc.offset+sc.messages
}

func (sc *SharedCapability) String() string {
	return fmt.Sprintf("%s [%d, %d)", sc.cap, sc.offset, sc.offset+sc.messages)
}

// SharedCapabilities is the ordered table of capabilities both peers agreed to
// run, with their assigned message-ID ranges. It is computed once per peer
// session after the handshake and never mutated afterwards, so it is safe for
// concurrent reads.
type SharedCapabilities struct {
	caps []SharedCapability
}

// Negotiate computes the shared capability table from the locally supported
// protocols and the capabilities the remote announced.
//
// Shared capabilities are ordered alphabetically by name. For every name the
// highest version supported by both sides wins. Message-ID ranges are assigned
// contiguously in that order, starting after the reserved base-protocol IDs.
func Negotiate(local []Protocol, remote []Capability) (*SharedCapabilities, error) {
	seen := make(map[Capability]struct{}, len(local))
	for _, proto := range local {
		if _, ok := seen[proto.Capability]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCapability, proto.Capability)
		}
		seen[proto.Capability] = struct{}{}
	}

	remoteSet := make(map[Capability]struct{}, len(remote))
	for _, cap := range remote {
		remoteSet[cap] = struct{}{}
	}

	// highest mutually supported version per name
	best := make(map[string]Protocol)
	for _, proto := range local {
		if _, ok := remoteSet[proto.Capability]; !ok {
			continue
		}
		if prev, ok := best[proto.Name]; !ok || proto.Version > prev.Version {
			best[proto.Name] = proto
		}
	}
	if len(best) == 0 {
		return nil, ErrNoSharedCapabilities
	}

	names := make([]string, 0, len(best))
	for name := range best {
		names = append(names, name)
	}
	sort.Strings(names)

	shared := &SharedCapabilities{caps: make([]SharedCapability, 0, len(names))}
	offset := uint64(NumReservedMessageIDs)
	for _, name := range names {
		proto := best[name]
		shared.caps = append(shared.caps, SharedCapability{
			cap:      proto.Capability,
			offset:   offset,
			messages: proto.Messages,
		})
		offset += proto.Messages
	}

	log.Debugw("negotiated shared capabilities", "amount", len(shared.caps))
	return shared, nil
}

// Len returns the number of shared capabilities.
func (s *SharedCapabilities) Len() int {
	return len(s.caps)
}

// All returns the shared capabilities in negotiation order.
func (s *SharedCapabilities) All() []SharedCapability {
	return s.caps
}

// Find returns the entry negotiated for the given capability.
func (s *SharedCapabilities) Find(c Capability) (*SharedCapability, bool) {
	for i := range s.caps {
		if s.caps[i].cap == c {
			return &s.caps[i], true
		}
	}
	return nil, false
}

// Contains reports whether the given capability was negotiated.
func (s *SharedCapabilities) Contains(c Capability) bool {
	_, ok := s.Find(c)
	return ok
}

// ByMessageID returns the entry owning the given absolute message ID.
func (s *SharedCapabilities) ByMessageID(absolute uint64) (*SharedCapability, bool) {
	for i := range s.caps {
		if s.caps[i].Includes(absolute) {
			return &s.caps[i], true
		}
	}
	return nil, false
}

func (s *SharedCapabilities) String() string {
	strs := make([]string, len(s.caps))
	for i := range s.caps {
		strs[i] = s.caps[i].String()
	}
	return fmt.Sprintf("%v", strs)
}
