package capability

import (
	"fmt"
)

// Capability identifies an application-level sub-protocol by name and version,
// e.g. "eth/68". It is announced to the remote during the base-protocol
// handshake and used to look up the negotiated message-ID range afterwards.
type Capability struct {
	// Name is the protocol name, conventionally a short lowercase word.
	Name string
	// Version is the protocol version number.
	Version uint
}

// New creates a new Capability.
func New(name string, version uint) Capability {
	return Capability{Name: name, Version: version}
}

func (c Capability) String() string {
	return fmt.Sprintf("%s/%d", c.Name, c.Version)
}

// Protocol describes a capability together with the number of message IDs its
// wire protocol uses. The message count determines the size of the ID range
// assigned to the capability during negotiation.
type Protocol struct {
	Capability

	// Messages is the number of message IDs the protocol consumes.
	Messages uint64
}

// NewProtocol creates a new Protocol descriptor.
func NewProtocol(name string, version uint, messages uint64) Protocol {
	return Protocol{Capability: New(name, version), Messages: messages}
}
