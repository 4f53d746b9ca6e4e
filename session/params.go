package session

import (
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("rlpx/session")

type Parameters struct {
	// IdleTimeout is the maximum time without inbound sub-protocol traffic
	// before the session disconnects with a read timeout. Zero disables the
	// idle check.
	IdleTimeout time.Duration

	// SendTimeout bounds a single outbound message write.
	SendTimeout time.Duration
}

func DefaultParameters() *Parameters {
	return &Parameters{
		IdleTimeout: 30 * time.Second,
		SendTimeout: time.Minute,
	}
}

const errSuffix = "value should be positive and non-zero"

func (p *Parameters) Validate() error {
	if p.IdleTimeout < 0 {
		return fmt.Errorf("session: invalid idle timeout: %v, value should not be negative", p.IdleTimeout)
	}
	if p.SendTimeout <= 0 {
		return fmt.Errorf("session: invalid send timeout: %v, %s", p.SendTimeout, errSuffix)
	}
	return nil
}
