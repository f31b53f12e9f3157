//go:build !linux

package ipmi

import (
	"errors"
	"time"
)

// DefaultDevice is the character device of the first IPMI interface.
const DefaultDevice = "/dev/ipmi0"

// DevTransport is only available on Linux.
type DevTransport struct{}

// Open always fails on this platform.
func Open(path string, timeout time.Duration) (*DevTransport, error) {
	return nil, errors.New("ipmi: device interface is only supported on linux")
}

func (t *DevTransport) Send(command, netfn byte, data []byte) ([]byte, error) {
	return nil, errors.New("ipmi: device interface is only supported on linux")
}

func (t *DevTransport) Close() error { return nil }
