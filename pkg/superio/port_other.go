//go:build !linux

package superio

import "errors"

const DefaultDevice = ""

// DevPort is only available on Linux.
type DevPort struct{}

func OpenPort(string) (*DevPort, error) {
	return nil, errors.New("superio: I/O port access is not supported on this platform")
}

func (*DevPort) In(uint16) (byte, error) { return 0, errors.ErrUnsupported }
func (*DevPort) Out(uint16, byte) error  { return errors.ErrUnsupported }
func (*DevPort) Close() error            { return nil }
