//go:build linux

package superio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultDevice is the kernel's I/O port character device.
const DefaultDevice = "/dev/port"

// DevPort accesses I/O ports through /dev/port, where the file offset is the
// port number. Opening it needs CAP_SYS_RAWIO.
type DevPort struct {
	fd int
}

// OpenPort opens the I/O port device at path.
func OpenPort(path string) (*DevPort, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DevPort{fd: fd}, nil
}

func (p *DevPort) In(port uint16) (byte, error) {
	var buf [1]byte
	if _, err := unix.Pread(p.fd, buf[:], int64(port)); err != nil {
		return 0, fmt.Errorf("inb 0x%04x: %w", port, err)
	}
	return buf[0], nil
}

func (p *DevPort) Out(port uint16, value byte) error {
	if _, err := unix.Pwrite(p.fd, []byte{value}, int64(port)); err != nil {
		return fmt.Errorf("outb 0x%04x: %w", port, err)
	}
	return nil
}

func (p *DevPort) Close() error {
	return unix.Close(p.fd)
}
