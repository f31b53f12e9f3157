//go:build linux

package ipmi

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kernel IPMI device interface (include/uapi/linux/ipmi.h).
const (
	ipmiSystemInterfaceAddrType = 0x0c
	ipmiBMCChannel              = 0x0f

	iocWrite = 1
	iocRead  = 2

	maxResponse = 1024
)

// ipmiSystemInterfaceAddr mirrors struct ipmi_system_interface_addr.
type ipmiSystemInterfaceAddr struct {
	addrType int32
	channel  int16
	lun      uint8
	_        uint8
}

// ipmiMsg mirrors struct ipmi_msg.
type ipmiMsg struct {
	netfn   uint8
	cmd     uint8
	dataLen uint16
	data    unsafe.Pointer
}

// ipmiReq mirrors struct ipmi_req.
type ipmiReq struct {
	addr    unsafe.Pointer
	addrLen uint32
	msgid   int64
	msg     ipmiMsg
}

// ipmiRecv mirrors struct ipmi_recv.
type ipmiRecv struct {
	recvType int32
	addr     unsafe.Pointer
	addrLen  uint32
	msgid    int64
	msg      ipmiMsg
}

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('i')<<8 | nr
}

var (
	ipmictlSendCommand     = ioc(iocRead, 13, unsafe.Sizeof(ipmiReq{}))
	ipmictlReceiveMsgTrunc = ioc(iocRead|iocWrite, 11, unsafe.Sizeof(ipmiRecv{}))
)

// DefaultDevice is the character device of the first IPMI interface.
const DefaultDevice = "/dev/ipmi0"

// DevTransport talks to the BMC through the kernel ipmi_devintf driver.
type DevTransport struct {
	mu      sync.Mutex
	fd      int
	msgid   int64
	timeout time.Duration
}

// Open opens the IPMI device at path. Every request waits at most timeout
// for its response.
func Open(path string, timeout time.Duration) (*DevTransport, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DevTransport{fd: fd, timeout: timeout}, nil
}

func (t *DevTransport) Send(command, netfn byte, data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.msgid++
	addr := ipmiSystemInterfaceAddr{addrType: ipmiSystemInterfaceAddrType, channel: ipmiBMCChannel}
	req := ipmiReq{
		addr:    unsafe.Pointer(&addr),
		addrLen: uint32(unsafe.Sizeof(addr)),
		msgid:   t.msgid,
		msg:     ipmiMsg{netfn: netfn, cmd: command, dataLen: uint16(len(data))},
	}
	if len(data) > 0 {
		req.msg.data = unsafe.Pointer(&data[0])
	}
	if err := t.ioctl(ipmictlSendCommand, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("ipmi send netfn 0x%02x command 0x%02x: %w", netfn, command, err)
	}
	runtime.KeepAlive(data)
	runtime.KeepAlive(&addr)

	deadline := time.Now().Add(t.timeout)
	buf := make([]byte, maxResponse)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("ipmi netfn 0x%02x command 0x%02x: %w", netfn, command, unix.ETIMEDOUT)
		}
		fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(remaining.Milliseconds())+1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ipmi poll: %w", err)
		}
		if n == 0 {
			continue
		}

		var raddr ipmiSystemInterfaceAddr
		recv := ipmiRecv{
			addr:    unsafe.Pointer(&raddr),
			addrLen: uint32(unsafe.Sizeof(raddr)),
			msg:     ipmiMsg{data: unsafe.Pointer(&buf[0]), dataLen: uint16(len(buf))},
		}
		if err := t.ioctl(ipmictlReceiveMsgTrunc, unsafe.Pointer(&recv)); err != nil {
			return nil, fmt.Errorf("ipmi receive: %w", err)
		}
		runtime.KeepAlive(buf)
		runtime.KeepAlive(&raddr)
		if recv.msgid != t.msgid {
			// stale response of an earlier timed out request
			continue
		}
		out := make([]byte, recv.msg.dataLen)
		copy(out, buf)
		return out, nil
	}
}

func (t *DevTransport) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(t.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (t *DevTransport) Close() error {
	return unix.Close(t.fd)
}
