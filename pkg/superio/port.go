// Package superio reads hardware monitoring chips sitting on the LPC bus.
// Chips are reached through the x86 I/O port space.
package superio

// Port accesses the I/O port space one byte at a time.
type Port interface {
	In(port uint16) (byte, error)
	Out(port uint16, value byte) error
}
