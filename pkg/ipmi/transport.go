// Package ipmi reads sensors of a Baseboard Management Controller. It walks
// the Sensor Data Record repository once, then polls every full sensor
// record and converts raw readings with the record's linear model.
package ipmi

import (
	"errors"
	"fmt"
)

// Network functions.
const (
	NetFnSensorEvent   byte = 0x04
	NetFnApp           byte = 0x06
	NetFnStorage       byte = 0x0a
	NetFnOEMSupermicro byte = 0x30
)

// Commands.
const (
	cmdGetDeviceID          byte = 0x01
	cmdGetSDRRepositoryInfo byte = 0x20
	cmdGetSDR               byte = 0x23
	cmdGetSensorReading     byte = 0x2d

	cmdSupermicroFanMode byte = 0x45
	cmdSupermicroOEM     byte = 0x70
)

// Transport sends one request to the BMC. The returned response starts with
// the completion code.
type Transport interface {
	Send(command, netfn byte, data []byte) ([]byte, error)
}

// ErrShortResponse is returned when a response is too short for its command.
var ErrShortResponse = errors.New("ipmi: short response")

// CompletionError carries a non-zero completion code.
type CompletionError struct {
	Command byte
	NetFn   byte
	Code    byte
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("ipmi: netfn 0x%02x command 0x%02x completed with 0x%02x", e.NetFn, e.Command, e.Code)
}

// call sends a request and checks the completion code and the minimum
// response length, completion code included.
func call(t Transport, command, netfn byte, data []byte, minLen int) ([]byte, error) {
	resp, err := t.Send(command, netfn, data)
	if err != nil {
		return nil, err
	}
	if len(resp) < 1 || len(resp) < minLen {
		return nil, ErrShortResponse
	}
	if resp[0] != 0 {
		return nil, &CompletionError{Command: command, NetFn: netfn, Code: resp[0]}
	}
	return resp, nil
}
