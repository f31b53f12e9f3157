//go:build !linux

package memory

import "errors"

func readInfo() (Info, error) {
	return Info{}, errors.ErrUnsupported
}
