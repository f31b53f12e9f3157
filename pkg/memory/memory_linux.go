//go:build linux

package memory

import (
	"fmt"

	"github.com/prometheus/procfs"
)

func readInfo() (Info, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return Info{}, fmt.Errorf("open procfs: %w", err)
	}
	return readMeminfo(fs)
}
