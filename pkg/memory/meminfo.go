package memory

import (
	"errors"
	"fmt"

	"github.com/prometheus/procfs"
)

var errMissingField = errors.New("meminfo field missing")

// readMeminfo converts /proc/meminfo (kB) into byte counts. Available is the
// kernel's MemAvailable estimate, which counts reclaimable page cache.
func readMeminfo(fs procfs.FS) (Info, error) {
	mi, err := fs.Meminfo()
	if err != nil {
		return Info{}, fmt.Errorf("read meminfo: %w", err)
	}
	if mi.MemTotal == nil {
		return Info{}, fmt.Errorf("%w: MemTotal", errMissingField)
	}
	if mi.MemAvailable == nil {
		return Info{}, fmt.Errorf("%w: MemAvailable", errMissingField)
	}
	return Info{
		Total:     kib(mi.MemTotal),
		Available: kib(mi.MemAvailable),
		SwapTotal: kib(mi.SwapTotal),
		SwapFree:  kib(mi.SwapFree),
	}, nil
}

func kib(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v * 1024
}
