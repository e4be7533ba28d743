//go:build unix

package monitor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SampleQuota reports usage of the volume holding dir. Free counts blocks
// available to unprivileged users.
func SampleQuota(dir string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", dir, err)
	}
	bsize := uint64(st.Bsize)
	return Usage{
		Total: uint64(st.Blocks) * bsize,
		Free:  uint64(st.Bavail) * bsize,
	}, nil
}
