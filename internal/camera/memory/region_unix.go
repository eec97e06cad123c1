//go:build unix

package memory

import (
	"golang.org/x/sys/unix"
)

func mapRegion(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapRegion(region []byte) error {
	return unix.Munmap(region)
}

// syncRegion flushes a mapped region. Regions that are not page-aligned
// mappings (plain Go slices) have nothing to flush.
func syncRegion(region []byte) error {
	if len(region) == 0 {
		return nil
	}
	err := unix.Msync(region, unix.MS_SYNC|unix.MS_INVALIDATE)
	if err == unix.EINVAL || err == unix.ENOMEM {
		return nil
	}
	return err
}
