//go:build unix

package osmem

import (
	"golang.org/x/sys/unix"
)

func systemPageSize() int {
	return unix.Getpagesize()
}

func mapPages(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func unmapPages(data []byte) error {
	return unix.Munmap(data)
}

func resetPages(data []byte) error {
	return unix.Madvise(data, unix.MADV_DONTNEED)
}
