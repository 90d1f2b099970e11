//go:build !unix

package osmem

// Without anonymous mappings, regions are carved from the Go heap. The garbage collector never moves
// heap objects, so addresses stay stable for as long as the owning segment holds the slice.

const fallbackPageSize = 4096

func systemPageSize() int {
	return fallbackPageSize
}

func mapPages(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapPages(data []byte) error {
	return nil
}

func resetPages(data []byte) error {
	clear(data)
	return nil
}
